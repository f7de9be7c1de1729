package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/config"
	"quel-drawcore/internal/correlator"
	"quel-drawcore/internal/domaincache"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/lock"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/orchestrator"
	"quel-drawcore/internal/registry"
	"quel-drawcore/internal/selector"
	"quel-drawcore/internal/store/memstore"
)

// fakeCommander implements backend.Commander; methods with a hook field
// call it when set, and every other call returns a FAILURE result.
type fakeCommander struct {
	imagine           func(ctx context.Context, a backend.ImagineArgs) (backend.Result, error)
	action            func(ctx context.Context, a backend.ButtonArgs) (backend.Result, error)
	remix             func(ctx context.Context, a backend.ButtonArgs) (backend.Result, error)
	inpaint           func(ctx context.Context, a backend.ButtonArgs) (backend.Result, error)
	describeByLink    func(ctx context.Context, channelID, imageURL, nonce string) (backend.Result, error)
	describeByUpload  func(ctx context.Context, a backend.UploadArgs) (backend.Result, error)
	blend             func(ctx context.Context, channelID string, imageURLs []string, nonce string) (backend.Result, error)
	shorten           func(ctx context.Context, channelID, prompt, nonce string) (backend.Result, error)
}

func (f *fakeCommander) Imagine(ctx context.Context, a backend.ImagineArgs) (backend.Result, error) {
	return f.imagine(ctx, a)
}
func (f *fakeCommander) Upscale(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Variation(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Reroll(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) DescribeByLink(ctx context.Context, channelID, imageURL, nonce string) (backend.Result, error) {
	if f.describeByLink != nil {
		return f.describeByLink(ctx, channelID, imageURL, nonce)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) DescribeByUpload(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	if f.describeByUpload != nil {
		return f.describeByUpload(ctx, a)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Blend(ctx context.Context, channelID string, imageURLs []string, nonce string) (backend.Result, error) {
	if f.blend != nil {
		return f.blend(ctx, channelID, imageURLs, nonce)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Shorten(ctx context.Context, channelID, prompt, nonce string) (backend.Result, error) {
	if f.shorten != nil {
		return f.shorten(ctx, channelID, prompt, nonce)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Zoom(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Inpaint(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	if f.inpaint != nil {
		return f.inpaint(ctx, a)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Pan(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Remix(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	if f.remix != nil {
		return f.remix(ctx, a)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Action(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	if f.action != nil {
		return f.action(ctx, a)
	}
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Setting(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Info(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) SettingSelect(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) SettingButton(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) Seed(ctx context.Context, channelID, messageHash, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) SeedMessages(ctx context.Context, channelID string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) SendImage(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}
func (f *fakeCommander) AddReaction(ctx context.Context, channelID, messageID, emoji string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure}, nil
}

var _ backend.Commander = (*fakeCommander)(nil)

func baseAccount(channelID string, coreSize int, queueSize int, weight, sort int) *model.Account {
	return &model.Account{
		ChannelID:     channelID,
		BackendFamily: model.BackendChat,
		Enabled:       map[model.BotFamily]bool{model.BotFamilyMJ: true},
		CoreSize:      coreSize,
		QueueSize:     map[model.Mode]int{model.ModeFast: queueSize, model.ModeRelax: queueSize, model.ModeTurbo: queueSize},
		AllowedModes:  []model.Mode{model.ModeFast, model.ModeRelax, model.ModeTurbo},
		CurrentMode:   model.ModeFast,
		Weight:        weight,
		Sort:          sort,
		Connected:     true,
		TimeoutMinutes: 1,
	}
}

// harness wires memstore + registry + selector + instances + orchestrator +
// correlator the way cmd/drawcore's main does, minus the HTTP layer.
type harness struct {
	st     *memstore.Store
	reg    *registry.Registry
	orc    *orchestrator.Orchestrator
	corr   *correlator.Correlator
	insts  map[string]*instance.Instance
	cancel context.CancelFunc
}

func newHarness(t *testing.T, accounts []*model.Account, imagineFns map[string]func(ctx context.Context, a backend.ImagineArgs) (backend.Result, error)) *harness {
	t.Helper()
	commanders := make(map[string]*fakeCommander, len(accounts))
	for _, a := range accounts {
		commanders[a.ChannelID] = &fakeCommander{imagine: imagineFns[a.ChannelID]}
	}
	return newHarnessWithCommanders(t, accounts, commanders)
}

func newHarnessWithCommanders(t *testing.T, accounts []*model.Account, commanders map[string]*fakeCommander) *harness {
	t.Helper()
	log := zap.NewNop()
	st := memstore.New()
	for _, a := range accounts {
		st.PutAccount(a)
	}
	reg := registry.New(log, st)
	require.NoError(t, reg.Refresh(context.Background()))

	domains := domaincache.New(st)
	locker := lock.NewMemLocker()

	cfg := &config.Config{AccountChooseRule: selector.PolicyBestWaitIdle, EnableUserCustomUploadBase64: true}
	orc := orchestrator.New(reg, domains, locker, st, cfg, log, nil)

	insts := make(map[string]*instance.Instance)
	ctx, cancel := context.WithCancel(context.Background())
	for _, a := range accounts {
		cmd := commanders[a.ChannelID]
		inst := instance.New(a, cmd, st, log)
		insts[a.ChannelID] = inst
		orc.RegisterInstance(inst)
		go inst.Run(ctx)
	}

	lookup := func(channelID string) (correlator.InstanceIndex, bool) {
		inst, ok := insts[channelID]
		return inst, ok
	}
	corr := correlator.New(st, locker, lookup, log)

	return &harness{st: st, reg: reg, orc: orc, corr: corr, insts: insts, cancel: cancel}
}

func (h *harness) close() { h.cancel() }

func waitForStatus(t *testing.T, st *memstore.Store, taskID string, want model.Status, timeout time.Duration) *model.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := st.GetTask(context.Background(), taskID)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %s in time", taskID, want)
	return nil
}

// Scenario 1: imagine happy path with BestWaitIdle picking A on its lower
// score (-2 against B's -1).
func TestImagineHappyPath(t *testing.T) {
	a := baseAccount("A", 2, 2, 10, 1)
	b := baseAccount("B", 1, 1, 5, 2)

	imagineFns := map[string]func(ctx context.Context, a backend.ImagineArgs) (backend.Result, error){
		"A": func(ctx context.Context, args backend.ImagineArgs) (backend.Result, error) {
			return backend.Result{Code: backend.CodeSuccess, MessageID: "msg-1"}, nil
		},
	}
	h := newHarness(t, []*model.Account{a, b}, imagineFns)
	defer h.close()

	result := h.orc.SubmitImagine(context.Background(), orchestrator.ImagineRequest{
		Prompt:    "a red cube",
		BotFamily: model.BotFamilyMJ,
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	taskID := result.Result

	task, err := h.st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "A", task.InstanceID, "BestWaitIdle must pick A: its larger core size gives it the lower (more idle) score")

	// Fabricate the upstream CREATE event carrying the finished image.
	buttons := []model.Button{
		{CustomID: "MJ::JOB::upsample::1::HASH"}, {CustomID: "MJ::JOB::upsample::2::HASH"},
		{CustomID: "MJ::JOB::upsample::3::HASH"}, {CustomID: "MJ::JOB::upsample::4::HASH"},
		{CustomID: "MJ::JOB::variation::1::HASH"}, {CustomID: "MJ::JOB::variation::2::HASH"},
		{CustomID: "MJ::JOB::variation::3::HASH"}, {CustomID: "MJ::JOB::variation::4::HASH"},
		{CustomID: "MJ::JOB::reroll::0::HASH"},
	}
	require.NoError(t, h.corr.HandleEvent(context.Background(), correlator.EventData{
		ID:          "msg-1",
		ChannelID:   "A",
		Nonce:       task.Properties.Nonce,
		Content:     "a red cube - <@1> (fast)",
		Attachments: []string{"https://cdn.example/a.png"},
		Components:  buttons,
	}))

	final := waitForStatus(t, h.st, taskID, model.StatusSuccess, time.Second)
	assert.NotEmpty(t, final.ImageURL)
	assert.GreaterOrEqual(t, len(final.Buttons), 4)
}

// Scenario 2: queue full on the only available account fails with
// code=FAILURE description="queue full". The instance's worker is stopped
// before submitting so nothing ever drains the single queue slot.
func TestQueueFull(t *testing.T) {
	h := newHarness(t, []*model.Account{baseAccount("A", 1, 1, 1, 1)}, nil)
	defer h.close()
	h.insts["A"].Stop()

	first := h.orc.SubmitImagine(context.Background(), orchestrator.ImagineRequest{Prompt: "p1", BotFamily: model.BotFamilyMJ})
	require.Equal(t, model.CodeSuccess, first.Code)

	second := h.orc.SubmitImagine(context.Background(), orchestrator.ImagineRequest{Prompt: "p2", BotFamily: model.BotFamilyMJ})
	assert.Equal(t, model.CodeFailure, second.Code)
	assert.Equal(t, "queue full", second.Description)
}

// Scenario 3: a banned keyword anywhere in the prompt is rejected before
// any account is selected.
func TestBannedPrompt(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	h := newHarness(t, []*model.Account{a}, nil)
	defer h.close()
	h.st.PutBannedKeywords([]*model.KeywordSet{{ID: "banned", Keywords: []string{"forbidden"}, Enabled: true}})

	result := h.orc.SubmitImagine(context.Background(), orchestrator.ImagineRequest{
		Prompt:    "a Forbidden tower",
		BotFamily: model.BotFamilyMJ,
	})
	assert.Equal(t, model.CodeBannedPrompt, result.Code)
	assert.Contains(t, result.Description, "Forbidden")
}

// Scenario 4: a domain-routed submission with no matching account retries
// once with domain routing off and lands on the only account.
func TestDomainMissRetry(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	a.VerticalDomain = false // not tagged "anime"

	imagineFns := map[string]func(ctx context.Context, a backend.ImagineArgs) (backend.Result, error){
		"A": func(ctx context.Context, args backend.ImagineArgs) (backend.Result, error) {
			return backend.Result{Code: backend.CodeSuccess}, nil
		},
	}
	h := newHarness(t, []*model.Account{a}, imagineFns)
	defer h.close()
	h.st.PutDomainKeywords([]*model.KeywordSet{{ID: "anime", Keywords: []string{"anime"}, Enabled: true}})

	result := h.orc.SubmitImagine(context.Background(), orchestrator.ImagineRequest{
		Prompt:    "an anime girl",
		BotFamily: model.BotFamilyMJ,
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	task, err := h.st.GetTask(context.Background(), result.Result)
	require.NoError(t, err)
	assert.Equal(t, "A", task.InstanceID)
}

// Scenario 5: pan-modal two-phase commit. The modal fields are already
// populated (standing in for the correlator having resolved them from the
// upstream confirm-window event) so SubmitModal's poll resolves on its
// first check; what's under test is the Action-then-Remix dispatch order
// and the remix customId rewrite that feeds the second-phase command.
func TestPanModalTwoPhase(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)

	var actionCalled, remixCalled bool
	var remixArgsSeen backend.ButtonArgs
	commanders := map[string]*fakeCommander{
		"A": {
			action: func(ctx context.Context, args backend.ButtonArgs) (backend.Result, error) {
				actionCalled = true
				return backend.Result{Code: backend.CodeSuccess}, nil
			},
			remix: func(ctx context.Context, args backend.ButtonArgs) (backend.Result, error) {
				remixCalled = true
				remixArgsSeen = args
				return backend.Result{Code: backend.CodeSuccess}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	task := &model.Task{
		ID:         "task-pan-1",
		Action:     model.ActionPan,
		Status:     model.StatusModal,
		BotFamily:  model.BotFamilyMJ,
		InstanceID: "A",
		Properties: model.Properties{
			CustomID:              "MJ::JOB::pan_left::3::HASH",
			MessageID:             "msg-orig",
			RemixModalMessageID:   "msg-confirm",
			InteractionMetadataID: "interaction-1",
		},
	}
	require.NoError(t, h.st.SaveTask(context.Background(), task))

	result := h.orc.SubmitModal(context.Background(), task.ID)
	require.Equal(t, model.CodeSuccess, result.Code)
	assert.True(t, actionCalled, "the confirm window must be opened before the second phase fires")
	assert.True(t, remixCalled)
	assert.Equal(t, "MJ::PanModal::left::HASH::3", remixArgsSeen.CustomID)
}

// Scenario 6: replaying the same upstream event id is a no-op, per
// HandleEvent's dedup contract, even when the replayed payload disagrees
// with what was already persisted.
func TestEventReplayIdempotent(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	imagineFns := map[string]func(ctx context.Context, a backend.ImagineArgs) (backend.Result, error){
		"A": func(ctx context.Context, args backend.ImagineArgs) (backend.Result, error) {
			return backend.Result{Code: backend.CodeSuccess, MessageID: "msg-1"}, nil
		},
	}
	h := newHarness(t, []*model.Account{a}, imagineFns)
	defer h.close()

	result := h.orc.SubmitImagine(context.Background(), orchestrator.ImagineRequest{
		Prompt:    "a red cube",
		BotFamily: model.BotFamilyMJ,
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	taskID := result.Result

	task, err := h.st.GetTask(context.Background(), taskID)
	require.NoError(t, err)

	ev := correlator.EventData{
		ID:          "msg-1",
		ChannelID:   "A",
		Nonce:       task.Properties.Nonce,
		Content:     "a red cube - <@1> (fast)",
		Attachments: []string{"https://cdn.example/a.png"},
	}
	require.NoError(t, h.corr.HandleEvent(context.Background(), ev))
	final := waitForStatus(t, h.st, taskID, model.StatusSuccess, time.Second)
	assert.Equal(t, "https://cdn.example/a.png", final.ImageURL)

	// Replay the exact same event id with a payload that would flip the
	// task to FAILURE if it were applied; the dedup check must short
	// circuit before it ever reaches applyTransition.
	replay := ev
	replay.Content = "❌ Invalid request"
	replay.Attachments = nil
	require.NoError(t, h.corr.HandleEvent(context.Background(), replay))

	unchanged, err := h.st.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, unchanged.Status, "a replayed event id must never mutate an already-applied task")
	assert.Equal(t, "https://cdn.example/a.png", unchanged.ImageURL)
}

// An Inpaint button must enter MODAL tagged ActionInpaint, not ActionZoom,
// so dispatchSecondPhase later reaches cmd.Inpaint rather than cmd.Zoom.
func TestInpaintButtonEntersModalAsInpaint(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	h := newHarness(t, []*model.Account{a}, nil)
	defer h.close()

	result := h.orc.SubmitButton(context.Background(), orchestrator.ButtonRequest{
		ChannelID: "A",
		CustomID:  "MJ::Inpaint::mask-data",
		BotFamily: model.BotFamilyMJ,
	})
	require.Equal(t, model.CodeExisted, result.Code)

	task, err := h.st.GetTask(context.Background(), result.Result)
	require.NoError(t, err)
	assert.Equal(t, model.ActionInpaint, task.Action)
}

// A CustomZoom button must still enter MODAL tagged ActionZoom, unaffected
// by the Inpaint case split above.
func TestCustomZoomButtonEntersModalAsZoom(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	h := newHarness(t, []*model.Account{a}, nil)
	defer h.close()

	result := h.orc.SubmitButton(context.Background(), orchestrator.ButtonRequest{
		ChannelID: "A",
		CustomID:  "MJ::CustomZoom::HASH",
		BotFamily: model.BotFamilyMJ,
	})
	require.Equal(t, model.CodeExisted, result.Code)

	task, err := h.st.GetTask(context.Background(), result.Result)
	require.NoError(t, err)
	assert.Equal(t, model.ActionZoom, task.Action)
}

// Once MODAL's two-phase commit reaches the second phase, ActionInpaint must
// dispatch through cmd.Inpaint, not cmd.Zoom, addressed to the
// confirm-window message.
func TestInpaintModalDispatchesToInpaint(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	var inpaintCalled bool
	var inpaintArgsSeen backend.ButtonArgs
	commanders := map[string]*fakeCommander{
		"A": {
			inpaint: func(ctx context.Context, args backend.ButtonArgs) (backend.Result, error) {
				inpaintCalled = true
				inpaintArgsSeen = args
				return backend.Result{Code: backend.CodeSuccess}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	task := &model.Task{
		ID:         "task-inpaint-1",
		Action:     model.ActionInpaint,
		Status:     model.StatusModal,
		BotFamily:  model.BotFamilyMJ,
		InstanceID: "A",
		Properties: model.Properties{
			MessageID:             "msg-orig",
			RemixModalMessageID:   "msg-confirm",
			InteractionMetadataID: "interaction-1",
		},
	}
	require.NoError(t, h.st.SaveTask(context.Background(), task))

	result := h.orc.SubmitModal(context.Background(), task.ID)
	require.Equal(t, model.CodeSuccess, result.Code)
	assert.True(t, inpaintCalled, "ActionInpaint must dispatch to cmd.Inpaint, not cmd.Zoom")
	assert.Equal(t, "msg-confirm", inpaintArgsSeen.MessageID)
}

func describeCapableAccount(channelID string) *model.Account {
	a := baseAccount(channelID, 1, 1, 1, 1)
	a.CapabilityDescribe = true
	a.CapabilityBlend = true
	a.CapabilityShorten = true
	return a
}

// SubmitDescribe with a direct link resolves through uploadOne (here a
// pass-through, since the harness config leaves EnableSaveUserUploadLink
// false) and calls
// Commander.DescribeByLink.
func TestSubmitDescribeByLink(t *testing.T) {
	a := describeCapableAccount("A")
	var seenURL string
	commanders := map[string]*fakeCommander{
		"A": {
			describeByLink: func(ctx context.Context, channelID, imageURL, nonce string) (backend.Result, error) {
				seenURL = imageURL
				return backend.Result{Code: backend.CodeSuccess, MessageID: "desc-1"}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	result := h.orc.SubmitDescribe(context.Background(), orchestrator.DescribeRequest{
		BotFamily: model.BotFamilyMJ,
		ImageURL:  "https://cdn.example/source.png",
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	require.Eventually(t, func() bool { return seenURL != "" }, time.Second, 5*time.Millisecond, "the queued worker must run the producer")
	assert.Equal(t, "https://cdn.example/source.png", seenURL)

	task, err := h.st.GetTask(context.Background(), result.Result)
	require.NoError(t, err)
	assert.Equal(t, model.ActionDescribe, task.Action)
}

// SubmitDescribe with an inline upload decodes straight to bytes and calls
// Commander.DescribeByUpload without ever resolving a hosted URL.
func TestSubmitDescribeByUpload(t *testing.T) {
	a := describeCapableAccount("A")
	var uploadCalled bool
	commanders := map[string]*fakeCommander{
		"A": {
			describeByUpload: func(ctx context.Context, args backend.UploadArgs) (backend.Result, error) {
				uploadCalled = true
				return backend.Result{Code: backend.CodeSuccess, MessageID: "desc-2"}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	result := h.orc.SubmitDescribe(context.Background(), orchestrator.DescribeRequest{
		BotFamily:     model.BotFamilyMJ,
		UploadDataURL: "data:image/png;base64,iVBORw0KGgo=",
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	require.Eventually(t, func() bool { return uploadCalled }, time.Second, 5*time.Millisecond, "the queued worker must run the producer")
	assert.True(t, uploadCalled)
}

// SubmitBlend uploads every supplied image then issues one Blend call
// against all of their resolved URLs.
func TestSubmitBlend(t *testing.T) {
	a := describeCapableAccount("A")
	var seenURLs []string
	commanders := map[string]*fakeCommander{
		"A": {
			blend: func(ctx context.Context, channelID string, imageURLs []string, nonce string) (backend.Result, error) {
				seenURLs = imageURLs
				return backend.Result{Code: backend.CodeSuccess, MessageID: "blend-1"}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	result := h.orc.SubmitBlend(context.Background(), orchestrator.BlendRequest{
		BotFamily:      model.BotFamilyMJ,
		UploadDataURLs: []string{"https://cdn.example/1.png", "https://cdn.example/2.png"},
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	require.Eventually(t, func() bool { return seenURLs != nil }, time.Second, 5*time.Millisecond, "the queued worker must run the producer")
	assert.Equal(t, []string{"https://cdn.example/1.png", "https://cdn.example/2.png"}, seenURLs)
}

// SubmitBlend rejects a single image; BLEND needs at least two.
func TestSubmitBlendRequiresTwoImages(t *testing.T) {
	a := describeCapableAccount("A")
	h := newHarness(t, []*model.Account{a}, nil)
	defer h.close()

	result := h.orc.SubmitBlend(context.Background(), orchestrator.BlendRequest{
		BotFamily:      model.BotFamilyMJ,
		UploadDataURLs: []string{"https://cdn.example/1.png"},
	})
	assert.Equal(t, model.CodeValidationError, result.Code)
}

// SubmitShorten has no image leg and dispatches straight to Commander.Shorten.
func TestSubmitShorten(t *testing.T) {
	a := describeCapableAccount("A")
	var seenPrompt string
	commanders := map[string]*fakeCommander{
		"A": {
			shorten: func(ctx context.Context, channelID, prompt, nonce string) (backend.Result, error) {
				seenPrompt = prompt
				return backend.Result{Code: backend.CodeSuccess, MessageID: "shorten-1"}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	result := h.orc.SubmitShorten(context.Background(), orchestrator.ShortenRequest{
		BotFamily: model.BotFamilyMJ,
		Prompt:    "a very long prompt describing a cube in great detail",
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	require.Eventually(t, func() bool { return seenPrompt != "" }, time.Second, 5*time.Millisecond, "the queued worker must run the producer")
	assert.Equal(t, "a very long prompt describing a cube in great detail", seenPrompt)
}

// SubmitEdit prepends the uploaded reference's resolved URL to the prompt
// and dispatches through Commander.Imagine, tagged ActionEdit.
func TestSubmitEdit(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	var seenPrompt string
	commanders := map[string]*fakeCommander{
		"A": {
			imagine: func(ctx context.Context, args backend.ImagineArgs) (backend.Result, error) {
				seenPrompt = args.Prompt
				return backend.Result{Code: backend.CodeSuccess, MessageID: "edit-1"}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	result := h.orc.SubmitEdit(context.Background(), orchestrator.EditRequest{
		Prompt:         "make it blue",
		BotFamily:      model.BotFamilyMJ,
		UploadDataURLs: []string{"https://cdn.example/base.png"},
	})
	require.Equal(t, model.CodeSuccess, result.Code)
	require.Eventually(t, func() bool { return seenPrompt != "" }, time.Second, 5*time.Millisecond, "the queued worker must run the producer")
	assert.Equal(t, "https://cdn.example/base.png make it blue", seenPrompt)

	task, err := h.st.GetTask(context.Background(), result.Result)
	require.NoError(t, err)
	assert.Equal(t, model.ActionEdit, task.Action)
}

// SubmitEdit rejects a submission with no reference image.
func TestSubmitEditRequiresReferenceImage(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	h := newHarness(t, []*model.Account{a}, nil)
	defer h.close()

	result := h.orc.SubmitEdit(context.Background(), orchestrator.EditRequest{
		Prompt:    "make it blue",
		BotFamily: model.BotFamilyMJ,
	})
	assert.Equal(t, model.CodeValidationError, result.Code)
}

// SubmitRetexture follows the same compound-Imagine path as SubmitEdit,
// tagged ActionRetexture instead.
func TestSubmitRetexture(t *testing.T) {
	a := baseAccount("A", 1, 1, 1, 1)
	commanders := map[string]*fakeCommander{
		"A": {
			imagine: func(ctx context.Context, args backend.ImagineArgs) (backend.Result, error) {
				return backend.Result{Code: backend.CodeSuccess, MessageID: "retexture-1"}, nil
			},
		},
	}
	h := newHarnessWithCommanders(t, []*model.Account{a}, commanders)
	defer h.close()

	result := h.orc.SubmitRetexture(context.Background(), orchestrator.RetextureRequest{
		Prompt:         "make it look like wood",
		BotFamily:      model.BotFamilyMJ,
		UploadDataURLs: []string{"https://cdn.example/base.png"},
	})
	require.Equal(t, model.CodeSuccess, result.Code)

	task, err := h.st.GetTask(context.Background(), result.Result)
	require.NoError(t, err)
	assert.Equal(t, model.ActionRetexture, task.Action)
}
