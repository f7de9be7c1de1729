package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/model"
)

// ButtonRequest is the caller-facing input to SubmitButton: a click on one
// of a prior result's components.
type ButtonRequest struct {
	ChannelID    string
	CustomID     string
	MessageID    string
	MessageFlags int
	BotFamily    model.BotFamily
	ParentPrompt string // the parent task's stored prompt, for line-extraction actions
}

// SubmitButton implements the button action-dispatch table from spec.md
// §4.6.
func (o *Orchestrator) SubmitButton(ctx context.Context, req ButtonRequest) model.SubmitResult {
	parsed, err := ParseCustomID(req.CustomID)
	if err != nil {
		return model.SubmitResult{Code: model.CodeValidationError, Description: err.Error()}
	}

	inst, ok := o.resolveInstance(req.ChannelID)
	if !ok {
		return model.SubmitResult{Code: model.CodeNotFound, Description: "unknown channel"}
	}
	account := inst.Account()

	switch parsed.Kind {
	case KindBookmark:
		return o.dispatchBookmark(ctx, inst, req, parsed)

	case KindCustomZoom:
		return o.enterModal(ctx, inst, req, parsed, model.ActionZoom)

	case KindInpaint:
		return o.enterModal(ctx, inst, req, parsed, model.ActionInpaint)

	case KindPicReader:
		if parsed.N == "all" {
			return o.fanOutPicReader(ctx, inst, req)
		}
		return o.extractLineAndModal(ctx, inst, req, parsed.N, model.ActionShow)

	case KindPromptAnalyzer:
		return o.extractLineAndModal(ctx, inst, req, parsed.N, model.ActionShow)

	case KindPan:
		return o.remixToggleDispatch(ctx, inst, req, parsed, model.ActionPan, account)

	case "variation":
		return o.remixToggleDispatch(ctx, inst, req, parsed, model.ActionVariation, account)

	case KindReroll:
		return o.remixToggleDispatch(ctx, inst, req, parsed, model.ActionReroll, account)

	case "upsample":
		return o.dispatchUpsample(ctx, inst, req, parsed)

	default:
		return model.SubmitResult{Code: model.CodeValidationError, Description: fmt.Sprintf("unhandled customId kind %q", parsed.Kind)}
	}
}

func (o *Orchestrator) resolveInstance(channelID string) (*instance.Instance, bool) {
	if inst, ok := o.instances[channelID]; ok {
		return inst, true
	}
	if acct, ok := o.reg.BySubChannel(channelID); ok {
		if inst, ok := o.instances[acct.ChannelID]; ok {
			return inst, true
		}
	}
	return nil, false
}

func (o *Orchestrator) dispatchBookmark(ctx context.Context, inst *instance.Instance, req ButtonRequest, parsed ParsedCustomID) model.SubmitResult {
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = inst.Dispatch(bgCtx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
			return cmd.Action(ctx, backend.ButtonArgs{
				ChannelID:    req.ChannelID,
				MessageID:    req.MessageID,
				MessageFlags: req.MessageFlags,
				CustomID:     req.CustomID,
			})
		})
	}()
	return model.SubmitResult{Code: model.CodeSuccess}
}

func (o *Orchestrator) enterModal(ctx context.Context, inst *instance.Instance, req ButtonRequest, parsed ParsedCustomID, action model.Action) model.SubmitResult {
	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        action,
		Status:        model.StatusModal,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		InstanceID:    inst.Account().ChannelID,
		SubmitTime:    now,
		Properties: model.Properties{
			MessageID: req.MessageID,
			Flags:     req.MessageFlags,
			CustomID:  req.CustomID,
			Remix:     true,
		},
	}
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}
	return model.SubmitResult{
		Code:        model.CodeExisted,
		Description: "Waiting for window confirm",
		Result:      task.ID,
		Properties:  task.Properties,
	}
}

// fanOutPicReader creates up to four independent MODAL child tasks, each
// with a fresh nonce, per spec.md §4.6.
func (o *Orchestrator) fanOutPicReader(ctx context.Context, inst *instance.Instance, req ButtonRequest) model.SubmitResult {
	var last model.SubmitResult
	for i := 1; i <= 4; i++ {
		childReq := req
		childReq.CustomID = fmt.Sprintf("MJ::JOB::PicReader::%d", i)
		last = o.extractLineAndModal(ctx, inst, childReq, strconv.Itoa(i), model.ActionShow)
	}
	return last
}

var leadingTokenRe = regexp.MustCompile(`^[^\w]*\d*[.)]?\s*`)

// extractLineAndModal extracts the N-th prompt line from the parent's
// stored prompt (after the "Shortened prompts" anchor for PromptAnalyzer
// text), strips the leading emoji/number token, then enters MODAL with
// that line as the task's prompt.
func (o *Orchestrator) extractLineAndModal(ctx context.Context, inst *instance.Instance, req ButtonRequest, nStr string, action model.Action) model.SubmitResult {
	n, err := strconv.Atoi(nStr)
	if err != nil || n < 1 {
		return model.SubmitResult{Code: model.CodeValidationError, Description: "invalid line index"}
	}

	lines := linesAfterAnchor(req.ParentPrompt, "Shortened prompts")
	if lines == nil {
		return model.SubmitResult{Code: model.CodeNotFound, Description: "Shortened prompts anchor not found"}
	}
	if n > len(lines) {
		return model.SubmitResult{Code: model.CodeNotFound, Description: "line index out of range"}
	}
	prompt := leadingTokenRe.ReplaceAllString(lines[n-1], "")

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		ParentID:      req.MessageID,
		Action:        action,
		Status:        model.StatusModal,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		InstanceID:    inst.Account().ChannelID,
		Prompt:        prompt,
		SubmitTime:    now,
		Properties: model.Properties{
			MessageID: req.MessageID,
			Flags:     req.MessageFlags,
			CustomID:  req.CustomID,
			Nonce:     model.NewNonce(),
			Remix:     true,
		},
	}
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}
	return model.SubmitResult{Code: model.CodeExisted, Description: "Waiting for window confirm", Result: task.ID, Properties: task.Properties}
}

// linesAfterAnchor returns the non-empty lines following the first line
// that contains anchor, or nil if anchor never appears — the absence must
// propagate as NOT_FOUND rather than silently falling through to the whole
// text.
func linesAfterAnchor(text, anchor string) []string {
	lines := strings.Split(text, "\n")
	idx := -1
	for i, l := range lines {
		if strings.Contains(l, anchor) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	var out []string
	for _, l := range lines[idx+1:] {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// remixToggleDispatch honors the account's remix auto-submit toggle: if
// both auto-submit and remix are enabled for the bot family, it immediately
// runs submitModal; otherwise it enters MODAL and returns remix=true.
func (o *Orchestrator) remixToggleDispatch(ctx context.Context, inst *instance.Instance, req ButtonRequest, parsed ParsedCustomID, action model.Action, account *model.Account) model.SubmitResult {
	auto := account.RemixAutoSubmit[req.BotFamily]
	enabled := account.RemixEnabled[req.BotFamily]

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        action,
		Status:        model.StatusModal,
		BotFamily:     req.BotFamily,
		BackendFamily: account.BackendFamily,
		InstanceID:    account.ChannelID,
		SubmitTime:    now,
		Properties: model.Properties{
			MessageID: req.MessageID,
			Flags:     req.MessageFlags,
			CustomID:  req.CustomID,
			Remix:     true,
		},
	}
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}

	if auto && enabled {
		return o.SubmitModal(ctx, task.ID)
	}
	return model.SubmitResult{Code: model.CodeExisted, Description: "Waiting for window confirm", Result: task.ID, Properties: task.Properties}
}

// dispatchUpsample issues an immediate (non-modal) upscale command against
// the parent grid image.
func (o *Orchestrator) dispatchUpsample(ctx context.Context, inst *instance.Instance, req ButtonRequest, parsed ParsedCustomID) model.SubmitResult {
	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        model.ActionUpscale,
		Status:        model.StatusNotStart,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		SubmitTime:    now,
		Properties: model.Properties{
			Nonce:     model.NewNonce(),
			CustomID:  req.CustomID,
			MessageID: req.MessageID,
		},
	}
	producer := func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Upscale(ctx, backend.ButtonArgs{
			ChannelID:    req.ChannelID,
			MessageID:    req.MessageID,
			MessageFlags: req.MessageFlags,
			CustomID:     req.CustomID,
			Nonce:        task.Properties.Nonce,
		})
	}
	return inst.SubmitTask(ctx, task, producer)
}
