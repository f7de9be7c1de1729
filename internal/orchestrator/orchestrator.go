// Package orchestrator implements the task orchestrator (C6): one submit
// entrypoint per action, the banned-word and domain-routing preflights, the
// upload sub-protocol, the button action-dispatch table, and the modal
// two-phase commit.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/config"
	"quel-drawcore/internal/domaincache"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/lock"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/registry"
	"quel-drawcore/internal/selector"
	"quel-drawcore/internal/store"
)

// Uploader is the backend-specific upload primitive the upload sub-protocol
// calls once a data URL has been decoded or rehosted.
type Uploader interface {
	// Upload returns either an http(s) URL the backend accepted directly,
	// or "" plus a message-post fallback via backend.Commander.SendImage.
	Upload(ctx context.Context, a backend.UploadArgs) (url string, err error)
}

// Orchestrator wires the registry, per-account instances, caches, and lock
// primitives into the action-dispatch surface spec.md §4.6 describes.
type Orchestrator struct {
	reg      *registry.Registry
	domains  *domaincache.Cache
	locker   lock.Locker
	tasks    store.TaskStore
	cfg      *config.Config
	log      *zap.Logger
	clock    func() time.Time

	instances map[string]*instance.Instance
	sel       *selector.Selector
	uploader  Uploader
}

// New builds an Orchestrator. Call RegisterInstance for every account
// before accepting submissions. uploader may be nil, in which case the
// upload sub-protocol's base64 path falls through to send-image.
func New(reg *registry.Registry, domains *domaincache.Cache, locker lock.Locker, tasks store.TaskStore, cfg *config.Config, log *zap.Logger, uploader Uploader) *Orchestrator {
	return &Orchestrator{
		reg:       reg,
		domains:   domains,
		locker:    locker,
		tasks:     tasks,
		cfg:       cfg,
		log:       log,
		clock:     time.Now,
		instances: make(map[string]*instance.Instance),
		sel:       selector.New(reg, cfg.AccountChooseRule, nil),
		uploader:  uploader,
	}
}

// RegisterInstance makes inst available for selection and dispatch under
// its account's channel id.
func (o *Orchestrator) RegisterInstance(inst *instance.Instance) {
	o.instances[inst.Account().ChannelID] = inst
}

func (o *Orchestrator) liveViews() []selector.InstanceView {
	alive := o.reg.Alive()
	out := make([]selector.InstanceView, 0, len(alive))
	for _, a := range alive {
		if inst, ok := o.instances[a.ChannelID]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// chooseInstance implements the four-step selector policy plus the
// orchestrator-owned retry: if isDomain selection returns none, retry once
// with isDomain=false, per spec.md §7's retry policy.
func (o *Orchestrator) chooseInstance(req selector.Requirements) (*instance.Instance, error) {
	views := o.liveViews()
	picked := o.sel.Choose(views, req)
	if picked == nil && req.IsDomain {
		req.IsDomain = false
		picked = o.sel.Choose(views, req)
	}
	if picked == nil {
		return nil, model.Wrap(model.ErrNotFound, "no available instance")
	}
	inst, ok := picked.(*instance.Instance)
	if !ok {
		return nil, model.Wrap(model.ErrInternal, "selector returned non-instance view")
	}
	return inst, nil
}

// bannedPreflight runs the common preflight every submit* entrypoint that
// takes a free-text prompt performs (imagine, edit, retexture, shorten): a
// word-boundary scan of the lower-cased prompt against the enabled banned
// keyword sets.
func (o *Orchestrator) bannedPreflight(ctx context.Context, prompt string) error {
	sets, err := o.domains.Banned(ctx)
	if err != nil {
		return fmt.Errorf("load banned keywords: %w", err)
	}
	if hit := domaincache.ScanBanned(prompt, sets); hit != "" {
		return model.Wrap(model.ErrBannedPrompt, hit)
	}
	return nil
}

// domainPreflight tokenizes prompt and matches it against the enabled
// domain keyword sets, per spec.md §4.6. ok is false when nothing matched,
// meaning selection should proceed without domain routing.
func (o *Orchestrator) domainPreflight(ctx context.Context, prompt string) (ids []string, ok bool) {
	sets, err := o.domains.Domain(ctx)
	if err != nil {
		o.log.Warn("load domain keywords", zap.Error(err))
		return nil, false
	}
	return domaincache.DomainMatch(prompt, sets)
}

// ImagineRequest is the caller-facing input to SubmitImagine.
type ImagineRequest struct {
	Prompt        string
	BotFamily     model.BotFamily
	AccountFilter model.AccountFilter
	UploadDataURLs []string
}

// SubmitImagine implements the IMAGINE action: banned-word preflight,
// domain-routed selection with retry-once, the upload sub-protocol
// prepending resulting URLs to the prompt, then dispatch.
func (o *Orchestrator) SubmitImagine(ctx context.Context, req ImagineRequest) model.SubmitResult {
	if err := o.bannedPreflight(ctx, req.Prompt); err != nil {
		return resultFromErr(err)
	}

	domainIDs, isDomain := o.domainPreflight(ctx, req.Prompt)

	selReq := selector.Requirements{
		IsNewTask:     true,
		BotFamily:     req.BotFamily,
		PreferredMode: req.AccountFilter.Speed,
		IsDomain:      isDomain,
		DomainIDs:     domainIDs,
		Whitelist:     req.AccountFilter.InstanceIDs,
	}
	inst, err := o.chooseInstance(selReq)
	if err != nil {
		return resultFromErr(err)
	}

	prompt := req.Prompt
	if len(req.UploadDataURLs) > 0 {
		urls, err := o.uploadAll(ctx, inst, req.UploadDataURLs)
		if err != nil {
			return resultFromErr(model.Wrap(model.ErrUploadFailed, err.Error()))
		}
		prompt = strings.Join(urls, " ") + " " + prompt
	}

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        model.ActionImagine,
		Status:        model.StatusNotStart,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		Mode:          req.AccountFilter.Speed,
		Prompt:        prompt,
		AccountFilter: req.AccountFilter,
		Properties:    model.Properties{Nonce: model.NewNonce()},
	}

	producer := func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Imagine(ctx, backend.ImagineArgs{
			ChannelID: inst.Account().ChannelID,
			GuildID:   inst.Account().GuildID,
			Prompt:    prompt,
			Nonce:     task.Properties.Nonce,
			BotName:   string(req.BotFamily),
		})
	}

	return inst.SubmitTask(ctx, task, producer)
}

func resultFromErr(err error) model.SubmitResult {
	var ke *model.KindError
	if e, ok := err.(*model.KindError); ok {
		ke = e
	} else {
		ke = model.Wrap(model.ErrInternal, err.Error())
	}
	code := model.CodeFailure
	switch ke.Kind {
	case model.ErrBannedPrompt:
		code = model.CodeBannedPrompt
	case model.ErrValidation:
		code = model.CodeValidationError
	case model.ErrNotFound:
		code = model.CodeNotFound
	case model.ErrQueueFull:
		code = model.CodeFailure
	}
	return model.SubmitResult{Code: code, Description: ke.Msg}
}
