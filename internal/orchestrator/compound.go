package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/selector"
)

// DescribeRequest is the caller-facing input to SubmitDescribe. Exactly one
// of ImageURL or UploadDataURL must be set: a link goes straight to
// DescribeByLink (rehosted first if configured), an inline upload goes to
// DescribeByUpload with the decoded bytes attached directly.
type DescribeRequest struct {
	BotFamily     model.BotFamily
	AccountFilter model.AccountFilter
	ImageURL      string
	UploadDataURL string
}

// SubmitDescribe implements the DESCRIBE action (spec.md §4.6, §4.3's
// describe-by-link/describe-by-upload primitives).
func (o *Orchestrator) SubmitDescribe(ctx context.Context, req DescribeRequest) model.SubmitResult {
	if req.ImageURL == "" && req.UploadDataURL == "" {
		return model.SubmitResult{Code: model.CodeValidationError, Description: "describe requires an image URL or upload"}
	}

	inst, err := o.chooseInstance(selector.Requirements{
		IsNewTask:     true,
		BotFamily:     req.BotFamily,
		NeedDescribe:  true,
		PreferredMode: req.AccountFilter.Speed,
		Whitelist:     req.AccountFilter.InstanceIDs,
	})
	if err != nil {
		return resultFromErr(err)
	}

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        model.ActionDescribe,
		Status:        model.StatusNotStart,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		Mode:          req.AccountFilter.Speed,
		AccountFilter: req.AccountFilter,
		Properties:    model.Properties{Nonce: model.NewNonce()},
	}

	var producer func(ctx context.Context, cmd backend.Commander) (backend.Result, error)
	if req.UploadDataURL != "" {
		if !o.cfg.EnableUserCustomUploadBase64 {
			return model.SubmitResult{Code: model.CodeValidationError, Description: "base64 upload disabled by config"}
		}
		mimeType, data, err := decodeDataURL(req.UploadDataURL)
		if err != nil {
			return resultFromErr(model.Wrap(model.ErrValidation, err.Error()))
		}
		producer = func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
			return cmd.DescribeByUpload(ctx, backend.UploadArgs{
				ChannelID: inst.Account().ChannelID,
				Filename:  fmt.Sprintf("describe%s", suffixFromMime(mimeType)),
				Data:      data,
				MimeType:  mimeType,
			})
		}
	} else {
		url, err := o.uploadOne(ctx, inst, req.ImageURL)
		if err != nil {
			return resultFromErr(model.Wrap(model.ErrUploadFailed, err.Error()))
		}
		task.ImageURL = url
		producer = func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
			return cmd.DescribeByLink(ctx, inst.Account().ChannelID, url, task.Properties.Nonce)
		}
	}

	return inst.SubmitTask(ctx, task, producer)
}

// BlendRequest is the caller-facing input to SubmitBlend.
type BlendRequest struct {
	BotFamily      model.BotFamily
	AccountFilter  model.AccountFilter
	UploadDataURLs []string
}

// SubmitBlend implements the BLEND action: the upload sub-protocol resolves
// every supplied image to a hosted URL, then a single blend command is
// issued against all of them.
func (o *Orchestrator) SubmitBlend(ctx context.Context, req BlendRequest) model.SubmitResult {
	if len(req.UploadDataURLs) < 2 {
		return model.SubmitResult{Code: model.CodeValidationError, Description: "blend requires at least two images"}
	}

	inst, err := o.chooseInstance(selector.Requirements{
		IsNewTask:     true,
		BotFamily:     req.BotFamily,
		NeedBlend:     true,
		PreferredMode: req.AccountFilter.Speed,
		Whitelist:     req.AccountFilter.InstanceIDs,
	})
	if err != nil {
		return resultFromErr(err)
	}

	urls, err := o.uploadAll(ctx, inst, req.UploadDataURLs)
	if err != nil {
		return resultFromErr(model.Wrap(model.ErrUploadFailed, err.Error()))
	}

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        model.ActionBlend,
		Status:        model.StatusNotStart,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		Mode:          req.AccountFilter.Speed,
		ImageURLs:     urls,
		AccountFilter: req.AccountFilter,
		Properties:    model.Properties{Nonce: model.NewNonce()},
	}

	producer := func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Blend(ctx, inst.Account().ChannelID, urls, task.Properties.Nonce)
	}
	return inst.SubmitTask(ctx, task, producer)
}

// ShortenRequest is the caller-facing input to SubmitShorten.
type ShortenRequest struct {
	BotFamily     model.BotFamily
	AccountFilter model.AccountFilter
	Prompt        string
}

// SubmitShorten implements the SHORTEN action: no image involved, so the
// upload sub-protocol never runs.
func (o *Orchestrator) SubmitShorten(ctx context.Context, req ShortenRequest) model.SubmitResult {
	if strings.TrimSpace(req.Prompt) == "" {
		return model.SubmitResult{Code: model.CodeValidationError, Description: "shorten requires a prompt"}
	}
	if err := o.bannedPreflight(ctx, req.Prompt); err != nil {
		return resultFromErr(err)
	}

	inst, err := o.chooseInstance(selector.Requirements{
		IsNewTask:     true,
		BotFamily:     req.BotFamily,
		NeedShorten:   true,
		PreferredMode: req.AccountFilter.Speed,
		Whitelist:     req.AccountFilter.InstanceIDs,
	})
	if err != nil {
		return resultFromErr(err)
	}

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        model.ActionShorten,
		Status:        model.StatusNotStart,
		BotFamily:     req.BotFamily,
		BackendFamily: inst.Account().BackendFamily,
		Mode:          req.AccountFilter.Speed,
		Prompt:        req.Prompt,
		AccountFilter: req.AccountFilter,
		Properties:    model.Properties{Nonce: model.NewNonce()},
	}

	producer := func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Shorten(ctx, inst.Account().ChannelID, req.Prompt, task.Properties.Nonce)
	}
	return inst.SubmitTask(ctx, task, producer)
}

// EditRequest is the caller-facing input to SubmitEdit.
type EditRequest struct {
	Prompt         string
	BotFamily      model.BotFamily
	AccountFilter  model.AccountFilter
	UploadDataURLs []string
}

// SubmitEdit implements the EDIT action. spec.md §4.3 lists no dedicated
// edit send-primitive, so — like IMAGINE — it prepends the uploaded
// reference's resolved URL to the prompt and issues it through the same
// Imagine primitive, distinguished downstream only by the task's Action.
func (o *Orchestrator) SubmitEdit(ctx context.Context, req EditRequest) model.SubmitResult {
	return o.submitCompoundImagine(ctx, req.Prompt, req.BotFamily, req.AccountFilter, req.UploadDataURLs, model.ActionEdit)
}

// RetextureRequest is the caller-facing input to SubmitRetexture.
type RetextureRequest struct {
	Prompt         string
	BotFamily      model.BotFamily
	AccountFilter  model.AccountFilter
	UploadDataURLs []string
}

// SubmitRetexture implements the RETEXTURE action; see SubmitEdit for why it
// reuses the Imagine primitive rather than a dedicated one.
func (o *Orchestrator) SubmitRetexture(ctx context.Context, req RetextureRequest) model.SubmitResult {
	return o.submitCompoundImagine(ctx, req.Prompt, req.BotFamily, req.AccountFilter, req.UploadDataURLs, model.ActionRetexture)
}

// submitCompoundImagine is the shared body of SubmitEdit and SubmitRetexture:
// both require a reference image, run the same banned/domain preflights and
// upload-then-prepend sequence as SubmitImagine, and differ only in the
// Action tag carried by the resulting task.
func (o *Orchestrator) submitCompoundImagine(ctx context.Context, prompt string, botFamily model.BotFamily, filter model.AccountFilter, uploadDataURLs []string, action model.Action) model.SubmitResult {
	if len(uploadDataURLs) == 0 {
		return model.SubmitResult{Code: model.CodeValidationError, Description: fmt.Sprintf("%s requires a reference image", strings.ToLower(string(action)))}
	}
	if err := o.bannedPreflight(ctx, prompt); err != nil {
		return resultFromErr(err)
	}

	domainIDs, isDomain := o.domainPreflight(ctx, prompt)

	inst, err := o.chooseInstance(selector.Requirements{
		IsNewTask:     true,
		BotFamily:     botFamily,
		PreferredMode: filter.Speed,
		IsDomain:      isDomain,
		DomainIDs:     domainIDs,
		Whitelist:     filter.InstanceIDs,
	})
	if err != nil {
		return resultFromErr(err)
	}

	urls, err := o.uploadAll(ctx, inst, uploadDataURLs)
	if err != nil {
		return resultFromErr(model.Wrap(model.ErrUploadFailed, err.Error()))
	}
	fullPrompt := strings.Join(urls, " ") + " " + prompt

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        action,
		Status:        model.StatusNotStart,
		BotFamily:     botFamily,
		BackendFamily: inst.Account().BackendFamily,
		Mode:          filter.Speed,
		Prompt:        fullPrompt,
		ImageURLs:     urls,
		AccountFilter: filter,
		Properties:    model.Properties{Nonce: model.NewNonce()},
	}

	producer := func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Imagine(ctx, backend.ImagineArgs{
			ChannelID: inst.Account().ChannelID,
			GuildID:   inst.Account().GuildID,
			Prompt:    fullPrompt,
			Nonce:     task.Properties.Nonce,
			BotName:   string(botFamily),
		})
	}
	return inst.SubmitTask(ctx, task, producer)
}
