package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/selector"
)

const (
	modalPollInterval = 2500 * time.Millisecond
	modalPollTimeout  = 5 * time.Minute
	modalSettleDelay  = 1200 * time.Millisecond
)

// SubmitModal implements submitModal's two-phase commit (spec.md §4.6):
// re-select the owning instance, open the confirm window, poll for the
// correlator's populated remix fields, then dispatch the rewritten
// second-phase command.
func (o *Orchestrator) SubmitModal(ctx context.Context, taskID string) model.SubmitResult {
	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return model.SubmitResult{Code: model.CodeNotFound, Description: err.Error()}
	}
	if task.Status != model.StatusModal {
		return model.SubmitResult{Code: model.CodeValidationError, Description: "task is not awaiting modal confirm"}
	}

	inst, ok := o.instances[task.InstanceID]
	if !ok {
		picked, err := o.chooseInstance(selector.Requirements{IsNewTask: true, BotFamily: task.BotFamily})
		if err != nil {
			return resultFromErr(err)
		}
		inst = picked
		task.InstanceID = inst.Account().ChannelID
	}

	if _, err := inst.Dispatch(ctx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Action(ctx, backend.ButtonArgs{
			ChannelID:    inst.Account().ChannelID,
			MessageID:    task.Properties.MessageID,
			MessageFlags: task.Properties.Flags,
			CustomID:     task.Properties.CustomID,
			Nonce:        task.Properties.Nonce,
		})
	}); err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}

	if err := o.pollForModalFields(ctx, taskID); err != nil {
		task.Status = model.StatusFailure
		task.FailReason = "timeout"
		_ = o.tasks.SaveTask(ctx, task)
		return model.SubmitResult{Code: model.CodeNotFound, Description: "timeout"}
	}

	task, err = o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}

	select {
	case <-time.After(modalSettleDelay):
	case <-ctx.Done():
		return model.SubmitResult{Code: model.CodeFailure, Description: ctx.Err().Error()}
	}

	return o.dispatchSecondPhase(ctx, inst, task)
}

// pollForModalFields waits, at 2.5s intervals up to 5 minutes, for the
// correlator to populate remixModalMessageId and interactionMetadataId on
// the task record.
func (o *Orchestrator) pollForModalFields(ctx context.Context, taskID string) error {
	return o.pollUntil(ctx, taskID, modalPollInterval, modalPollTimeout, func(t *model.Task) bool {
		return t.Properties.RemixModalMessageID != "" && t.Properties.InteractionMetadataID != ""
	})
}

func (o *Orchestrator) dispatchSecondPhase(ctx context.Context, inst *instance.Instance, task *model.Task) model.SubmitResult {
	account := inst.Account()

	switch task.Action {
	case model.ActionZoom:
		res, err := inst.Dispatch(ctx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
			return cmd.Zoom(ctx, buttonArgsFrom(task, account))
		})
		return resultFromCommand(task, res, err)

	case model.ActionInpaint:
		res, err := inst.Dispatch(ctx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
			return cmd.Inpaint(ctx, buttonArgsFrom(task, account))
		})
		return resultFromCommand(task, res, err)

	case model.ActionReroll, model.ActionVariation, model.ActionPan, model.ActionShow:
		customID, err := rewriteRemixCustomID(task, account)
		if err != nil {
			return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
		}
		task.Properties.RemixCustomID = customID
		args := buttonArgsFrom(task, account)
		args.CustomID = customID
		res, err := inst.Dispatch(ctx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
			return cmd.Remix(ctx, args)
		})
		return resultFromCommand(task, res, err)

	default:
		return model.SubmitResult{Code: model.CodeValidationError, Description: fmt.Sprintf("no second-phase command for action %s", task.Action)}
	}
}

// buttonArgsFrom builds the second-phase arguments, addressed to the
// confirm-window message. Mask is left empty: tasks store no inpaint mask.
func buttonArgsFrom(task *model.Task, account *model.Account) backend.ButtonArgs {
	return backend.ButtonArgs{
		ChannelID:             account.ChannelID,
		GuildID:               account.GuildID,
		MessageID:             task.Properties.RemixModalMessageID,
		InteractionMetadataID: task.Properties.InteractionMetadataID,
		CustomID:              task.Properties.CustomID,
		Nonce:                 model.NewNonce(),
		Prompt:                task.Prompt,
	}
}

func resultFromCommand(task *model.Task, res backend.Result, err error) model.SubmitResult {
	if err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}
	switch res.Code {
	case backend.CodeSuccess, backend.CodeExisted, backend.CodeInQueue:
		return model.SubmitResult{Code: model.CodeSuccess, Result: task.ID, Properties: task.Properties}
	default:
		return model.SubmitResult{Code: model.CodeFailure, Description: res.Description}
	}
}

// rewriteRemixCustomID implements spec.md §4.6's remix customId rewriting
// rules.
func rewriteRemixCustomID(task *model.Task, account *model.Account) (string, error) {
	switch task.Action {
	case model.ActionReroll:
		if task.Properties.RemixCustomID == "" {
			return fmt.Sprintf("MJ::ImagineModal::%s", task.Properties.MessageID), nil
		}
		if strings.HasPrefix(task.Properties.RemixCustomID, "MJ::PanModal::") {
			parsed, err := ParseCustomID(task.Properties.CustomID)
			if err != nil {
				return "", fmt.Errorf("reroll: parse parent customId: %w", err)
			}
			return fmt.Sprintf("MJ::PanModal::%s::%s::%s", parsed.Dir, parsed.Hash, parsed.Index), nil
		}
		return task.Properties.RemixCustomID, nil

	case model.ActionVariation:
		parsed, err := ParseCustomID(task.Properties.CustomID)
		if err != nil {
			return "", fmt.Errorf("variation: parse customId: %w", err)
		}
		suffix := "0"
		if account.HighVariability {
			suffix = "1"
		}
		return fmt.Sprintf("MJ::RemixModal::%s::%s::%s", parsed.Hash, parsed.Index, suffix), nil

	case model.ActionPan:
		parsed, err := ParseCustomID(task.Properties.CustomID)
		if err != nil {
			return "", fmt.Errorf("pan: parse customId: %w", err)
		}
		return fmt.Sprintf("MJ::PanModal::%s::%s::%s", parsed.Dir, parsed.Hash, parsed.Index), nil

	case model.ActionShow:
		return task.Properties.CustomID, nil

	default:
		return "", fmt.Errorf("no remix rewrite rule for action %s", task.Action)
	}
}
