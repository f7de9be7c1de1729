package orchestrator

import (
	"context"
	"fmt"
	"time"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/selector"
)

const (
	seedPollInterval = 2 * time.Second
	seedPollTimeout  = 3 * time.Minute
	seedReactionChar = "✉️"
)

// SeedRequest is the caller-facing input to SubmitSeed.
type SeedRequest struct {
	BotFamily   model.BotFamily
	MessageHash string
}

// SubmitSeed implements seed retrieval (spec.md §4.6): post the /show-style
// command referencing the image hash into the account's private channel,
// await seedMessageId, add a letter reaction, then await the seed value.
func (o *Orchestrator) SubmitSeed(ctx context.Context, req SeedRequest) model.SubmitResult {
	inst, err := o.chooseInstance(selector.Requirements{IsNewTask: true, BotFamily: req.BotFamily})
	if err != nil {
		return resultFromErr(err)
	}
	account := inst.Account()
	privateChannel := account.PrivateChannel()
	if privateChannel == "" {
		return model.SubmitResult{Code: model.CodeFailure, Description: "account has no private channel configured"}
	}

	now := o.clock()
	task := &model.Task{
		ID:            model.NewTaskID(now),
		Action:        model.ActionSeed,
		Status:        model.StatusNotStart,
		BotFamily:     req.BotFamily,
		BackendFamily: account.BackendFamily,
		InstanceID:    account.ChannelID,
		SubmitTime:    now,
		Properties: model.Properties{
			Nonce:       model.NewNonce(),
			MessageHash: req.MessageHash,
		},
	}

	producer := func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.Seed(ctx, privateChannel, req.MessageHash, task.Properties.Nonce)
	}
	result := inst.SubmitTask(ctx, task, producer)
	if result.Code != model.CodeSuccess {
		return result
	}

	if err := o.pollForSeedMessage(ctx, task.ID); err != nil {
		return model.SubmitResult{Code: model.CodeNotFound, Description: "timeout"}
	}

	task, err = o.tasks.GetTask(ctx, task.ID)
	if err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}

	if _, err := inst.Dispatch(ctx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.AddReaction(ctx, privateChannel, task.Properties.SeedMessageID, seedReactionChar)
	}); err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}

	if err := o.pollForSeedValue(ctx, task.ID); err != nil {
		return model.SubmitResult{Code: model.CodeNotFound, Description: "timeout"}
	}

	task, err = o.tasks.GetTask(ctx, task.ID)
	if err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: err.Error()}
	}
	if task.Status == model.StatusFailure {
		return model.SubmitResult{Code: model.CodeFailure, Description: task.FailReason}
	}
	return model.SubmitResult{Code: model.CodeSuccess, Result: task.Seed, Properties: task.Properties}
}

func (o *Orchestrator) pollForSeedMessage(ctx context.Context, taskID string) error {
	return o.pollUntil(ctx, taskID, seedPollInterval, seedPollTimeout, func(t *model.Task) bool {
		return t.Properties.SeedMessageID != ""
	})
}

func (o *Orchestrator) pollForSeedValue(ctx context.Context, taskID string) error {
	return o.pollUntil(ctx, taskID, seedPollInterval, seedPollTimeout, func(t *model.Task) bool {
		return t.Status.IsTerminal()
	})
}

// pollUntil polls the task store at interval until pred is satisfied or
// timeout elapses.
func (o *Orchestrator) pollUntil(ctx context.Context, taskID string, interval, timeout time.Duration, pred func(*model.Task) bool) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := o.tasks.GetTask(ctx, taskID)
		if err == nil && pred(task) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("poll timeout for task %s", taskID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
