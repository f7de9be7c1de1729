package correlator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quel-drawcore/internal/model"
)

func TestApplySeedTransition_SeedValue(t *testing.T) {
	task := &model.Task{Action: model.ActionSeed}
	applySeedTransition(task, EventData{Content: "seed: 1234567"})
	assert.Equal(t, model.StatusSuccess, task.Status)
	assert.Equal(t, "1234567", task.Seed)
}

func TestApplySeedTransition_Failure(t *testing.T) {
	task := &model.Task{Action: model.ActionSeed}
	applySeedTransition(task, EventData{Content: "❌ Invalid request"})
	assert.Equal(t, model.StatusFailure, task.Status)
	assert.NotEmpty(t, task.FailReason)
}

func TestApplySeedTransition_StillWaiting(t *testing.T) {
	task := &model.Task{Action: model.ActionSeed}
	applySeedTransition(task, EventData{Content: "Waiting to start"})
	assert.Equal(t, model.StatusInProgress, task.Status)
	assert.Empty(t, task.Seed)
}
