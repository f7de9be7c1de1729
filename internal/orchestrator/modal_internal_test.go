package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quel-drawcore/internal/model"
)

func TestRewriteRemixCustomID_Pan(t *testing.T) {
	task := &model.Task{
		Action:     model.ActionPan,
		Properties: model.Properties{CustomID: "MJ::JOB::pan_left::3::HASH"},
	}
	got, err := rewriteRemixCustomID(task, &model.Account{})
	require.NoError(t, err)
	assert.Equal(t, "MJ::PanModal::left::HASH::3", got)
}

func TestRewriteRemixCustomID_Variation(t *testing.T) {
	task := &model.Task{
		Action:     model.ActionVariation,
		Properties: model.Properties{CustomID: "MJ::JOB::variation::2::HASH"},
	}

	got, err := rewriteRemixCustomID(task, &model.Account{HighVariability: false})
	require.NoError(t, err)
	assert.Equal(t, "MJ::RemixModal::HASH::2::0", got)

	got, err = rewriteRemixCustomID(task, &model.Account{HighVariability: true})
	require.NoError(t, err)
	assert.Equal(t, "MJ::RemixModal::HASH::2::1", got)
}

func TestRewriteRemixCustomID_RerollFirstTime(t *testing.T) {
	task := &model.Task{
		Action:     model.ActionReroll,
		Properties: model.Properties{MessageID: "msg-123"},
	}
	got, err := rewriteRemixCustomID(task, &model.Account{})
	require.NoError(t, err)
	assert.Equal(t, "MJ::ImagineModal::msg-123", got)
}

func TestRewriteRemixCustomID_RerollFromPanModal(t *testing.T) {
	task := &model.Task{
		Action: model.ActionReroll,
		Properties: model.Properties{
			RemixCustomID: "MJ::PanModal::left::HASH::3",
			CustomID:      "MJ::JOB::upsample::3::HASH",
		},
	}
	got, err := rewriteRemixCustomID(task, &model.Account{})
	require.NoError(t, err)
	assert.Equal(t, "MJ::PanModal::::HASH::3", got, "upsample customIds carry no direction, so Dir is empty")
}

func TestRewriteRemixCustomID_RerollReusesPriorRemixCustomID(t *testing.T) {
	task := &model.Task{
		Action:     model.ActionReroll,
		Properties: model.Properties{RemixCustomID: "MJ::RemixModal::HASH::2::0"},
	}
	got, err := rewriteRemixCustomID(task, &model.Account{})
	require.NoError(t, err)
	assert.Equal(t, "MJ::RemixModal::HASH::2::0", got)
}
