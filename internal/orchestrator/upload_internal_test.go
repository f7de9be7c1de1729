package orchestrator

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quel-drawcore/internal/config"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/model"
)

func TestDecodeDataURL(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("pretend-image-bytes"))
	raw := "data:image/png;base64," + payload

	mimeType, data, err := decodeDataURL(raw)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, []byte("pretend-image-bytes"), data)
}

func TestDecodeDataURL_Rejections(t *testing.T) {
	_, _, err := decodeDataURL("https://example.com/a.png")
	assert.Error(t, err)

	_, _, err = decodeDataURL("data:image/png;base64")
	assert.Error(t, err, "missing comma separator")

	_, _, err = decodeDataURL("data:image/png,not-base64-encoded")
	assert.Error(t, err, "no ;base64 marker")
}

func TestShouldRehost(t *testing.T) {
	partner := instance.New(&model.Account{ChannelID: "partner-1", BackendFamily: model.BackendPartner}, nil, nil, zap.NewNop())
	chat := instance.New(&model.Account{ChannelID: "chat-1", BackendFamily: model.BackendChat}, nil, nil, zap.NewNop())

	o := &Orchestrator{cfg: &config.Config{EnableYouChuanPromptLink: false, EnableSaveUserUploadLink: false}}
	assert.False(t, o.shouldRehost(partner), "partner account must not rehost when EnableYouChuanPromptLink is off")
	assert.False(t, o.shouldRehost(chat), "chat account must not rehost when EnableSaveUserUploadLink is off")

	o = &Orchestrator{cfg: &config.Config{EnableYouChuanPromptLink: true, EnableSaveUserUploadLink: false}}
	assert.True(t, o.shouldRehost(partner), "partner account rehosts once EnableYouChuanPromptLink is on")
	assert.False(t, o.shouldRehost(chat), "chat rehosting must stay gated on its own key")

	o = &Orchestrator{cfg: &config.Config{EnableYouChuanPromptLink: false, EnableSaveUserUploadLink: true}}
	assert.False(t, o.shouldRehost(partner), "partner rehosting must not follow the chat-family key")
	assert.True(t, o.shouldRehost(chat), "chat account rehosts once EnableSaveUserUploadLink forces it")
}

func TestSuffixFromMime(t *testing.T) {
	cases := map[string]string{
		"image/png":        ".png",
		"image/jpeg":        ".jpg",
		"image/jpg":         ".jpg",
		"image/webp":        ".webp",
		"application/octet": ".bin",
	}
	for mime, want := range cases {
		assert.Equal(t, want, suffixFromMime(mime), mime)
	}
}
