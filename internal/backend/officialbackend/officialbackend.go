// Package officialbackend implements backend.Commander against Google's
// official Gemini image-generation API, grounded on the teacher's
// modules/common/gemini retry helper: multiple API keys, each retried up
// to three times on a 429, falling through to the next key.
package officialbackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"quel-drawcore/internal/backend"
)

const maxRetriesPerKey = 3

// Backend drives google.golang.org/genai's image generation as the
// OFFICIAL backend family's command-send surface. Discord-button concepts
// that have no official-API analogue (pan, inpaint mask edit, settings,
// seed) return a FAILURE result rather than attempting a lossy translation.
type Backend struct {
	apiKeys []string
	model   string
	log     *zap.Logger
}

// New builds an officialbackend.Backend. apiKeys is tried in order, each
// retried up to three times on rate-limit, matching the teacher's retry
// helper.
func New(apiKeys []string, model string, log *zap.Logger) *Backend {
	return &Backend{apiKeys: apiKeys, model: model, log: log}
}

func (b *Backend) generate(ctx context.Context, prompt string) (*genai.GenerateContentResponse, error) {
	if len(b.apiKeys) == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var lastErr error
	for i, key := range b.apiKeys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI})
		if err != nil {
			lastErr = err
			continue
		}
		for attempt := 1; attempt <= maxRetriesPerKey; attempt++ {
			resp, err := client.Models.GenerateContent(ctx, b.model, contents, nil)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if !is429(err) {
				return nil, err
			}
			b.log.Warn("official backend rate limited", zap.Int("key", i), zap.Int("attempt", attempt))
			if attempt < maxRetriesPerKey {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
	return nil, fmt.Errorf("all %d API keys exhausted: %w", len(b.apiKeys), lastErr)
}

func is429(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate limit") || strings.Contains(s, "quota")
}

func messageIDFrom(resp *genai.GenerateContentResponse) string {
	if resp == nil || resp.ResponseID == "" {
		return fmt.Sprintf("genai-%d", time.Now().UnixNano())
	}
	return resp.ResponseID
}

func (b *Backend) Imagine(ctx context.Context, a backend.ImagineArgs) (backend.Result, error) {
	resp, err := b.generate(ctx, a.Prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) Upscale(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	resp, err := b.generate(ctx, "upscale and increase detail of the referenced image "+a.MessageID)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) Variation(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	resp, err := b.generate(ctx, "produce a variation of the referenced image "+a.MessageID)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) Reroll(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	resp, err := b.generate(ctx, a.Prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) DescribeByLink(ctx context.Context, channelID, imageURL, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "describe not supported by official backend"}, nil
}

func (b *Backend) DescribeByUpload(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "describe not supported by official backend"}, nil
}

func (b *Backend) Blend(ctx context.Context, channelID string, imageURLs []string, nonce string) (backend.Result, error) {
	resp, err := b.generate(ctx, "blend the following reference images: "+strings.Join(imageURLs, " "))
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) Shorten(ctx context.Context, channelID, prompt, nonce string) (backend.Result, error) {
	resp, err := b.generate(ctx, "shorten this prompt while preserving intent: "+prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) Zoom(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "zoom not supported by official backend"}, nil
}

func (b *Backend) Inpaint(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "inpaint not supported by official backend"}, nil
}

func (b *Backend) Pan(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "pan not supported by official backend"}, nil
}

func (b *Backend) Remix(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	resp, err := b.generate(ctx, a.Prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: messageIDFrom(resp)}, nil
}

func (b *Backend) Action(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "action not supported by official backend"}, nil
}

func (b *Backend) Setting(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "setting not supported by official backend"}, nil
}

func (b *Backend) Info(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "info not supported by official backend"}, nil
}

func (b *Backend) SettingSelect(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "settingSelect not supported by official backend"}, nil
}

func (b *Backend) SettingButton(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "settingButton not supported by official backend"}, nil
}

func (b *Backend) Seed(ctx context.Context, channelID, messageHash, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "seed not supported by official backend"}, nil
}

func (b *Backend) SeedMessages(ctx context.Context, channelID string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "seedMessages not supported by official backend"}, nil
}

func (b *Backend) SendImage(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "sendImage not supported by official backend"}, nil
}

func (b *Backend) AddReaction(ctx context.Context, channelID, messageID, emoji string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "addReaction not supported by official backend"}, nil
}

var _ backend.Commander = (*Backend)(nil)
