package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/instance"
	"quel-drawcore/internal/model"
)

// uploadAll runs the upload sub-protocol (spec.md §4.6) over each data URL
// or http(s) URL and returns the resulting hosted URLs in order.
func (o *Orchestrator) uploadAll(ctx context.Context, inst *instance.Instance, dataURLs []string) ([]string, error) {
	out := make([]string, 0, len(dataURLs))
	for _, raw := range dataURLs {
		url, err := o.uploadOne(ctx, inst, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, url)
	}
	return out, nil
}

func (o *Orchestrator) uploadOne(ctx context.Context, inst *instance.Instance, raw string) (string, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if !o.shouldRehost(inst) {
			return raw, nil
		}
		return o.rehost(ctx, inst, raw)
	}
	if !o.cfg.EnableUserCustomUploadBase64 {
		return "", fmt.Errorf("base64 upload disabled by config")
	}

	mimeType, data, err := decodeDataURL(raw)
	if err != nil {
		return "", fmt.Errorf("decode data URL: %w", err)
	}
	return o.pushUpload(ctx, inst, data, mimeType)
}

// shouldRehost applies spec.md §4.6 step 1's family split: partner accounts
// re-host only when EnableYouChuanPromptLink opts in, while chat-platform
// (and official) accounts pass the URL through unless
// EnableSaveUserUploadLink forces a rehost.
func (o *Orchestrator) shouldRehost(inst *instance.Instance) bool {
	if inst.Account().BackendFamily == model.BackendPartner {
		return o.cfg.EnableYouChuanPromptLink
	}
	return o.cfg.EnableSaveUserUploadLink
}

// rehost fetches an already-hosted URL and re-uploads it through the
// account's own upload primitive, the way the teacher's
// DownloadImageFromStorage/UploadImageToStorage pair avoids leaking
// third-party links directly into a generation prompt.
func (o *Orchestrator) rehost(ctx context.Context, inst *instance.Instance, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		o.log.Warn("rehost fetch failed, passing URL through", zap.String("url", url), zap.Error(err))
		return url, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		o.log.Warn("rehost fetch non-200, passing URL through", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return url, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read fetched image: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return o.pushUpload(ctx, inst, data, mimeType)
}

// pushUpload tries the configured Uploader primitive first, falling back to
// a send-image command whose returned message id stands in for a URL.
func (o *Orchestrator) pushUpload(ctx context.Context, inst *instance.Instance, data []byte, mimeType string) (string, error) {
	uploadArgs := backend.UploadArgs{
		ChannelID: inst.Account().ChannelID,
		Filename:  fmt.Sprintf("upload%s", suffixFromMime(mimeType)),
		Data:      data,
		MimeType:  mimeType,
	}

	if o.uploader != nil {
		if url, err := o.uploader.Upload(ctx, uploadArgs); err == nil && url != "" {
			return url, nil
		} else if err != nil {
			o.log.Warn("upload primitive failed, falling back to send-image", zap.Error(err))
		}
	}

	res, err := inst.Dispatch(ctx, func(ctx context.Context, cmd backend.Commander) (backend.Result, error) {
		return cmd.SendImage(ctx, uploadArgs)
	})
	if err != nil {
		return "", fmt.Errorf("send-image: %w", err)
	}
	if res.Code != backend.CodeSuccess || res.MessageID == "" {
		return "", fmt.Errorf("send-image did not return a usable message: %s", res.Description)
	}
	return res.MessageID, nil
}

// decodeDataURL parses a `data:<mime>;base64,<payload>` string.
func decodeDataURL(raw string) (mimeType string, data []byte, err error) {
	if !strings.HasPrefix(raw, "data:") {
		return "", nil, fmt.Errorf("not a data URL")
	}
	rest := strings.TrimPrefix(raw, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("malformed data URL: no comma")
	}
	header := rest[:comma]
	payload := rest[comma+1:]
	if !strings.Contains(header, ";base64") {
		return "", nil, fmt.Errorf("unsupported data URL encoding %q", header)
	}
	mimeType = strings.TrimSuffix(header, ";base64")
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("base64 decode: %w", err)
	}
	return mimeType, data, nil
}

func suffixFromMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
