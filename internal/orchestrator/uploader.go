package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"

	"quel-drawcore/internal/backend"
)

// StorageUploader is the upload sub-protocol's backend-specific primitive:
// it re-encodes the decoded image as WebP and POSTs it to an object-storage
// bucket, returning the resulting public URL directly rather than falling
// through to send-image.
type StorageUploader struct {
	BaseURL    string
	ServiceKey string
	Bucket     string
	Client     *http.Client
}

// NewStorageUploader builds a StorageUploader from config.
func NewStorageUploader(baseURL, serviceKey, bucket string) *StorageUploader {
	return &StorageUploader{
		BaseURL:    baseURL,
		ServiceKey: serviceKey,
		Bucket:     bucket,
		Client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload decodes a.Data per a.MimeType, converts it to WebP at quality 90,
// and uploads it to the configured bucket.
func (u *StorageUploader) Upload(ctx context.Context, a backend.UploadArgs) (string, error) {
	webpData, err := convertToWebP(a.Data, a.MimeType)
	if err != nil {
		return "", fmt.Errorf("convert to webp: %w", err)
	}

	filePath := fmt.Sprintf("uploads/%d_%d.webp", time.Now().UnixNano()/int64(time.Millisecond), rand.Intn(999999))
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.BaseURL, u.Bucket, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(webpData))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.ServiceKey)
	req.Header.Set("Content-Type", "image/webp")

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.BaseURL, u.Bucket, filePath), nil
}

func convertToWebP(data []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error
	switch mimeType {
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	case "image/jpeg", "image/jpg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, 90)
	if err != nil {
		return nil, fmt.Errorf("webp encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Uploader = (*StorageUploader)(nil)
