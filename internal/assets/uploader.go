// Package assets resolves image payloads into retrievable URLs.
package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

var (
	ErrEmptyPayload = errors.New("empty image payload")
	ErrNotAnImage   = errors.New("payload is not an image")
)

// Uploader stores an image payload and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, payload string) (string, error)
}

// HTTPUploader posts payloads to an unsigned upload endpoint that answers
// with {"secure_url": "..."}.
type HTTPUploader struct {
	client *resty.Client
	url    string
	preset string
}

func NewHTTPUploader(url, preset string, timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		preset: preset,
	}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

type uploadError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (u *HTTPUploader) Upload(ctx context.Context, payload string) (string, error) {
	if strings.TrimSpace(payload) == "" {
		return "", ErrEmptyPayload
	}
	var result uploadResponse
	var failure uploadError
	resp, err := u.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"file":          payload,
			"upload_preset": u.preset,
		}).
		SetResult(&result).
		SetError(&failure).
		Post(u.url)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	if resp.IsError() {
		if failure.Error.Message != "" {
			return "", fmt.Errorf("upload rejected (%d): %s", resp.StatusCode(), failure.Error.Message)
		}
		return "", fmt.Errorf("upload rejected (%d)", resp.StatusCode())
	}
	if result.SecureURL != "" {
		return result.SecureURL, nil
	}
	if result.URL != "" {
		return result.URL, nil
	}
	return "", errors.New("upload response missing url")
}

// LocalUploader writes decoded images under dir; they are served from
// baseURL + "/uploads/".
type LocalUploader struct {
	dir     string
	baseURL string
}

func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory served under /uploads.
func (u *LocalUploader) Dir() string { return u.dir }

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

func (u *LocalUploader) Upload(ctx context.Context, payload string) (string, error) {
	data, err := DecodePayload(payload)
	if err != nil {
		return "", err
	}
	ext, ok := extensions[http.DetectContentType(data)]
	if !ok {
		return "", ErrNotAnImage
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(u.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return u.baseURL + "/uploads/" + name, nil
}

// DecodePayload accepts a base64 data URI or bare base64 and returns the bytes.
func DecodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return nil, errors.New("unsupported data uri")
		}
		payload = payload[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return data, nil
}
