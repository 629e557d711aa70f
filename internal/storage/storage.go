// Package storage copies finished videos to durable storage and returns the
// URL they are served from.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"vidqueue/internal/infra"
)

// VideoContentType is the content type of generated clips.
const VideoContentType = "video/mp4"

// DefaultDownloadTimeout bounds fetching the provider artifact.
const DefaultDownloadTimeout = 60 * time.Second

// MaxArtifactBytes caps the size of a mirrored artifact.
const MaxArtifactBytes = 512 << 20

// Putter stores bytes under a key and returns the public URL.
type Putter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// VideoKey is the durable object name for a job's clip.
func VideoKey(jobID string) string {
	return fmt.Sprintf("gen_video_%s.mp4", jobID)
}

// Mirror downloads artifacts and hands them to a Putter.
type Mirror struct {
	store   Putter
	client  *http.Client
	timeout time.Duration
	logger  *infra.Logger
}

func NewMirror(store Putter, client *http.Client, logger *infra.Logger) *Mirror {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Mirror{store: store, client: client, timeout: DefaultDownloadTimeout, logger: logger}
}

// PutURL fetches sourceURL and stores it under key.
func (m *Mirror) PutURL(ctx context.Context, sourceURL, key, contentType string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(dctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage: download returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArtifactBytes+1))
	if err != nil {
		return "", fmt.Errorf("storage: read artifact: %w", err)
	}
	if len(data) > MaxArtifactBytes {
		return "", fmt.Errorf("storage: artifact exceeds %d bytes", MaxArtifactBytes)
	}
	url, err := m.store.Put(ctx, key, data, contentType)
	if err != nil {
		return "", err
	}
	m.logger.Info().Str("key", key).Int("bytes", len(data)).Msg("storage: artifact mirrored")
	return url, nil
}
