// Package uploader pushes finished session reports to cloud storage.
package uploader

import (
	"context"

	"qvet/internal/config"
)

// Uploader pushes a session directory to external storage.
type Uploader interface {
	Enabled() bool
	UploadDir(ctx context.Context, sessionID string, dir string) (string, error)
}

// NoopUploader never uploads.
type NoopUploader struct{}

// Enabled implements Uploader.
func (n NoopUploader) Enabled() bool { return false }

// UploadDir implements Uploader.
func (n NoopUploader) UploadDir(context.Context, string, string) (string, error) {
	return "", nil
}

// ForConfig selects the uploader for the configured storage backend. GCS
// wins when both are enabled.
func ForConfig(cfg config.StorageConfig) (Uploader, error) {
	if cfg.GCS.Enabled {
		return NewGCS(cfg.GCS)
	}
	if cfg.S3.Enabled {
		return NewS3(cfg.S3)
	}
	return NoopUploader{}, nil
}
