// Package report uploads coverage reports to an external ingestion
// endpoint. Upload failure is non-fatal by contract; callers treat it as
// a best-effort step.
package report

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Uploader implements ports.CoverageSink over HTTP
type Uploader struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewUploader creates a new coverage uploader. An empty URL disables
// uploads.
func NewUploader(url string, timeout time.Duration, logger *zap.Logger) *Uploader {
	return &Uploader{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Upload posts a coverage report for a job.
func (u *Uploader) Upload(ctx context.Context, job string, data []byte) error {
	if u.url == "" {
		u.logger.Debug("coverage upload skipped, no endpoint configured",
			zap.String("job", job))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build coverage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Gantry-Job", job)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload coverage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("coverage endpoint returned status %d", resp.StatusCode)
	}

	u.logger.Debug("coverage uploaded",
		zap.String("job", job),
		zap.Int("size", len(data)))

	return nil
}
