package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/ports"
)

// Notifier implements ports.Notifier by posting JSON payloads to a chat
// webhook endpoint. Every error path is swallowed after logging: the
// notification outcome must never influence the run outcome.
type Notifier struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	metrics ports.MetricsCollector
}

// NewNotifier creates a new webhook notifier. An empty URL disables
// delivery; Notify then reports false without attempting a request.
func NewNotifier(url string, timeout time.Duration, metrics ports.MetricsCollector, logger *zap.Logger) *Notifier {
	return &Notifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: metrics,
	}
}

type payload struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Notify posts the message and reports whether it was delivered.
func (n *Notifier) Notify(ctx context.Context, channel, message string) bool {
	if n.url == "" {
		n.logger.Debug("notification skipped, no webhook configured",
			zap.String("channel", channel))
		return false
	}

	body, err := json.Marshal(payload{Channel: channel, Text: message})
	if err != nil {
		n.observe(false, channel, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.observe(false, channel, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.observe(false, channel, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("notification rejected",
			zap.String("channel", channel),
			zap.Int("status", resp.StatusCode))
		n.observe(false, channel, nil)
		return false
	}

	n.observe(true, channel, nil)
	return true
}

// observe routes the suppressed outcome to the observability sinks.
func (n *Notifier) observe(delivered bool, channel string, err error) {
	if n.metrics != nil {
		n.metrics.RecordNotification(delivered)
	}
	if delivered {
		n.logger.Debug("notification delivered", zap.String("channel", channel))
		return
	}
	n.logger.Warn("notification delivery failed",
		zap.String("channel", channel),
		zap.Error(err))
}
