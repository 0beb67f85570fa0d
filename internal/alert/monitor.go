package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrorCounter reports how many ERROR-level documents an index holds inside
// a time range. Backed by the search storage.
type ErrorCounter interface {
	ErrorCount(ctx context.Context, index string, from, to time.Time) (int64, error)
}

// Config holds the externally supplied alert settings.
type Config struct {
	Index         string
	WindowMinutes int
	Threshold     int64
	WebhookURL    string
}

// Monitor periodically checks the stored error count over a trailing window
// and fires a webhook when it crosses the threshold. Delivery is
// fire-and-forget: failures are logged, never retried.
type Monitor struct {
	cfg        Config
	counter    ErrorCounter
	httpClient *http.Client
	logger     *zap.Logger
}

func NewMonitor(cfg Config, counter ErrorCounter, logger *zap.Logger) *Monitor {
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:        cfg,
		counter:    counter,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Run checks once per window until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.WindowMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single threshold check. Query failures are logged and the
// next cycle proceeds normally.
func (m *Monitor) CheckOnce(ctx context.Context) {
	now := time.Now()
	from := now.Add(-time.Duration(m.cfg.WindowMinutes) * time.Minute)

	count, err := m.counter.ErrorCount(ctx, m.cfg.Index, from, now)
	if err != nil {
		m.logger.Error("alert error-count query failed", zap.Error(err))
		return
	}

	if count < m.cfg.Threshold {
		return
	}

	m.logger.Warn("high error rate detected",
		zap.Int64("errors", count),
		zap.Int("window_minutes", m.cfg.WindowMinutes),
		zap.String("index", m.cfg.Index),
	)
	m.sendWebhook(ctx, count, now)
}

type webhookPayload struct {
	Index         string `json:"index"`
	ErrorCount    int64  `json:"errorCount"`
	WindowMinutes int    `json:"windowMinutes"`
	Threshold     int64  `json:"threshold"`
	FiredAt       string `json:"firedAt"`
}

func (m *Monitor) sendWebhook(ctx context.Context, count int64, firedAt time.Time) {
	if m.cfg.WebhookURL == "" {
		return
	}

	payload := webhookPayload{
		Index:         m.cfg.Index,
		ErrorCount:    count,
		WindowMinutes: m.cfg.WindowMinutes,
		Threshold:     m.cfg.Threshold,
		FiredAt:       firedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("alert webhook payload encode failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("alert webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Error("alert webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Error("alert webhook rejected", zap.Error(fmt.Errorf("status %d", resp.StatusCode)))
		return
	}

	m.logger.Info("alert webhook delivered", zap.String("url", m.cfg.WebhookURL))
}
