package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookConfig holds configuration for the webhook alerter.
type WebhookConfig struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

// WebhookAlerter posts alerts as JSON to an HTTP endpoint. The payload is
// deliberately generic so chat bridges and pager services can consume it
// without a bespoke adapter.
type WebhookAlerter struct {
	cfg    WebhookConfig
	client *http.Client
	now    func() time.Time
}

// NewWebhookAlerter creates a new webhook alerter.
func NewWebhookAlerter(cfg WebhookConfig) *WebhookAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Name returns the name of the alerter.
func (w *WebhookAlerter) Name() string {
	return "webhook"
}

// webhookPayload is the JSON body posted to the endpoint.
type webhookPayload struct {
	Severity  string `json:"severity"`
	Emoji     string `json:"emoji"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Alert posts the alert to the configured endpoint.
func (w *WebhookAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	payload := webhookPayload{
		Severity:  severity.String(),
		Emoji:     severity.Emoji(),
		Message:   message,
		Details:   FormatFields(fields...),
		Timestamp: w.now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
