// Package notify delivers missed-dose notifications to external receivers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Event describes one missed dose slot.
type Event struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Date     string `json:"date"`
	Slot     string `json:"slot"`
}

// Notifier receives missed-dose events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Webhook posts events as JSON to a configured URL.
type Webhook struct {
	httpClient *http.Client
	url        string
	maxRetries int
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &Webhook{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.URL,
		maxRetries: maxRetries,
	}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, event Event) error {
	return w.postWithRetry(ctx, event, 0)
}

// postWithRetry posts the event, retrying transient server failures.
func (w *Webhook) postWithRetry(ctx context.Context, event Event, attempt int) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if attempt < w.maxRetries && ctx.Err() == nil {
			return w.postWithRetry(ctx, event, attempt+1)
		}
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
	}()

	if resp.StatusCode >= 500 && attempt < w.maxRetries {
		return w.postWithRetry(ctx, event, attempt+1)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
