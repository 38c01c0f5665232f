// Package notify posts job completions to an external HTTP endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/policy/retry"
)

// SecretHeader carries the shared secret on completion calls.
const SecretHeader = "X-Webhook-Secret"

// Config configures the notifier.
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// WebhookNotifier is a finalizer that POSTs the completion JSON.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	retry  *retry.Policy
}

var _ collector.Finalizer = (*WebhookNotifier)(nil)

// New builds a notifier. A nil policy makes a single attempt.
func New(cfg Config, client *http.Client, policy *retry.Policy) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("completion url is required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if policy == nil {
		policy = retry.New(retry.Config{MaxAttempts: 1})
	}
	return &WebhookNotifier{url: cfg.URL, secret: cfg.Secret, client: client, retry: policy}, nil
}

// Name labels the finalizer in logs and metrics.
func (*WebhookNotifier) Name() string { return "completion_webhook" }

// Finalize sends the completion. 4xx responses are not retried.
func (n *WebhookNotifier) Finalize(ctx context.Context, completion collector.Completion) error {
	body, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("encode completion %s: %w", completion.JobID, err)
	}
	err = n.retry.Do(ctx, func(ctx context.Context, _ int) error {
		return n.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("notify completion of %s: %w", completion.JobID, err)
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build completion request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set(SecretHeader, n.secret)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("completion endpoint returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	}
}
