package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobmail-hq/governor/pkg/telemetry/tracing"
)

// IdempotencyKeyHeader carries the idempotency key on webhook requests.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// WebhookExecutor posts the action as JSON to a fixed URL. 2xx is success;
// 429 and 5xx responses are transient; other statuses are permanent.
type WebhookExecutor struct {
	actionType string
	url        string
	headers    map[string]string
	client     *http.Client
}

// webhookPayload is the request body sent to the endpoint.
type webhookPayload struct {
	ActionType     string         `json:"action_type"`
	IdempotencyKey string         `json:"idempotency_key"`
	Params         map[string]any `json:"params"`
	SentAt         time.Time      `json:"sent_at"`
}

// NewWebhookExecutor creates an executor for actionType posting to url.
// A nil client uses a pooled client without its own timeout; the
// dispatcher's per-attempt context bounds each request.
func NewWebhookExecutor(actionType, url string, headers map[string]string, client *http.Client) *WebhookExecutor {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &WebhookExecutor{
		actionType: actionType,
		url:        url,
		headers:    headers,
		client:     client,
	}
}

// Execute implements Executor.
func (w *WebhookExecutor) Execute(ctx context.Context, params map[string]any, idempotencyKey string) error {
	body, err := json.Marshal(webhookPayload{
		ActionType:     w.actionType,
		IdempotencyKey: idempotencyKey,
		Params:         params,
		SentAt:         time.Now().UTC(),
	})
	if err != nil {
		return Permanent(fmt.Errorf("encode webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("create webhook request: %w", err))
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	tracing.Inject(ctx, req.Header)

	resp, err := w.client.Do(req)
	if err != nil {
		// Transport failures (refused, reset, DNS) are retried once.
		return Transient(fmt.Errorf("webhook request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		URL:        w.url,
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(snippet)),
	}
}
