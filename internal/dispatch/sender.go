package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxErrorBody   = 512
)

// WebhookSender POSTs each request as JSON to a single endpoint. The
// receiving service fans requests out to translation, image and email
// providers by kind.
type WebhookSender struct {
	url            string
	token          string
	httpClient     *http.Client
	initialBackoff time.Duration
}

// NewWebhookSender creates a sender for url. token, when set, is sent as a
// bearer token.
func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		url:            strings.TrimRight(url, "/"),
		token:          token,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		initialBackoff: initialBackoff,
	}
}

// Send delivers r, retrying on 429 and 5xx responses with exponential
// backoff. Other failures are returned immediately.
func (s *WebhookSender) Send(ctx context.Context, r Request) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		err := s.post(ctx, r.Kind, body)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(s.initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("webhook unavailable after %d attempts: %w", maxRetries, lastErr)
}

// retryableError is returned for HTTP 429 and 5xx.
type retryableError struct {
	status int
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.status)
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func (s *WebhookSender) post(ctx context.Context, kind Kind, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dispatch-Kind", string(kind))
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return &retryableError{status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// LogSender records requests through slog instead of delivering them.
// Used when no webhook is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, r Request) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dispatch request",
		"kind", r.Kind,
		"user_id", r.UserID,
		"alert_id", r.AlertID,
		"risk_level", r.Level,
		"priority", r.Priority,
		"languages", r.Languages,
	)
	return nil
}
