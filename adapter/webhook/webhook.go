// Package webhook publishes run completion events as JSON HTTP POSTs.
//
// 5xx, 408 and 429 responses and network errors are retried with
// exponential backoff. Other 4xx responses fail immediately.
//
// Every attempt of one delivery carries the same delivery ID header. With a
// secret configured the body is signed with HMAC-SHA256.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tsrebuild/adapter"
	"github.com/pithecene-io/tsrebuild/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Request headers set on every delivery.
const (
	HeaderEvent     = "X-Tsrebuild-Event"
	HeaderDelivery  = "X-Tsrebuild-Delivery"
	HeaderSignature = "X-Tsrebuild-Signature"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// Secret, when set, signs each body as "sha256=<hex hmac>".
	Secret string
}

// Adapter publishes run completion events via HTTP POST.
type Adapter struct {
	config  Config
	client  *http.Client
	backoff time.Duration
}

// New creates a webhook adapter. Returns an error if the URL is empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		backoff: adapter.BaseBackoff,
	}, nil
}

// Publish sends the event as a JSON POST request.
func (a *Adapter) Publish(ctx context.Context, event *adapter.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	delivery := uuid.NewString()
	return adapter.Retry(ctx, "webhook", a.config.Retries, a.backoff, func(ctx context.Context) error {
		err := a.doRequest(ctx, event.EventType, delivery, body)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return adapter.Permanent(err)
		}
		return err
	})
}

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retryable reports whether the receiver may accept a later attempt.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	default:
		return true
	}
}

// doRequest performs a single POST and returns nil on 2xx.
func (a *Adapter) doRequest(ctx context.Context, eventType, delivery string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderDelivery, delivery)
	if a.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(a.config.Secret, body))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain for connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
