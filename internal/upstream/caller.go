// Package upstream holds the HTTP plumbing shared by the billing and OCR
// clients: JSON POST with per-attempt timeout, bounded exponential retry and
// defensive decoding of stringified JSON bodies.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// Doer is the subset of *http.Client the caller needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

type Caller struct {
	name       string
	client     Doer
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

type Options struct {
	// Name tags log lines and errors, e.g. "billing" or "ocr".
	Name       string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

func NewCaller(client Doer, opts Options, log zerolog.Logger) *Caller {
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Caller{
		name:       opts.Name,
		client:     client,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		log:        log.With().Str("upstream", opts.Name).Logger(),
	}
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// PostJSON posts payload as JSON to url. Transport failures, timeouts and
// non-2xx answers are retried up to MaxRetries more times, sleeping
// backoff*2^attempt in between. The returned body has been passed through
// UnwrapJSON. After the last failed attempt the error wraps
// parking.ErrGatewayUnavailable.
func (c *Caller) PostJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", c.name, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			if err := sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", parking.ErrGatewayUnavailable, c.name, err)
			}
		}

		raw, err := c.post(ctx, url, body)
		if err == nil {
			return UnwrapJSON(raw), nil
		}
		lastErr = err
		c.log.Warn().
			Err(err).
			Str("url", url).
			Int("attempt", attempt+1).
			Int("max_attempts", c.maxRetries+1).
			Msg("upstream request failed")

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", parking.ErrGatewayUnavailable, c.name, c.maxRetries+1, lastErr)
}

func (c *Caller) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	return raw, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsStatus reports whether err carries an upstream answer with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
