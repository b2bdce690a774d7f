// Package reliability classifies upstream failures and retries transient ones.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StatusError is an upstream HTTP failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool { return IsRetryableHTTPStatus(e.Code) }

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is transient. Status errors are classified
// by code. Anything else except context errors is treated as a network
// failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Backoff is a capped exponential schedule.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff suits interactive calls where the user is waiting.
var DefaultBackoff = Backoff{Base: 100 * time.Millisecond, Cap: time.Second}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	return min(d, b.Cap)
}

// Do calls fn up to attempts times, sleeping between retryable failures. It
// returns the last error.
func Do(ctx context.Context, attempts int, b Backoff, fn func(context.Context) error) error {
	attempts = max(attempts, 1)
	var err error
	for i := range attempts {
		if err = fn(ctx); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(b.Delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}
