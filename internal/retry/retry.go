// Package retry classifies transport errors and computes backoff for the
// bulk sync driver. Classification looks at typed provider errors first and
// falls back to sniffing the error text for transient network failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/forgesync/forgesync/internal/provider"
)

// Class is the disposition of a failed provider call.
type Class int

const (
	// Fatal errors abort the current sync run for the scope.
	Fatal Class = iota
	// Retryable errors are retried with exponential backoff.
	Retryable
	// RateLimited errors pause the scope until the rate window resets.
	RateLimited
	// NotFound means the remote entity is gone; the item is skipped.
	NotFound
	// Auth means credentials are bad; the whole scope is aborted.
	Auth
)

func (c Class) String() string {
	switch c {
	case Fatal:
		return "fatal"
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

// Classify maps an error from a provider call to its retry class.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return Auth
		case apiErr.StatusCode == 404:
			return NotFound
		case apiErr.StatusCode == 429:
			return RateLimited
		case apiErr.StatusCode >= 500:
			return Retryable
		default:
			return Fatal
		}
	}

	// Timeouts and transient network failures are retriable.
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "rate limit") {
		return RateLimited
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") {
		return Retryable
	}

	return Fatal
}

// Policy holds retry configuration for provider calls.
type Policy struct {
	MaxAttempts    int           // attempts including the first (default: 3)
	InitialBackoff time.Duration // backoff before the first retry (default: 1s)
	MaxBackoff     time.Duration // backoff cap (default: 30s)
	Multiplier     float64       // backoff growth factor (default: 2.0)
	Jitter         float64       // random fraction added/subtracted (default: 0.2)
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// ShouldRetry reports whether another attempt is warranted for the given
// class and zero-based attempt number. Rate limits are transient at the
// request level, so they retry like transport failures; the caller decides
// when a persistent limit aborts the run.
func (p Policy) ShouldRetry(class Class, attempt int) bool {
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	return class == Retryable || class == RateLimited
}

// Backoff returns the delay before the given zero-based retry attempt,
// growing exponentially up to MaxBackoff with jitter applied.
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff >= float64(p.MaxBackoff) {
			backoff = float64(p.MaxBackoff)
			break
		}
	}
	if p.Jitter > 0 {
		// Spread retries across [-jitter, +jitter] of the base delay.
		backoff += backoff * p.Jitter * (2*rand.Float64() - 1)
	}
	if backoff < 0 {
		backoff = 0
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Sleep blocks for the given duration or until the context is canceled.
func Sleep(ctx context.Context, d time.Duration) error {
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
