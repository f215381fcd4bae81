package provider

import (
	"context"
	"errors"
)

// Sentinel errors classifying provider failures. Implementations wrap these
// with %w; callers test with errors.Is.
var (
	// ErrRateLimited: the provider rejected the call for quota reasons.
	// Transient — retry with backoff.
	ErrRateLimited = errors.New("provider: rate limited")

	// ErrUnavailable: the provider could not be reached (network failure,
	// timeout). Transient.
	ErrUnavailable = errors.New("provider: unavailable")

	// ErrServerError: the provider returned a 5xx-class failure. Transient.
	ErrServerError = errors.New("provider: server error")

	// ErrInvalidRequest: the call itself was malformed or unauthorized.
	// Permanent — retrying the same call cannot succeed.
	ErrInvalidRequest = errors.New("provider: invalid request")

	// ErrNotConfigured: no provider credentials are present at all.
	// Permanent, surfaced once at call time.
	ErrNotConfigured = errors.New("provider: not configured")
)

// IsTransient reports whether the error is worth retrying. Context
// cancellation is never transient: the caller has already given up.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true // per-call timeout, not caller cancellation
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrServerError)
}
