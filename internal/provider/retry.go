package provider

import (
	"context"
	"time"
)

// retryBase and retryMax bound the exponential backoff schedule.
const (
	retryBase = 500 * time.Millisecond
	retryMax  = 10 * time.Second
)

// BackoffDelay returns the exponential backoff delay for a retry attempt
// (0-based), with 10% jitter so concurrent retriers spread out.
func BackoffDelay(attempt int) time.Duration {
	delay := retryBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= retryMax {
			delay = retryMax
			break
		}
	}
	jitterRange := delay / 10
	if jitterRange > 0 {
		jitter := time.Duration(time.Now().UnixNano() % int64(jitterRange))
		delay += jitter - jitterRange/2
	}
	return delay
}

// CallWithRetry invokes fn up to 1+maxRetries times, backing off between
// attempts. Only transient errors are retried; permanent errors and context
// cancellation return immediately. onRetry, if non-nil, is called before
// each retry with the attempt number and the error that caused it.
func CallWithRetry(ctx context.Context, maxRetries int, onRetry func(attempt int, err error), fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if attempt >= maxRetries || !IsTransient(err) {
			return "", lastErr
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(BackoffDelay(attempt)):
		}
	}
}
