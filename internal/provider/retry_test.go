package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrRateLimited, true},
		{ErrUnavailable, true},
		{ErrServerError, true},
		{ErrInvalidRequest, false},
		{ErrNotConfigured, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("wrapped: %w", ErrRateLimited), true},
		{fmt.Errorf("wrapped: %w", ErrInvalidRequest), false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestBackoffDelay_GrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 4; attempt++ {
		d := BackoffDelay(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, d)
		}
		if d < prev/2 {
			t.Errorf("attempt %d: delay %v shrank too much from %v", attempt, d, prev)
		}
		prev = d
	}
	if d := BackoffDelay(30); d > retryMax+retryMax/10 {
		t.Errorf("delay uncapped: %v", d)
	}
}

func TestCallWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	text, err := CallWithRetry(context.Background(), 3, nil, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", ErrUnavailable
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" || calls != 3 {
		t.Errorf("text=%q calls=%d", text, calls)
	}
}

func TestCallWithRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	_, err := CallWithRetry(context.Background(), 3, nil, func(context.Context) (string, error) {
		calls++
		return "", ErrInvalidRequest
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("error: %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error retried %d time(s)", calls-1)
	}
}

func TestCallWithRetry_ExhaustsCeiling(t *testing.T) {
	calls := 0
	retries := 0
	_, err := CallWithRetry(context.Background(), 2, func(int, error) { retries++ }, func(context.Context) (string, error) {
		calls++
		return "", ErrServerError
	})
	if !errors.Is(err, ErrServerError) {
		t.Errorf("error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3 (1 + 2 retries)", calls)
	}
	if retries != 2 {
		t.Errorf("onRetry fired %d time(s), want 2", retries)
	}
}

func TestCallWithRetry_CancellationStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err := CallWithRetry(ctx, 5, nil, func(context.Context) (string, error) {
		return "", ErrUnavailable
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled retry waited %v", elapsed)
	}
}

func TestOpenAI_NotConfigured(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAI("", 0, nil)
	_, err := p.Generate(context.Background(), "hello", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error: %v, want ErrNotConfigured", err)
	}
	_, err = p.GenerateCrisisReply(context.Background(), "hello", "high")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("crisis error: %v, want ErrNotConfigured", err)
	}
}
