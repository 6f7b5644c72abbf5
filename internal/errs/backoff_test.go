package errs

import (
	"testing"
	"time"
)

func TestBackoff_Monotonic(t *testing.T) {
	cfg := BackoffConfig{InitialMs: 1000, Multiplier: 2, MaxMs: 60_000}
	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(attempt, cfg)
		if d < prev {
			t.Fatalf("backoff not monotonic at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoff_Clamp(t *testing.T) {
	cfg := BackoffConfig{InitialMs: 1000, Multiplier: 2, MaxMs: 60_000}
	d := Backoff(20, cfg)
	if d != 60_000*time.Millisecond {
		t.Errorf("Backoff(20) = %v, want clamp at 60s", d)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	d := Backoff(1, BackoffConfig{})
	if d != 1*time.Second {
		t.Errorf("Backoff(1) with zero config = %v, want 1s", d)
	}
}

func TestBackoff_FirstAttempt(t *testing.T) {
	cfg := BackoffConfig{InitialMs: 1000, Multiplier: 2, MaxMs: 60_000}
	d := Backoff(1, cfg)
	if d != 1*time.Second {
		t.Errorf("Backoff(1) = %v, want 1s (initial delay)", d)
	}
}

func TestJobError_DefaultRetryable(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
	}{
		{KindValidation, false},
		{KindPrecondition, false},
		{KindNotFound, false},
		{KindAuth, false},
		{KindRateLimit, true},
		{KindUpstreamTransient, true},
		{KindStorage, true},
		{KindTimeout, true},
		{KindCancelled, false},
		{KindStalled, true},
		{KindProcessing, true},
	}
	for _, c := range cases {
		got := New(c.kind, "test", nil)
		if got.Retryable != c.retryable {
			t.Errorf("Kind %s: Retryable = %v, want %v", c.kind, got.Retryable, c.retryable)
		}
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{502, 503, 504, 429} {
		if !IsRetryableStatusCode(code) {
			t.Errorf("IsRetryableStatusCode(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 500} {
		if IsRetryableStatusCode(code) {
			t.Errorf("IsRetryableStatusCode(%d) = true, want false", code)
		}
	}
}
