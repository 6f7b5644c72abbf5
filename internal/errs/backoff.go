package errs

import (
	"math"
	"time"
)

// BackoffConfig holds the exponential-with-clamp backoff law parameters
// shared by Store.Fail and the Mail-Fetcher's internal retry loop.
type BackoffConfig struct {
	InitialMs  int
	Multiplier float64
	MaxMs      int
}

// Backoff computes delay = min(initial * multiplier^(attempts-1), maxDelay).
// attempts is 1-indexed: the delay before the *next* attempt after the given
// number of attempts already made. attempts <= 0 is treated as 1.
func Backoff(attempts int, cfg BackoffConfig) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	initial := float64(cfg.InitialMs)
	if initial <= 0 {
		initial = 1000
	}
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	maxMs := float64(cfg.MaxMs)
	if maxMs <= 0 {
		maxMs = 60_000
	}

	delayMs := initial * math.Pow(multiplier, float64(attempts-1))
	if delayMs > maxMs {
		delayMs = maxMs
	}
	return time.Duration(delayMs) * time.Millisecond
}
