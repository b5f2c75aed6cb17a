package worker

import (
	"context"
	"errors"
	"math"
	"time"
)

// ExponentialBackoff decides whether and when a failed job runs again.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int

	// Retryable filters errors worth another attempt; nil retries everything
	// except context cancellation.
	Retryable func(err error) bool
}

// DefaultBackoff returns sensible defaults for job processing.
// 2s, 4s, 8s, 16s, 32s (Max 60s)
func DefaultBackoff(maxAttempts int) *ExponentialBackoff {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  maxAttempts,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if the error is retryable and max attempts not exceeded.
// attempt counts the runs already made.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if s.Retryable == nil {
		return true
	}
	return s.Retryable(err)
}
