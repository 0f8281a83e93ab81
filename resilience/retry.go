// Package resilience provides retry and circuit-breaking primitives shared
// by the storage and model layers.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/skyops-ai/irops/core"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool

	// OnRetry, when set, is invoked before each sleep with the attempt
	// number (1-based) and the error that triggered the retry.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// CheckpointWriteRetryConfig is the policy for durable checkpoint writes:
// up to 5 attempts with delays of 100ms * 2^n plus jitter.
func CheckpointWriteRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes fn until it succeeds, the attempts are exhausted, or the
// context is done. The returned error wraps core.ErrMaxRetriesExceeded on
// exhaustion so callers can detect it with errors.Is.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		delay := backoffDelay(config, attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded, last error: %v: %w",
		config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// backoffDelay computes the delay after the given 1-based attempt:
// InitialDelay * BackoffFactor^(attempt-1), capped at MaxDelay, with up to
// 10% random jitter against synchronized retries.
func backoffDelay(config *RetryConfig, attempt int) time.Duration {
	delay := config.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay >= config.MaxDelay {
			delay = config.MaxDelay
			break
		}
	}
	if config.JitterEnabled {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	return delay
}

// RetryWithCircuitBreaker combines retry logic with a circuit breaker.
// Attempts made while the breaker is open fail fast and still consume a
// retry attempt.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}

		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	})
}
