// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resilience provides the failure-handling policies that wrap
// every external call made by the agent: retry with exponential backoff,
// a circuit breaker guarding the model endpoint, and fixed-window rate
// limiting for admission control.
//
// The three policies are independent and composable. A model call runs
// through rate-limiter admission, then the circuit breaker gate, then the
// retry-wrapped network call (see GuardedCall). Tool calls are wrapped by
// retry only; tools are a separate failure domain from the model.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call
// without attempting it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait duration before the first retry.
	// Default: 500ms
	InitialDelay time.Duration

	// MaxDelay caps the wait duration between retries.
	// Default: 8s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor.
	// Default: 2.0
	Multiplier float64

	// JitterFactor is the maximum jitter as a fraction of the delay (0-1).
	// Adds randomness to prevent thundering herd. Default: 0.2
	JitterFactor float64

	// IsRetryable classifies errors. Nil defaults to Retryable.
	IsRetryable func(error) bool
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// RetryResult contains the outcome of a retry operation.
type RetryResult struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// RetryableFunc is a function that can be retried.
// It should return nil on success, or an error. The configured
// IsRetryable classifier determines whether the error triggers a retry.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry executes the given function with exponential backoff.
//
// # Description
//
// Attempts run strictly sequentially. On a retryable failure the caller
// suspends for the current delay, then the delay is multiplied and capped
// at MaxDelay. A non-retryable failure or exhausting MaxAttempts returns
// the last error. The backoff sleep observes context cancellation.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - config: Retry configuration.
//   - fn: The function to execute and potentially retry.
//
// # Outputs
//
//   - RetryResult: Statistics about the retry operation.
//   - error: The last error if all attempts failed, nil on success.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) (RetryResult, error) {
	start := time.Now()
	result := RetryResult{}

	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	isRetryable := config.IsRetryable
	if isRetryable == nil {
		isRetryable = Retryable
	}

	delay := config.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err

		if !isRetryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		// Don't wait after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(withJitter(delay, config.JitterFactor)):
		}

		delay = nextDelay(delay, config.Multiplier, config.MaxDelay)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// GuardedCall runs a model-endpoint call through the full composition:
// circuit breaker gate, then the retry-wrapped call, then outcome
// reporting back to the breaker.
//
// # Description
//
// If the breaker rejects the call, ErrCircuitOpen is returned immediately
// and no network attempt is made. Otherwise the call is retried per
// config; the terminal outcome (success, or failure after retries
// exhaust) is reported to the breaker once. Per-attempt failures inside
// the retry loop do not each count against the breaker: the breaker
// tracks call outcomes, not attempt outcomes. Context-cancellation
// terminations are not reported at all; a departed caller is not an
// endpoint failure.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - cb: Circuit breaker to gate and report to. Must not be nil.
//   - config: Retry configuration for the wrapped call.
//   - fn: The network call.
//
// # Outputs
//
//   - RetryResult: Statistics about the operation.
//   - error: ErrCircuitOpen, or the terminal call error, nil on success.
func GuardedCall(ctx context.Context, cb *CircuitBreaker, config RetryConfig, fn RetryableFunc) (RetryResult, error) {
	if !cb.Allow() {
		return RetryResult{LastError: ErrCircuitOpen}, ErrCircuitOpen
	}

	result, err := Retry(ctx, config, fn)
	if err != nil {
		// A cancelled or expired caller context says nothing about
		// endpoint health, so it never counts against the breaker.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			cb.RecordFailure()
		}
		return result, err
	}
	cb.RecordSuccess()
	return result, nil
}

// withJitter applies random jitter to the delay.
// The result is in the range [delay*(1-jitter), delay*(1+jitter)].
func withJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(delay) * (1.0 + jitter))
}

// nextDelay calculates the next backoff delay.
func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	if multiplier < 1.0 {
		multiplier = 2.0
	}
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}
