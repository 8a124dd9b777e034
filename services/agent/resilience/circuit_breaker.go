// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all requests immediately.
	CircuitOpen

	// CircuitHalfOpen allows a single trial request to test recovery.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// Cooldown is the duration to wait before transitioning from open to
	// half-open. Default: 30s
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults for the breaker
// guarding the model endpoint.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for the model
// endpoint.
//
// The breaker has three states:
//   - Closed: calls pass through; any success resets the failure counter
//   - Open: calls are rejected immediately, no network attempt is made
//   - Half-Open: exactly one trial call is allowed through; its success
//     closes the circuit, its failure reopens it
//
// Concurrent calls while half-open beyond the single trial are rejected
// until the trial resolves.
//
// Thread Safety: Safe for concurrent use.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	mu sync.RWMutex
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// Allow checks if a call should be allowed through.
//
// In the open state, once the cooldown since openedAt has elapsed the
// breaker transitions to half-open and admits the caller as the single
// trial. Further half-open callers are rejected until the trial resolves
// via RecordSuccess or RecordFailure.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if now.Sub(cb.openedAt) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.trialInFlight = true
			return true
		}
		return false

	case CircuitHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful call.
//
// In the half-open state the trial success closes the circuit and resets
// the failure counter.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0

	case CircuitHalfOpen:
		cb.state = CircuitClosed
		cb.consecutiveFailures = 0
		cb.trialInFlight = false
	}
}

// RecordFailure records a failed call.
//
// In the closed state, crossing the failure threshold opens the circuit
// and records openedAt. In the half-open state, the trial failure reopens
// the circuit and resets openedAt.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = now
		}

	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = now
		cb.trialInFlight = false
	}
}

// State returns the current circuit state.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Healthy reports whether the breaker currently admits calls without
// restriction (closed state).
func (cb *CircuitBreaker) Healthy() bool {
	return cb.State() == CircuitClosed
}

// Stats returns current circuit breaker statistics.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
	}
}

// Reset resets the breaker to the closed state.
//
// This is primarily for testing or manual intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.trialInFlight = false
	cb.openedAt = time.Time{}
}

// CircuitBreakerStats contains circuit breaker statistics.
type CircuitBreakerStats struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
}
