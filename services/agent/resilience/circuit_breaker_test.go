// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("call %d should be allowed while closed", i)
		}
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("breaker opened below threshold: %s", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker must reject calls")
	}
	if cb.Healthy() {
		t.Error("open breaker must report unhealthy")
	}
}

func TestCircuitBreakerSuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Errorf("success should reset the consecutive counter, state=%s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenTrial(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected trial call admitted after cooldown")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	// Only one trial at a time.
	if cb.Allow() {
		t.Error("second caller must be rejected while the trial is in flight")
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("trial success should close the circuit, got %s", cb.State())
	}
}

func TestCircuitBreakerTrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected trial admitted")
	}
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Fatalf("trial failure should reopen the circuit, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("reopened breaker must reject until the next cooldown")
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()

	stats := cb.Stats()
	if stats.State != CircuitClosed {
		t.Errorf("expected closed, got %s", stats.State)
	}
	if stats.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", stats.ConsecutiveFailures)
	}
	if !stats.OpenedAt.IsZero() {
		t.Error("OpenedAt should be zero while closed")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Error("reset breaker must admit calls")
	}
}
