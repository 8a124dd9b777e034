// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiterAllowsThenRejects(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "test", MaxRequests: 3, Window: time.Minute, BlockDuration: time.Minute},
	})

	want := []bool{true, true, true, false}
	for i, expected := range want {
		decision := l.Check("user-1")
		if decision.Allowed != expected {
			t.Fatalf("request %d: allowed=%v, want %v", i+1, decision.Allowed, expected)
		}
	}

	rejected := l.Check("user-1")
	if rejected.Allowed {
		t.Fatal("expected continued rejection while blocked")
	}
	if rejected.Policy != "test" {
		t.Errorf("expected rejecting policy name, got %q", rejected.Policy)
	}
	if rejected.RetryAfter <= 0 {
		t.Errorf("expected a positive retry-after, got %s", rejected.RetryAfter)
	}
}

func TestLimiterIsolatesIdentifiers(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "test", MaxRequests: 1, Window: time.Minute, BlockDuration: time.Minute},
	})

	if !l.Check("user-a").Allowed {
		t.Fatal("user-a first request should pass")
	}
	if l.Check("user-a").Allowed {
		t.Fatal("user-a second request should be rejected")
	}
	if !l.Check("user-b").Allowed {
		t.Error("user-b must not be affected by user-a's limit")
	}
}

func TestLimiterWindowReset(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "test", MaxRequests: 1, Window: 20 * time.Millisecond, BlockDuration: 10 * time.Millisecond},
	})

	if !l.Check("user-1").Allowed {
		t.Fatal("first request should pass")
	}
	if l.Check("user-1").Allowed {
		t.Fatal("second request should be rejected")
	}

	// Wait out both the block and the window.
	time.Sleep(40 * time.Millisecond)

	if !l.Check("user-1").Allowed {
		t.Error("request after window reset should pass")
	}
}

func TestLimiterMostRestrictiveRejectionWins(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "short", MaxRequests: 1, Window: time.Minute, BlockDuration: time.Second},
		{Name: "long", MaxRequests: 1, Window: time.Minute, BlockDuration: time.Hour},
	})

	l.Check("user-1")
	decision := l.Check("user-1")
	if decision.Allowed {
		t.Fatal("expected rejection")
	}
	if decision.Policy != "long" {
		t.Errorf("expected the longer block to be reported, got %q", decision.Policy)
	}
	if decision.RetryAfter < 30*time.Minute {
		t.Errorf("expected retry-after near an hour, got %s", decision.RetryAfter)
	}
}

func TestLimiterRemainingBudget(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "wide", MaxRequests: 10, Window: time.Minute, BlockDuration: time.Minute},
		{Name: "narrow", MaxRequests: 3, Window: time.Minute, BlockDuration: time.Minute},
	})

	decision := l.Check("user-1")
	if !decision.Allowed {
		t.Fatal("expected first request admitted")
	}
	if decision.Remaining != 2 {
		t.Errorf("expected remaining from narrowest policy (2), got %d", decision.Remaining)
	}
}

func TestDecisionErr(t *testing.T) {
	allowed := Decision{Allowed: true}
	if err := allowed.Err(); err != nil {
		t.Errorf("allowing decision must not error, got %v", err)
	}

	rejected := Decision{Allowed: false, Policy: "burst", RetryAfter: 90 * time.Second}
	err := rejected.Err()
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected *RateLimitError, got %T", err)
	}
	if rlErr.RetryAfterSeconds() != 90 {
		t.Errorf("expected 90 seconds, got %d", rlErr.RetryAfterSeconds())
	}
}

func TestLimiterConcurrentChecksDoNotLoseUpdates(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "test", MaxRequests: 50, Window: time.Minute, BlockDuration: time.Minute},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("expected exactly 50 admissions, got %d", allowed)
	}
}

func TestLimiterSweep(t *testing.T) {
	l := NewLimiter([]RateLimitPolicy{
		{Name: "test", MaxRequests: 5, Window: 10 * time.Millisecond, BlockDuration: 10 * time.Millisecond},
	})

	l.Check("user-1")
	l.Check("user-2")
	if l.Size() != 2 {
		t.Fatalf("expected 2 records, got %d", l.Size())
	}

	time.Sleep(25 * time.Millisecond)

	removed := l.Sweep()
	if removed != 2 {
		t.Errorf("expected 2 records swept, got %d", removed)
	}
	if l.Size() != 0 {
		t.Errorf("expected empty record map, got %d", l.Size())
	}
}

func TestLimiterStartStop(t *testing.T) {
	l := NewLimiter(DefaultRateLimitPolicies(), WithSweepInterval(5*time.Millisecond))
	l.Start()
	l.Check("user-1")
	time.Sleep(15 * time.Millisecond)
	l.Stop()

	// Stop again is a no-op.
	l.Stop()

	// A stopped limiter can be started again with fresh sweeper state.
	l.Start()
	l.Check("user-2")
	time.Sleep(15 * time.Millisecond)
	l.Stop()
}

func TestLimiterNoPolicies(t *testing.T) {
	l := NewLimiter(nil)
	decision := l.Check("anyone")
	if !decision.Allowed {
		t.Error("limiter without policies must admit everything")
	}
}
