// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// RateLimitPolicy is one fixed-window admission policy.
//
// Each policy tracks its own independent window per identifier, so a
// short burst policy and a longer sustained policy run concurrently over
// the same identifier.
type RateLimitPolicy struct {
	// Name identifies the policy in rejections and metrics.
	Name string

	// MaxRequests is the number of requests admitted per window.
	MaxRequests int

	// Window is the fixed window duration.
	Window time.Duration

	// BlockDuration is the penalty applied once the window is exceeded.
	BlockDuration time.Duration
}

// DefaultRateLimitPolicies returns the default admission policies for
// chat runs: a short burst window and a longer sustained window.
func DefaultRateLimitPolicies() []RateLimitPolicy {
	return []RateLimitPolicy{
		{Name: "burst", MaxRequests: 30, Window: time.Minute, BlockDuration: time.Minute},
		{Name: "sustained", MaxRequests: 100, Window: 5 * time.Minute, BlockDuration: 5 * time.Minute},
	}
}

// RateLimitError is the rejection returned when admission is denied.
type RateLimitError struct {
	// Policy is the name of the most restrictive rejecting policy.
	Policy string

	// RetryAfter is how long the caller should wait before retrying.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by policy %q, retry after %s", e.Policy, e.RetryAfter)
}

// RetryAfterSeconds returns the retry hint rounded up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// limitRecord tracks one (identifier, policy) window.
type limitRecord struct {
	count         int
	windowResetAt time.Time
	blockedUntil  time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether all policies admitted the request.
	Allowed bool

	// Remaining is the smallest per-policy remaining budget when allowed.
	Remaining int

	// RetryAfter is the wait hint of the most restrictive rejection.
	RetryAfter time.Duration

	// Policy names the most restrictive rejecting policy.
	Policy string
}

// Limiter is a fixed-window rate limiter keyed by caller identifier.
//
// # Description
//
// Each configured policy independently tracks a window per identifier.
// All policies must admit for a check to pass; the most restrictive
// rejection (largest retry-after) is reported. Stale records are
// reclaimed by a periodic sweeper independent of the request path.
//
// # Thread Safety
//
// Safe for concurrent use. Updates per identifier are atomic under the
// limiter mutex, so concurrent runs cannot lose counter updates.
type Limiter struct {
	policies []RateLimitPolicy

	mu      sync.Mutex
	records map[string]*limitRecord // key: policy name + "\x00" + identifier

	sweepInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithSweepInterval sets how often stale records are reclaimed.
// Default: 5 minutes.
func WithSweepInterval(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// NewLimiter creates a limiter with the given policies.
//
// Policies with non-positive MaxRequests or Window are dropped. The
// sweeper is not started until Start is called.
func NewLimiter(policies []RateLimitPolicy, opts ...LimiterOption) *Limiter {
	valid := make([]RateLimitPolicy, 0, len(policies))
	for _, p := range policies {
		if p.MaxRequests > 0 && p.Window > 0 {
			valid = append(valid, p)
		}
	}

	l := &Limiter{
		policies:      valid,
		records:       make(map[string]*limitRecord),
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check performs an admission check for the identifier.
//
// # Description
//
// For each policy: a currently blocked identifier is rejected with a
// retry-after computed from blockedUntil; an elapsed window resets the
// count to 1 and admits; otherwise the count is incremented, and if it
// exceeds MaxRequests the identifier is blocked and rejected, else
// admitted with the remaining budget. Every policy processes the check
// even when an earlier policy rejects, keeping the windows consistent.
//
// # Inputs
//
//   - identifier: Caller identity (user id, session id, or IP).
//
// # Outputs
//
//   - Decision: The combined admission outcome.
func (l *Limiter) Check(identifier string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	decision := Decision{Allowed: true, Remaining: math.MaxInt}

	for _, policy := range l.policies {
		allowed, remaining, retryAfter := l.checkPolicy(policy, identifier, now)
		if !allowed {
			if retryAfter > decision.RetryAfter {
				decision.RetryAfter = retryAfter
				decision.Policy = policy.Name
			}
			decision.Allowed = false
			continue
		}
		if remaining < decision.Remaining {
			decision.Remaining = remaining
		}
	}

	if len(l.policies) == 0 {
		decision.Remaining = 0
	}
	return decision
}

// Err converts a rejecting decision into a RateLimitError. Returns nil
// for an allowing decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitError{Policy: d.Policy, RetryAfter: d.RetryAfter}
}

// checkPolicy evaluates one policy. Must be called with the lock held.
func (l *Limiter) checkPolicy(policy RateLimitPolicy, identifier string, now time.Time) (allowed bool, remaining int, retryAfter time.Duration) {
	key := policy.Name + "\x00" + identifier
	rec, ok := l.records[key]
	if !ok {
		rec = &limitRecord{}
		l.records[key] = rec
	}

	if now.Before(rec.blockedUntil) {
		return false, 0, rec.blockedUntil.Sub(now)
	}

	if !now.Before(rec.windowResetAt) {
		rec.count = 1
		rec.windowResetAt = now.Add(policy.Window)
		rec.blockedUntil = time.Time{}
		return true, policy.MaxRequests - 1, 0
	}

	rec.count++
	if rec.count > policy.MaxRequests {
		rec.blockedUntil = now.Add(policy.BlockDuration)
		return false, 0, policy.BlockDuration
	}
	return true, policy.MaxRequests - rec.count, 0
}

// Start begins the periodic sweep of stale records.
//
// Safe to call again after Stop; calls on a running limiter are no-ops.
func (l *Limiter) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	go l.run(stopCh, doneCh)
}

// Stop halts the sweeper and waits for it to finish. Safe to call on a
// never-started or already-stopped limiter.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	stopCh, doneCh := l.stopCh, l.doneCh
	l.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (l *Limiter) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep removes records whose window and block have both elapsed.
//
// Exported so tests and operators can trigger reclamation directly;
// normally driven by the Start ticker to bound memory.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, rec := range l.records {
		if now.After(rec.windowResetAt) && now.After(rec.blockedUntil) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live records. Used by tests and metrics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
