// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"sync"
	"testing"
	"time"
)

func TestSnapshotEmpty(t *testing.T) {
	agg := NewAggregator()
	snap := agg.Snapshot()

	if snap.RequestCount != 0 || snap.ErrorCount != 0 {
		t.Errorf("expected zero counts, got %+v", snap)
	}
	if snap.ErrorRate != 0 || snap.AverageResponseTime != 0 {
		t.Errorf("expected zero aggregates, got %+v", snap)
	}
	if snap.ToolInvocations == nil {
		t.Error("tool invocations map should be non-nil for JSON encoding")
	}
	if snap.Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}
}

func TestRecordRunAggregates(t *testing.T) {
	agg := NewAggregator()
	agg.RecordRun(100*time.Millisecond, 1, false)
	agg.RecordRun(300*time.Millisecond, 3, true)

	snap := agg.Snapshot()
	if snap.RequestCount != 2 {
		t.Errorf("expected 2 requests, got %d", snap.RequestCount)
	}
	if snap.ErrorCount != 1 {
		t.Errorf("expected 1 error, got %d", snap.ErrorCount)
	}
	if snap.ErrorRate != 0.5 {
		t.Errorf("expected error rate 0.5, got %v", snap.ErrorRate)
	}
	if snap.AverageResponseTime != 200 {
		t.Errorf("expected mean 200ms, got %v", snap.AverageResponseTime)
	}
	if snap.AverageLlmCalls != 2 {
		t.Errorf("expected mean 2 model calls, got %v", snap.AverageLlmCalls)
	}
}

func TestPercentilesFromKnownDistribution(t *testing.T) {
	agg := NewAggregator()
	// 1..100 ms, recorded out of order to exercise the sort.
	for i := 100; i >= 1; i-- {
		agg.RecordRun(time.Duration(i)*time.Millisecond, 1, false)
	}

	snap := agg.Snapshot()
	if snap.ResponseTime.P50 != 51 {
		t.Errorf("expected p50 51, got %v", snap.ResponseTime.P50)
	}
	if snap.ResponseTime.P95 != 96 {
		t.Errorf("expected p95 96, got %v", snap.ResponseTime.P95)
	}
	if snap.ResponseTime.P99 != 100 {
		t.Errorf("expected p99 100, got %v", snap.ResponseTime.P99)
	}
}

func TestToolAndRejectionCounters(t *testing.T) {
	agg := NewAggregator()
	agg.RecordToolInvocation("search_products")
	agg.RecordToolInvocation("search_products")
	agg.RecordToolInvocation("add_to_cart")
	agg.RecordRateLimitRejection()

	snap := agg.Snapshot()
	if snap.ToolInvocations["search_products"] != 2 {
		t.Errorf("expected 2 search invocations, got %d", snap.ToolInvocations["search_products"])
	}
	if snap.ToolInvocations["add_to_cart"] != 1 {
		t.Errorf("expected 1 cart invocation, got %d", snap.ToolInvocations["add_to_cart"])
	}
	if snap.RateLimitRejections != 1 {
		t.Errorf("expected 1 rejection, got %d", snap.RateLimitRejections)
	}

	// Snapshot returns a copy, not the live map.
	snap.ToolInvocations["add_to_cart"] = 99
	if agg.Snapshot().ToolInvocations["add_to_cart"] != 1 {
		t.Error("snapshot map must be independent of the aggregator")
	}
}

func TestWindowEviction(t *testing.T) {
	agg := NewAggregator()
	// Fill the window with slow runs, then push them all out with fast ones.
	for i := 0; i < windowCap; i++ {
		agg.RecordRun(time.Second, 1, false)
	}
	for i := 0; i < windowCap; i++ {
		agg.RecordRun(10*time.Millisecond, 1, false)
	}

	snap := agg.Snapshot()
	if snap.AverageResponseTime != 10 {
		t.Errorf("expected window to hold only recent samples, mean %v", snap.AverageResponseTime)
	}
	// Lifetime counters are not windowed.
	if snap.RequestCount != int64(2*windowCap) {
		t.Errorf("expected %d requests, got %d", 2*windowCap, snap.RequestCount)
	}
}

func TestAggregatorConcurrentUse(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				agg.RecordRun(5*time.Millisecond, 1, j%10 == 0)
				agg.RecordToolInvocation("lookup_policy")
			}
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	if snap.RequestCount != 400 {
		t.Errorf("expected 400 requests, got %d", snap.RequestCount)
	}
	if snap.ToolInvocations["lookup_policy"] != 400 {
		t.Errorf("expected 400 tool invocations, got %d", snap.ToolInvocations["lookup_policy"])
	}
}
