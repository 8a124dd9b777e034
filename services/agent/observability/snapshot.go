// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"sort"
	"sync"
	"time"
)

// windowCap bounds each sliding sample window. Oldest samples are evicted
// first, so aggregates always reflect recent traffic.
const windowCap = 1000

// Percentiles holds latency percentiles in milliseconds.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// BreakerStatus is the health-endpoint view of the model breaker.
type BreakerStatus struct {
	State     string `json:"state"`
	IsHealthy bool   `json:"isHealthy"`
}

// Snapshot is a point-in-time aggregate of recent agent activity.
// It backs the JSON metrics and health endpoints.
type Snapshot struct {
	RequestCount        int64            `json:"requestCount"`
	ErrorCount          int64            `json:"errorCount"`
	ErrorRate           float64          `json:"errorRate"`
	AverageResponseTime float64          `json:"averageResponseTime"`
	ResponseTime        Percentiles      `json:"responseTime"`
	AverageLlmCalls     float64          `json:"averageLlmCalls"`
	ToolInvocations     map[string]int64 `json:"toolInvocations"`
	RateLimitRejections int64            `json:"rateLimitRejections"`
	Timestamp           time.Time        `json:"timestamp"`
}

// Aggregator accumulates per-run samples in bounded windows and produces
// snapshots on demand. It is safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	requestCount int64
	errorCount   int64
	rejections   int64

	// Sliding windows, newest last. Capped at windowCap.
	durationsMs []float64
	llmCalls    []float64

	toolCounts map[string]int64
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		durationsMs: make([]float64, 0, windowCap),
		llmCalls:    make([]float64, 0, windowCap),
		toolCounts:  make(map[string]int64),
	}
}

// RecordRun records one completed run.
//
// # Inputs
//
//   - duration: Wall-clock run duration.
//   - modelCalls: Number of model invocations the run made.
//   - failed: Whether the run ended in an error.
func (a *Aggregator) RecordRun(duration time.Duration, modelCalls int, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requestCount++
	if failed {
		a.errorCount++
	}
	a.durationsMs = appendBounded(a.durationsMs, float64(duration.Milliseconds()))
	a.llmCalls = appendBounded(a.llmCalls, float64(modelCalls))
}

// RecordToolInvocation increments the counter for one tool dispatch.
func (a *Aggregator) RecordToolInvocation(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toolCounts[tool]++
}

// RecordRateLimitRejection increments the admission-rejection counter.
func (a *Aggregator) RecordRateLimitRejection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejections++
}

// Snapshot returns the current aggregate view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		RequestCount:        a.requestCount,
		ErrorCount:          a.errorCount,
		AverageResponseTime: mean(a.durationsMs),
		ResponseTime:        percentiles(a.durationsMs),
		AverageLlmCalls:     mean(a.llmCalls),
		ToolInvocations:     make(map[string]int64, len(a.toolCounts)),
		RateLimitRejections: a.rejections,
		Timestamp:           time.Now().UTC(),
	}
	if a.requestCount > 0 {
		snap.ErrorRate = float64(a.errorCount) / float64(a.requestCount)
	}
	for name, count := range a.toolCounts {
		snap.ToolInvocations[name] = count
	}
	return snap
}

// appendBounded appends a sample, evicting the oldest when the window
// is full.
func appendBounded(window []float64, sample float64) []float64 {
	if len(window) >= windowCap {
		copy(window, window[1:])
		window = window[:len(window)-1]
	}
	return append(window, sample)
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// percentiles computes p50/p95/p99 using nearest-rank on a sorted copy.
func percentiles(samples []float64) Percentiles {
	if len(samples) == 0 {
		return Percentiles{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	rank := func(p float64) float64 {
		idx := int(p * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return Percentiles{
		P50: rank(0.50),
		P95: rank(0.95),
		P99: rank(0.99),
	}
}
