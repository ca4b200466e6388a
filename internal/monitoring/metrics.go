// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:   Total and successful request counts
//   - local/remote:         Where requests were served
//   - escalations:          try_again tier bumps
//   - overflows:            Busy-slot and context-overflow diversions
//   - fallbacks/restarts:   Failure-path activity
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests  atomic.Int64
	successes atomic.Int64
	streams   atomic.Int64

	// Routing counters
	localRequests    atomic.Int64
	remoteRequests   atomic.Int64
	escalations      atomic.Int64
	overflowBusy     atomic.Int64
	overflowContext  atomic.Int64
	remoteFallbacks  atomic.Int64
	backendRestarts  atomic.Int64
	classifyCacheHit atomic.Int64

	// Token estimates (telemetry only, not billing)
	inputTokensEst  atomic.Int64
	outputTokensEst atomic.Int64
	toolCalls       atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordRequest records a completed request.
func (mc *MetricsCollector) RecordRequest(success, stream bool) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
	if stream {
		mc.streams.Add(1)
	}
}

// RecordRoute records where a request was served and why.
func (mc *MetricsCollector) RecordRoute(remote bool, reason string) {
	if remote {
		mc.remoteRequests.Add(1)
	} else {
		mc.localRequests.Add(1)
	}
	switch reason {
	case "escalation":
		mc.escalations.Add(1)
	case "overflow_busy":
		mc.overflowBusy.Add(1)
	case "context_overflow":
		mc.overflowContext.Add(1)
	}
}

// RecordRemoteFallback records a remote failure served locally instead.
func (mc *MetricsCollector) RecordRemoteFallback() { mc.remoteFallbacks.Add(1) }

// RecordBackendRestart records a crash-restart cycle.
func (mc *MetricsCollector) RecordBackendRestart() { mc.backendRestarts.Add(1) }

// RecordClassifyCacheHit records a classification served from cache.
func (mc *MetricsCollector) RecordClassifyCacheHit() { mc.classifyCacheHit.Add(1) }

// RecordTokenEstimates records estimated token counts for one request.
func (mc *MetricsCollector) RecordTokenEstimates(input, output int) {
	mc.inputTokensEst.Add(int64(input))
	mc.outputTokensEst.Add(int64(output))
}

// RecordToolCalls records extracted tool calls.
func (mc *MetricsCollector) RecordToolCalls(n int) {
	mc.toolCalls.Add(int64(n))
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map for the /stats endpoint.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":            mc.requests.Load(),
		"successes":           mc.successes.Load(),
		"streams":             mc.streams.Load(),
		"local_requests":      mc.localRequests.Load(),
		"remote_requests":     mc.remoteRequests.Load(),
		"escalations":         mc.escalations.Load(),
		"overflow_busy":       mc.overflowBusy.Load(),
		"overflow_context":    mc.overflowContext.Load(),
		"remote_fallbacks":    mc.remoteFallbacks.Load(),
		"backend_restarts":    mc.backendRestarts.Load(),
		"classify_cache_hits": mc.classifyCacheHit.Load(),
		"input_tokens_est":    mc.inputTokensEst.Load(),
		"output_tokens_est":   mc.outputTokensEst.Load(),
		"tool_calls":          mc.toolCalls.Load(),
	}
}
