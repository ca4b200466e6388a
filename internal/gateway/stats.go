// Package gateway - stats.go exposes health and aggregated metrics.
//
// GET /stats returns routing and translation metrics. Restricted to
// localhost to keep operational data off the network.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatsResponse is the JSON response for GET /stats.
type StatsResponse struct {
	Uptime  string `json:"uptime"`
	Gateway struct {
		TotalRequests      int64 `json:"total_requests"`
		SuccessfulRequests int64 `json:"successful_requests"`
		Streams            int64 `json:"streams"`
	} `json:"gateway"`

	Routing struct {
		LocalRequests     int64 `json:"local_requests"`
		RemoteRequests    int64 `json:"remote_requests"`
		Escalations       int64 `json:"escalations"`
		OverflowBusy      int64 `json:"overflow_busy"`
		OverflowContext   int64 `json:"overflow_context"`
		RemoteFallbacks   int64 `json:"remote_fallbacks"`
		BackendRestarts   int64 `json:"backend_restarts"`
		ClassifyCacheHits int64 `json:"classify_cache_hits"`
	} `json:"routing"`

	Tokens struct {
		InputEstimated  int64 `json:"input_estimated"`
		OutputEstimated int64 `json:"output_estimated"`
		ToolCalls       int64 `json:"tool_calls"`
	} `json:"tokens"`

	FeedSubscribers int `json:"feed_subscribers"`
}

// handleStats returns aggregated metrics as JSON.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var resp StatsResponse
	resp.Uptime = time.Since(g.metrics.StartedAt()).Truncate(time.Second).String()

	stats := g.metrics.Stats()
	resp.Gateway.TotalRequests = stats["requests"]
	resp.Gateway.SuccessfulRequests = stats["successes"]
	resp.Gateway.Streams = stats["streams"]
	resp.Routing.LocalRequests = stats["local_requests"]
	resp.Routing.RemoteRequests = stats["remote_requests"]
	resp.Routing.Escalations = stats["escalations"]
	resp.Routing.OverflowBusy = stats["overflow_busy"]
	resp.Routing.OverflowContext = stats["overflow_context"]
	resp.Routing.RemoteFallbacks = stats["remote_fallbacks"]
	resp.Routing.BackendRestarts = stats["backend_restarts"]
	resp.Routing.ClassifyCacheHits = stats["classify_cache_hits"]
	resp.Tokens.InputEstimated = stats["input_tokens_est"]
	resp.Tokens.OutputEstimated = stats["output_tokens_est"]
	resp.Tokens.ToolCalls = stats["tool_calls"]
	resp.FeedSubscribers = g.feed.Subscribers()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleHealth returns gateway and local backend health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"time":    time.Now().Format(time.RFC3339),
		"version": Version,
	}

	if g.supervisor != nil {
		backendUp := g.supervisor.IsHealthy()
		health["backend"] = map[string]any{"healthy": backendUp}
		if !backendUp {
			health["status"] = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// handleEvents upgrades to a websocket and streams routing decisions.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	g.feed.ServeHTTP(w, r)
}
