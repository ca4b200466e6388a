// Package monitoring - types.go defines telemetry event shapes.
package monitoring

import "time"

// TelemetryConfig controls JSONL event recording.
type TelemetryConfig struct {
	Enabled     bool
	LogPath     string
	LogToStdout bool
}

// RequestEvent is one gateway request, written after the response finishes.
type RequestEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	SessionID   string    `json:"session_id"`
	Intent      string    `json:"intent,omitempty"`
	Tier        int       `json:"tier"`
	Remote      bool      `json:"remote"`
	RemoteModel string    `json:"remote_model,omitempty"`
	Reason      string    `json:"reason"`
	Stream      bool      `json:"stream"`
	DurationMS  int64     `json:"duration_ms"`
	InputTokens int       `json:"input_tokens_est"`
	ToolCalls   int       `json:"tool_calls"`
	Fallback    string    `json:"fallback,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// RestartEvent records a backend crash-restart cycle.
type RestartEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
	OOM       bool      `json:"oom"`
	Restarted bool      `json:"restarted"`
}

// InitEvent records one gateway startup.
type InitEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Port      int       `json:"port"`
	Backend   string    `json:"backend"`
	Tiers     int       `json:"tiers"`
}
