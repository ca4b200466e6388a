// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for telemetry when the tiktoken encoding is unavailable.
const TokenEstimateRatio = 4

// DefaultTokenEncoding is the tiktoken encoding used for token telemetry.
const DefaultTokenEncoding = "cl100k_base"

// =============================================================================
// SERVER DEFAULTS
// =============================================================================

// DefaultHost is the listen address. Local-first: the gateway fronts a
// process on the same machine.
const DefaultHost = "127.0.0.1"

// DefaultBasePort is the starting port for gateway instances; the server
// walks upward when the port is taken.
const DefaultBasePort = 18080

// MaxPortAttempts is how many ports past the base are tried.
const MaxPortAttempts = 10

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// =============================================================================
// LOCAL BACKEND DEFAULTS
// =============================================================================

// DefaultBackendPort is where the managed llama-server listens.
const DefaultBackendPort = 18081

// DefaultBackendBin is the llama-server binary looked up on PATH.
const DefaultBackendBin = "llama-server"

// DefaultReadyTimeout bounds the post-start readiness poll. Model load
// dominates, so this is generous.
const DefaultReadyTimeout = 120 * time.Second

// =============================================================================
// ROUTING DEFAULTS
// =============================================================================

// DefaultClassifyMaxChars truncates the latest user text before
// classification.
const DefaultClassifyMaxChars = 2000

// DefaultRemoteBaseURL is the remote tier endpoint when none is configured.
const DefaultRemoteBaseURL = "https://api.anthropic.com"

// =============================================================================
// STORE DEFAULTS
// =============================================================================

// DefaultSessionTTL is how long session escalation state is kept.
const DefaultSessionTTL = 24 * time.Hour

// DefaultClassifyCacheTTL is how long cached classifications are reused.
const DefaultClassifyCacheTTL = 1 * time.Hour

// DefaultCleanupInterval is the frequency for background cleanup goroutines.
const DefaultCleanupInterval = 5 * time.Minute

// =============================================================================
// MONITORING DEFAULTS
// =============================================================================

// DefaultLogLevel when config leaves it empty.
const DefaultLogLevel = "info"

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500
