// Package gateway wires translation, routing, and backends to HTTP.
//
// DESIGN: the gateway is a thin orchestrator. Per request it: parses the
// messages-API body, asks the routing engine for a decision, publishes the
// decision to the live feed, then serves from the local backend (translated)
// or relays to a remote tier (untranslated). All failure policy lives in
// fallback.go as an ordered step list.
package gateway

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tierleap/tier-gateway/internal/backend"
	"github.com/tierleap/tier-gateway/internal/config"
	"github.com/tierleap/tier-gateway/internal/monitoring"
	"github.com/tierleap/tier-gateway/internal/prompt"
	"github.com/tierleap/tier-gateway/internal/routing"
	"github.com/tierleap/tier-gateway/internal/translate"
)

// Version is reported by /health and the init event.
const Version = "0.3.0"

// Gateway serves the messages API over tiered backends.
type Gateway struct {
	cfg    *config.Config
	engine *routing.Engine

	local      *backend.Client
	localModel string
	supervisor backend.Supervisor
	remote     *backend.Remote

	translator *translate.RequestTranslator
	policy     prompt.Policy

	metrics   *monitoring.MetricsCollector
	tracker   *monitoring.Tracker
	feed      *monitoring.Feed
	estimator *monitoring.TokenEstimator

	// inFlight counts local backend calls; the local server has a single
	// prompt slot, so a second caller is diverted remote instead of queued.
	inFlight atomic.Int64
}

// Options are the gateway's collaborators. Local, Engine, and Config are
// required; the rest default to inert implementations.
type Options struct {
	Config     *config.Config
	Engine     *routing.Engine
	Local      *backend.Client
	LocalModel string
	Supervisor backend.Supervisor
	Remote     *backend.Remote
	Policy     prompt.Policy
	Metrics    *monitoring.MetricsCollector
	Tracker    *monitoring.Tracker
	Feed       *monitoring.Feed
	Estimator  *monitoring.TokenEstimator
}

// New assembles a gateway.
func New(opts Options) *Gateway {
	if opts.Policy == nil {
		opts.Policy = prompt.NewTrimPolicy()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetricsCollector()
	}
	if opts.Tracker == nil {
		opts.Tracker, _ = monitoring.NewTracker(monitoring.TelemetryConfig{})
	}
	if opts.Feed == nil {
		opts.Feed = monitoring.NewFeed()
	}
	if opts.Estimator == nil {
		opts.Estimator = monitoring.NewTokenEstimator(config.DefaultTokenEncoding)
	}

	return &Gateway{
		cfg:        opts.Config,
		engine:     opts.Engine,
		local:      opts.Local,
		localModel: opts.LocalModel,
		supervisor: opts.Supervisor,
		remote:     opts.Remote,
		translator: translate.NewRequestTranslator(opts.Policy),
		policy:     opts.Policy,
		metrics:    opts.Metrics,
		tracker:    opts.Tracker,
		feed:       opts.Feed,
		estimator:  opts.Estimator,
	}
}

// RecordInit writes the startup telemetry event.
func (g *Gateway) RecordInit(port int) {
	g.tracker.RecordInit(&monitoring.InitEvent{
		Timestamp: time.Now(),
		Version:   Version,
		Port:      port,
		Backend:   g.localModel,
		Tiers:     len(g.cfg.Tiers),
	})
}

// newRequestID returns a fresh id for request correlation.
func newRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
