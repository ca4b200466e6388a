package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tierleap/tier-gateway/internal/backend"
	"github.com/tierleap/tier-gateway/internal/monitoring"
)

// recovery is the verdict for a failed local backend call.
type recovery int

const (
	// recoveryNone surfaces the error as-is: application-level failure or
	// a backend that is up and answered.
	recoveryNone recovery = iota
	// recoveryFatal fails the request with a non-retryable remediation
	// error; restarting would hit the same wall.
	recoveryFatal
	// recoveryRestartRetry restarts the backend and retries exactly once.
	recoveryRestartRetry
)

// oomError is the non-retryable out-of-memory verdict shown to the caller.
type oomError struct{}

func (e *oomError) Error() string {
	return "local backend ran out of memory; use a smaller model or reduce its context size before retrying"
}

// triageStep is one predicate in the ordered local-failure policy.
type triageStep struct {
	name    string
	applies func(g *Gateway, err error) bool
	verdict recovery
}

// localTriage is evaluated top to bottom; the first matching step decides.
// Order matters: an application error must never trigger a restart, and the
// OOM check must run before the generic restart.
var localTriage = []triageStep{
	{
		name: "application_error",
		applies: func(_ *Gateway, err error) bool {
			var httpErr *backend.HTTPError
			return errors.As(err, &httpErr)
		},
		verdict: recoveryNone,
	},
	{
		name: "backend_still_healthy",
		applies: func(g *Gateway, _ error) bool {
			return g.supervisor == nil || g.supervisor.IsHealthy()
		},
		verdict: recoveryNone,
	},
	{
		name: "oom_crash",
		applies: func(g *Gateway, _ error) bool {
			return g.supervisor.CrashedFromMemory()
		},
		verdict: recoveryFatal,
	},
	{
		name:    "restart",
		applies: func(_ *Gateway, _ error) bool { return true },
		verdict: recoveryRestartRetry,
	},
}

// triageLocalFailure classifies a local call failure and performs the side
// effects of its verdict (records telemetry, runs the restart). The
// returned verdict tells the caller whether to retry.
func (g *Gateway) triageLocalFailure(err error, ev *monitoring.RequestEvent) recovery {
	var verdict recovery
	var stepName string
	for _, step := range localTriage {
		if step.applies(g, err) {
			verdict = step.verdict
			stepName = step.name
			break
		}
	}
	log.Debug().
		Err(err).
		Str("request_id", ev.RequestID).
		Str("step", stepName).
		Msg("gateway: local failure triage")

	switch verdict {
	case recoveryFatal:
		g.tracker.RecordRestart(&monitoring.RestartEvent{
			Timestamp: time.Now(),
			RequestID: ev.RequestID,
			OOM:       true,
			Restarted: false,
		})
		ev.Error = (&oomError{}).Error()
	case recoveryRestartRetry:
		if restartErr := g.restartBackend(ev); restartErr != nil {
			log.Error().Err(restartErr).Str("request_id", ev.RequestID).Msg("gateway: backend restart failed")
			return recoveryNone
		}
	}
	return verdict
}

// localFailureError converts a fatal triage verdict into the error the
// client sees.
func localFailureError(verdict recovery, err error) error {
	if verdict == recoveryFatal {
		return &oomError{}
	}
	return err
}

func (g *Gateway) restartBackend(ev *monitoring.RequestEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Backend.ReadyTimeout)
	defer cancel()

	if _, err := g.supervisor.Start(ctx, g.cfg.Backend.Model); err != nil {
		return err
	}
	if err := g.supervisor.WaitReady(ctx, backend.WaitOptions{Timeout: g.cfg.Backend.ReadyTimeout}); err != nil {
		return err
	}

	g.metrics.RecordBackendRestart()
	g.tracker.RecordRestart(&monitoring.RestartEvent{
		Timestamp: time.Now(),
		RequestID: ev.RequestID,
		OOM:       false,
		Restarted: true,
	})
	log.Info().Str("request_id", ev.RequestID).Msg("gateway: backend restarted, retrying request once")
	return nil
}
