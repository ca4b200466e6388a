package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tierleap/tier-gateway/internal/backend"
	"github.com/tierleap/tier-gateway/internal/config"
	"github.com/tierleap/tier-gateway/internal/monitoring"
	"github.com/tierleap/tier-gateway/internal/routing"
	"github.com/tierleap/tier-gateway/internal/translate"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// Handler returns the gateway's HTTP surface.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", g.handleMessages)
	mux.HandleFunc("POST /messages", g.handleMessages)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.HandleFunc("GET /events", g.handleEvents)
	return mux
}

// writeError writes a JSON error response in the messages-API error shape.
func (g *Gateway) writeError(w http.ResponseWriter, msg, errType string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(wire.ErrorResponse{
		Type:  "error",
		Error: wire.ErrorDetail{Type: errType, Message: msg},
	})
}

func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	requestID := newRequestID()

	body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxRequestBodySize))
	if err != nil {
		g.writeError(w, "failed to read request body", "invalid_request_error", http.StatusBadRequest)
		return
	}

	var req wire.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug().Err(err).Str("request_id", requestID).Msg("gateway: unparseable request body")
		g.writeError(w, "invalid request body", "invalid_request_error", http.StatusBadRequest)
		return
	}

	log.Debug().
		Str("request_id", requestID).
		Str("model", gjson.GetBytes(body, "model").String()).
		Bool("stream", req.Stream).
		Int("messages", len(req.Messages)).
		Msg("gateway: request")

	decision := g.engine.Decide(r.Context(), &req, routing.Input{
		LocalBusy:    g.inFlight.Load() > 0,
		RequestChars: translate.MessagesChars(&req),
	})
	g.metrics.RecordRoute(decision.Remote, decision.Reason)
	g.feed.Publish(decision)

	ev := &monitoring.RequestEvent{
		Timestamp:   started,
		RequestID:   requestID,
		SessionID:   decision.SessionID,
		Intent:      string(decision.Intent),
		Tier:        decision.Tier,
		Remote:      decision.Remote,
		RemoteModel: decision.RemoteModel,
		Reason:      decision.Reason,
		Stream:      req.Stream,
		InputTokens: g.estimator.Estimate(string(body)),
	}

	if decision.Remote {
		g.serveRemote(w, r, body, &req, decision, ev)
	} else {
		g.serveLocal(w, r, &req, ev)
	}

	ev.DurationMS = time.Since(started).Milliseconds()
	g.metrics.RecordRequest(ev.Success, req.Stream)
	g.tracker.RecordRequest(ev)
}

// ====== LOCAL PATH ======

func (g *Gateway) serveLocal(w http.ResponseWriter, r *http.Request, req *wire.MessagesRequest, ev *monitoring.RequestEvent) {
	chatReq := g.translator.Translate(req, g.localModel, ev.Tier)

	g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	if req.Stream {
		g.streamLocal(w, r, &chatReq, req.Model, ev)
		return
	}

	resp, err := g.completeWithRecovery(r, &chatReq, ev)
	if err != nil {
		g.writeLocalFailure(w, err, ev)
		return
	}

	message := translate.Response(resp.Text(), req.Model)
	g.recordOutput(ev, resp.Text(), &message)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(message)
	ev.Success = true
}

// completeWithRecovery runs one local completion, applying the crash
// recovery policy on failure: at most one restart and retry.
func (g *Gateway) completeWithRecovery(r *http.Request, chatReq *wire.ChatRequest, ev *monitoring.RequestEvent) (*wire.ChatResponse, error) {
	resp, err := g.local.Complete(r.Context(), chatReq)
	if err == nil {
		return resp, nil
	}

	verdict := g.triageLocalFailure(err, ev)
	if verdict == recoveryRestartRetry {
		return g.local.Complete(r.Context(), chatReq)
	}
	return nil, localFailureError(verdict, err)
}

func (g *Gateway) streamLocal(w http.ResponseWriter, r *http.Request, chatReq *wire.ChatRequest, clientModel string, ev *monitoring.RequestEvent) {
	stream, err := g.local.CompleteStream(r.Context(), chatReq)
	if err != nil {
		verdict := g.triageLocalFailure(err, ev)
		if verdict == recoveryRestartRetry {
			stream, err = g.local.CompleteStream(r.Context(), chatReq)
		}
		if err != nil {
			g.writeLocalFailure(w, localFailureError(verdict, err), ev)
			return
		}
	}
	defer stream.Close()

	sse, err := newSSEWriter(w)
	if err != nil {
		g.writeError(w, "streaming unsupported", "api_error", http.StatusInternalServerError)
		return
	}

	st := translate.NewStreamTranslator(translate.NewMessageID(), clientModel)
	var raw string
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream failure: finish with what accumulated so the
			// client still gets a well-formed event sequence.
			log.Warn().Err(err).Str("request_id", ev.RequestID).Msg("gateway: backend stream broke")
			break
		}
		raw += chunk.DeltaText()
		if writeErr := sse.writeEvents(st.Push(chunk)); writeErr != nil {
			// Client went away; stop reading from the backend.
			return
		}
	}
	_ = sse.writeEvents(st.Finish())

	message := translate.Response(raw, clientModel)
	g.recordOutput(ev, raw, &message)
	ev.Success = true
}

// writeLocalFailure maps a final local error to a client response.
func (g *Gateway) writeLocalFailure(w http.ResponseWriter, err error, ev *monitoring.RequestEvent) {
	ev.Error = err.Error()

	var oomErr *oomError
	if errors.As(err, &oomErr) {
		g.writeError(w, oomErr.Error(), "backend_oom_error", http.StatusInsufficientStorage)
		return
	}

	var httpErr *backend.HTTPError
	if errors.As(err, &httpErr) {
		g.writeError(w, httpErr.Message, "api_error", http.StatusBadGateway)
		return
	}
	g.writeError(w, "local backend unavailable", "api_error", http.StatusBadGateway)
}

// ====== REMOTE PATH ======

func (g *Gateway) serveRemote(w http.ResponseWriter, r *http.Request, body []byte, req *wire.MessagesRequest, decision routing.Decision, ev *monitoring.RequestEvent) {
	resp, err := g.remoteRelay(r, body, decision)
	if err != nil {
		// Transport failure only: the remote never answered. Fall back to
		// the local path instead of failing the request.
		log.Warn().Err(err).Str("request_id", ev.RequestID).Msg("gateway: remote transport failure, falling back to local")
		g.metrics.RecordRemoteFallback()
		ev.Fallback = "local"
		g.serveLocal(w, r, req, ev)
		return
	}
	defer resp.Body.Close()

	// Any HTTP reply, error or not, is relayed unchanged so the caller's
	// own retry logic sees the remote's status codes.
	copyHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)
	flushCopy(w, resp.Body)
	ev.Success = resp.StatusCode < 400
	if !ev.Success {
		ev.Error = resp.Status
	}
}

func (g *Gateway) remoteRelay(r *http.Request, body []byte, decision routing.Decision) (*http.Response, error) {
	if g.remote == nil {
		return nil, errors.New("no remote relay configured")
	}
	return g.remote.Relay(r.Context(), body, decision.RemoteModel)
}

// ====== HELPERS ======

func (g *Gateway) recordOutput(ev *monitoring.RequestEvent, rawText string, message *wire.MessagesResponse) {
	calls := 0
	for _, block := range message.Content {
		if block.Type == wire.BlockToolUse {
			calls++
		}
	}
	ev.ToolCalls = calls
	g.metrics.RecordToolCalls(calls)
	g.metrics.RecordTokenEstimates(ev.InputTokens, g.estimator.Estimate(rawText))
}

func copyHeaders(w http.ResponseWriter, src http.Header) {
	for k, vals := range src {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
}

// flushCopy copies the body flushing as data arrives, so relayed remote
// streams reach the client incrementally.
func flushCopy(w http.ResponseWriter, src io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
