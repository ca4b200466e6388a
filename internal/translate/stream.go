package translate

import (
	"strings"

	"github.com/tierleap/tier-gateway/internal/toolcall"
	"github.com/tierleap/tier-gateway/internal/wire"
)

// phase is the streaming translator's explicit state. Transitions only move
// forward: idle → streaming → suppressed → finished (suppressed is skipped
// when no tool marker ever appears).
type phase int

const (
	phaseIdle phase = iota
	phaseStreaming
	phaseSuppressed
	phaseFinished
)

// Event is one client-bound SSE event: a name plus its JSON payload.
type Event struct {
	Name string
	Data any
}

// StreamTranslator re-encodes one backend stream into client SSE events.
// One instance per request; Push and Finish are called sequentially from the
// request's goroutine and are not safe for concurrent use.
//
// While no tool marker has been seen, only a safe prefix of the accumulated
// text is released: the last HoldbackLen characters stay buffered so a tool
// marker or leak token split across chunk boundaries never partially reaches
// the client.
// On first marker sighting all further per-chunk emission stops; Finish runs
// the extractor over everything, so a marker that never resolves (stream cut
// mid-call) still degrades cleanly.
type StreamTranslator struct {
	messageID string
	model     string

	ph          phase
	accumulated string // leak-stripped concatenation of all deltas
	sent        int    // chars of the trimmed text view already emitted

	headerSent  bool
	textStarted bool
	textIndex   int
	nextIndex   int
}

// NewStreamTranslator creates the per-request translator session.
func NewStreamTranslator(messageID, model string) *StreamTranslator {
	return &StreamTranslator{messageID: messageID, model: model}
}

// Push consumes one backend stream chunk and returns the events to emit now.
// An empty delta still guarantees the one-time message_start header.
func (t *StreamTranslator) Push(chunk *wire.StreamChunk) []Event {
	events := t.header()
	if t.ph == phaseFinished {
		return events
	}

	delta := chunk.DeltaText()
	if delta == "" {
		return events
	}
	// Re-strip over the whole accumulation: a leak token split across chunks
	// only becomes recognizable once its tail arrives. The holdback window is
	// sized so no partial token has been released by then.
	t.accumulated = toolcall.StripLeakTokens(t.accumulated + delta)

	if t.ph == phaseSuppressed {
		return events
	}
	t.ph = phaseStreaming

	if idx := toolcall.MarkerIndex(t.accumulated); idx >= 0 {
		// Flush everything before the marker as the final text delta. The
		// text block stays logically closed from here; its stop event waits
		// for Finish so indices stay in emission order.
		final := strings.TrimSpace(t.accumulated[:idx])
		if len(final) > t.sent {
			events = append(events, t.emitText(final[t.sent:])...)
		}
		t.ph = phaseSuppressed
		return events
	}

	// No marker yet: release the safe prefix, additionally withholding any
	// trailing whitespace run so the emitted text matches the extractor's
	// trimmed output exactly.
	safeEnd := len(t.accumulated) - toolcall.HoldbackLen
	for safeEnd > 0 && isSpace(t.accumulated[safeEnd-1]) {
		safeEnd--
	}
	if safeEnd <= 0 {
		return events
	}
	text := strings.TrimLeft(t.accumulated[:safeEnd], " \t\r\n")
	if len(text) > t.sent {
		events = append(events, t.emitText(text[t.sent:])...)
	}
	return events
}

// Finish extracts tool calls from the full accumulated text and emits the
// closing event sequence: trailing text, text block stop, one block triple
// per tool call, message_delta with the stop reason, message_stop.
func (t *StreamTranslator) Finish() []Event {
	events := t.header()
	if t.ph == phaseFinished {
		return events
	}

	res := toolcall.Extract(t.accumulated)

	if t.ph != phaseSuppressed && len(res.Text) > t.sent {
		events = append(events, t.emitText(res.Text[t.sent:])...)
	}
	if t.textStarted {
		events = append(events, Event{
			Name: wire.EventContentBlockStop,
			Data: wire.ContentBlockStopEvent{Type: wire.EventContentBlockStop, Index: t.textIndex},
		})
	}

	for _, call := range res.ToolCalls {
		idx := t.nextIndex
		t.nextIndex++
		events = append(events,
			Event{
				Name: wire.EventContentBlockStart,
				Data: wire.ContentBlockStartEvent{
					Type:  wire.EventContentBlockStart,
					Index: idx,
					ContentBlock: wire.ContentBlock{
						Type:  wire.BlockToolUse,
						ID:    NewToolUseID(),
						Name:  call.Name,
						Input: []byte(`{}`),
					},
				},
			},
			Event{
				Name: wire.EventContentBlockDelta,
				Data: wire.ContentBlockDeltaEvent{
					Type:  wire.EventContentBlockDelta,
					Index: idx,
					Delta: wire.BlockDelta{Type: "input_json_delta", PartialJSON: string(MarshalInput(call.Input))},
				},
			},
			Event{
				Name: wire.EventContentBlockStop,
				Data: wire.ContentBlockStopEvent{Type: wire.EventContentBlockStop, Index: idx},
			},
		)
	}

	stopReason := wire.StopEndTurn
	if len(res.ToolCalls) > 0 {
		stopReason = wire.StopToolUse
	}
	events = append(events,
		Event{
			Name: wire.EventMessageDelta,
			Data: wire.MessageDeltaEvent{
				Type:  wire.EventMessageDelta,
				Delta: wire.MessageDelta{StopReason: stopReason},
			},
		},
		Event{
			Name: wire.EventMessageStop,
			Data: wire.MessageStopEvent{Type: wire.EventMessageStop},
		},
	)

	t.ph = phaseFinished
	return events
}

// header returns the one-time message_start event.
func (t *StreamTranslator) header() []Event {
	if t.headerSent {
		return nil
	}
	t.headerSent = true
	return []Event{{
		Name: wire.EventMessageStart,
		Data: wire.MessageStartEvent{
			Type: wire.EventMessageStart,
			Message: wire.StreamHeader{
				ID:      t.messageID,
				Type:    "message",
				Role:    "assistant",
				Content: []wire.ContentBlock{},
				Model:   t.model,
			},
		},
	}}
}

// emitText opens the text block on first use and emits one text delta.
func (t *StreamTranslator) emitText(text string) []Event {
	var events []Event
	if !t.textStarted {
		t.textStarted = true
		t.textIndex = t.nextIndex
		t.nextIndex++
		events = append(events, Event{
			Name: wire.EventContentBlockStart,
			Data: wire.ContentBlockStartEvent{
				Type:         wire.EventContentBlockStart,
				Index:        t.textIndex,
				ContentBlock: wire.ContentBlock{Type: wire.BlockText, Text: ""},
			},
		})
	}
	t.sent += len(text)
	events = append(events, Event{
		Name: wire.EventContentBlockDelta,
		Data: wire.ContentBlockDeltaEvent{
			Type:  wire.EventContentBlockDelta,
			Index: t.textIndex,
			Delta: wire.BlockDelta{Type: "text_delta", Text: text},
		},
	})
	return events
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
