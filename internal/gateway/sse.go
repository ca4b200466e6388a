package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tierleap/tier-gateway/internal/translate"
)

// sseWriter emits translated events in the messages-API SSE framing:
// "event: <name>\ndata: <json>\n\n", flushed per event so fragments reach
// the client in order without buffering.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) writeEvents(events []translate.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", ev.Name, err)
		}
		if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
			return err
		}
		s.flusher.Flush()
	}
	return nil
}
