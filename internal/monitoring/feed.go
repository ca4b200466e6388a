// Package monitoring - feed.go streams routing decisions over a websocket.
//
// DESIGN: a small broadcast hub. Each /events subscriber gets a buffered
// channel; slow subscribers drop events rather than blocking the request
// path.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const feedBuffer = 16

// Feed broadcasts JSON events to connected websocket subscribers.
type Feed struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan []byte]struct{})}
}

// Publish sends the event to all subscribers. Never blocks; a subscriber
// with a full buffer misses the event.
func (f *Feed) Publish(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("feed: marshal event")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) subscribe() chan []byte {
	ch := make(chan []byte, feedBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("feed: websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ch := f.subscribe()
	defer f.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
