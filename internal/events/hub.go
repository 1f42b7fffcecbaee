// Package events fans out change notifications to server-sent-event
// subscribers and in-process listeners.
package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event types published by the service.
const (
	TypeDealChanged  = "deal.changed"
	TypeDealMoved    = "deal.moved"
	TypeDealDeleted  = "deal.deleted"
	TypeStageChanged = "stage.changed"
	TypeMessage      = "message.changed"
	TypeTask         = "task.changed"
	TypeTaskOverdue  = "task.overdue"
	TypePrefs        = "prefs.changed"
)

// Event is the payload written to subscribers.
type Event struct {
	Type   string    `json:"type"`
	DealID string    `json:"deal_id,omitempty"`
	ID     string    `json:"id,omitempty"`
	At     time.Time `json:"at"`
}

// Recorder receives hub activity. *metrics.Metrics satisfies it.
type Recorder interface {
	ClientConnected()
	ClientDisconnected()
	EventPublished()
}

type nopRecorder struct{}

func (nopRecorder) ClientConnected()    {}
func (nopRecorder) ClientDisconnected() {}
func (nopRecorder) EventPublished()     {}

// Hub is a broadcast point. Slow subscribers miss events instead of
// blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
	rec  Recorder

	keepalive time.Duration
}

// NewHub creates a hub. rec may be nil.
func NewHub(rec Recorder) *Hub {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Hub{
		subs:      make(map[chan []byte]struct{}),
		rec:       rec,
		keepalive: 30 * time.Second,
	}
}

// Subscribe registers a buffered channel for encoded events.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	h.rec.ClientConnected()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		h.rec.ClientDisconnected()
	}
	h.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish stamps and broadcasts an event.
func (h *Hub) Publish(typ, dealID, id string) {
	h.PublishJSON(Event{Type: typ, DealID: dealID, ID: id, At: time.Now().UTC()})
}

// PublishJSON broadcasts any JSON-encodable value.
func (h *Hub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.rec.EventPublished()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// Handler streams events to an HTTP client until it disconnects.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		_, _ = fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
		flusher.Flush()

		keepalive := time.NewTicker(h.keepalive)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
				flusher.Flush()
			}
		}
	}
}
