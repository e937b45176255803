package server

import (
	"log/slog"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/nunoalves/firecentral/internal/model"
)

// bus fans the current data store out to connected event-stream clients.
// Every mutating command publishes the full post-mutation state, so clients
// resynchronize by replacing their copy rather than patching it.
type bus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan []byte
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan []byte)}
}

// subscribe registers a client channel. The returned cancel func must be
// called when the client disconnects.
func (b *bus) subscribe() (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan []byte, 8)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// publish sends the data store to every subscriber. Slow clients whose
// buffer is full miss the frame; the next mutation carries the full state
// again, so a drop never leaves them permanently stale.
func (b *bus) publish(data model.DataStore) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("encoding state event failed", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// handleEvents streams state events over Server-Sent Events.
//
// @Summary     Subscribe to state change events
// @Description Server-Sent Events stream. Each "state" event carries the full data store as JSON, emitted after every mutating command and once on connect.
// @Tags        events
// @Produce     text/event-stream
// @Success     200  {string}  string  "SSE stream"
// @Router      /events [get]
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.bus.subscribe()
	defer cancel()

	writeFrame := func(payload []byte) bool {
		if _, err := w.Write([]byte("event: state\ndata: ")); err != nil {
			return false
		}
		if _, err := w.Write(payload); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Initial frame so a fresh client starts from the current state.
	if initial, err := json.Marshal(s.store.DataStore()); err == nil {
		if !writeFrame(initial) {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			if !writeFrame(payload) {
				return
			}
		}
	}
}
