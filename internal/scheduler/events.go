package scheduler

import (
	"sync"
	"time"
)

// Event describes one chunk status change or structural edit, as streamed
// to API clients.
type Event struct {
	ChunkID string    `json:"chunk_id"`
	Ordinal int       `json:"ordinal,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Op      string    `json:"op,omitempty"`
	Verdict string    `json:"verdict,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Related []string  `json:"related,omitempty"`
	At      time.Time `json:"at"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than stalling the coordinator.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber with a buffer of size events. The
// returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(size int) (<-chan Event, func()) {
	ch := make(chan Event, max(size, 1))
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room for it.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
