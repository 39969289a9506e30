package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder appends events to a [Log] from a background goroutine. Record
// never blocks: when the queue is full the event is dropped and logged.
type Recorder struct {
	log   Log
	queue chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts a recorder with room for size queued events.
func NewRecorder(log Log, size int) *Recorder {
	if size <= 0 {
		size = 1024
	}
	r := &Recorder{
		log:   log,
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Log returns the journal behind the recorder.
func (r *Recorder) Log() Log { return r.log }

// Record queues e. The event's time is taken now, not when it is written.
func (r *Recorder) Record(e Event) {
	e = stamp(e)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		slog.Warn("audit queue full, dropping event", "kind", e.Kind, "chunk_id", e.ChunkID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := r.log.Append(ctx, e); err != nil {
			slog.Warn("audit append failed", "kind", e.Kind, "chunk_id", e.ChunkID, "err", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queue is written or ctx
// ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
