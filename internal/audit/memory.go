package audit

import (
	"context"
	"sync"
)

// Memory is an in-process [Log].
type Memory struct {
	mu     sync.Mutex
	events []Event
}

var _ Log = (*Memory)(nil)

// NewMemory returns an empty journal.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e = stamp(e)
	e.Seq = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return e, nil
}

func (m *Memory) History(_ context.Context, chunkID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Involves(chunkID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = len(m.events)
	}
	start := max(0, len(m.events)-limit)
	return append([]Event(nil), m.events[start:]...), nil
}

func (m *Memory) Close() error { return nil }
