// Package audit keeps the append-only journal of everything that happened
// to a book's chunks: lifecycle transitions, structural edits made by the
// auto-fix loop or a user, and assembly overrides.
//
// Three backends implement [Log]: [Memory] (the default, lost on exit),
// [Postgres] and [SQLite]. [Open] picks one by driver name. [Recorder] puts
// an asynchronous queue in front of a Log so the scheduler's coordinator and
// playlist callbacks never wait on a database.
package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Kind classifies an [Event].
type Kind string

const (
	KindTransition Kind = "transition"
	KindSplit      Kind = "split"
	KindMerge      Kind = "merge"
	KindEdit       Kind = "edit"
	KindOverride   Kind = "assembly_override"
)

// Event is one journal entry.
type Event struct {
	// Seq is assigned by the backend on append and increases monotonically.
	Seq int64     `json:"seq"`
	At  time.Time `json:"at"`

	Kind    Kind   `json:"kind"`
	ChunkID string `json:"chunk_id,omitempty"`

	// From and To are chunk status names for transitions.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// Op is the playlist operation or auto-fix action that caused the event.
	Op     string `json:"op,omitempty"`
	Detail string `json:"detail,omitempty"`

	// Actor and Reason are mandatory for overrides.
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Related lists other chunk ids involved, such as the parts of a split.
	Related []string `json:"related,omitempty"`
}

// Involves reports whether the event concerns chunk id.
func (e Event) Involves(id string) bool {
	return e.ChunkID == id || slices.Contains(e.Related, id)
}

// Validate checks the fields a backend relies on.
func (e Event) Validate() error {
	if e.Kind == "" {
		return errors.New("audit: event kind is empty")
	}
	if e.Kind == KindOverride && (e.Actor == "" || e.Reason == "") {
		return errors.New("audit: override requires actor and reason")
	}
	return nil
}

// Log is an append-only journal.
type Log interface {
	// Append stores e, stamping At when zero, and returns the stored event.
	Append(ctx context.Context, e Event) (Event, error)

	// History returns every event involving chunkID in append order.
	History(ctx context.Context, chunkID string) ([]Event, error)

	// Recent returns up to limit of the newest events, oldest first.
	Recent(ctx context.Context, limit int) ([]Event, error)

	Close() error
}

// Open returns the backend registered under driver. An empty driver means
// "memory".
func Open(ctx context.Context, driver, dsn string) (Log, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, dsn)
	case "sqlite":
		return NewSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", driver)
	}
}

func stamp(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
