package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS chunk_events (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    at          TEXT NOT NULL,
    kind        TEXT NOT NULL,
    chunk_id    TEXT NOT NULL DEFAULT '',
    from_status TEXT NOT NULL DEFAULT '',
    to_status   TEXT NOT NULL DEFAULT '',
    op          TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    related     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_chunk_events_chunk_id ON chunk_events (chunk_id);
`

const sqliteColumns = `seq, at, kind, chunk_id, from_status, to_status, op, detail, actor, reason, related`

// SQLite is a [Log] stored in a single-file SQLite database next to the
// book's takes.
type SQLite struct {
	db *sql.DB
}

var _ Log = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("audit sqlite: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit sqlite: create directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: open: %w", err)
	}
	// One writer keeps AUTOINCREMENT order identical to append order.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, ddlSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e = stamp(e)
	related, err := json.Marshal(nonNil(e.Related))
	if err != nil {
		return Event{}, fmt.Errorf("audit sqlite: encode related: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO chunk_events
        (at, kind, chunk_id, from_status, to_status, op, detail, actor, reason, related)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.Format(time.RFC3339Nano), string(e.Kind), e.ChunkID, e.From, e.To, e.Op, e.Detail, e.Actor, e.Reason, string(related),
	)
	if err != nil {
		return Event{}, fmt.Errorf("audit sqlite: append: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return Event{}, fmt.Errorf("audit sqlite: last insert id: %w", err)
	}
	return e, nil
}

func (s *SQLite) History(ctx context.Context, chunkID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM chunk_events
        WHERE chunk_id = ? OR EXISTS (SELECT 1 FROM json_each(chunk_events.related) WHERE value = ?)
        ORDER BY seq`, chunkID, chunkID)
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: history: %w", err)
	}
	return scanSQLite(rows)
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM (SELECT `+sqliteColumns+` FROM chunk_events
        ORDER BY seq DESC LIMIT ?) ORDER BY seq`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: recent: %w", err)
	}
	return scanSQLite(rows)
}

func scanSQLite(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e             Event
			at, kind, rel string
		)
		if err := rows.Scan(&e.Seq, &at, &kind, &e.ChunkID, &e.From, &e.To, &e.Op, &e.Detail, &e.Actor, &e.Reason, &rel); err != nil {
			return nil, fmt.Errorf("audit sqlite: scan: %w", err)
		}
		e.Kind = Kind(kind)
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("audit sqlite: parse time %q: %w", at, err)
		}
		e.At = t
		if err := json.Unmarshal([]byte(rel), &e.Related); err != nil {
			return nil, fmt.Errorf("audit sqlite: decode related: %w", err)
		}
		if len(e.Related) == 0 {
			e.Related = nil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
