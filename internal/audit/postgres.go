package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS chunk_events (
    seq       BIGSERIAL    PRIMARY KEY,
    at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    kind      TEXT         NOT NULL,
    chunk_id  TEXT         NOT NULL DEFAULT '',
    from_status TEXT       NOT NULL DEFAULT '',
    to_status   TEXT       NOT NULL DEFAULT '',
    op        TEXT         NOT NULL DEFAULT '',
    detail    TEXT         NOT NULL DEFAULT '',
    actor     TEXT         NOT NULL DEFAULT '',
    reason    TEXT         NOT NULL DEFAULT '',
    related   TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_chunk_events_chunk_id ON chunk_events (chunk_id);
CREATE INDEX IF NOT EXISTS idx_chunk_events_related ON chunk_events USING GIN (related);
`

const pgColumns = `seq, at, kind, chunk_id, from_status, to_status, op, detail, actor, reason, related`

// Postgres is a [Log] stored in a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Log = (*Postgres)(nil)

// NewPostgres connects to dsn and creates the journal table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Append(ctx context.Context, e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e = stamp(e)
	related := e.Related
	if related == nil {
		related = []string{}
	}
	const q = `INSERT INTO chunk_events
        (at, kind, chunk_id, from_status, to_status, op, detail, actor, reason, related)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING seq`
	err := p.pool.QueryRow(ctx, q,
		e.At, string(e.Kind), e.ChunkID, e.From, e.To, e.Op, e.Detail, e.Actor, e.Reason, related,
	).Scan(&e.Seq)
	if err != nil {
		return Event{}, fmt.Errorf("audit postgres: append: %w", err)
	}
	return e, nil
}

func (p *Postgres) History(ctx context.Context, chunkID string) ([]Event, error) {
	q := `SELECT ` + pgColumns + ` FROM chunk_events
        WHERE chunk_id = $1 OR $1 = ANY(related)
        ORDER BY seq`
	rows, err := p.pool.Query(ctx, q, chunkID)
	if err != nil {
		return nil, fmt.Errorf("audit postgres: history: %w", err)
	}
	return collectEvents(rows)
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	q := `SELECT * FROM (SELECT ` + pgColumns + ` FROM chunk_events ORDER BY seq DESC LIMIT $1) t ORDER BY seq`
	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit postgres: recent: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e    Event
			kind string
		)
		err := row.Scan(&e.Seq, &e.At, &kind, &e.ChunkID, &e.From, &e.To, &e.Op, &e.Detail, &e.Actor, &e.Reason, &e.Related)
		e.Kind = Kind(kind)
		if len(e.Related) == 0 {
			e.Related = nil
		}
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("audit postgres: scan: %w", err)
	}
	return events, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
