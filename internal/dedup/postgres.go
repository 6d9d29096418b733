package dedup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createProcessedEventsSQL = `
CREATE TABLE IF NOT EXISTS processed_events (
  consumer_group text NOT NULL,
  event_id text NOT NULL,
  processed_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (consumer_group, event_id)
)`

const createProcessedEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS processed_events_processed_at_idx
ON processed_events (processed_at)`

const markProcessedSQL = `
INSERT INTO processed_events (consumer_group, event_id)
VALUES ($1, $2)
ON CONFLICT (consumer_group, event_id) DO NOTHING`

const pruneProcessedSQL = `
DELETE FROM processed_events WHERE processed_at < $1`

// Postgres persists processed ids so redeliveries are caught across restarts
// and across every process of a group.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, createProcessedEventsSQL); err != nil {
		return err
	}
	_, err := p.Pool.Exec(ctx, createProcessedEventsIndexSQL)
	return err
}

func (p *Postgres) Seen(ctx context.Context, group, eventID string) (bool, error) {
	var exists bool
	err := p.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer_group = $1 AND event_id = $2)`,
		group, eventID,
	).Scan(&exists)
	return exists, err
}

func (p *Postgres) Mark(ctx context.Context, group, eventID string) error {
	_, err := p.Pool.Exec(ctx, markProcessedSQL, group, eventID)
	return err
}

// Prune drops ids older than the retention; the broker's redelivery horizon
// is far shorter than any sensible retention.
func (p *Postgres) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.Pool.Exec(ctx, pruneProcessedSQL, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
