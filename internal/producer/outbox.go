package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syncteam/project/internal/contracts"
)

const createOutboxSQL = `
CREATE TABLE IF NOT EXISTS event_outbox (
  id bigserial PRIMARY KEY,
  producer text NOT NULL,
  event_id text NOT NULL UNIQUE,
  event_type text NOT NULL,
  partition_key text NOT NULL,
  envelope jsonb NOT NULL,
  attempts integer NOT NULL DEFAULT 0,
  last_error text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now(),
  published_at timestamptz
)`

const createOutboxPendingIndexSQL = `
CREATE INDEX IF NOT EXISTS event_outbox_pending_idx
ON event_outbox (producer, id) WHERE published_at IS NULL`

const insertOutboxSQL = `
INSERT INTO event_outbox (producer, event_id, event_type, partition_key, envelope)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id) DO NOTHING`

const selectPendingSQL = `
SELECT id, envelope, attempts
FROM event_outbox
WHERE producer = $1 AND published_at IS NULL
ORDER BY id
LIMIT $2
FOR UPDATE`

const markPublishedSQL = `
UPDATE event_outbox SET published_at = now() WHERE id = $1`

const markFailedSQL = `
UPDATE event_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`

// OutboxRow is one stored, not yet published event.
type OutboxRow struct {
	ID       int64
	Envelope contracts.Envelope
	Attempts int
}

// Outbox stores events in the same transaction as the state change they
// describe, so a commit can never lose its event.
type Outbox struct {
	Pool     *pgxpool.Pool
	Producer string
}

func NewOutbox(pool *pgxpool.Pool, producer string) *Outbox {
	return &Outbox{Pool: pool, Producer: producer}
}

func (o *Outbox) EnsureSchema(ctx context.Context) error {
	if _, err := o.Pool.Exec(ctx, createOutboxSQL); err != nil {
		return err
	}
	_, err := o.Pool.Exec(ctx, createOutboxPendingIndexSQL)
	return err
}

// Enqueue must be called with the caller's open transaction.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, env contracts.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}
	_, err = tx.Exec(ctx, insertOutboxSQL, o.Producer, env.EventID, string(env.EventType), env.PartitionKey, data)
	return err
}

// PublishPending hands unpublished rows to publish in insertion order. It
// stops at the first failure so later events for the same key never overtake
// an earlier one. A transaction-scoped advisory lock keeps a single relay per
// producer active at a time.
func (o *Outbox) PublishPending(ctx context.Context, limit int, publish func(context.Context, OutboxRow) error) (int, error) {
	tx, err := o.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, o.lockKey()).Scan(&locked); err != nil {
		return 0, err
	}
	if !locked {
		return 0, nil
	}

	rows, err := tx.Query(ctx, selectPendingSQL, o.Producer, limit)
	if err != nil {
		return 0, err
	}
	pending := make([]OutboxRow, 0, limit)
	for rows.Next() {
		var (
			row OutboxRow
			raw []byte
		)
		if err := rows.Scan(&row.ID, &raw, &row.Attempts); err != nil {
			rows.Close()
			return 0, err
		}
		if err := json.Unmarshal(raw, &row.Envelope); err != nil {
			rows.Close()
			return 0, fmt.Errorf("decode outbox row %d: %w", row.ID, err)
		}
		pending = append(pending, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	published := 0
	var publishErr error
	for _, row := range pending {
		if publishErr = publish(ctx, row); publishErr != nil {
			if _, err := tx.Exec(ctx, markFailedSQL, row.ID, publishErr.Error()); err != nil {
				return published, err
			}
			break
		}
		if _, err := tx.Exec(ctx, markPublishedSQL, row.ID); err != nil {
			return published, err
		}
		published++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return published, publishErr
}

func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := o.Pool.QueryRow(ctx,
		`SELECT count(*) FROM event_outbox WHERE producer = $1 AND published_at IS NULL`,
		o.Producer,
	).Scan(&n)
	return n, err
}

func (o *Outbox) lockKey() int64 {
	return int64(crc32.ChecksumIEEE([]byte("event_outbox:" + o.Producer)))
}
