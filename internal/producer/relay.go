package producer

import (
	"context"
	"time"

	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/platform/metrics"
)

type RelayStore interface {
	PublishPending(ctx context.Context, limit int, publish func(context.Context, OutboxRow) error) (int, error)
	Pending(ctx context.Context) (int64, error)
}

// Relay drains the outbox to the broker until its context is cancelled.
type Relay struct {
	Store     RelayStore
	Publisher Publisher
	Producer  string
	Interval  time.Duration
	BatchSize int
	Log       *logger.Logger
	Metrics   *metrics.Pipeline
}

func NewRelay(store RelayStore, publisher Publisher, producer string, log *logger.Logger) *Relay {
	return &Relay{
		Store:     store,
		Publisher: publisher,
		Producer:  producer,
		Interval:  250 * time.Millisecond,
		BatchSize: 100,
		Log:       log.With("component", "outbox-relay"),
		Metrics:   metrics.Events,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		r.Flush(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes full batches until the outbox is drained or a publish
// fails. Failed rows stay pending and are retried on the next tick.
func (r *Relay) Flush(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := r.Store.PublishPending(ctx, r.BatchSize, func(ctx context.Context, row OutboxRow) error {
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return r.Publisher.Publish(pubCtx, row.Envelope)
		})
		total += n
		if err != nil {
			if ctx.Err() == nil {
				r.Log.Warn("outbox publish failed", "error", err, "published", n)
			}
			break
		}
		if n < r.BatchSize {
			break
		}
	}
	if pending, err := r.Store.Pending(ctx); err == nil {
		r.Metrics.OutboxPending.Set(float64(pending), r.Producer)
	}
	return total
}
