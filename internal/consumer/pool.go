package consumer

import (
	"context"
	"time"

	"github.com/syncteam/project/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

// Source yields the next deliveries of one partition in broker order.
type Source interface {
	Fetch(ctx context.Context, max int) ([]Delivery, error)
}

// Worker pairs one partition's source with the dispatcher of its
// subscription.
type Worker struct {
	Partition  int
	Source     Source
	Dispatcher *Dispatcher
}

const DefaultDrainTimeout = 15 * time.Second

// Pool runs one goroutine per worker. A worker handles its partition
// serially, so events sharing a partition key are applied in publish order
// while unrelated partitions proceed in parallel.
type Pool struct {
	Workers      []Worker
	BatchSize    int
	DrainTimeout time.Duration
	ErrorBackoff time.Duration
	Log          *logger.Logger
}

func NewPool(log *logger.Logger) *Pool {
	return &Pool{
		BatchSize:    1,
		DrainTimeout: DefaultDrainTimeout,
		ErrorBackoff: time.Second,
		Log:          log.With("component", "consumer-pool"),
	}
}

func (p *Pool) Add(w Worker) {
	p.Workers = append(p.Workers, w)
}

// Run blocks until ctx is cancelled and every worker has drained. On
// cancellation no new deliveries are fetched; an in-flight handler keeps a
// live context for up to DrainTimeout, after which it is cancelled and its
// message handed back to the broker.
func (p *Pool) Run(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(p.DrainTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-procCtx.Done():
		}
	})
	defer stop()

	p.Log.Info("consumer pool started", "workers", len(p.Workers))
	var g errgroup.Group
	for _, w := range p.Workers {
		w := w
		g.Go(func() error {
			p.runWorker(ctx, procCtx, w)
			return nil
		})
	}
	err := g.Wait()
	p.Log.Info("consumer pool drained")
	return err
}

func (p *Pool) runWorker(ctx, procCtx context.Context, w Worker) {
	log := p.Log.With("group", w.Dispatcher.Group, "topic", w.Dispatcher.Topic.Name, "partition", w.Partition)
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	for ctx.Err() == nil {
		batch, err := w.Source.Fetch(ctx, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("fetch failed", "error", err)
			if !sleep(ctx, p.ErrorBackoff) {
				return
			}
			continue
		}
		for i, msg := range batch {
			if ctx.Err() != nil {
				p.release(batch[i:], log)
				return
			}
			w.Dispatcher.Process(procCtx, msg)
		}
	}
}

// release returns fetched but unprocessed deliveries to the broker.
func (p *Pool) release(pending []Delivery, log *logger.Logger) {
	for _, msg := range pending {
		if err := msg.NakWithDelay(0); err != nil {
			log.Warn("nak on drain failed", "subject", msg.Subject(), "error", err)
		}
	}
}
