package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/logger"
)

// chanSource serves queued deliveries one fetch at a time and blocks when
// empty, like a pull consumer waiting for new messages.
type chanSource struct {
	ch chan []Delivery
}

func newChanSource(batches ...[]Delivery) *chanSource {
	s := &chanSource{ch: make(chan []Delivery, len(batches))}
	for _, b := range batches {
		s.ch <- b
	}
	return s
}

func (s *chanSource) Fetch(ctx context.Context, _ int) ([]Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b := <-s.ch:
		return b, nil
	}
}

func runPool(t *testing.T, p *Pool) (cancel func(), wait func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return cancelCtx, func() {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("pool returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pool did not drain")
		}
	}
}

func TestPool_OrdersPerKeyAndIsolatesPartitions(t *testing.T) {
	var (
		mu      sync.Mutex
		applied = map[int64][]string{}
		wg      sync.WaitGroup
	)
	fastDone := make(chan struct{})
	wg.Add(5)
	handler := Typed(func(_ context.Context, env contracts.Envelope, p contracts.TaskUpdateEvent) error {
		defer wg.Done()
		if p.TaskID == 1 && p.Title == "a1" {
			// The first event of key 1 is slow; key 2 must not wait for it.
			<-fastDone
		}
		mu.Lock()
		applied[p.TaskID] = append(applied[p.TaskID], p.Title)
		n := len(applied[2])
		mu.Unlock()
		if p.TaskID == 2 && n == 2 {
			close(fastDone)
		}
		return nil
	})
	d := newTestDispatcher(handler, &fakeDeadLetter{})

	slow := newChanSource(
		[]Delivery{taskUpdate(t, "e1", 1, "a1")},
		[]Delivery{taskUpdate(t, "e2", 1, "a2")},
		[]Delivery{taskUpdate(t, "e3", 1, "a3")},
	)
	fast := newChanSource(
		[]Delivery{taskUpdate(t, "f1", 2, "b1")},
		[]Delivery{taskUpdate(t, "f2", 2, "b2")},
	)
	pool := NewPool(logger.Nop())
	pool.Add(Worker{Partition: 0, Source: slow, Dispatcher: d})
	pool.Add(Worker{Partition: 1, Source: fast, Dispatcher: d})

	cancel, wait := runPool(t, pool)
	wg.Wait()
	cancel()
	wait()

	if got := applied[1]; len(got) != 3 || got[0] != "a1" || got[1] != "a2" || got[2] != "a3" {
		t.Fatalf("key 1 applied out of order: %v", got)
	}
	if got := applied[2]; len(got) != 2 || got[0] != "b1" || got[1] != "b2" {
		t.Fatalf("key 2 applied out of order: %v", got)
	}
}

func TestPool_DrainFinishesInFlightAndReleasesRest(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	d := newTestDispatcher(func(ctx context.Context, env contracts.Envelope) error {
		if env.EventID == "in-flight" {
			close(started)
			<-finish
		}
		return nil
	}, &fakeDeadLetter{})

	inFlight := taskUpdate(t, "in-flight", 1, "x")
	queued := taskUpdate(t, "queued", 1, "y")
	pool := NewPool(logger.Nop())
	pool.BatchSize = 2
	pool.Add(Worker{Partition: 0, Source: newChanSource([]Delivery{inFlight, queued}), Dispatcher: d})

	cancel, wait := runPool(t, pool)
	<-started
	cancel()
	close(finish)
	wait()

	if acks, naks := inFlight.counts(); acks != 1 || naks != 0 {
		t.Fatalf("in-flight event must complete, got acks=%d naks=%d", acks, naks)
	}
	if acks, naks := queued.counts(); acks != 0 || naks != 1 {
		t.Fatalf("unprocessed event must be released, got acks=%d naks=%d", acks, naks)
	}
}

func TestPool_DrainTimeoutAbortsHandler(t *testing.T) {
	started := make(chan struct{})
	d := newTestDispatcher(func(ctx context.Context, _ contracts.Envelope) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, &fakeDeadLetter{})

	msg := taskUpdate(t, "stuck", 1, "x")
	pool := NewPool(logger.Nop())
	pool.DrainTimeout = 10 * time.Millisecond
	pool.Add(Worker{Partition: 0, Source: newChanSource([]Delivery{msg}), Dispatcher: d})

	cancel, wait := runPool(t, pool)
	<-started
	cancel()
	wait()

	if acks, naks := msg.counts(); acks != 0 || naks != 1 {
		t.Fatalf("aborted event must be handed back, got acks=%d naks=%d", acks, naks)
	}
}
