package consumer

import (
	"context"
	"time"
)

// RetryPolicy bounds in-place retries of transient failures. Retrying in
// place keeps the partition ordered: nothing behind the failing event is
// handled until it succeeds or is dead-lettered.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RequeueDelay is used when the message goes back to the broker.
	RequeueDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		RequeueDelay: 2 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Budget is the worst-case time spent on one event, used to size the
// broker's ack wait.
func (p RetryPolicy) Budget(handlerTimeout time.Duration) time.Duration {
	total := time.Duration(p.MaxAttempts) * handlerTimeout
	for i := 1; i < p.MaxAttempts; i++ {
		total += p.Backoff(i)
	}
	return total
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
