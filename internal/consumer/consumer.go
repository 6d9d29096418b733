// Package consumer delivers events from a topic to a consumer group's
// handler: one serial worker per partition, bounded retry for transient
// failures, and a dead-letter stream for everything that cannot be applied.
package consumer

import (
	"context"
	"time"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/contracts"
)

// Delivery is one broker message awaiting acknowledgement. jetstream.Msg
// satisfies it.
type Delivery interface {
	Subject() string
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
	InProgress() error
}

// Handler applies one event to local state. It must commit its local
// transaction before returning nil.
type Handler func(ctx context.Context, env contracts.Envelope) error

// Typed decodes the payload before calling fn. A payload that does not
// decode is a permanent failure.
func Typed[T contracts.Payload](fn func(ctx context.Context, env contracts.Envelope, payload T) error) Handler {
	return func(ctx context.Context, env contracts.Envelope) error {
		payload, err := contracts.DecodePayload[T](env)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalid, err, "decode payload")
		}
		return fn(ctx, env, payload)
	}
}

// Subscription binds a consumer group to one topic.
type Subscription struct {
	Group   string
	Topic   string
	Handler Handler
}
