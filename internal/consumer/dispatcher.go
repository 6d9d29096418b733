package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/dedup"
	"github.com/syncteam/project/internal/messaging"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/platform/metrics"
)

// Dead-letter reasons.
const (
	ReasonDecode         = "decode"
	ReasonUnexpectedType = "unexpected_type"
	ReasonPermanent      = "permanent"
	ReasonExhausted      = "exhausted"
)

const DefaultHandlerTimeout = 10 * time.Second

// Dispatcher runs one subscription's handler against deliveries from any of
// the topic's partitions. Process is safe for concurrent use across
// partitions; within a partition the caller must not overlap calls.
type Dispatcher struct {
	Group          string
	Topic          messaging.Topic
	Handler        Handler
	Guard          dedup.Guard
	DeadLetter     DeadLetter
	Retry          RetryPolicy
	HandlerTimeout time.Duration
	Log            *logger.Logger
	Metrics        *metrics.Pipeline
}

func NewDispatcher(sub Subscription, topic messaging.Topic, guard dedup.Guard, deadLetter DeadLetter, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		Group:          sub.Group,
		Topic:          topic,
		Handler:        sub.Handler,
		Guard:          guard,
		DeadLetter:     deadLetter,
		Retry:          DefaultRetryPolicy(),
		HandlerTimeout: DefaultHandlerTimeout,
		Log:            log.With("group", sub.Group, "topic", topic.Name),
		Metrics:        metrics.Events,
	}
}

// Process handles one delivery to completion and returns the outcome. The
// delivery is acknowledged only after the handler committed or the event was
// parked in the dead-letter stream; otherwise it is handed back to the broker.
func (d *Dispatcher) Process(ctx context.Context, msg Delivery) string {
	env, err := contracts.DecodeEnvelope(msg.Data())
	if err != nil {
		return d.park(ctx, msg, contracts.Envelope{}, 0, ReasonDecode, err)
	}
	if env.EventType != d.Topic.EventType {
		return d.park(ctx, msg, env, 0, ReasonUnexpectedType,
			fmt.Errorf("topic %s carries %s, got %s", d.Topic.Name, d.Topic.EventType, env.EventType))
	}
	log := d.Log.With("event_id", env.EventID, "correlation_id", env.CorrelationID, "subject", msg.Subject())

	if d.Guard != nil {
		seen, err := d.Guard.Seen(ctx, d.Group, env.EventID)
		if err != nil {
			log.Warn("dedup lookup failed", "error", err)
		}
		if seen {
			d.ack(msg, log)
			d.count(metrics.OutcomeDuplicate)
			log.Debug("skipping already processed event")
			return metrics.OutcomeDuplicate
		}
	}

	for attempt := 1; ; attempt++ {
		err := d.attempt(ctx, env)
		if err == nil {
			if d.Guard != nil {
				if err := d.Guard.Mark(ctx, d.Group, env.EventID); err != nil {
					log.Warn("dedup mark failed", "error", err)
				}
			}
			d.ack(msg, log)
			d.count(metrics.OutcomeProcessed)
			return metrics.OutcomeProcessed
		}
		if ctx.Err() != nil {
			return d.requeue(msg, log, err)
		}
		if !apperr.Retryable(err) {
			return d.park(ctx, msg, env, attempt, ReasonPermanent, err)
		}
		if attempt >= d.Retry.MaxAttempts {
			return d.park(ctx, msg, env, attempt, ReasonExhausted, err)
		}

		wait := d.Retry.Backoff(attempt)
		d.count(metrics.OutcomeRetried)
		log.Warn("handler failed, retrying", "attempt", attempt, "backoff", wait, "kind", apperr.KindOf(err), "error", err)
		if err := msg.InProgress(); err != nil {
			log.Debug("in-progress signal failed", "error", err)
		}
		if !sleep(ctx, wait) {
			return d.requeue(msg, log, err)
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, env contracts.Envelope) (err error) {
	timeout := d.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindUnknown, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	err = d.Handler(hctx, env)
	if err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return apperr.Transient(err, fmt.Sprintf("handler exceeded %s", timeout))
	}
	return err
}

func (d *Dispatcher) park(ctx context.Context, msg Delivery, env contracts.Envelope, attempts int, reason string, cause error) string {
	log := d.Log.With("event_id", env.EventID, "subject", msg.Subject(), "reason", reason)
	letter := Letter{
		Group:    d.Group,
		Topic:    d.Topic.Name,
		Subject:  msg.Subject(),
		EventID:  env.EventID,
		Reason:   reason,
		Error:    cause.Error(),
		Attempts: attempts,
		Data:     msg.Data(),
	}
	if d.DeadLetter == nil {
		return d.requeue(msg, log, errors.New("no dead-letter sink configured"))
	}
	// Parking must outlive a shutdown that is already underway.
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.DeadLetter.Park(parkCtx, letter); err != nil {
		log.Error("dead-letter publish failed", "error", err, "cause", cause)
		return d.requeue(msg, log, err)
	}
	d.ack(msg, log)
	d.count(metrics.OutcomeDeadLettered)
	d.Metrics.EventsDeadLettered.WithLabelValues(d.Group, d.Topic.Name, reason).Inc()
	log.Error("event dead-lettered", "attempts", attempts, "kind", apperr.KindOf(cause), "error", cause)
	return metrics.OutcomeDeadLettered
}

func (d *Dispatcher) requeue(msg Delivery, log *logger.Logger, cause error) string {
	delay := d.Retry.RequeueDelay
	if err := msg.NakWithDelay(delay); err != nil {
		log.Warn("nak failed, broker will redeliver after ack wait", "error", err)
	}
	d.count(metrics.OutcomeRequeued)
	log.Warn("event handed back to broker", "delay", delay, "error", cause)
	return metrics.OutcomeRequeued
}

func (d *Dispatcher) ack(msg Delivery, log *logger.Logger) {
	if err := msg.Ack(); err != nil {
		log.Warn("ack failed", "error", err)
	}
}

func (d *Dispatcher) count(outcome string) {
	d.Metrics.EventsConsumed.WithLabelValues(d.Group, d.Topic.Name, outcome).Inc()
}
