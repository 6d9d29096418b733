package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syncteam/project/internal/dedup"
	"github.com/syncteam/project/internal/messaging"
	"github.com/syncteam/project/internal/platform/logger"
)

const DefaultFetchMaxWait = 2 * time.Second

// ConsumerName is the durable name of one group's consumer on one partition.
func ConsumerName(group, topic string, partition int) string {
	return fmt.Sprintf("%s-%s-p%d", group, topic, partition)
}

// JetStreamSource pulls from a durable consumer bound to one partition
// subject.
type JetStreamSource struct {
	Consumer jetstream.Consumer
	MaxWait  time.Duration
}

func (s *JetStreamSource) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := s.Consumer.Fetch(max, jetstream.FetchMaxWait(s.MaxWait))
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, max)
	for msg := range batch.Messages() {
		out = append(out, msg)
	}
	if err := batch.Error(); err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

// AddJetStreamWorkers creates (or updates) the durable consumers of one
// subscription for the given partitions and adds a worker for each.
// Partitions outside the topic's range are ignored.
func AddJetStreamWorkers(ctx context.Context, pool *Pool, js jetstream.JetStream, d *Dispatcher, partitions []int) error {
	ackWait := d.Retry.Budget(d.HandlerTimeout) + 30*time.Second
	for _, partition := range partitions {
		if partition < 0 || partition >= d.Topic.Partitions {
			continue
		}
		name := ConsumerName(d.Group, d.Topic.Name, partition)
		cons, err := js.CreateOrUpdateConsumer(ctx, messaging.EventsStream, jetstream.ConsumerConfig{
			Durable:       name,
			FilterSubject: d.Topic.Subject(partition),
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckWait:       ackWait,
			// One outstanding message keeps the partition ordered even when
			// an event is handed back for redelivery.
			MaxAckPending: 1,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", name, err)
		}
		pool.Add(Worker{
			Partition:  partition,
			Source:     &JetStreamSource{Consumer: cons, MaxWait: DefaultFetchMaxWait},
			Dispatcher: d,
		})
	}
	return nil
}

// Options tune every dispatcher built by Mount. Zero values keep the defaults.
type Options struct {
	HandlerTimeout time.Duration
	Retry          RetryPolicy
}

// Mount builds a dispatcher per subscription and adds its partition workers
// to the pool.
func Mount(ctx context.Context, pool *Pool, js jetstream.JetStream, registry *messaging.Registry, guard dedup.Guard, deadLetter DeadLetter, subs []Subscription, partitions []int, opts Options, log *logger.Logger) error {
	for _, sub := range subs {
		topic, err := registry.Topic(sub.Topic)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", sub.Group, err)
		}
		d := NewDispatcher(sub, topic, guard, deadLetter, log)
		if opts.HandlerTimeout > 0 {
			d.HandlerTimeout = opts.HandlerTimeout
		}
		if opts.Retry.MaxAttempts > 0 {
			d.Retry = opts.Retry
		}
		if err := AddJetStreamWorkers(ctx, pool, js, d, partitions); err != nil {
			return err
		}
		log.Info("consumer group mounted", "group", sub.Group, "topic", topic.Name, "partitions", len(partitions))
	}
	return nil
}
