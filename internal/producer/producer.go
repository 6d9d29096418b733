package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nats-io/nuid"
	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/messaging"
	"github.com/syncteam/project/internal/platform/metrics"
)

// Publisher writes an event to the broker. It returns once the broker has
// stored the event, never waiting for consumers.
type Publisher interface {
	Publish(ctx context.Context, env contracts.Envelope) error
}

// PublishFunc adapts a function to Publisher.
type PublishFunc func(ctx context.Context, env contracts.Envelope) error

func (f PublishFunc) Publish(ctx context.Context, env contracts.Envelope) error {
	return f(ctx, env)
}

// Factory stamps envelopes for one producing service.
type Factory struct {
	Producer         string
	Now              func() time.Time
	NewID            func() string
	NewCorrelationID func() string
}

func NewFactory(producer string) *Factory {
	return &Factory{
		Producer:         producer,
		Now:              func() time.Time { return time.Now().UTC() },
		NewID:            func() string { return uuid.NewString() },
		NewCorrelationID: nuid.Next,
	}
}

// Envelope wraps a payload. An empty correlationID starts a new saga; a
// compensating event passes the forward event's correlation id.
func (f *Factory) Envelope(payload contracts.Payload, actorUserID int64, correlationID string) (contracts.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return contracts.Envelope{}, fmt.Errorf("marshal %s payload: %w", payload.EventType(), err)
	}
	if correlationID == "" {
		correlationID = f.NewCorrelationID()
	}
	return contracts.Envelope{
		EventID:       f.NewID(),
		EventType:     payload.EventType(),
		CorrelationID: correlationID,
		Producer:      f.Producer,
		ActorUserID:   actorUserID,
		PartitionKey:  payload.PartitionKey(),
		OccurredAt:    f.Now(),
		Payload:       body,
	}, nil
}

// Compensation builds the event that undoes forward. Its id is derived from
// the forward event id, so a redelivered forward event yields the same
// compensating event and the broker stores it once.
func (f *Factory) Compensation(payload contracts.Payload, forward contracts.Envelope) (contracts.Envelope, error) {
	env, err := f.Envelope(payload, forward.ActorUserID, forward.CorrelationID)
	if err != nil {
		return contracts.Envelope{}, err
	}
	env.EventID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(forward.EventID+"/"+string(payload.EventType()))).String()
	return env, nil
}

type JetStreamPublisher struct {
	JS       jetstream.JetStream
	Registry *messaging.Registry
	Metrics  *metrics.Pipeline
}

func NewJetStreamPublisher(js jetstream.JetStream, registry *messaging.Registry, m *metrics.Pipeline) *JetStreamPublisher {
	if m == nil {
		m = metrics.Events
	}
	return &JetStreamPublisher{JS: js, Registry: registry, Metrics: m}
}

// Publish routes the envelope to its topic partition. The event id doubles as
// the broker message id, so a retried publish inside the duplicate window is
// stored once.
func (p *JetStreamPublisher) Publish(ctx context.Context, env contracts.Envelope) error {
	topic, err := p.Registry.TopicFor(env.EventType)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, err, "publish")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, err, "marshal envelope")
	}
	if _, err := p.JS.Publish(ctx, topic.SubjectFor(env.PartitionKey), data, jetstream.WithMsgID(env.EventID)); err != nil {
		p.Metrics.EventsPublished.WithLabelValues(topic.Name, "failed").Inc()
		return apperr.Transient(err, "publish "+topic.Name)
	}
	p.Metrics.EventsPublished.WithLabelValues(topic.Name, "ok").Inc()
	return nil
}
