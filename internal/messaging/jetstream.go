package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	EventsStream     = "EVENTS"
	DeadLetterStream = "DEADLETTER"
)

// DuplicateWindow bounds how long the broker remembers Nats-Msg-Id headers,
// which collapses producer retries of the same event id.
const DuplicateWindow = 10 * time.Minute

// EnsureStreams creates (or updates) the two streams required by the services:
// - events.>      partitioned domain events
// - deadletter.>  events a consumer group gave up on
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventsStream,
		Subjects:   []string{eventSubjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Replicas:   1,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: DuplicateWindow,
	}); err != nil {
		return fmt.Errorf("ensure %s stream: %w", EventsStream, err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      DeadLetterStream,
		Subjects:  []string{deadLetterSubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
		MaxAge:    30 * 24 * time.Hour,
	}); err != nil {
		return fmt.Errorf("ensure %s stream: %w", DeadLetterStream, err)
	}
	return nil
}
