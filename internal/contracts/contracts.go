package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// EventType names a payload variant. Each type travels on exactly one topic.
type EventType string

const (
	EventProjectCreate              EventType = "project.create"
	EventProjectDelete              EventType = "project.delete"
	EventProjectUpdate              EventType = "project.update"
	EventTaskCreate                 EventType = "task.create"
	EventTaskDelete                 EventType = "task.delete"
	EventTaskUpdate                 EventType = "task.update"
	EventUserAddToTask              EventType = "task.user.add"
	EventUserAddToProject           EventType = "project.member.add"
	EventRollbackMemberAddToProject EventType = "project.member.add.rollback"
)

// Payload is implemented by every event body.
type Payload interface {
	EventType() EventType
	// PartitionKey routes related events to the same ordered partition.
	PartitionKey() string
}

// Envelope is the wire format for every event. Fields may be added but never
// repurposed; consumers ignore fields they do not know.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Producer      string          `json:"producer"`
	ActorUserID   int64           `json:"actor_user_id,omitempty"`
	PartitionKey  string          `json:"partition_key"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEnvelope)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEnvelope)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidEnvelope)
	}
	return nil
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodePayload unmarshals the envelope body into T and checks that the
// envelope actually carries a T.
func DecodePayload[T Payload](env Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidEnvelope, env.EventType, err)
	}
	if payload.EventType() != env.EventType {
		return payload, fmt.Errorf("%w: envelope type %s does not match payload %s", ErrInvalidEnvelope, env.EventType, payload.EventType())
	}
	return payload, nil
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ProjectCreateEvent announces a new project and its creator, who is the
// project's first manager.
type ProjectCreateEvent struct {
	ProjectID     int64  `json:"project_id"`
	CreatorUserID int64  `json:"creator_user_id"`
	Title         string `json:"title"`
}

func (ProjectCreateEvent) EventType() EventType {
	return EventProjectCreate
}

func (e ProjectCreateEvent) PartitionKey() string {
	return key(e.ProjectID)
}

type ProjectDeleteEvent struct {
	ProjectID int64 `json:"project_id"`
}

func (ProjectDeleteEvent) EventType() EventType {
	return EventProjectDelete
}

func (e ProjectDeleteEvent) PartitionKey() string {
	return key(e.ProjectID)
}

type ProjectUpdateEvent struct {
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

func (ProjectUpdateEvent) EventType() EventType {
	return EventProjectUpdate
}

func (e ProjectUpdateEvent) PartitionKey() string {
	return key(e.ProjectID)
}

type TaskCreateEvent struct {
	ProjectID    int64     `json:"project_id"`
	ParentTaskID *int64    `json:"parent_task_id,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

func (TaskCreateEvent) EventType() EventType {
	return EventTaskCreate
}

func (e TaskCreateEvent) PartitionKey() string {
	return key(e.ProjectID)
}

type TaskDeleteEvent struct {
	TaskID int64 `json:"task_id"`
}

func (TaskDeleteEvent) EventType() EventType {
	return EventTaskDelete
}

func (e TaskDeleteEvent) PartitionKey() string {
	return key(e.TaskID)
}

// TaskUpdateEvent is a full-field replacement; applying it twice is a no-op.
type TaskUpdateEvent struct {
	TaskID      int64     `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

func (TaskUpdateEvent) EventType() EventType {
	return EventTaskUpdate
}

func (e TaskUpdateEvent) PartitionKey() string {
	return key(e.TaskID)
}

type UserAddToTaskEvent struct {
	TaskID  int64   `json:"task_id"`
	UserIDs []int64 `json:"user_ids"`
}

func (UserAddToTaskEvent) EventType() EventType {
	return EventUserAddToTask
}

func (e UserAddToTaskEvent) PartitionKey() string {
	return key(e.TaskID)
}

type UserAddToProjectEvent struct {
	ProjectID int64 `json:"project_id"`
	UserID    int64 `json:"user_id"`
	Manager   bool  `json:"manager,omitempty"`
}

func (UserAddToProjectEvent) EventType() EventType {
	return EventUserAddToProject
}

func (e UserAddToProjectEvent) PartitionKey() string {
	return key(e.ProjectID)
}

// RollbackMemberAddToProjectEvent compensates a UserAddToProjectEvent. It
// shares the forward event's partition key.
type RollbackMemberAddToProjectEvent struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}

func (RollbackMemberAddToProjectEvent) EventType() EventType {
	return EventRollbackMemberAddToProject
}

func (e RollbackMemberAddToProjectEvent) PartitionKey() string {
	return key(e.ProjectID)
}
