package messaging

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/sharding"
)

const (
	TopicMemberAddToProject         = "member-add-to-project-topic"
	TopicRollbackMemberAddToProject = "rollback-member-add-to-project-topic"
	TopicTaskCreate                 = "task-create-topic"
	TopicTaskUpdate                 = "task-update-topic"
	TopicTaskDelete                 = "task-delete-topic"
	TopicUserAddToTask              = "user-add-to-task-topic"
	TopicProjectCreate              = "project-create-topic"
	TopicProjectUpdate              = "project-update-topic"
	TopicProjectDelete              = "project-delete-topic"
)

const (
	eventSubjectPrefix      = "events"
	deadLetterSubjectPrefix = "deadletter"
)

// Topic is a named channel carrying exactly one event type.
type Topic struct {
	Name       string
	EventType  contracts.EventType
	Partitions int
}

// Subject returns the broker subject of one partition:
// events.{topic}.{partition}
func (t Topic) Subject(partition int) string {
	return eventSubjectPrefix + "." + t.Name + "." + strconv.Itoa(partition)
}

// SubjectFor returns the subject an event with the given key is published on.
func (t Topic) SubjectFor(partitionKey string) string {
	return t.Subject(sharding.Partition(partitionKey, t.Partitions))
}

// DeadLetterSubject is where a consumer group parks events it gave up on:
// deadletter.{group}.{topic}
func DeadLetterSubject(group, topic string) string {
	return deadLetterSubjectPrefix + "." + group + "." + topic
}

// PartitionFromSubject extracts the partition token of an event subject.
func PartitionFromSubject(subject string) (int, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != eventSubjectPrefix {
		return 0, false
	}
	p, err := strconv.Atoi(parts[2])
	if err != nil || p < 0 {
		return 0, false
	}
	return p, true
}

// Registry maps event types to topics. It is the single place a new event
// type is declared.
type Registry struct {
	byType map[contracts.EventType]Topic
	byName map[string]Topic
}

func NewRegistry(partitions int) *Registry {
	if partitions <= 0 {
		partitions = sharding.DefaultPartitions
	}
	r := &Registry{
		byType: map[contracts.EventType]Topic{},
		byName: map[string]Topic{},
	}
	r.mustAdd(TopicMemberAddToProject, contracts.EventUserAddToProject, partitions)
	r.mustAdd(TopicRollbackMemberAddToProject, contracts.EventRollbackMemberAddToProject, partitions)
	r.mustAdd(TopicTaskCreate, contracts.EventTaskCreate, partitions)
	r.mustAdd(TopicTaskUpdate, contracts.EventTaskUpdate, partitions)
	r.mustAdd(TopicTaskDelete, contracts.EventTaskDelete, partitions)
	r.mustAdd(TopicUserAddToTask, contracts.EventUserAddToTask, partitions)
	r.mustAdd(TopicProjectCreate, contracts.EventProjectCreate, partitions)
	r.mustAdd(TopicProjectUpdate, contracts.EventProjectUpdate, partitions)
	r.mustAdd(TopicProjectDelete, contracts.EventProjectDelete, partitions)
	return r
}

func (r *Registry) mustAdd(name string, eventType contracts.EventType, partitions int) {
	if _, exists := r.byType[eventType]; exists {
		panic("event type already registered: " + string(eventType))
	}
	if _, exists := r.byName[name]; exists {
		panic("topic already registered: " + name)
	}
	t := Topic{Name: name, EventType: eventType, Partitions: partitions}
	r.byType[eventType] = t
	r.byName[name] = t
}

func (r *Registry) TopicFor(eventType contracts.EventType) (Topic, error) {
	t, ok := r.byType[eventType]
	if !ok {
		return Topic{}, fmt.Errorf("no topic registered for event type %q", eventType)
	}
	return t, nil
}

func (r *Registry) Topic(name string) (Topic, error) {
	t, ok := r.byName[name]
	if !ok {
		return Topic{}, fmt.Errorf("unknown topic %q", name)
	}
	return t, nil
}

func (r *Registry) MustTopic(name string) Topic {
	t, err := r.Topic(name)
	if err != nil {
		panic(err)
	}
	return t
}

// Topics lists every registered topic sorted by name.
func (r *Registry) Topics() []Topic {
	out := make([]Topic, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
