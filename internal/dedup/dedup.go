// Package dedup tracks which events a consumer group already applied.
//
// Handlers are idempotent on their own (natural keys, no-op deletes, full
// replacement updates); the guard short-circuits redeliveries before they
// reach the store and covers operations that are not naturally idempotent.
package dedup

import (
	"container/list"
	"context"
	"sync"
)

// Guard records processed event ids per consumer group.
type Guard interface {
	Seen(ctx context.Context, group, eventID string) (bool, error)
	Mark(ctx context.Context, group, eventID string) error
}

const DefaultMemoryCapacity = 10000

// Memory is a bounded LRU of recently processed events. It only protects a
// single process and forgets the oldest ids once full.
type Memory struct {
	capacity int

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		index:    map[string]*list.Element{},
	}
}

func memoryKey(group, eventID string) string {
	return group + "\x00" + eventID
}

func (m *Memory) Seen(_ context.Context, group, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.index[memoryKey(group, eventID)]
	if ok {
		m.order.MoveToFront(el)
	}
	return ok, nil
}

func (m *Memory) Mark(_ context.Context, group, eventID string) error {
	k := memoryKey(group, eventID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[k]; ok {
		m.order.MoveToFront(el)
		return nil
	}
	m.index[k] = m.order.PushFront(k)
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.index, oldest.Value.(string))
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
