package contracts

import (
	"strings"
	"time"
)

// Task statuses as they travel in TaskCreateEvent and TaskUpdateEvent.
const (
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// NormalizeStatus upper-cases raw and maps an empty status to TODO. ok is
// false for anything that is not a known status.
func NormalizeStatus(raw string) (status string, ok bool) {
	switch s := strings.ToUpper(strings.TrimSpace(raw)); s {
	case "":
		return StatusTodo, true
	case StatusTodo, StatusInProgress, StatusDone:
		return s, true
	default:
		return "", false
	}
}

// DatesOrdered reports whether end is not before start. Zero dates are open
// ended.
func DatesOrdered(start, end time.Time) bool {
	return start.IsZero() || end.IsZero() || !end.Before(start)
}

// UniqueIDs drops non-positive and repeated ids, keeping first-seen order.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
