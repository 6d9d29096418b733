package member

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/producer"
)

// memStore mirrors Repository: a mapping and its queued event are written
// together or not at all.
type memStore struct {
	mu       sync.Mutex
	mappings map[[2]int64]Membership
	queued   []contracts.Envelope
}

func newMemStore() *memStore {
	return &memStore{mappings: map[[2]int64]Membership{}}
}

var fixedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func (s *memStore) AddMappings(_ context.Context, projectID int64, userIDs []int64, role Role, event EventFunc) (AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := AddResult{ProjectID: projectID, Added: []int64{}, Duplicates: []int64{}}
	staged := map[[2]int64]Membership{}
	var envs []contracts.Envelope
	for _, userID := range userIDs {
		k := [2]int64{userID, projectID}
		if _, ok := s.mappings[k]; ok {
			result.Duplicates = append(result.Duplicates, userID)
			continue
		}
		env, err := event(userID)
		if err != nil {
			return AddResult{}, err
		}
		staged[k] = Membership{UserID: userID, ProjectID: projectID, Role: role, JoinedAt: fixedTime}
		envs = append(envs, env)
		result.Added = append(result.Added, userID)
	}
	for k, m := range staged {
		s.mappings[k] = m
	}
	s.queued = append(s.queued, envs...)
	return result, nil
}

func (s *memStore) AddCreator(_ context.Context, projectID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int64{userID, projectID}
	if m, ok := s.mappings[k]; ok && m.Role == RoleManager {
		return false, nil
	}
	s.mappings[k] = Membership{UserID: userID, ProjectID: projectID, Role: RoleManager, JoinedAt: fixedTime}
	return true, nil
}

func (s *memStore) FindMapping(_ context.Context, projectID, userID int64) (Membership, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[[2]int64{userID, projectID}]
	return m, ok, nil
}

func (s *memStore) seed(projectID, userID int64, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[[2]int64{userID, projectID}] = Membership{UserID: userID, ProjectID: projectID, Role: role, JoinedAt: fixedTime}
}

func (s *memStore) RemoveMapping(_ context.Context, projectID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := [2]int64{userID, projectID}
	if _, ok := s.mappings[k]; !ok {
		return false, nil
	}
	delete(s.mappings, k)
	return true, nil
}

func (s *memStore) RemoveProject(_ context.Context, projectID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.mappings {
		if k[1] == projectID {
			delete(s.mappings, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ByUsers(_ context.Context, userIDs []int64) ([]Membership, error) {
	return s.filter(func(m Membership) bool { return contains(userIDs, m.UserID) }), nil
}

func (s *memStore) ByProjects(_ context.Context, projectIDs []int64) ([]Membership, error) {
	return s.filter(func(m Membership) bool { return contains(projectIDs, m.ProjectID) }), nil
}

func (s *memStore) filter(keep func(Membership) bool) []Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Membership{}
	for _, m := range s.mappings {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *memStore) snapshot() map[[2]int64]Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[[2]int64]Membership, len(s.mappings))
	for k, v := range s.mappings {
		out[k] = v
	}
	return out
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	svc := NewService(store, logger.Nop())
	n := 0
	svc.Envelopes = producer.NewFactory("member-service")
	svc.Envelopes.Now = func() time.Time { return fixedTime }
	svc.Envelopes.NewCorrelationID = func() string { return "corr-1" }
	svc.Envelopes.NewID = func() string {
		n++
		return "evt-" + strconv.Itoa(n)
	}
	return svc, store
}
