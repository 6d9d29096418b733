package project

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syncteam/project/internal/contracts"
)

// memStore is an in-memory Store with the same not-found and duplicate
// semantics as the Postgres repository.
type memStore struct {
	mu sync.Mutex

	nextProjectID int64
	nextTaskID    int64
	projects      map[int64]Project
	members       map[[2]int64]Member
	tasks         map[int64]Task
	origins       map[string]int64
	userTasks     map[[2]int64]struct{}
	invites       map[int64]Invite

	inserts     int
	takenTokens map[string]bool
	queued      []contracts.Envelope
}

func newMemStore() *memStore {
	return &memStore{
		projects:    map[int64]Project{},
		members:     map[[2]int64]Member{},
		tasks:       map[int64]Task{},
		origins:     map[string]int64{},
		userTasks:   map[[2]int64]struct{}{},
		invites:     map[int64]Invite{},
		takenTokens: map[string]bool{},
	}
}

var fixedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// CreateProject mirrors the repository transaction: the project, its manager
// and the queued event are written together or not at all.
func (s *memStore) CreateProject(_ context.Context, f ProjectFields, creatorID int64, event EventFunc) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Project{ID: s.nextProjectID + 1, Title: f.Title, Subtitle: f.Subtitle, Description: f.Description,
		StartDate: f.StartDate, EndDate: f.EndDate, CreatedBy: creatorID, CreatedAt: fixedTime}
	env, err := event(p)
	if err != nil {
		return Project{}, err
	}
	s.nextProjectID = p.ID
	s.projects[p.ID] = p
	s.queued = append(s.queued, env)
	s.members[[2]int64{p.ID, creatorID}] = Member{ProjectID: p.ID, UserID: creatorID, Manager: true}
	return p, nil
}

// seedProject stores a project with the given id and no roster.
func (s *memStore) seedProject(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = Project{ID: id, Title: "project", CreatedAt: fixedTime}
	if id > s.nextProjectID {
		s.nextProjectID = id
	}
}

func (s *memStore) seedMember(projectID, userID int64, manager bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[[2]int64{projectID, userID}] = Member{ProjectID: projectID, UserID: userID, Manager: manager}
}

func (s *memStore) seedTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	if t.ID > s.nextTaskID {
		s.nextTaskID = t.ID
	}
}

func (s *memStore) FindProject(_ context.Context, id int64) (Project, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok, nil
}

func (s *memStore) ProjectSummaries(_ context.Context, ids []int64) ([]ProjectSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProjectSummary
	for _, id := range ids {
		p, ok := s.projects[id]
		if !ok {
			continue
		}
		sum := ProjectSummary{Project: p}
		for _, t := range s.tasks {
			if t.ProjectID != id {
				continue
			}
			sum.TotalTasks++
			if t.Status == StatusDone {
				sum.CompletedTasks++
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *memStore) UpdateProject(_ context.Context, id int64, f ProjectFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return false, nil
	}
	p.Title, p.Subtitle, p.Description, p.StartDate, p.EndDate = f.Title, f.Subtitle, f.Description, f.StartDate, f.EndDate
	s.projects[id] = p
	return true, nil
}

func (s *memStore) DeleteProject(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return false, nil
	}
	for taskID, t := range s.tasks {
		if t.ProjectID != id {
			continue
		}
		for key := range s.userTasks {
			if key[1] == taskID {
				delete(s.userTasks, key)
			}
		}
		delete(s.tasks, taskID)
	}
	for key := range s.members {
		if key[0] == id {
			delete(s.members, key)
		}
	}
	delete(s.invites, id)
	delete(s.projects, id)
	return true, nil
}

func (s *memStore) AddMember(_ context.Context, m Member) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[m.ProjectID]; !ok {
		return false, ErrProjectNotFound
	}
	key := [2]int64{m.ProjectID, m.UserID}
	if _, ok := s.members[key]; ok {
		return false, nil
	}
	s.members[key] = m
	return true, nil
}

func (s *memStore) FindMember(_ context.Context, projectID, userID int64) (Member, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[[2]int64{projectID, userID}]
	return m, ok, nil
}

func (s *memStore) rosterSize(projectID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.members {
		if key[0] == projectID {
			n++
		}
	}
	return n
}

func (s *memStore) FindTask(_ context.Context, id int64) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *memStore) InsertTask(_ context.Context, in NewTask, depth int) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.OriginEventID != "" {
		if id, ok := s.origins[in.OriginEventID]; ok {
			return s.tasks[id], false, nil
		}
	}
	if _, ok := s.projects[in.ProjectID]; !ok {
		return Task{}, false, ErrProjectNotFound
	}
	s.inserts++
	s.nextTaskID++
	t := Task{ID: s.nextTaskID, ProjectID: in.ProjectID, ParentTaskID: in.ParentTaskID, Title: in.Title,
		Description: in.Description, Status: in.Status, StartDate: in.StartDate, EndDate: in.EndDate,
		Depth: depth, CreatedAt: fixedTime}
	s.tasks[t.ID] = t
	if in.OriginEventID != "" {
		s.origins[in.OriginEventID] = t.ID
	}
	return t, true, nil
}

func (s *memStore) UpdateTask(_ context.Context, id int64, f TaskFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	t.Title, t.Description, t.Status, t.StartDate, t.EndDate = f.Title, f.Description, f.Status, f.StartDate, f.EndDate
	s.tasks[id] = t
	return true, nil
}

func (s *memStore) DeleteTask(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false, nil
	}
	doomed := []int64{id}
	for i := 0; i < len(doomed); i++ {
		for childID, t := range s.tasks {
			if t.ParentTaskID != nil && *t.ParentTaskID == doomed[i] {
				doomed = append(doomed, childID)
			}
		}
	}
	for _, taskID := range doomed {
		for key := range s.userTasks {
			if key[1] == taskID {
				delete(s.userTasks, key)
			}
		}
		delete(s.tasks, taskID)
	}
	return true, nil
}

func (s *memStore) ChildTasks(_ context.Context, parentID int64) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.ParentTaskID != nil && *t.ParentTaskID == parentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AssignUsers(_ context.Context, taskID int64, userIDs []int64) (AssignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return AssignResult{}, ErrTaskNotFound
	}
	result := AssignResult{TaskID: taskID, Added: []int64{}, Duplicates: []int64{}}
	for _, userID := range userIDs {
		key := [2]int64{userID, taskID}
		if _, ok := s.userTasks[key]; ok {
			result.Duplicates = append(result.Duplicates, userID)
			continue
		}
		s.userTasks[key] = struct{}{}
		result.Added = append(result.Added, userID)
	}
	return result, nil
}

func (s *memStore) TaskUsers(_ context.Context, taskID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for key := range s.userTasks {
		if key[1] == taskID {
			out = append(out, key[0])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) FindInvite(_ context.Context, projectID int64) (Invite, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[projectID]
	return inv, ok, nil
}

func (s *memStore) InviteTokenExists(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takenTokens[token] {
		return true, nil
	}
	for _, inv := range s.invites {
		if inv.Token == token {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SaveInvite(_ context.Context, inv Invite) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.CreatedAt = fixedTime
	s.invites[inv.ProjectID] = inv
	return inv, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []contracts.Envelope
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, env contracts.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, env)
	return nil
}
