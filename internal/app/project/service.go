package project

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/producer"
)

const maxTokenAttempts = 5

const DefaultInviteBaseURL = "https://www.sync-team.co.kr/project/invite/"

// EventFunc builds the event announcing a newly stored project.
type EventFunc func(p Project) (contracts.Envelope, error)

// Store is the project service's entity store. Lookups report absence with
// found=false, never with an error.
type Store interface {
	CreateProject(ctx context.Context, fields ProjectFields, creatorID int64, event EventFunc) (Project, error)
	FindProject(ctx context.Context, id int64) (Project, bool, error)
	ProjectSummaries(ctx context.Context, ids []int64) ([]ProjectSummary, error)
	UpdateProject(ctx context.Context, id int64, fields ProjectFields) (bool, error)
	DeleteProject(ctx context.Context, id int64) (bool, error)

	AddMember(ctx context.Context, m Member) (bool, error)
	FindMember(ctx context.Context, projectID, userID int64) (Member, bool, error)

	FindTask(ctx context.Context, id int64) (Task, bool, error)
	InsertTask(ctx context.Context, in NewTask, depth int) (Task, bool, error)
	UpdateTask(ctx context.Context, id int64, fields TaskFields) (bool, error)
	DeleteTask(ctx context.Context, id int64) (bool, error)
	ChildTasks(ctx context.Context, parentID int64) ([]Task, error)
	AssignUsers(ctx context.Context, taskID int64, userIDs []int64) (AssignResult, error)
	TaskUsers(ctx context.Context, taskID int64) ([]int64, error)

	FindInvite(ctx context.Context, projectID int64) (Invite, bool, error)
	InviteTokenExists(ctx context.Context, token string) (bool, error)
	SaveInvite(ctx context.Context, inv Invite) (Invite, error)
}

type Service struct {
	Store         Store
	Publisher     producer.Publisher
	Envelopes     *producer.Factory
	InviteBaseURL string
	NewToken      func() string
	Log           *logger.Logger
}

func NewService(store Store, publisher producer.Publisher, log *logger.Logger) *Service {
	return &Service{
		Store:         store,
		Publisher:     publisher,
		Envelopes:     producer.NewFactory("project-service"),
		InviteBaseURL: DefaultInviteBaseURL,
		NewToken:      uuid.NewString,
		Log:           log.With("component", "project-service"),
	}
}

// CreateProject stores the project with the actor as its first manager and
// queues a ProjectCreateEvent so the member service maps the creator too.
func (s *Service) CreateProject(ctx context.Context, actor auth.Actor, fields ProjectFields) (Project, error) {
	if err := fields.normalize(); err != nil {
		return Project{}, err
	}
	p, err := s.Store.CreateProject(ctx, fields, actor.UserID, func(p Project) (contracts.Envelope, error) {
		return s.Envelopes.Envelope(contracts.ProjectCreateEvent{
			ProjectID:     p.ID,
			CreatorUserID: actor.UserID,
			Title:         p.Title,
		}, actor.UserID, "")
	})
	if err != nil {
		return Project{}, err
	}
	s.Log.Info("project created", "project_id", p.ID, "actor_user_id", actor.UserID)
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	p, found, err := s.Store.FindProject(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if !found {
		return Project{}, ErrProjectNotFound
	}
	return p, nil
}

// ListProjects returns the projects that exist among ids, with progress.
// Unknown ids are skipped.
func (s *Service) ListProjects(ctx context.Context, ids []int64) ([]ProjectSummary, error) {
	ids = contracts.UniqueIDs(ids)
	if len(ids) == 0 {
		return []ProjectSummary{}, nil
	}
	summaries, err := s.Store.ProjectSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if summaries[i].TotalTasks > 0 {
			summaries[i].Progress = float64(summaries[i].CompletedTasks) / float64(summaries[i].TotalTasks)
		}
	}
	return summaries, nil
}

// CreateTask is the synchronous task creation path. The actor must be on the
// project roster.
func (s *Service) CreateTask(ctx context.Context, actor auth.Actor, in NewTask) (Task, error) {
	if err := s.requireMember(ctx, in.ProjectID, actor.UserID); err != nil {
		return Task{}, err
	}
	in.OriginEventID = ""
	task, _, err := s.createTask(ctx, in)
	return task, err
}

// createTask validates the parent before anything is written: a parent at
// MaxDepth rejects the task outright.
func (s *Service) createTask(ctx context.Context, in NewTask) (Task, bool, error) {
	if err := in.normalize(); err != nil {
		return Task{}, false, err
	}
	if _, found, err := s.Store.FindProject(ctx, in.ProjectID); err != nil {
		return Task{}, false, err
	} else if !found {
		return Task{}, false, ErrProjectNotFound
	}

	depth := 0
	if in.ParentTaskID != nil {
		parent, found, err := s.Store.FindTask(ctx, *in.ParentTaskID)
		if err != nil {
			return Task{}, false, err
		}
		if !found {
			return Task{}, false, ErrParentTaskNotFound
		}
		if parent.ProjectID != in.ProjectID {
			return Task{}, false, ErrParentOtherProject
		}
		if parent.Depth >= MaxDepth {
			return Task{}, false, ErrDepthExceeded
		}
		depth = parent.Depth + 1
	}
	return s.Store.InsertTask(ctx, in, depth)
}

func (s *Service) ChildTasks(ctx context.Context, taskID int64) ([]Task, error) {
	if _, found, err := s.Store.FindTask(ctx, taskID); err != nil {
		return nil, err
	} else if !found {
		return nil, ErrTaskNotFound
	}
	children, err := s.Store.ChildTasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []Task{}
	}
	return children, nil
}

// AddUsersToTask is the synchronous assignment path. Users already assigned
// come back in Duplicates; no second row is written for them.
func (s *Service) AddUsersToTask(ctx context.Context, actor auth.Actor, taskID int64, userIDs []int64) (AssignResult, error) {
	userIDs = contracts.UniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return AssignResult{}, ErrUserIDsRequired
	}
	task, found, err := s.Store.FindTask(ctx, taskID)
	if err != nil {
		return AssignResult{}, err
	}
	if !found {
		return AssignResult{}, ErrTaskNotFound
	}
	if err := s.requireMember(ctx, task.ProjectID, actor.UserID); err != nil {
		return AssignResult{}, err
	}
	return s.Store.AssignUsers(ctx, taskID, userIDs)
}

func (s *Service) TaskUsers(ctx context.Context, taskID int64) ([]int64, error) {
	if _, found, err := s.Store.FindTask(ctx, taskID); err != nil {
		return nil, err
	} else if !found {
		return nil, ErrTaskNotFound
	}
	users, err := s.Store.TaskUsers(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []int64{}
	}
	return users, nil
}

// CreateInviteLink issues a fresh invite token for the project, replacing the
// previous one. Token collisions are retried a bounded number of times.
func (s *Service) CreateInviteLink(ctx context.Context, actor auth.Actor, projectID int64) (Invite, error) {
	if _, found, err := s.Store.FindProject(ctx, projectID); err != nil {
		return Invite{}, err
	} else if !found {
		return Invite{}, ErrProjectNotFound
	}
	if err := s.requireMember(ctx, projectID, actor.UserID); err != nil {
		return Invite{}, err
	}

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token := s.NewToken()
		taken, err := s.Store.InviteTokenExists(ctx, token)
		if err != nil {
			return Invite{}, err
		}
		if taken {
			continue
		}
		inv, err := s.Store.SaveInvite(ctx, Invite{
			ProjectID: projectID,
			Token:     token,
			URL:       strings.TrimRight(s.InviteBaseURL, "/") + "/" + token,
		})
		if errors.Is(err, ErrTokenTaken) {
			continue
		}
		if err != nil {
			return Invite{}, err
		}
		s.Log.Info("invite link created", "project_id", projectID, "actor_user_id", actor.UserID, "attempt", attempt)
		return inv, nil
	}
	return Invite{}, ErrTokenExhausted
}

func (s *Service) GetInviteLink(ctx context.Context, projectID int64) (Invite, error) {
	inv, found, err := s.Store.FindInvite(ctx, projectID)
	if err != nil {
		return Invite{}, err
	}
	if !found {
		return Invite{}, ErrInviteNotFound
	}
	return inv, nil
}

func (s *Service) requireMember(ctx context.Context, projectID, userID int64) error {
	_, found, err := s.Store.FindMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotProjectMember
	}
	return nil
}

func (s *Service) requireManager(ctx context.Context, projectID, userID int64) error {
	m, found, err := s.Store.FindMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !found || !m.Manager {
		return ErrNotProjectManager
	}
	return nil
}
