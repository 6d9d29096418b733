package commandapi

import (
	"context"
	"strings"
	"time"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/producer"
)

var (
	ErrTitleRequired     = apperr.New(apperr.KindInvalid, "title is required")
	ErrProjectIDRequired = apperr.New(apperr.KindInvalid, "project_id is required")
	ErrUserIDsRequired   = apperr.New(apperr.KindInvalid, "user_ids is required")
	ErrInvalidStatus     = apperr.New(apperr.KindInvalid, "status must be one of TODO, IN_PROGRESS, DONE")
	ErrInvalidDateRange  = apperr.New(apperr.KindInvalid, "end_date is before start_date")
)

// Roster answers role questions from the member service's own mappings.
type Roster interface {
	RequireMember(ctx context.Context, projectID, userID int64) error
	RequireManager(ctx context.Context, projectID, userID int64) error
}

// Service turns commands against project-service state into events. Commands
// naming a project are checked against the roster before anything is
// published; task-scoped commands are checked by the consumer, which knows the
// task's project. Whether the target exists is always decided by the consumer.
type Service struct {
	Publisher producer.Publisher
	Roster    Roster
	Envelopes *producer.Factory
	Log       *logger.Logger
}

func NewService(publisher producer.Publisher, roster Roster, log *logger.Logger) *Service {
	return &Service{
		Publisher: publisher,
		Roster:    roster,
		Envelopes: producer.NewFactory("member-service"),
		Log:       log.With("component", "command-gateway"),
	}
}

// CommandResponse acknowledges that an event was published, not applied.
type CommandResponse struct {
	Status        string              `json:"status"`
	EventID       string              `json:"event_id"`
	EventType     contracts.EventType `json:"event_type"`
	CorrelationID string              `json:"correlation_id"`
}

type TaskRequest struct {
	ProjectID    int64     `json:"project_id"`
	ParentTaskID *int64    `json:"parent_task_id,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

type ProjectRequest struct {
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

type AssignRequest struct {
	TaskID  int64   `json:"task_id"`
	UserIDs []int64 `json:"user_ids"`
}

func (s *Service) CreateTask(ctx context.Context, actor auth.Actor, req TaskRequest) (CommandResponse, error) {
	if req.ProjectID <= 0 {
		return CommandResponse{}, ErrProjectIDRequired
	}
	title, status, err := checkTask(req)
	if err != nil {
		return CommandResponse{}, err
	}
	if req.ParentTaskID != nil && *req.ParentTaskID <= 0 {
		return CommandResponse{}, apperr.Invalid("parent_task_id must be positive")
	}
	if err := s.Roster.RequireMember(ctx, req.ProjectID, actor.UserID); err != nil {
		return CommandResponse{}, err
	}
	return s.publish(ctx, actor, contracts.TaskCreateEvent{
		ProjectID:    req.ProjectID,
		ParentTaskID: req.ParentTaskID,
		Title:        title,
		Description:  req.Description,
		Status:       status,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
	})
}

func (s *Service) UpdateTask(ctx context.Context, actor auth.Actor, taskID int64, req TaskRequest) (CommandResponse, error) {
	title, status, err := checkTask(req)
	if err != nil {
		return CommandResponse{}, err
	}
	return s.publish(ctx, actor, contracts.TaskUpdateEvent{
		TaskID:      taskID,
		Title:       title,
		Description: req.Description,
		Status:      status,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	})
}

func (s *Service) DeleteTask(ctx context.Context, actor auth.Actor, taskID int64) (CommandResponse, error) {
	return s.publish(ctx, actor, contracts.TaskDeleteEvent{TaskID: taskID})
}

func (s *Service) UpdateProject(ctx context.Context, actor auth.Actor, projectID int64, req ProjectRequest) (CommandResponse, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return CommandResponse{}, ErrTitleRequired
	}
	if !contracts.DatesOrdered(req.StartDate, req.EndDate) {
		return CommandResponse{}, ErrInvalidDateRange
	}
	if err := s.Roster.RequireManager(ctx, projectID, actor.UserID); err != nil {
		return CommandResponse{}, err
	}
	return s.publish(ctx, actor, contracts.ProjectUpdateEvent{
		ProjectID:   projectID,
		Title:       title,
		Subtitle:    req.Subtitle,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	})
}

func (s *Service) DeleteProject(ctx context.Context, actor auth.Actor, projectID int64) (CommandResponse, error) {
	if err := s.Roster.RequireManager(ctx, projectID, actor.UserID); err != nil {
		return CommandResponse{}, err
	}
	return s.publish(ctx, actor, contracts.ProjectDeleteEvent{ProjectID: projectID})
}

func (s *Service) AddUsersToTask(ctx context.Context, actor auth.Actor, req AssignRequest) (CommandResponse, error) {
	if req.TaskID <= 0 {
		return CommandResponse{}, apperr.Invalid("task_id is required")
	}
	userIDs := contracts.UniqueIDs(req.UserIDs)
	if len(userIDs) == 0 {
		return CommandResponse{}, ErrUserIDsRequired
	}
	return s.publish(ctx, actor, contracts.UserAddToTaskEvent{TaskID: req.TaskID, UserIDs: userIDs})
}

func (s *Service) publish(ctx context.Context, actor auth.Actor, payload contracts.Payload) (CommandResponse, error) {
	env, err := s.Envelopes.Envelope(payload, actor.UserID, "")
	if err != nil {
		return CommandResponse{}, err
	}
	if err := s.Publisher.Publish(ctx, env); err != nil {
		return CommandResponse{}, apperr.Transient(err, "publish "+string(env.EventType))
	}
	s.Log.Info("command published",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"correlation_id", env.CorrelationID,
		"actor_user_id", actor.UserID,
	)
	return CommandResponse{
		Status:        "accepted",
		EventID:       env.EventID,
		EventType:     env.EventType,
		CorrelationID: env.CorrelationID,
	}, nil
}

func checkTask(req TaskRequest) (string, string, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", "", ErrTitleRequired
	}
	status, ok := contracts.NormalizeStatus(req.Status)
	if !ok {
		return "", "", ErrInvalidStatus
	}
	if !contracts.DatesOrdered(req.StartDate, req.EndDate) {
		return "", "", ErrInvalidDateRange
	}
	return title, status, nil
}
