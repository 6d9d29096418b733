package member

import (
	"context"

	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/producer"
)

type Store interface {
	AddMappings(ctx context.Context, projectID int64, userIDs []int64, role Role, event EventFunc) (AddResult, error)
	AddCreator(ctx context.Context, projectID, userID int64) (bool, error)
	FindMapping(ctx context.Context, projectID, userID int64) (Membership, bool, error)
	RemoveMapping(ctx context.Context, projectID, userID int64) (bool, error)
	RemoveProject(ctx context.Context, projectID int64) (int64, error)
	ByUsers(ctx context.Context, userIDs []int64) ([]Membership, error)
	ByProjects(ctx context.Context, projectIDs []int64) ([]Membership, error)
}

type Service struct {
	Store     Store
	Envelopes *producer.Factory
	Log       *logger.Logger
}

func NewService(store Store, log *logger.Logger) *Service {
	return &Service{
		Store:     store,
		Envelopes: producer.NewFactory("member-service"),
		Log:       log.With("component", "member-service"),
	}
}

// AddMembersToProject maps the users to the project and, for every new
// mapping, queues a UserAddToProjectEvent for the project service. The
// mapping stands unless that service answers with a rollback. Only a manager
// may add managers.
func (s *Service) AddMembersToProject(ctx context.Context, actor auth.Actor, req AddToProjectRequest) (AddResult, error) {
	if req.ProjectID <= 0 {
		return AddResult{}, ErrProjectIDRequired
	}
	userIDs := contracts.UniqueIDs(req.UserIDs)
	if len(userIDs) == 0 {
		return AddResult{}, ErrUserIDsRequired
	}
	role := RoleMember
	if req.Manager {
		if err := s.RequireManager(ctx, req.ProjectID, actor.UserID); err != nil {
			return AddResult{}, err
		}
		role = RoleManager
	}

	correlationID := s.Envelopes.NewCorrelationID()
	result, err := s.Store.AddMappings(ctx, req.ProjectID, userIDs, role, func(userID int64) (contracts.Envelope, error) {
		return s.Envelopes.Envelope(contracts.UserAddToProjectEvent{
			ProjectID: req.ProjectID,
			UserID:    userID,
			Manager:   req.Manager,
		}, actor.UserID, correlationID)
	})
	if err != nil {
		return AddResult{}, err
	}
	result.CorrelationID = correlationID
	s.Log.Info("members mapped to project",
		"project_id", req.ProjectID,
		"actor_user_id", actor.UserID,
		"correlation_id", correlationID,
		"added", result.Added,
		"duplicates", result.Duplicates,
	)
	return result, nil
}

func (s *Service) MembershipsByUsers(ctx context.Context, userIDs []int64) ([]Membership, error) {
	userIDs = contracts.UniqueIDs(userIDs)
	if len(userIDs) == 0 {
		return nil, ErrIDsRequired
	}
	return s.Store.ByUsers(ctx, userIDs)
}

func (s *Service) MembershipsByProjects(ctx context.Context, projectIDs []int64) ([]Membership, error) {
	projectIDs = contracts.UniqueIDs(projectIDs)
	if len(projectIDs) == 0 {
		return nil, ErrIDsRequired
	}
	return s.Store.ByProjects(ctx, projectIDs)
}

// RequireMember fails with ErrNotProjectMember unless the user is mapped to
// the project.
func (s *Service) RequireMember(ctx context.Context, projectID, userID int64) error {
	_, found, err := s.Store.FindMapping(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotProjectMember
	}
	return nil
}

func (s *Service) RequireManager(ctx context.Context, projectID, userID int64) error {
	m, found, err := s.Store.FindMapping(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !found || m.Role != RoleManager {
		return ErrNotProjectManager
	}
	return nil
}
