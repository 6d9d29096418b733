package member

import (
	"context"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/consumer"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/messaging"
)

// Consumer groups of the member service.
const (
	GroupRollback      = "member_rollback_group"
	GroupProjectCreate = "member_project_create_group"
	GroupProjectDelete = "member_project_delete_group"
)

func (s *Service) Subscriptions() []consumer.Subscription {
	return []consumer.Subscription{
		{Group: GroupRollback, Topic: messaging.TopicRollbackMemberAddToProject, Handler: consumer.Typed(s.HandleRollbackMemberAddToProject)},
		{Group: GroupProjectCreate, Topic: messaging.TopicProjectCreate, Handler: consumer.Typed(s.HandleProjectCreate)},
		{Group: GroupProjectDelete, Topic: messaging.TopicProjectDelete, Handler: consumer.Typed(s.HandleProjectDelete)},
	}
}

// HandleRollbackMemberAddToProject removes the mapping the forward event
// announced. A mapping that is already gone is fine.
func (s *Service) HandleRollbackMemberAddToProject(ctx context.Context, env contracts.Envelope, ev contracts.RollbackMemberAddToProjectEvent) error {
	removed, err := s.Store.RemoveMapping(ctx, ev.ProjectID, ev.UserID)
	if err != nil {
		return err
	}
	log := s.Log.With(
		"event_id", env.EventID,
		"correlation_id", env.CorrelationID,
		"project_id", ev.ProjectID,
		"user_id", ev.UserID,
	)
	if !removed {
		log.Debug("rollback found no mapping")
		return nil
	}
	log.Warn("member mapping rolled back", "reason", ev.Reason)
	return nil
}

// HandleProjectCreate records the creator as the project's manager. The
// project service owns the project itself, so nothing is announced back.
func (s *Service) HandleProjectCreate(ctx context.Context, env contracts.Envelope, ev contracts.ProjectCreateEvent) error {
	if ev.ProjectID <= 0 || ev.CreatorUserID <= 0 {
		return apperr.Invalid("project_id and creator_user_id are required")
	}
	added, err := s.Store.AddCreator(ctx, ev.ProjectID, ev.CreatorUserID)
	if err != nil {
		return err
	}
	log := s.Log.With("event_id", env.EventID, "project_id", ev.ProjectID, "user_id", ev.CreatorUserID)
	if !added {
		log.Debug("creator already mapped as manager")
		return nil
	}
	log.Info("project creator mapped")
	return nil
}

// HandleProjectDelete drops every mapping of the project. The actor must be
// one of its managers; a project with no mappings left is already gone.
func (s *Service) HandleProjectDelete(ctx context.Context, env contracts.Envelope, ev contracts.ProjectDeleteEvent) error {
	mappings, err := s.Store.ByProjects(ctx, []int64{ev.ProjectID})
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		s.Log.Debug("project has no mappings", "event_id", env.EventID, "project_id", ev.ProjectID)
		return nil
	}
	if err := s.RequireManager(ctx, ev.ProjectID, env.ActorUserID); err != nil {
		return err
	}
	n, err := s.Store.RemoveProject(ctx, ev.ProjectID)
	if err != nil {
		return err
	}
	s.Log.Info("project memberships removed", "event_id", env.EventID, "project_id", ev.ProjectID, "removed", n)
	return nil
}
