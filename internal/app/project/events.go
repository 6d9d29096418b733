package project

import (
	"context"
	"errors"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/consumer"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/messaging"
)

// Consumer groups of the project service.
const (
	GroupMemberAdd     = "project_member_add_group"
	GroupProjectUpdate = "project_update_group"
	GroupProjectDelete = "project_delete_group"
	GroupTaskCreate    = "task_create_group"
	GroupTaskUpdate    = "task_update_group"
	GroupTaskDelete    = "task_delete_group"
	GroupTaskUserAdd   = "task_user_add_group"
)

const rollbackReasonProjectNotFound = "project not found"

func (s *Service) Subscriptions() []consumer.Subscription {
	return []consumer.Subscription{
		{Group: GroupMemberAdd, Topic: messaging.TopicMemberAddToProject, Handler: consumer.Typed(s.HandleMemberAddToProject)},
		{Group: GroupProjectUpdate, Topic: messaging.TopicProjectUpdate, Handler: consumer.Typed(s.HandleProjectUpdate)},
		{Group: GroupProjectDelete, Topic: messaging.TopicProjectDelete, Handler: consumer.Typed(s.HandleProjectDelete)},
		{Group: GroupTaskCreate, Topic: messaging.TopicTaskCreate, Handler: consumer.Typed(s.HandleTaskCreate)},
		{Group: GroupTaskUpdate, Topic: messaging.TopicTaskUpdate, Handler: consumer.Typed(s.HandleTaskUpdate)},
		{Group: GroupTaskDelete, Topic: messaging.TopicTaskDelete, Handler: consumer.Typed(s.HandleTaskDelete)},
		{Group: GroupTaskUserAdd, Topic: messaging.TopicUserAddToTask, Handler: consumer.Typed(s.HandleUserAddToTask)},
	}
}

// HandleMemberAddToProject puts the user on the project roster. When the
// project does not exist the member service is told to undo its mapping; that
// is a normal outcome, not a failure.
func (s *Service) HandleMemberAddToProject(ctx context.Context, env contracts.Envelope, ev contracts.UserAddToProjectEvent) error {
	log := s.Log.With("event_id", env.EventID, "correlation_id", env.CorrelationID, "project_id", ev.ProjectID, "user_id", ev.UserID)

	_, found, err := s.Store.FindProject(ctx, ev.ProjectID)
	if err != nil {
		return err
	}
	if !found {
		return s.rollbackMemberAdd(ctx, env, ev)
	}
	added, err := s.Store.AddMember(ctx, Member{ProjectID: ev.ProjectID, UserID: ev.UserID, Manager: ev.Manager})
	if errors.Is(err, ErrProjectNotFound) {
		// deleted between the lookup and the insert
		return s.rollbackMemberAdd(ctx, env, ev)
	}
	if err != nil {
		return err
	}
	if !added {
		log.Debug("member already on project roster")
		return nil
	}
	log.Info("member added to project")
	return nil
}

func (s *Service) rollbackMemberAdd(ctx context.Context, env contracts.Envelope, ev contracts.UserAddToProjectEvent) error {
	rollback, err := s.Envelopes.Compensation(contracts.RollbackMemberAddToProjectEvent{
		ProjectID: ev.ProjectID,
		UserID:    ev.UserID,
		Reason:    rollbackReasonProjectNotFound,
	}, env)
	if err != nil {
		return err
	}
	if err := s.Publisher.Publish(ctx, rollback); err != nil {
		return err
	}
	s.Log.Warn("member add compensated",
		"event_id", env.EventID,
		"rollback_event_id", rollback.EventID,
		"correlation_id", env.CorrelationID,
		"project_id", ev.ProjectID,
		"user_id", ev.UserID,
		"reason", rollbackReasonProjectNotFound,
	)
	return nil
}

// HandleProjectUpdate applies the update when the actor manages the project.
func (s *Service) HandleProjectUpdate(ctx context.Context, env contracts.Envelope, ev contracts.ProjectUpdateEvent) error {
	fields := ProjectFields{
		Title:       ev.Title,
		Subtitle:    ev.Subtitle,
		Description: ev.Description,
		StartDate:   ev.StartDate,
		EndDate:     ev.EndDate,
	}
	if err := fields.normalize(); err != nil {
		return err
	}
	if _, found, err := s.Store.FindProject(ctx, ev.ProjectID); err != nil {
		return err
	} else if !found {
		return apperr.NotFound("project %d not found", ev.ProjectID)
	}
	if err := s.requireManager(ctx, ev.ProjectID, env.ActorUserID); err != nil {
		return err
	}
	found, err := s.Store.UpdateProject(ctx, ev.ProjectID, fields)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFound("project %d not found", ev.ProjectID)
	}
	s.Log.Info("project updated", "event_id", env.EventID, "project_id", ev.ProjectID)
	return nil
}

// HandleProjectDelete removes the project when the actor manages it. A
// project that is already gone is not an error.
func (s *Service) HandleProjectDelete(ctx context.Context, env contracts.Envelope, ev contracts.ProjectDeleteEvent) error {
	if _, found, err := s.Store.FindProject(ctx, ev.ProjectID); err != nil {
		return err
	} else if !found {
		s.Log.Debug("project already gone", "event_id", env.EventID, "project_id", ev.ProjectID)
		return nil
	}
	if err := s.requireManager(ctx, ev.ProjectID, env.ActorUserID); err != nil {
		return err
	}
	deleted, err := s.Store.DeleteProject(ctx, ev.ProjectID)
	if err != nil {
		return err
	}
	if !deleted {
		s.Log.Debug("project already gone", "event_id", env.EventID, "project_id", ev.ProjectID)
		return nil
	}
	s.Log.Info("project deleted", "event_id", env.EventID, "project_id", ev.ProjectID)
	return nil
}

// HandleTaskCreate creates the task once per event: a redelivery finds the
// task created by the first delivery. The actor must be on the roster.
func (s *Service) HandleTaskCreate(ctx context.Context, env contracts.Envelope, ev contracts.TaskCreateEvent) error {
	if _, found, err := s.Store.FindProject(ctx, ev.ProjectID); err != nil {
		return err
	} else if !found {
		return ErrProjectNotFound
	}
	if err := s.requireMember(ctx, ev.ProjectID, env.ActorUserID); err != nil {
		return err
	}
	task, created, err := s.createTask(ctx, NewTask{
		ProjectID:    ev.ProjectID,
		ParentTaskID: ev.ParentTaskID,
		TaskFields: TaskFields{
			Title:       ev.Title,
			Description: ev.Description,
			Status:      TaskStatus(ev.Status),
			StartDate:   ev.StartDate,
			EndDate:     ev.EndDate,
		},
		OriginEventID: env.EventID,
	})
	if err != nil {
		return err
	}
	s.Log.Info("task created from event", "event_id", env.EventID, "task_id", task.ID, "created", created)
	return nil
}

// HandleTaskUpdate replaces every field, so applying the same event twice
// leaves the same state.
func (s *Service) HandleTaskUpdate(ctx context.Context, env contracts.Envelope, ev contracts.TaskUpdateEvent) error {
	fields := TaskFields{
		Title:       ev.Title,
		Description: ev.Description,
		Status:      TaskStatus(ev.Status),
		StartDate:   ev.StartDate,
		EndDate:     ev.EndDate,
	}
	if err := fields.normalize(); err != nil {
		return err
	}
	if err := s.requireTaskMember(ctx, ev.TaskID, env.ActorUserID); err != nil {
		return err
	}
	found, err := s.Store.UpdateTask(ctx, ev.TaskID, fields)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFound("task %d not found", ev.TaskID)
	}
	s.Log.Info("task updated", "event_id", env.EventID, "task_id", ev.TaskID)
	return nil
}

func (s *Service) HandleTaskDelete(ctx context.Context, env contracts.Envelope, ev contracts.TaskDeleteEvent) error {
	err := s.requireTaskMember(ctx, ev.TaskID, env.ActorUserID)
	if errors.Is(err, ErrTaskNotFound) {
		s.Log.Debug("task already gone", "event_id", env.EventID, "task_id", ev.TaskID)
		return nil
	}
	if err != nil {
		return err
	}
	deleted, err := s.Store.DeleteTask(ctx, ev.TaskID)
	if err != nil {
		return err
	}
	if !deleted {
		s.Log.Debug("task already gone", "event_id", env.EventID, "task_id", ev.TaskID)
		return nil
	}
	s.Log.Info("task deleted", "event_id", env.EventID, "task_id", ev.TaskID)
	return nil
}

// HandleUserAddToTask assigns the users; ones already assigned are skipped.
func (s *Service) HandleUserAddToTask(ctx context.Context, env contracts.Envelope, ev contracts.UserAddToTaskEvent) error {
	userIDs := contracts.UniqueIDs(ev.UserIDs)
	if len(userIDs) == 0 {
		return ErrUserIDsRequired
	}
	if err := s.requireTaskMember(ctx, ev.TaskID, env.ActorUserID); err != nil {
		return err
	}
	result, err := s.Store.AssignUsers(ctx, ev.TaskID, userIDs)
	if err != nil {
		return err
	}
	s.Log.Info("users assigned to task", "event_id", env.EventID, "task_id", ev.TaskID, "added", result.Added, "duplicates", result.Duplicates)
	return nil
}

// requireTaskMember checks the actor against the roster of the task's
// project. A missing task is ErrTaskNotFound.
func (s *Service) requireTaskMember(ctx context.Context, taskID, userID int64) error {
	task, found, err := s.Store.FindTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !found {
		return ErrTaskNotFound
	}
	return s.requireMember(ctx, task.ProjectID, userID)
}
