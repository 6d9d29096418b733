package member

import (
	"context"
	"reflect"
	"testing"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/messaging"
	"github.com/syncteam/project/internal/producer"
)

func TestRollbackRestoresStateBeforeForward(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 1, UserIDs: []int64{3}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := store.snapshot()

	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 42, UserIDs: []int64{7}}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	forward := store.queued[len(store.queued)-1]

	// the project service answers a missing project with a compensation
	factory := producer.NewFactory("project-service")
	rollback := contracts.RollbackMemberAddToProjectEvent{ProjectID: 42, UserID: 7, Reason: "project not found"}
	env, err := factory.Compensation(rollback, forward)
	if err != nil {
		t.Fatalf("compensation: %v", err)
	}
	if env.CorrelationID != forward.CorrelationID {
		t.Fatalf("rollback must carry the forward correlation id")
	}

	if err := svc.HandleRollbackMemberAddToProject(ctx, env, rollback); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if after := store.snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("rollback left residue: before %v after %v", before, after)
	}

	// a redelivered rollback finds nothing to undo
	if err := svc.HandleRollbackMemberAddToProject(ctx, env, rollback); err != nil {
		t.Fatalf("redelivered rollback: %v", err)
	}
	if after := store.snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatal("redelivered rollback changed state")
	}
}

func TestRollbackLeavesOtherMappings(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 42, UserIDs: []int64{7, 8}}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	ev := contracts.RollbackMemberAddToProjectEvent{ProjectID: 42, UserID: 7}
	if err := svc.HandleRollbackMemberAddToProject(ctx, contracts.Envelope{EventID: "rb-1"}, ev); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	state := store.snapshot()
	if _, ok := state[[2]int64{7, 42}]; ok {
		t.Fatal("rolled back mapping still present")
	}
	if _, ok := state[[2]int64{8, 42}]; !ok {
		t.Fatal("rollback removed an unrelated mapping")
	}
}

func TestHandleProjectDeleteRemovesAllMappings(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 5, UserIDs: []int64{1, 2}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 6, UserIDs: []int64{1}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	store.seed(5, alice.UserID, RoleManager)
	ev := contracts.ProjectDeleteEvent{ProjectID: 5}
	env := contracts.Envelope{EventID: "del-5", ActorUserID: alice.UserID}
	for i := 0; i < 2; i++ {
		if err := svc.HandleProjectDelete(ctx, env, ev); err != nil {
			t.Fatalf("delete #%d: %v", i, err)
		}
	}
	state := store.snapshot()
	if len(state) != 1 {
		t.Fatalf("expected only the project 6 mapping to remain, got %v", state)
	}
}

func TestHandleProjectDeleteRequiresManager(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	store.seed(5, 1, RoleManager)
	store.seed(5, 99, RoleMember)
	ev := contracts.ProjectDeleteEvent{ProjectID: 5}
	for _, actor := range []int64{99, 42} {
		err := svc.HandleProjectDelete(ctx, contracts.Envelope{EventID: "del-5", ActorUserID: actor}, ev)
		if apperr.KindOf(err) != apperr.KindForbidden || apperr.Retryable(err) {
			t.Fatalf("actor %d: expected a permanent forbidden error, got %v", actor, err)
		}
	}
	if len(store.snapshot()) != 2 {
		t.Fatal("a rejected delete must keep every mapping")
	}
}

func TestHandleProjectCreateMapsCreatorAsManager(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	ev := contracts.ProjectCreateEvent{ProjectID: 11, CreatorUserID: 7, Title: "Launch"}
	env := contracts.Envelope{EventID: "create-11", ActorUserID: 7}
	for i := 0; i < 2; i++ {
		if err := svc.HandleProjectCreate(ctx, env, ev); err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
	}
	state := store.snapshot()
	if len(state) != 1 || state[[2]int64{7, 11}].Role != RoleManager {
		t.Fatalf("expected the creator as the only manager, got %v", state)
	}
	if len(store.queued) != 0 {
		t.Fatal("mapping the creator must not announce anything")
	}
	memberships, err := svc.MembershipsByUsers(ctx, []int64{7})
	if err != nil || len(memberships) != 1 || memberships[0].ProjectID != 11 {
		t.Fatalf("creator lookup = %+v (%v)", memberships, err)
	}
}

func TestHandleProjectCreatePromotesExistingMember(t *testing.T) {
	svc, store := newTestService()
	store.seed(11, 7, RoleMember)
	ev := contracts.ProjectCreateEvent{ProjectID: 11, CreatorUserID: 7}
	if err := svc.HandleProjectCreate(context.Background(), contracts.Envelope{EventID: "create-11"}, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := store.snapshot()[[2]int64{7, 11}].Role; got != RoleManager {
		t.Fatalf("expected manager role, got %q", got)
	}
	err := svc.HandleProjectCreate(context.Background(), contracts.Envelope{EventID: "create-x"}, contracts.ProjectCreateEvent{ProjectID: 11})
	if err == nil || apperr.Retryable(err) {
		t.Fatalf("expected a permanent error without a creator, got %v", err)
	}
}

func TestSubscriptions(t *testing.T) {
	svc, _ := newTestService()
	subs := svc.Subscriptions()
	want := map[string]string{
		GroupRollback:      messaging.TopicRollbackMemberAddToProject,
		GroupProjectCreate: messaging.TopicProjectCreate,
		GroupProjectDelete: messaging.TopicProjectDelete,
	}
	if len(subs) != len(want) {
		t.Fatalf("expected %d subscriptions, got %d", len(want), len(subs))
	}
	for _, sub := range subs {
		if want[sub.Group] != sub.Topic || sub.Handler == nil {
			t.Fatalf("unexpected subscription %+v", sub)
		}
	}
}
