package member

import (
	"context"
	"errors"
	"testing"

	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/auth"
)

var alice = auth.Actor{UserID: 7, Username: "alice"}

func TestAddMembersToProject_QueuesOneEventPerNewMapping(t *testing.T) {
	svc, store := newTestService()
	result, err := svc.AddMembersToProject(context.Background(), alice, AddToProjectRequest{
		ProjectID: 42,
		UserIDs:   []int64{3, 4, 3, 0},
	})
	if err != nil {
		t.Fatalf("add members: %v", err)
	}
	if len(result.Added) != 2 || len(result.Duplicates) != 0 || result.CorrelationID != "corr-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(store.queued) != 2 {
		t.Fatalf("expected two queued events, got %d", len(store.queued))
	}
	for i, env := range store.queued {
		if env.EventType != contracts.EventUserAddToProject || env.CorrelationID != "corr-1" || env.ActorUserID != 7 {
			t.Fatalf("unexpected envelope %+v", env)
		}
		ev, err := contracts.DecodePayload[contracts.UserAddToProjectEvent](env)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.ProjectID != 42 || ev.UserID != result.Added[i] {
			t.Fatalf("unexpected payload %+v", ev)
		}
	}
	if store.queued[0].EventID == store.queued[1].EventID {
		t.Fatal("every mapping needs its own event id")
	}
}

func TestAddMembersToProject_DuplicatesQueueNothing(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 42, UserIDs: []int64{3}}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	result, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 42, UserIDs: []int64{3, 5}})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(result.Added) != 1 || result.Added[0] != 5 || len(result.Duplicates) != 1 || result.Duplicates[0] != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(store.queued) != 2 {
		t.Fatalf("a duplicate must not queue an event, got %d events", len(store.queued))
	}
}

func TestAddMembersToProject_ManagerRole(t *testing.T) {
	svc, store := newTestService()
	store.seed(1, alice.UserID, RoleManager)
	if _, err := svc.AddMembersToProject(context.Background(), alice, AddToProjectRequest{ProjectID: 1, UserIDs: []int64{9}, Manager: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := store.snapshot()[[2]int64{9, 1}].Role; got != RoleManager {
		t.Fatalf("expected manager role, got %q", got)
	}
	ev, err := contracts.DecodePayload[contracts.UserAddToProjectEvent](store.queued[0])
	if err != nil || !ev.Manager {
		t.Fatalf("expected manager flag on the event, got %+v (%v)", ev, err)
	}
}

func TestAddMembersToProject_OnlyManagersAddManagers(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	req := AddToProjectRequest{ProjectID: 1, UserIDs: []int64{9}, Manager: true}
	if _, err := svc.AddMembersToProject(ctx, alice, req); !errors.Is(err, ErrNotProjectManager) {
		t.Fatalf("expected ErrNotProjectManager for an unmapped actor, got %v", err)
	}
	store.seed(1, alice.UserID, RoleMember)
	if _, err := svc.AddMembersToProject(ctx, alice, req); !errors.Is(err, ErrNotProjectManager) {
		t.Fatalf("expected ErrNotProjectManager for a plain member, got %v", err)
	}
	if _, ok := store.snapshot()[[2]int64{9, 1}]; ok || len(store.queued) != 0 {
		t.Fatal("a rejected manager grant must write nothing")
	}
}

func TestRequireMember(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	store.seed(1, 3, RoleMember)
	if err := svc.RequireMember(ctx, 1, 3); err != nil {
		t.Fatalf("RequireMember: %v", err)
	}
	if err := svc.RequireMember(ctx, 1, 99); !errors.Is(err, ErrNotProjectMember) {
		t.Fatalf("expected ErrNotProjectMember, got %v", err)
	}
	if err := svc.RequireManager(ctx, 1, 3); !errors.Is(err, ErrNotProjectManager) {
		t.Fatalf("expected ErrNotProjectManager, got %v", err)
	}
}

func TestAddMembersToProject_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{UserIDs: []int64{1}}); !errors.Is(err, ErrProjectIDRequired) {
		t.Fatalf("expected ErrProjectIDRequired, got %v", err)
	}
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 1, UserIDs: []int64{0, -2}}); !errors.Is(err, ErrUserIDsRequired) {
		t.Fatalf("expected ErrUserIDsRequired, got %v", err)
	}
	if _, err := svc.MembershipsByUsers(ctx, nil); !errors.Is(err, ErrIDsRequired) {
		t.Fatalf("expected ErrIDsRequired, got %v", err)
	}
}

func TestMembershipLookups(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 1, UserIDs: []int64{3, 4}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddMembersToProject(ctx, alice, AddToProjectRequest{ProjectID: 2, UserIDs: []int64{3}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	byUser, err := svc.MembershipsByUsers(ctx, []int64{3})
	if err != nil || len(byUser) != 2 {
		t.Fatalf("expected user 3 in two projects, got %+v (%v)", byUser, err)
	}
	byProject, err := svc.MembershipsByProjects(ctx, []int64{1})
	if err != nil || len(byProject) != 2 {
		t.Fatalf("expected two members of project 1, got %+v (%v)", byProject, err)
	}
}
