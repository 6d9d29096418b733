package project

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/logger"
)

func newTestRouter(t *testing.T) (http.Handler, *memStore, string) {
	t.Helper()
	svc, store, _ := newTestService()
	manager := auth.NewManager("test-secret", time.Hour)
	token, err := manager.Sign(7, "alice")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	r := chi.NewRouter()
	NewHandler(svc, manager, logger.Nop()).Routes(r)
	return r, store, token
}

func doRequest(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_RequiresBearerToken(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/projects/1", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHTTP_CreateAndGetProject(t *testing.T) {
	h, _, token := newTestRouter(t)
	rec := doRequest(h, http.MethodPost, "/api/v1/projects", token, `{"title":"Launch","subtitle":"q3"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created Project
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/projects/1", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"title":"Launch"`) {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTP_ProjectNotFoundIsStructured(t *testing.T) {
	h, _, token := newTestRouter(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/projects/42", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp apperr.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != apperr.KindNotFound || resp.Message != "project not found" {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestHTTP_AddUsersToTaskDuplicateIsConflict(t *testing.T) {
	h, store, token := newTestRouter(t)
	store.seedProject(1)
	store.members[[2]int64{1, 7}] = Member{ProjectID: 1, UserID: 7}
	store.seedTask(Task{ID: 5, ProjectID: 1, Status: StatusTodo})

	rec := doRequest(h, http.MethodPost, "/api/v1/tasks/5/users", token, `{"user_ids":[8]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(h, http.MethodPost, "/api/v1/tasks/5/users", token, `{"user_ids":[8]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var result AssignResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Duplicates) != 1 || result.Duplicates[0] != 8 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestHTTP_CreateTaskUnderDepthTwoParent(t *testing.T) {
	h, store, token := newTestRouter(t)
	store.seedProject(1)
	store.members[[2]int64{1, 7}] = Member{ProjectID: 1, UserID: 7}
	store.seedTask(Task{ID: 9, ProjectID: 1, Status: StatusTodo, Depth: 2})

	rec := doRequest(h, http.MethodPost, "/api/v1/tasks", token, `{"project_id":1,"parent_task_id":9,"title":"x"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTP_ListProjectsRejectsBadIDs(t *testing.T) {
	h, _, token := newTestRouter(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/projects?ids=1,abc", token, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
