package commandapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/logger"
)

func newHandlerForTests(t *testing.T) (http.Handler, *recordingPublisher, string) {
	t.Helper()
	svc, pub := newTestService()
	manager := auth.NewManager("test-secret", time.Hour)
	token, err := manager.Sign(7, "alice")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	r := chi.NewRouter()
	NewHandler(svc, manager, "http://localhost:8081", logger.Nop()).Routes(r)
	return r, pub, token
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

func TestCommands_Unauthorized(t *testing.T) {
	h, pub, _ := newHandlerForTests(t)
	rec := doRequest(h, http.MethodDelete, "/api/v1/commands/tasks/5", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(pub.events) != 0 {
		t.Fatal("unauthorized command must not publish")
	}
}

func TestCommands_Accepted(t *testing.T) {
	h, pub, token := newHandlerForTests(t)
	tests := []struct {
		method, path, body string
		want               contracts.EventType
	}{
		{http.MethodPost, "/api/v1/members/task", `{"task_id":5,"user_ids":[3]}`, contracts.EventUserAddToTask},
		{http.MethodPost, "/api/v1/commands/tasks", `{"project_id":1,"title":"t"}`, contracts.EventTaskCreate},
		{http.MethodPut, "/api/v1/commands/tasks/5", `{"title":"X","status":"DONE"}`, contracts.EventTaskUpdate},
		{http.MethodDelete, "/api/v1/commands/tasks/5", ``, contracts.EventTaskDelete},
		{http.MethodPut, "/api/v1/commands/projects/1", `{"title":"p"}`, contracts.EventProjectUpdate},
		{http.MethodDelete, "/api/v1/commands/projects/1", ``, contracts.EventProjectDelete},
	}
	for i, tt := range tests {
		rec := doRequest(h, tt.method, tt.path, token, tt.body)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("%s %s: expected 202, got %d: %s", tt.method, tt.path, rec.Code, rec.Body.String())
		}
		if got := pub.events[i].EventType; got != tt.want {
			t.Fatalf("%s %s: published %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestCommands_ForbiddenForNonMember(t *testing.T) {
	h, pub, _ := newHandlerForTests(t)
	token, err := auth.NewManager("test-secret", time.Hour).Sign(99, "mallory")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rec := doRequest(h, http.MethodDelete, "/api/v1/commands/projects/1", token, "")
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"kind":"forbidden"`) {
		t.Fatalf("expected structured 403, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.events) != 0 {
		t.Fatal("forbidden command must not publish")
	}
}

func TestCommands_BadInput(t *testing.T) {
	h, _, token := newHandlerForTests(t)
	rec := doRequest(h, http.MethodPut, "/api/v1/commands/tasks/abc", token, `{"title":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
	rec = doRequest(h, http.MethodPost, "/api/v1/commands/tasks", token, `{"project_id":1}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"kind":"invalid"`) {
		t.Fatalf("expected structured 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestOptions_HasCORSHeaders(t *testing.T) {
	h, _, _ := newHandlerForTests(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/commands/tasks", nil)
	req.Header.Set("Origin", "http://127.0.0.1:8081")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:8081" {
		t.Fatalf("unexpected CORS origin: %q", got)
	}
}
