package commandapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/httpx"
	"github.com/syncteam/project/internal/platform/logger"
)

type Handler struct {
	Service       *Service
	Auth          auth.Manager
	AllowedOrigin string
	Log           *logger.Logger
}

func NewHandler(service *Service, authManager auth.Manager, allowedOrigin string, log *logger.Logger) *Handler {
	return &Handler{
		Service:       service,
		Auth:          authManager,
		AllowedOrigin: allowedOrigin,
		Log:           log.With("component", "command-http"),
	}
}

var commandPaths = []string{
	"/api/v1/members/task",
	"/api/v1/commands/tasks",
	"/api/v1/commands/tasks/{taskID}",
	"/api/v1/commands/projects/{projectID}",
}

// Routes mounts the command endpoints. Every command answers 202 once its
// event is on the broker.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(cmdR chi.Router) {
		cmdR.Use(h.corsMiddleware)
		for _, path := range commandPaths {
			cmdR.Options(path, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}
		cmdR.Group(func(authR chi.Router) {
			authR.Use(auth.Middleware(h.Auth))
			authR.Post("/api/v1/members/task", h.handleAddUsersToTask)
			authR.Post("/api/v1/commands/tasks", h.handleCreateTask)
			authR.Put("/api/v1/commands/tasks/{taskID}", h.handleUpdateTask)
			authR.Delete("/api/v1/commands/tasks/{taskID}", h.handleDeleteTask)
			authR.Put("/api/v1/commands/projects/{projectID}", h.handleUpdateProject)
			authR.Delete("/api/v1/commands/projects/{projectID}", h.handleDeleteProject)
		})
	})
}

func (h *Handler) handleAddUsersToTask(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	h.accept(w, r, func(ctx context.Context, actor auth.Actor) (CommandResponse, error) {
		return h.Service.AddUsersToTask(ctx, actor, req)
	})
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	h.accept(w, r, func(ctx context.Context, actor auth.Actor) (CommandResponse, error) {
		return h.Service.CreateTask(ctx, actor, req)
	})
}

func (h *Handler) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := httpx.PathID(r, "taskID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	var req TaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	h.accept(w, r, func(ctx context.Context, actor auth.Actor) (CommandResponse, error) {
		return h.Service.UpdateTask(ctx, actor, taskID, req)
	})
}

func (h *Handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := httpx.PathID(r, "taskID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	h.accept(w, r, func(ctx context.Context, actor auth.Actor) (CommandResponse, error) {
		return h.Service.DeleteTask(ctx, actor, taskID)
	})
}

func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.PathID(r, "projectID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	var req ProjectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	h.accept(w, r, func(ctx context.Context, actor auth.Actor) (CommandResponse, error) {
		return h.Service.UpdateProject(ctx, actor, projectID, req)
	})
}

func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.PathID(r, "projectID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	h.accept(w, r, func(ctx context.Context, actor auth.Actor) (CommandResponse, error) {
		return h.Service.DeleteProject(ctx, actor, projectID)
	})
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request, fn func(context.Context, auth.Actor) (CommandResponse, error)) {
	actor, _ := auth.ActorFromContext(r.Context())
	resp, err := fn(r.Context(), actor)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

// isEquivalentLoopbackOrigin treats localhost, 127.0.0.1 and ::1 on the same
// scheme and port as one origin.
func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil || a.Host == "" {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
