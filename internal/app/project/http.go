package project

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/httpx"
	"github.com/syncteam/project/internal/platform/logger"
)

type Handler struct {
	Service *Service
	Auth    auth.Manager
	Log     *logger.Logger
}

func NewHandler(service *Service, authManager auth.Manager, log *logger.Logger) *Handler {
	return &Handler{Service: service, Auth: authManager, Log: log.With("component", "project-http")}
}

// Routes mounts the project API on r. Every route requires a bearer token.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(authR chi.Router) {
		authR.Use(auth.Middleware(h.Auth))
		authR.Post("/api/v1/projects", h.handleCreateProject)
		authR.Get("/api/v1/projects", h.handleListProjects)
		authR.Get("/api/v1/projects/{projectID}", h.handleGetProject)
		authR.Post("/api/v1/projects/{projectID}/invite", h.handleCreateInvite)
		authR.Get("/api/v1/projects/{projectID}/invite", h.handleGetInvite)
		authR.Post("/api/v1/tasks", h.handleCreateTask)
		authR.Get("/api/v1/tasks/{taskID}/children", h.handleChildTasks)
		authR.Post("/api/v1/tasks/{taskID}/users", h.handleAddUsersToTask)
		authR.Get("/api/v1/tasks/{taskID}/users", h.handleTaskUsers)
	})
}

type createTaskRequest struct {
	ProjectID    int64  `json:"project_id"`
	ParentTaskID *int64 `json:"parent_task_id,omitempty"`
	TaskFields
}

type assignUsersRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectFields
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	p, err := h.Service.CreateProject(r.Context(), actor, req)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "projectID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	p, err := h.Service.GetProject(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := httpx.ParseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	summaries, err := h.Service.ListProjects(r.Context(), ids)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"projects": summaries})
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "projectID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	inv, err := h.Service.CreateInviteLink(r.Context(), actor, id)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleGetInvite(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "projectID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	inv, err := h.Service.GetInviteLink(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	task, err := h.Service.CreateTask(r.Context(), actor, NewTask{
		ProjectID:    req.ProjectID,
		ParentTaskID: req.ParentTaskID,
		TaskFields:   req.TaskFields,
	})
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleChildTasks(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "taskID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	children, err := h.Service.ChildTasks(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"task_id": id, "children": children})
}

// handleAddUsersToTask answers 409 when every requested user was already
// assigned.
func (h *Handler) handleAddUsersToTask(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "taskID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	var req assignUsersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	result, err := h.Service.AddUsersToTask(r.Context(), actor, id, req.UserIDs)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	status := http.StatusCreated
	if len(result.Added) == 0 && len(result.Duplicates) > 0 {
		status = http.StatusConflict
	}
	httpx.WriteJSON(w, status, result)
}

func (h *Handler) handleTaskUsers(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "taskID")
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	users, err := h.Service.TaskUsers(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"task_id": id, "user_ids": users})
}
