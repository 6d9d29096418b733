package member

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
	return &Handler{Service: service, Auth: authManager, Log: log.With("component", "member-http")}
}

func (h *Handler) Routes(r chi.Router) {
	r.Group(func(authR chi.Router) {
		authR.Use(auth.Middleware(h.Auth))
		authR.Post("/api/v1/members/project", h.handleAddToProject)
		authR.Get("/api/v1/members", h.handleByUsers)
		authR.Get("/api/v1/members/projects", h.handleByProjects)
	})
}

// handleAddToProject answers 202: the mappings exist locally but the project
// service has yet to confirm them. 409 means every user was already mapped.
func (h *Handler) handleAddToProject(w http.ResponseWriter, r *http.Request) {
	var req AddToProjectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	actor, _ := auth.ActorFromContext(r.Context())
	result, err := h.Service.AddMembersToProject(r.Context(), actor, req)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	status := http.StatusAccepted
	if len(result.Added) == 0 && len(result.Duplicates) > 0 {
		status = http.StatusConflict
	}
	httpx.WriteJSON(w, status, result)
}

func (h *Handler) handleByUsers(w http.ResponseWriter, r *http.Request) {
	ids, err := httpx.ParseIDList(r.URL.Query().Get("user_ids"))
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	memberships, err := h.Service.MembershipsByUsers(r.Context(), ids)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"memberships": memberships})
}

func (h *Handler) handleByProjects(w http.ResponseWriter, r *http.Request) {
	ids, err := httpx.ParseIDList(r.URL.Query().Get("project_ids"))
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	memberships, err := h.Service.MembershipsByProjects(r.Context(), ids)
	if err != nil {
		httpx.WriteError(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"memberships": memberships})
}
