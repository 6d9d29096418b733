package member

import (
	"time"

	"github.com/syncteam/project/internal/apperr"
)

var (
	ErrProjectIDRequired = apperr.New(apperr.KindInvalid, "project_id is required")
	ErrUserIDsRequired   = apperr.New(apperr.KindInvalid, "user_ids is required")
	ErrIDsRequired       = apperr.New(apperr.KindInvalid, "at least one id is required")
	ErrNotProjectMember  = apperr.New(apperr.KindForbidden, "actor is not a member of the project")
	ErrNotProjectManager = apperr.New(apperr.KindForbidden, "actor is not a manager of the project")
)

type Role string

const (
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Membership maps a user to a project. It is written before the project
// service has confirmed the project exists and is removed again by the
// compensating event if it does not.
type Membership struct {
	UserID    int64     `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

type AddToProjectRequest struct {
	ProjectID int64   `json:"project_id"`
	UserIDs   []int64 `json:"user_ids"`
	Manager   bool    `json:"manager"`
}

// AddResult reports which users were mapped by this request. Confirmation
// from the project service follows asynchronously under CorrelationID.
type AddResult struct {
	ProjectID     int64   `json:"project_id"`
	CorrelationID string  `json:"correlation_id"`
	Added         []int64 `json:"added"`
	Duplicates    []int64 `json:"duplicates"`
}
