package project

import (
	"strings"
	"time"

	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/contracts"
)

// MaxDepth is the deepest level a task may sit at. A task at MaxDepth cannot
// have children.
const MaxDepth = 2

var (
	ErrProjectNotFound    = apperr.New(apperr.KindNotFound, "project not found")
	ErrTaskNotFound       = apperr.New(apperr.KindNotFound, "task not found")
	ErrParentTaskNotFound = apperr.New(apperr.KindNotFound, "parent task not found")
	ErrInviteNotFound     = apperr.New(apperr.KindNotFound, "invite link not found")
	ErrDepthExceeded      = apperr.New(apperr.KindConflict, "parent task is at the maximum depth")
	ErrParentOtherProject = apperr.New(apperr.KindInvalid, "parent task belongs to another project")
	ErrTitleRequired      = apperr.New(apperr.KindInvalid, "title is required")
	ErrInvalidStatus      = apperr.New(apperr.KindInvalid, "status must be TODO, IN_PROGRESS or DONE")
	ErrInvalidDateRange   = apperr.New(apperr.KindInvalid, "end_date is before start_date")
	ErrUserIDsRequired    = apperr.New(apperr.KindInvalid, "user_ids is required")
	ErrNotProjectMember   = apperr.New(apperr.KindForbidden, "actor is not a member of the project")
	ErrNotProjectManager  = apperr.New(apperr.KindForbidden, "actor is not a manager of the project")
	ErrTokenTaken         = apperr.New(apperr.KindConflict, "invite token already in use")
	ErrTokenExhausted     = apperr.New(apperr.KindTransient, "could not allocate a unique invite token")
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = contracts.StatusTodo
	StatusInProgress TaskStatus = contracts.StatusInProgress
	StatusDone       TaskStatus = contracts.StatusDone
)

// ParseStatus accepts any case; an empty status means TODO.
func ParseStatus(raw string) (TaskStatus, error) {
	status, ok := contracts.NormalizeStatus(raw)
	if !ok {
		return "", ErrInvalidStatus
	}
	return TaskStatus(status), nil
}

type Project struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectSummary adds task progress: the share of tasks that are DONE.
type ProjectSummary struct {
	Project
	TotalTasks     int     `json:"total_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	Progress       float64 `json:"progress"`
}

type ProjectFields struct {
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

func (f *ProjectFields) normalize() error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return ErrTitleRequired
	}
	return checkDates(f.StartDate, f.EndDate)
}

type Member struct {
	ProjectID int64 `json:"project_id"`
	UserID    int64 `json:"user_id"`
	Manager   bool  `json:"manager"`
}

type Task struct {
	ID           int64      `json:"id"`
	ProjectID    int64      `json:"project_id"`
	ParentTaskID *int64     `json:"parent_task_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	Depth        int        `json:"depth"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TaskFields is the full replacement applied by an update.
type TaskFields struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
}

func (f *TaskFields) normalize() error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return ErrTitleRequired
	}
	status, err := ParseStatus(string(f.Status))
	if err != nil {
		return err
	}
	f.Status = status
	return checkDates(f.StartDate, f.EndDate)
}

type NewTask struct {
	ProjectID    int64  `json:"project_id"`
	ParentTaskID *int64 `json:"parent_task_id,omitempty"`
	TaskFields
	// OriginEventID is set when the task is created from an event; a second
	// delivery of that event finds the existing task.
	OriginEventID string `json:"-"`
}

// AssignResult splits requested users into newly assigned ones and those
// already on the task.
type AssignResult struct {
	TaskID     int64   `json:"task_id"`
	Added      []int64 `json:"added"`
	Duplicates []int64 `json:"duplicates"`
}

type Invite struct {
	ProjectID int64     `json:"project_id"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func checkDates(start, end time.Time) error {
	if !contracts.DatesOrdered(start, end) {
		return ErrInvalidDateRange
	}
	return nil
}
