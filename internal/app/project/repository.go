package project

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syncteam/project/internal/producer"
)

var schemaSQL = []string{`
CREATE TABLE IF NOT EXISTS projects (
  id bigserial PRIMARY KEY,
  title text NOT NULL,
  subtitle text NOT NULL DEFAULT '',
  description text NOT NULL DEFAULT '',
  start_date timestamptz NOT NULL,
  end_date timestamptz NOT NULL,
  created_by bigint NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`, `
CREATE TABLE IF NOT EXISTS project_members (
  project_id bigint NOT NULL REFERENCES projects(id),
  user_id bigint NOT NULL,
  manager boolean NOT NULL DEFAULT false,
  joined_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (project_id, user_id)
)`, `
CREATE TABLE IF NOT EXISTS tasks (
  id bigserial PRIMARY KEY,
  project_id bigint NOT NULL REFERENCES projects(id),
  parent_task_id bigint REFERENCES tasks(id),
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  status text NOT NULL CHECK (status IN ('TODO', 'IN_PROGRESS', 'DONE')),
  start_date timestamptz NOT NULL,
  end_date timestamptz NOT NULL,
  depth smallint NOT NULL CHECK (depth BETWEEN 0 AND 2),
  origin_event_id text UNIQUE,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`, `
CREATE INDEX IF NOT EXISTS tasks_project_idx ON tasks (project_id)`, `
CREATE INDEX IF NOT EXISTS tasks_parent_idx ON tasks (parent_task_id)`, `
CREATE TABLE IF NOT EXISTS user_tasks (
  user_id bigint NOT NULL,
  task_id bigint NOT NULL REFERENCES tasks(id),
  assigned_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, task_id)
)`, `
CREATE INDEX IF NOT EXISTS user_tasks_task_idx ON user_tasks (task_id)`, `
CREATE TABLE IF NOT EXISTS project_invites (
  project_id bigint PRIMARY KEY REFERENCES projects(id),
  token text NOT NULL UNIQUE,
  url text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`,
}

const projectColumns = `id, title, subtitle, description, start_date, end_date, created_by, created_at`

const taskColumns = `id, project_id, parent_task_id, title, description, status, start_date, end_date, depth, created_at`

const insertTaskSQL = `
INSERT INTO tasks (project_id, parent_task_id, title, description, status, start_date, end_date, depth, origin_event_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (origin_event_id) DO NOTHING
RETURNING ` + taskColumns

const selectProjectSummariesSQL = `
SELECT p.id, p.title, p.subtitle, p.description, p.start_date, p.end_date, p.created_by, p.created_at,
       count(t.id) AS total,
       count(t.id) FILTER (WHERE t.status = 'DONE') AS completed
FROM projects p
LEFT JOIN tasks t ON t.project_id = p.id
WHERE p.id = ANY($1)
GROUP BY p.id
ORDER BY p.id`

const taskSubtreeSQL = `
WITH RECURSIVE subtree AS (
  SELECT id FROM tasks WHERE id = $1
  UNION ALL
  SELECT t.id FROM tasks t JOIN subtree s ON t.parent_task_id = s.id
)`

// parentTaskConstraint is the name Postgres gives the tasks.parent_task_id
// foreign key.
const parentTaskConstraint = "tasks_parent_task_id_fkey"

// Repository is the Postgres entity store of the project service. Every
// method that writes runs in its own transaction; a new project commits
// together with the event announcing it.
type Repository struct {
	Pool   *pgxpool.Pool
	Outbox *producer.Outbox
}

func NewRepository(pool *pgxpool.Pool, outbox *producer.Outbox) *Repository {
	return &Repository{Pool: pool, Outbox: outbox}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaSQL {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return r.Outbox.EnsureSchema(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Title, &p.Subtitle, &p.Description, &p.StartDate, &p.EndDate, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t      Task
		status string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.ParentTaskID, &t.Title, &t.Description, &status, &t.StartDate, &t.EndDate, &t.Depth, &t.CreatedAt)
	t.Status = TaskStatus(status)
	return t, err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// taskInsertError names the row a task insert found missing: the parent task
// or, for any other foreign key, the project.
func taskInsertError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return err
	}
	if pgErr.ConstraintName == parentTaskConstraint {
		return ErrParentTaskNotFound
	}
	return ErrProjectNotFound
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Repository) CreateProject(ctx context.Context, fields ProjectFields, creatorID int64, event EventFunc) (Project, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Project{}, err
	}
	defer tx.Rollback(ctx)

	p, err := scanProject(tx.QueryRow(ctx,
		`INSERT INTO projects (title, subtitle, description, start_date, end_date, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+projectColumns,
		fields.Title, fields.Subtitle, fields.Description, fields.StartDate, fields.EndDate, creatorID,
	))
	if err != nil {
		return Project{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id, manager) VALUES ($1, $2, true)`,
		p.ID, creatorID,
	); err != nil {
		return Project{}, err
	}
	env, err := event(p)
	if err != nil {
		return Project{}, err
	}
	if err := r.Outbox.Enqueue(ctx, tx, env); err != nil {
		return Project{}, err
	}
	return p, tx.Commit(ctx)
}

func (r *Repository) FindProject(ctx context.Context, id int64) (Project, bool, error) {
	p, err := scanProject(r.Pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, err
	}
	return p, true, nil
}

func (r *Repository) ProjectSummaries(ctx context.Context, ids []int64) ([]ProjectSummary, error) {
	rows, err := r.Pool.Query(ctx, selectProjectSummariesSQL, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]ProjectSummary, 0, len(ids))
	for rows.Next() {
		var s ProjectSummary
		if err := rows.Scan(
			&s.ID, &s.Title, &s.Subtitle, &s.Description, &s.StartDate, &s.EndDate, &s.CreatedBy, &s.CreatedAt,
			&s.TotalTasks, &s.CompletedTasks,
		); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *Repository) UpdateProject(ctx context.Context, id int64, fields ProjectFields) (bool, error) {
	tag, err := r.Pool.Exec(ctx,
		`UPDATE projects
		 SET title = $2, subtitle = $3, description = $4, start_date = $5, end_date = $6, updated_at = now()
		 WHERE id = $1`,
		id, fields.Title, fields.Subtitle, fields.Description, fields.StartDate, fields.EndDate,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteProject removes the project with its tasks, assignments, roster and
// invite. Foreign keys do not cascade; the order here is the cascade.
func (r *Repository) DeleteProject(ctx context.Context, id int64) (bool, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM user_tasks WHERE task_id IN (SELECT id FROM tasks WHERE project_id = $1)`,
		`DELETE FROM tasks WHERE project_id = $1`,
		`DELETE FROM project_members WHERE project_id = $1`,
		`DELETE FROM project_invites WHERE project_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return false, err
		}
	}
	tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, tx.Commit(ctx)
}

// AddMember reports false when the user is already on the roster.
func (r *Repository) AddMember(ctx context.Context, m Member) (bool, error) {
	tag, err := r.Pool.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id, manager)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, user_id) DO NOTHING`,
		m.ProjectID, m.UserID, m.Manager,
	)
	if isForeignKeyViolation(err) {
		return false, ErrProjectNotFound
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) FindMember(ctx context.Context, projectID, userID int64) (Member, bool, error) {
	m := Member{ProjectID: projectID, UserID: userID}
	err := r.Pool.QueryRow(ctx,
		`SELECT manager FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&m.Manager)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, err
	}
	return m, true, nil
}

func (r *Repository) FindTask(ctx context.Context, id int64) (Task, bool, error) {
	t, err := scanTask(r.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return t, true, nil
}

// InsertTask reports created=false when a task for the same origin event
// already exists, returning that task.
func (r *Repository) InsertTask(ctx context.Context, in NewTask, depth int) (Task, bool, error) {
	t, err := scanTask(r.Pool.QueryRow(ctx, insertTaskSQL,
		in.ProjectID, in.ParentTaskID, in.Title, in.Description, string(in.Status),
		in.StartDate, in.EndDate, depth, nullIfEmpty(in.OriginEventID),
	))
	if err == nil {
		return t, true, nil
	}
	if isForeignKeyViolation(err) {
		return Task{}, false, taskInsertError(err)
	}
	if !errors.Is(err, pgx.ErrNoRows) || in.OriginEventID == "" {
		return Task{}, false, err
	}
	t, err = scanTask(r.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE origin_event_id = $1`, in.OriginEventID))
	return t, false, err
}

func (r *Repository) UpdateTask(ctx context.Context, id int64, fields TaskFields) (bool, error) {
	tag, err := r.Pool.Exec(ctx,
		`UPDATE tasks
		 SET title = $2, description = $3, status = $4, start_date = $5, end_date = $6, updated_at = now()
		 WHERE id = $1`,
		id, fields.Title, fields.Description, string(fields.Status), fields.StartDate, fields.EndDate,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteTask removes the task, its descendants and their assignments.
func (r *Repository) DeleteTask(ctx context.Context, id int64) (bool, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, taskSubtreeSQL+` DELETE FROM user_tasks WHERE task_id IN (SELECT id FROM subtree)`, id); err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, taskSubtreeSQL+` DELETE FROM tasks WHERE id IN (SELECT id FROM subtree)`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, tx.Commit(ctx)
}

func (r *Repository) ChildTasks(ctx context.Context, parentID int64) ([]Task, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = $1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// AssignUsers inserts every (user, task) pair in one transaction; pairs that
// already exist are reported as duplicates.
func (r *Repository) AssignUsers(ctx context.Context, taskID int64, userIDs []int64) (AssignResult, error) {
	result := AssignResult{TaskID: taskID, Added: []int64{}, Duplicates: []int64{}}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	for _, userID := range userIDs {
		tag, err := tx.Exec(ctx,
			`INSERT INTO user_tasks (user_id, task_id) VALUES ($1, $2)
			 ON CONFLICT (user_id, task_id) DO NOTHING`,
			userID, taskID,
		)
		if isForeignKeyViolation(err) {
			return AssignResult{}, ErrTaskNotFound
		}
		if err != nil {
			return AssignResult{}, err
		}
		if tag.RowsAffected() > 0 {
			result.Added = append(result.Added, userID)
		} else {
			result.Duplicates = append(result.Duplicates, userID)
		}
	}
	return result, tx.Commit(ctx)
}

func (r *Repository) TaskUsers(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT user_id FROM user_tasks WHERE task_id = $1 ORDER BY user_id`, taskID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *Repository) FindInvite(ctx context.Context, projectID int64) (Invite, bool, error) {
	var inv Invite
	err := r.Pool.QueryRow(ctx,
		`SELECT project_id, token, url, created_at FROM project_invites WHERE project_id = $1`,
		projectID,
	).Scan(&inv.ProjectID, &inv.Token, &inv.URL, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, false, nil
	}
	if err != nil {
		return Invite{}, false, err
	}
	return inv, true, nil
}

func (r *Repository) InviteTokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_invites WHERE token = $1)`, token,
	).Scan(&exists)
	return exists, err
}

// SaveInvite replaces the project's invite. It returns ErrTokenTaken when
// another project claimed the token first.
func (r *Repository) SaveInvite(ctx context.Context, inv Invite) (Invite, error) {
	err := r.Pool.QueryRow(ctx,
		`INSERT INTO project_invites (project_id, token, url)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id) DO UPDATE SET token = EXCLUDED.token, url = EXCLUDED.url, created_at = now()
		 RETURNING created_at`,
		inv.ProjectID, inv.Token, inv.URL,
	).Scan(&inv.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return Invite{}, ErrTokenTaken
	case isForeignKeyViolation(err):
		return Invite{}, ErrProjectNotFound
	case err != nil:
		return Invite{}, err
	}
	return inv, nil
}
