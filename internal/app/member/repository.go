package member

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syncteam/project/internal/contracts"
	"github.com/syncteam/project/internal/producer"
)

const createMemberProjectsSQL = `
CREATE TABLE IF NOT EXISTS member_projects (
  user_id bigint NOT NULL,
  project_id bigint NOT NULL,
  role text NOT NULL DEFAULT 'member',
  joined_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, project_id)
)`

const createMemberProjectsProjectIdxSQL = `
CREATE INDEX IF NOT EXISTS member_projects_project_idx ON member_projects (project_id)`

const membershipColumns = `user_id, project_id, role, joined_at`

// EventFunc builds the event announcing one new mapping.
type EventFunc func(userID int64) (contracts.Envelope, error)

// Repository stores member mappings. Every new mapping and the event that
// announces it commit in the same transaction.
type Repository struct {
	Pool   *pgxpool.Pool
	Outbox *producer.Outbox
}

func NewRepository(pool *pgxpool.Pool, outbox *producer.Outbox) *Repository {
	return &Repository{Pool: pool, Outbox: outbox}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createMemberProjectsSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createMemberProjectsProjectIdxSQL); err != nil {
		return err
	}
	return r.Outbox.EnsureSchema(ctx)
}

func (r *Repository) AddMappings(ctx context.Context, projectID int64, userIDs []int64, role Role, event EventFunc) (AddResult, error) {
	result := AddResult{ProjectID: projectID, Added: []int64{}, Duplicates: []int64{}}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AddResult{}, err
	}
	defer tx.Rollback(ctx)

	for _, userID := range userIDs {
		tag, err := tx.Exec(ctx,
			`INSERT INTO member_projects (user_id, project_id, role) VALUES ($1, $2, $3)
			 ON CONFLICT (user_id, project_id) DO NOTHING`,
			userID, projectID, string(role),
		)
		if err != nil {
			return AddResult{}, err
		}
		if tag.RowsAffected() == 0 {
			result.Duplicates = append(result.Duplicates, userID)
			continue
		}
		env, err := event(userID)
		if err != nil {
			return AddResult{}, err
		}
		if err := r.Outbox.Enqueue(ctx, tx, env); err != nil {
			return AddResult{}, err
		}
		result.Added = append(result.Added, userID)
	}
	return result, tx.Commit(ctx)
}

// AddCreator maps a project's creator as manager. A user already mapped is
// promoted; a creator already recorded as manager reports false.
func (r *Repository) AddCreator(ctx context.Context, projectID, userID int64) (bool, error) {
	tag, err := r.Pool.Exec(ctx,
		`INSERT INTO member_projects (user_id, project_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, project_id) DO UPDATE SET role = EXCLUDED.role
		 WHERE member_projects.role <> EXCLUDED.role`,
		userID, projectID, string(RoleManager),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) FindMapping(ctx context.Context, projectID, userID int64) (Membership, bool, error) {
	var (
		m    Membership
		role string
	)
	err := r.Pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM member_projects WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&m.UserID, &m.ProjectID, &role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, false, nil
	}
	if err != nil {
		return Membership{}, false, err
	}
	m.Role = Role(role)
	return m, true, nil
}

func (r *Repository) RemoveMapping(ctx context.Context, projectID, userID int64) (bool, error) {
	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM member_projects WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) RemoveProject(ctx context.Context, projectID int64) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM member_projects WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ByUsers(ctx context.Context, userIDs []int64) ([]Membership, error) {
	return r.list(ctx, `SELECT `+membershipColumns+` FROM member_projects WHERE user_id = ANY($1) ORDER BY user_id, project_id`, userIDs)
}

func (r *Repository) ByProjects(ctx context.Context, projectIDs []int64) ([]Membership, error) {
	return r.list(ctx, `SELECT `+membershipColumns+` FROM member_projects WHERE project_id = ANY($1) ORDER BY project_id, user_id`, projectIDs)
}

func (r *Repository) list(ctx context.Context, query string, ids []int64) ([]Membership, error) {
	rows, err := r.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Membership, 0, len(ids))
	for rows.Next() {
		var (
			m    Membership
			role string
		)
		if err := rows.Scan(&m.UserID, &m.ProjectID, &role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		result = append(result, m)
	}
	return result, rows.Err()
}
