package project

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTaskInsertErrorNamesMissingRow(t *testing.T) {
	other := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"parent deleted", &pgconn.PgError{Code: "23503", ConstraintName: parentTaskConstraint}, ErrParentTaskNotFound},
		{"wrapped parent", fmt.Errorf("insert task: %w", &pgconn.PgError{Code: "23503", ConstraintName: parentTaskConstraint}), ErrParentTaskNotFound},
		{"project deleted", &pgconn.PgError{Code: "23503", ConstraintName: "tasks_project_id_fkey"}, ErrProjectNotFound},
		{"not a foreign key", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := taskInsertError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("taskInsertError = %v, want %v", got, tt.want)
			}
		})
	}
}
