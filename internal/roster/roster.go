// Package roster exposes read-only facts owned by the classroom and user
// systems. The attendance engine consumes these lookups and never writes
// through them.
package roster

import (
	"context"
	"database/sql"
	"errors"
)

// User is the slice of identity the engine needs for reporting.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ErrNotFound is returned when a classroom or user does not exist.
var ErrNotFound = errors.New("roster: not found")

// Directory answers ownership, enrollment and identity questions.
type Directory interface {
	ClassroomOwner(ctx context.Context, classroomID string) (string, error)
	EnrolledUserIDs(ctx context.Context, classroomID string) ([]string, error)
	User(ctx context.Context, userID string) (User, error)
}

// Repository reads the classroom system's tables directly.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ClassroomOwner returns the teacher id owning a classroom.
func (r *Repository) ClassroomOwner(ctx context.Context, classroomID string) (string, error) {
	var teacherID string
	err := r.db.QueryRowContext(ctx, `
		SELECT teacher_id FROM classrooms WHERE id = $1
	`, classroomID).Scan(&teacherID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return teacherID, err
}

// EnrolledUserIDs returns the user ids enrolled in a classroom.
func (r *Repository) EnrolledUserIDs(ctx context.Context, classroomID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM enrollments WHERE classroom_id = $1 ORDER BY user_id
	`, classroomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// User returns display identity for a user id.
func (r *Repository) User(ctx context.Context, userID string) (User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}
