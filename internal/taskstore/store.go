// Package taskstore persists user tasks. All access is scoped to an
// owning user id; a task is never visible outside its owner.
package taskstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task does not exist for the given
// user. Cross-user lookups are indistinguishable from missing ids.
var ErrNotFound = errors.New("task not found")

// Task is a single task owned by a user.
type Task struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter narrows a List call. A nil Completed means no filter.
type ListFilter struct {
	Completed *bool
}

// Patch describes an update. Nil fields are left unchanged; at least
// one field must be set.
type Patch struct {
	Description *string
	Completed   *bool
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Description == nil && p.Completed == nil
}

// Store is the task persistence boundary.
type Store interface {
	// Create inserts a new incomplete task and returns it.
	Create(ctx context.Context, userID, description string) (*Task, error)

	// List returns the user's tasks ordered by id ascending.
	List(ctx context.Context, userID string, filter ListFilter) ([]Task, error)

	// Get returns one task, or ErrNotFound.
	Get(ctx context.Context, userID string, id int64) (*Task, error)

	// Update applies a patch and returns the updated task, or ErrNotFound.
	Update(ctx context.Context, userID string, id int64, patch Patch) (*Task, error)

	// Toggle flips the completed flag and returns the updated task,
	// or ErrNotFound.
	Toggle(ctx context.Context, userID string, id int64) (*Task, error)

	// Delete removes a task, or returns ErrNotFound.
	Delete(ctx context.Context, userID string, id int64) error

	// Search returns the user's tasks whose description contains the
	// query, case-insensitive, ordered by id ascending.
	Search(ctx context.Context, userID, query string) ([]Task, error)
}
