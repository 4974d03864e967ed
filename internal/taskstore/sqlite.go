package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed task store.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the task database at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a task store on an existing database handle,
// running migrations on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			description TEXT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, id);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new incomplete task.
func (s *SQLiteStore) Create(ctx context.Context, userID, description string) (*Task, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (user_id, description, completed, created_at, updated_at)
		VALUES (?, ?, FALSE, ?, ?)
	`, userID, description, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}

	return &Task{
		ID:          id,
		UserID:      userID,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// List returns the user's tasks ordered by id ascending.
func (s *SQLiteStore) List(ctx context.Context, userID string, filter ListFilter) ([]Task, error) {
	query := `
		SELECT id, user_id, description, completed, created_at, updated_at
		FROM tasks
		WHERE user_id = ?`
	args := []any{userID}

	if filter.Completed != nil {
		query += ` AND completed = ?`
		args = append(args, *filter.Completed)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// Get returns one task, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, userID string, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, description, completed, created_at, updated_at
		FROM tasks
		WHERE user_id = ? AND id = ?
	`, userID, id)

	var t Task
	err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// Update applies a patch and returns the updated task.
func (s *SQLiteStore) Update(ctx context.Context, userID string, id int64, patch Patch) (*Task, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("empty patch")
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	args = append(args, userID, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND id = ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, userID, id)
}

// Toggle flips the completed flag and returns the updated task.
func (s *SQLiteStore) Toggle(ctx context.Context, userID string, id int64) (*Task, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET completed = NOT completed, updated_at = ?
		WHERE user_id = ? AND id = ?
	`, time.Now().UTC(), userID, id)
	if err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, userID, id)
}

// Delete removes a task.
func (s *SQLiteStore) Delete(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE user_id = ? AND id = ?
	`, userID, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns the user's tasks matching the query, case-insensitive.
func (s *SQLiteStore) Search(ctx context.Context, userID, query string) ([]Task, error) {
	// Escape LIKE metacharacters so a literal % or _ in the query
	// matches itself.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, description, completed, created_at, updated_at
		FROM tasks
		WHERE user_id = ? AND description LIKE ? ESCAPE '\'
		ORDER BY id ASC
	`, userID, "%"+escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
