// internal/tasks/store.go
package tasks

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when no task matches the owner and id
var ErrNotFound = errors.New("task not found")

// Store persists owner-scoped tasks to SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the tasks table
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			owner_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'todo',
			due_date TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (owner_id, id)
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks(owner_id, created_at)`)
	return err
}

// Create inserts a task for an owner. CreatedAt must already be stamped.
func (s *Store) Create(ownerID string, task Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (owner_id, id, title, status, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ownerID, task.ID, task.Title, string(task.Status),
		nullableString(task.DueDate), task.CreatedAt.UnixNano(),
	)
	return err
}

// UpdateStatus changes the status of one task
func (s *Store) UpdateStatus(ownerID, id string, status Status) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE owner_id = ? AND id = ?`, string(status), ownerID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Delete removes a task
func (s *Store) Delete(ownerID, id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetByID retrieves a task by owner and ID
func (s *Store) GetByID(ownerID, id string) (Task, error) {
	row := s.db.QueryRow(`
		SELECT id, title, status, due_date, created_at
		FROM tasks WHERE owner_id = ? AND id = ?
	`, ownerID, id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	return task, err
}

// ListByOwner returns an owner's tasks, newest first
func (s *Store) ListByOwner(ownerID string) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, title, status, due_date, created_at
		FROM tasks WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, task)
	}
	return list, rows.Err()
}

// Owners lists every owner that has at least one task
func (s *Store) Owners() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT owner_id FROM tasks ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var task Task
	var status string
	var dueDate sql.NullString
	var createdAt int64

	if err := row.Scan(&task.ID, &task.Title, &status, &dueDate, &createdAt); err != nil {
		return Task{}, err
	}

	task.Status = Status(status)
	if dueDate.Valid {
		task.DueDate = dueDate.String
	}
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	return task, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
