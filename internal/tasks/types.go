// internal/tasks/types.go
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyTitle     = errors.New("task title must not be empty")
	ErrInvalidStatus  = errors.New("invalid task status")
	ErrInvalidFilter  = errors.New("invalid task filter")
	ErrInvalidSort    = errors.New("invalid task sort")
	ErrInvalidDueDate = errors.New("due date must be formatted as YYYY-MM-DD")
)

// DueDateLayout is the calendar date format stored in Task.DueDate
const DueDateLayout = "2006-01-02"

// Status represents the current state of a task
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// AllStatuses returns every status in display order
func AllStatuses() []Status {
	return []Status{StatusTodo, StatusDoing, StatusDone}
}

// ParseStatus validates a raw status value
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTodo, StatusDoing, StatusDone:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Task is a single tracked item. DueDate is empty when absent.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	DueDate   string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// taskJSON carries DueDate as a nullable field on the wire
type taskJSON struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	DueDate   *string    `json:"due_date"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// MarshalJSON encodes an absent due date as null
func (t Task) MarshalJSON() ([]byte, error) {
	out := taskJSON{ID: t.ID, Title: t.Title, Status: t.Status}
	if t.DueDate != "" {
		d := t.DueDate
		out.DueDate = &d
	}
	if !t.CreatedAt.IsZero() {
		c := t.CreatedAt
		out.CreatedAt = &c
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts null or missing due dates
func (t *Task) UnmarshalJSON(data []byte) error {
	var in taskJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Task{ID: in.ID, Title: in.Title, Status: in.Status}
	if in.DueDate != nil {
		t.DueDate = *in.DueDate
	}
	if in.CreatedAt != nil {
		t.CreatedAt = *in.CreatedAt
	}
	return nil
}

// HasDueDate reports whether a due date is set
func (t Task) HasDueDate() bool {
	return t.DueDate != ""
}

// NewTask builds a todo task with a fresh id
func NewTask(title, dueDate string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, ErrEmptyTitle
	}

	due, err := ValidateDueDate(dueDate)
	if err != nil {
		return Task{}, err
	}

	return Task{
		ID:      uuid.New().String(),
		Title:   title,
		Status:  StatusTodo,
		DueDate: due,
	}, nil
}

// ValidateDueDate trims a due date and checks its format. Blank input means absent.
func ValidateDueDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(DueDateLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDueDate, s)
	}
	return s, nil
}

// SeedTasks returns the fixed task set shown in local mode
func SeedTasks() []Task {
	return []Task{
		{ID: "1", Title: "Read the assignment brief", Status: StatusTodo},
		{ID: "2", Title: "Implement basic todo features", Status: StatusDoing},
		{ID: "3", Title: "Connect the document store and auth", Status: StatusDone},
	}
}

// Clone returns a copy of the slice so callers can't alias internal state
func Clone(list []Task) []Task {
	if list == nil {
		return nil
	}
	out := make([]Task, len(list))
	copy(out, list)
	return out
}
