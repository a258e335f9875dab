// internal/tasks/types_test.go
package tasks

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewTask(t *testing.T) {
	task, err := NewTask("  Test title  ", "")
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}

	if task.ID == "" {
		t.Error("expected auto-generated ID")
	}
	if task.Title != "Test title" {
		t.Errorf("expected trimmed title, got: %q", task.Title)
	}
	if task.Status != StatusTodo {
		t.Errorf("expected todo status, got: %s", task.Status)
	}
	if task.HasDueDate() {
		t.Errorf("expected no due date, got: %q", task.DueDate)
	}
}

func TestNewTaskRejectsBlankTitle(t *testing.T) {
	for _, title := range []string{"", "   ", "\t\n"} {
		if _, err := NewTask(title, ""); !errors.Is(err, ErrEmptyTitle) {
			t.Errorf("title %q: expected ErrEmptyTitle, got: %v", title, err)
		}
	}
}

func TestNewTaskUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		task, err := NewTask("t", "")
		if err != nil {
			t.Fatal(err)
		}
		if seen[task.ID] {
			t.Fatalf("duplicate id %s", task.ID)
		}
		seen[task.ID] = true
	}
}

func TestValidateDueDate(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"", "", true},
		{"   ", "", true},
		{"2025-11-20", "2025-11-20", true},
		{" 2025-01-02 ", "2025-01-02", true},
		{"2025-13-01", "", false},
		{"tomorrow", "", false},
	}

	for _, tt := range tests {
		got, err := ValidateDueDate(tt.in)
		if tt.valid && err != nil {
			t.Errorf("%q should be valid, got: %v", tt.in, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidDueDate) {
			t.Errorf("%q should be invalid, got: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses() {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStatus(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseStatus("pending"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got: %v", err)
	}
}

func TestTaskJSONDueDateNull(t *testing.T) {
	data, err := json.Marshal(Task{ID: "1", Title: "a", Status: StatusTodo})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"due_date":null`) {
		t.Errorf("expected null due_date, got %s", data)
	}
	if strings.Contains(string(data), "created_at") {
		t.Errorf("zero created_at should be omitted, got %s", data)
	}

	var decoded Task
	if err := json.Unmarshal([]byte(`{"id":"2","title":"b","status":"done","due_date":"2025-01-01"}`), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.DueDate != "2025-01-01" || decoded.Status != StatusDone {
		t.Errorf("unexpected decode: %+v", decoded)
	}
}

func TestSeedTasks(t *testing.T) {
	seed := SeedTasks()
	if len(seed) != 3 {
		t.Fatalf("expected 3 seed tasks, got %d", len(seed))
	}

	statuses := map[Status]bool{}
	for _, task := range seed {
		statuses[task.Status] = true
	}
	if len(statuses) != 3 {
		t.Errorf("seed should cover every status, got %v", statuses)
	}

	// callers get their own copy
	seed[0].Title = "changed"
	if SeedTasks()[0].Title == "changed" {
		t.Error("SeedTasks should return a fresh slice")
	}
}
