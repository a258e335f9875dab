// Package persistence keeps a client's board preferences (data source mode,
// view criteria and session token) in a JSON file so they survive restarts.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskboard/internal/tasks"
)

// DefaultSaveDelay debounces bursts of updates into one write
const DefaultSaveDelay = 500 * time.Millisecond

// Preferences is the persisted client state
type Preferences struct {
	Mode     string         `json:"mode,omitempty"`
	Token    string         `json:"token,omitempty"`
	Criteria tasks.Criteria `json:"criteria"`
	SavedAt  time.Time      `json:"saved_at"`
}

// JSONStore persists Preferences to a JSON file
type JSONStore struct {
	mu       sync.RWMutex
	filepath string
	prefs    Preferences

	// Debounced save
	saveTimer *time.Timer
	saveMu    sync.Mutex
	delay     time.Duration
}

// NewJSONStore creates a new JSON-backed store
func NewJSONStore(filepath string) *JSONStore {
	return &JSONStore{
		filepath: filepath,
		prefs:    Preferences{Criteria: tasks.DefaultCriteria()},
		delay:    DefaultSaveDelay,
	}
}

// Load reads preferences from the file. A missing file yields defaults.
func (s *JSONStore) Load() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return s.prefs, nil
		}
		return Preferences{}, err
	}

	prefs := Preferences{Criteria: tasks.DefaultCriteria()}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, err
	}
	if prefs.Criteria.Filter == "" {
		prefs.Criteria.Filter = tasks.FilterAll
	}

	s.prefs = prefs
	return s.prefs, nil
}

// Save writes preferences to the file
func (s *JSONStore) Save() error {
	s.mu.Lock()
	s.prefs.SavedAt = time.Now()
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filepath), 0755); err != nil {
		return err
	}
	// token inside, keep it private
	return os.WriteFile(s.filepath, data, 0600)
}

// Get returns the current preferences
func (s *JSONStore) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Set replaces the preferences and schedules a save when they changed
func (s *JSONStore) Set(p Preferences) {
	s.mu.Lock()
	p.SavedAt = s.prefs.SavedAt
	changed := p != s.prefs
	s.prefs = p
	s.mu.Unlock()

	if changed {
		s.scheduleSave()
	}
}

// Flush cancels a pending debounced save and writes immediately
func (s *JSONStore) Flush() error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.saveMu.Unlock()
	return s.Save()
}

// scheduleSave debounces save operations
func (s *JSONStore) scheduleSave() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}

	s.saveTimer = time.AfterFunc(s.delay, func() {
		s.Save()
	})
}
