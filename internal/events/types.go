package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

// Event type constants
const (
	EventStateChanged  EventType = "state_changed"  // projector state or view criteria changed
	EventSourceChanged EventType = "source_changed" // data source mode or owner switched
	EventAuthChanged   EventType = "auth_changed"   // identity signed in or out
)

// TargetAll addresses every subscriber
const TargetAll = "all"

// Event represents a system event that can be published and subscribed to
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType EventType, source, target string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllEventTypes returns all defined event types
func AllEventTypes() []EventType {
	return []EventType{
		EventStateChanged,
		EventSourceChanged,
		EventAuthChanged,
	}
}
