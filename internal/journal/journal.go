package journal

import (
	"context"
	"time"
)

// Event types written by the pipeline.
const (
	TypeCompiled     = "compiled"
	TypeBacktested   = "backtested"
	TypeDeployed     = "deployed"
	TypeDeployFailed = "deploy_failed"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType, description string, data map[string]any) Event {
	return Event{Time: time.Now().UTC(), Type: eventType, Description: description, Data: data}
}

// Journaler interface for journaling events. An empty eventType in GetEvents
// matches every type.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
