package domain

import "time"

// EventType identifies what happened during a run.
type EventType string

const (
	EventTypeRunSubmitted  EventType = "run.submitted"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunFailed     EventType = "run.failed"
	EventTypeRunCancelled  EventType = "run.cancelled"
	EventTypeJobDispatched EventType = "job.dispatched"
	EventTypeJobStarted    EventType = "job.started"
	EventTypeJobCompleted  EventType = "job.completed"
	EventTypeJobFailed     EventType = "job.failed"
	EventTypeJobSkipped    EventType = "job.skipped"
	EventTypeStepStarted   EventType = "step.started"
	EventTypeStepFinished  EventType = "step.finished"
)

// Event is a single occurrence within a run, published on the event bus
// and streamed to websocket clients.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Job       string                 `json:"job,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
