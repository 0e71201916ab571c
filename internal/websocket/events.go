package websocket

import (
	"time"

	"keyvex/internal/tcc"
)

// EventType classifies a job event
type EventType string

const (
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
	EventLog           EventType = "log" // an agent's progress log line
)

// JobEvent is a progress notification for one generation job
type JobEvent struct {
	JobID     string    `json:"jobId"`
	Type      EventType `json:"type"`
	Step      tcc.Step  `json:"step,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives job events. Implementations must not block for long.
type Publisher interface {
	Publish(ev JobEvent)
}

// Publishers fans an event out to several publishers
type Publishers []Publisher

func (ps Publishers) Publish(ev JobEvent) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ev)
		}
	}
}
