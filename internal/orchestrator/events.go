package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventStageStarted indicates a stage became ready and started running.
	EventStageStarted EventType = "stage_started"
	// EventStageCompleted indicates a stage recorded a genuine output.
	EventStageCompleted EventType = "stage_completed"
	// EventStageFailed indicates a stage failed and a placeholder was recorded.
	EventStageFailed EventType = "stage_failed"
	// EventRunDone indicates the terminal stage is done.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events drive the live progress view and diagnostics.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run the event belongs to, if known.
	RunID string
	// Stage is the related stage, if applicable.
	Stage string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the stage (or run) elapsed time for completion events.
	Duration time.Duration
}
