package models

import "time"

// OutcomeKind classifies how a pipeline run ended.
type OutcomeKind string

const (
	// OutcomeSuccess means the terminal stage produced the final artifact.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeTimeout means the run exceeded its deadline. No artifact is returned.
	OutcomeTimeout OutcomeKind = "timeout"
	// OutcomeFailure means the run could not be set up (bad request, bad graph).
	OutcomeFailure OutcomeKind = "failure"
)

// Valid returns true if the kind is a known value.
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeSuccess, OutcomeTimeout, OutcomeFailure:
		return true
	default:
		return false
	}
}

// TimeoutMessage is the fixed description attached to every timeout outcome.
const TimeoutMessage = "Analysis took too long. Please try again with simpler parameters."

// Outcome is the single result of one pipeline run.
type Outcome struct {
	// Kind is the outcome classification.
	Kind OutcomeKind `json:"kind"`
	// RunID identifies the run in logs and the run ledger.
	RunID string `json:"run_id"`
	// Artifact is the terminal stage output. Only set on success.
	Artifact string `json:"artifact,omitempty"`
	// Description explains a timeout or failure.
	Description string `json:"description,omitempty"`
	// ModelUsed is the model-selection tag the run used.
	ModelUsed string `json:"model_used,omitempty"`
	// Degraded lists stages whose output is a failure placeholder.
	Degraded []string `json:"degraded,omitempty"`
	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`
	// Err is the cause of a failure outcome, for errors.Is checks.
	Err error `json:"-"`
}

// Succeeded reports whether the outcome carries a final artifact.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}
