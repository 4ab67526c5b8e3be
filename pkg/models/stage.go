package models

// StageStatus represents the scheduling state of a stage within one run.
type StageStatus string

const (
	// StageStatusPending indicates the stage is waiting on dependencies.
	StageStatusPending StageStatus = "pending"
	// StageStatusReady indicates every dependency is done and the stage may start.
	StageStatusReady StageStatus = "ready"
	// StageStatusRunning indicates the stage's computation is in flight.
	StageStatusRunning StageStatus = "running"
	// StageStatusDone indicates an output (or failure placeholder) was recorded.
	StageStatusDone StageStatus = "done"
)

// Valid returns true if the status is a known value.
func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusPending, StageStatusReady, StageStatusRunning, StageStatusDone:
		return true
	default:
		return false
	}
}

// StageSummary is a compact, serializable view of one stage's recorded output.
type StageSummary struct {
	// Stage is the stage name.
	Stage string `json:"stage"`
	// Degraded is true when the output is a failure placeholder.
	Degraded bool `json:"degraded"`
	// Length is the output length in runes.
	Length int `json:"length"`
	// DurationMs is how long the stage took.
	DurationMs int64 `json:"duration_ms"`
}
