package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// DefaultFailureLimit caps the cause text embedded in a failure placeholder.
const DefaultFailureLimit = 200

// DegradedPrefix marks placeholder values so downstream stages can tell them
// apart from genuine output even after the Degraded flag is gone (e.g. in a prompt).
const DegradedPrefix = "[degraded]"

// Result is what a stage returns on success.
type Result struct {
	// Value is stored in the stage's output slot.
	Value string
	// Notes are appended to the run's message log.
	Notes []string
}

// StageFunc performs one stage's computation. It must not retain in after returning.
type StageFunc func(ctx context.Context, req models.Request, in Inputs) (Result, error)

// Stage is a static stage descriptor.
type Stage struct {
	// Name identifies the stage and its output slot.
	Name string
	// DependsOn lists the stages whose outputs this stage reads.
	DependsOn []string
	// Run is the stage computation.
	Run StageFunc
}

// StageFailure is a stage-scoped fault. The orchestrator converts it into a
// degraded placeholder; it never aborts the run.
type StageFailure struct {
	Stage string
	Cause error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageFailure) Unwrap() error {
	return e.Cause
}

// Placeholder builds the degraded output recorded for a failed stage.
// The cause text is truncated to limit runes.
func Placeholder(stage string, cause error, limit int) Output {
	if limit <= 0 {
		limit = DefaultFailureLimit
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return Output{
		Stage:    stage,
		Value:    fmt.Sprintf("%s %s error: %s", DegradedPrefix, stage, Truncate(msg, limit)),
		Degraded: true,
	}
}

// IsDegradedValue reports whether a plain string value is a failure placeholder.
func IsDegradedValue(v string) bool {
	return strings.HasPrefix(v, DegradedPrefix)
}

// Truncate returns at most n runes of s. It never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Inputs is a read-only view of the dependency outputs a stage declared.
type Inputs struct {
	results *Results
	allowed map[string]bool
}

// NewInputs builds an Inputs view over results restricted to deps.
// Stages get theirs from the orchestrator; this exists for tests and adapters.
func NewInputs(results *Results, deps ...string) Inputs {
	allowed := make(map[string]bool, len(deps))
	for _, d := range deps {
		allowed[d] = true
	}
	return Inputs{results: results, allowed: allowed}
}

// Get returns the recorded output of a declared dependency.
func (in Inputs) Get(stage string) (Output, bool) {
	if in.results == nil || !in.allowed[stage] {
		return Output{}, false
	}
	return in.results.Get(stage)
}

// Value returns the dependency's value, or "" if absent or undeclared.
func (in Inputs) Value(stage string) string {
	out, _ := in.Get(stage)
	return out.Value
}
