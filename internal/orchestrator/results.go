package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// ErrSlotWritten is returned when a stage output slot is written twice in one run.
var ErrSlotWritten = errors.New("output slot already written")

// Output is one stage's recorded value.
type Output struct {
	Stage    string
	Value    string
	Degraded bool
	Duration time.Duration
}

// MessageKind classifies message log entries.
type MessageKind string

const (
	MessageNote      MessageKind = "note"
	MessageCompleted MessageKind = "completed"
	MessageFailed    MessageKind = "failed"
)

// Message is one entry of the append-only run log.
type Message struct {
	Stage   string
	Kind    MessageKind
	Content string
	At      time.Time
}

// Results is the shared result state of one run: write-once output slots plus
// an append-only message log. Message order follows stage completion order and
// varies between runs; use it for diagnostics only.
type Results struct {
	mu       sync.RWMutex
	outputs  map[string]Output
	messages []Message
}

// NewResults creates empty result state.
func NewResults() *Results {
	return &Results{outputs: make(map[string]Output)}
}

// Put records a stage output. A second write to the same slot is rejected and
// leaves the first value in place.
func (r *Results) Put(out Output) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.outputs[out.Stage]; exists {
		return fmt.Errorf("%w: %s", ErrSlotWritten, out.Stage)
	}
	r.outputs[out.Stage] = out
	return nil
}

// Get returns the output recorded for stage.
func (r *Results) Get(stage string) (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[stage]
	return out, ok
}

// Append adds entries to the message log.
func (r *Results) Append(msgs ...Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msgs...)
}

// Messages returns a copy of the message log.
func (r *Results) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Message(nil), r.messages...)
}

// Len returns the number of written slots.
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

// Stages returns the names of written slots, sorted.
func (r *Results) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Degraded returns the names of stages whose slot holds a failure placeholder, sorted.
func (r *Results) Degraded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, out := range r.outputs {
		if out.Degraded {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Summaries returns a compact view of every slot, sorted by stage name.
func (r *Results) Summaries() []models.StageSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.StageSummary, 0, len(r.outputs))
	for _, o := range r.outputs {
		out = append(out, models.StageSummary{
			Stage:      o.Stage,
			Degraded:   o.Degraded,
			Length:     utf8.RuneCountInString(o.Value),
			DurationMs: o.Duration.Milliseconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}
