package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/graph"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// ErrSetup is returned when the stage set cannot form a runnable graph.
var ErrSetup = errors.New("orchestrator setup failed")

type runIDKey struct{}

// WithRunID attaches a run identifier to ctx. Events and log lines carry it.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run identifier attached by WithRunID.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Orchestrator schedules stages over a dependency graph. It is immutable after
// New and safe for concurrent Runs; each Run owns its own Results.
type Orchestrator struct {
	stages   map[string]Stage
	graph    *graph.DependencyGraph
	order    []string
	terminal string

	logger       *slog.Logger
	events       *EventEmitter
	failureLimit int
	stageTimeout time.Duration
	now          func() time.Time
}

// completion is sent by a stage goroutine when its stage is done.
type completion struct {
	output Output
	notes  []string
	err    error
}

// New validates the stage set and builds its dependency graph.
// The graph must be acyclic and have exactly one sink, the terminal stage.
func New(stages []Stage, opts ...Option) (*Orchestrator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	o.events.setDebugLog(debugLogger(o.logger, "events"))

	byName := make(map[string]Stage, len(stages))
	nodes := make([]graph.Node, 0, len(stages))
	for _, s := range stages {
		if s.Run == nil {
			return nil, fmt.Errorf("%w: stage %q has no function", ErrSetup, s.Name)
		}
		byName[s.Name] = s
		nodes = append(nodes, graph.Node{ID: s.Name, DependsOn: s.DependsOn})
	}

	g := graph.New()
	g.SetDebugLog(debugLogger(o.logger, "graph"))
	if err := g.Build(nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	sinks := g.Sinks()
	if len(sinks) != 1 {
		return nil, fmt.Errorf("%w: want exactly one terminal stage, have %d %v", ErrSetup, len(sinks), sinks)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	return &Orchestrator{
		stages:       byName,
		graph:        g,
		order:        order,
		terminal:     sinks[0],
		logger:       o.logger,
		events:       o.events,
		failureLimit: o.failureLimit,
		stageTimeout: o.stageTimeout,
		now:          o.now,
	}, nil
}

// Terminal returns the name of the terminal stage.
func (o *Orchestrator) Terminal() string {
	return o.terminal
}

// Stages returns the stage names in a valid execution order.
func (o *Orchestrator) Stages() []string {
	return append([]string(nil), o.order...)
}

// Run executes every stage and returns once the terminal stage is done.
// Stage faults become degraded placeholders; only ctx cancellation makes Run
// return an error, in which case no results are returned.
func (o *Orchestrator) Run(ctx context.Context, req models.Request) (*Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := RunIDFromContext(ctx)
	log := o.logger.With("run_id", runID)
	g := o.graph.Clone()
	g.SetDebugLog(debugLogger(log, "graph"))
	results := NewResults()
	start := o.now()

	// Buffered so abandoned stage goroutines never block after Run returns.
	done := make(chan completion, len(o.stages))
	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	launch := func() {
		for _, name := range g.TakeReady() {
			stage := o.stages[name]
			in := NewInputs(results, stage.DependsOn...)
			o.emit(OrchestratorEvent{Type: EventStageStarted, RunID: runID, Stage: name})
			log.Debug("stage started", "stage", name)
			go o.execute(stageCtx, stage, req, in, done)
		}
	}
	launch()

	for {
		select {
		case <-ctx.Done():
			log.Warn("run abandoned", "error", ctx.Err(), "completed", g.GetCompletedIDs())
			return nil, ctx.Err()

		case c := <-done:
			name := c.output.Stage
			if err := results.Put(c.output); err != nil {
				// Cannot happen while each stage is launched once; keep the first value.
				log.Error("duplicate stage output", "stage", name, "error", err)
				continue
			}
			o.record(results, c, runID, log)
			g.MarkComplete(name)

			if name == o.terminal {
				// A completion and the deadline can be ready together; the deadline wins.
				if err := ctx.Err(); err != nil {
					log.Warn("run abandoned at terminal stage", "error", err)
					return nil, err
				}
				elapsed := o.now().Sub(start)
				o.emit(OrchestratorEvent{Type: EventRunDone, RunID: runID, Stage: name, Duration: elapsed})
				log.Info("run done", "duration", elapsed, "degraded", results.Degraded())
				return results, nil
			}
			launch()
		}
	}
}

// record appends the stage's log entries and emits its completion event.
func (o *Orchestrator) record(results *Results, c completion, runID string, log *slog.Logger) {
	name := c.output.Stage
	at := o.now()

	msgs := make([]Message, 0, len(c.notes)+1)
	for _, note := range c.notes {
		msgs = append(msgs, Message{Stage: name, Kind: MessageNote, Content: note, At: at})
	}

	if c.err != nil {
		msgs = append(msgs, Message{Stage: name, Kind: MessageFailed, Content: c.output.Value, At: at})
		o.emit(OrchestratorEvent{
			Type:     EventStageFailed,
			RunID:    runID,
			Stage:    name,
			Message:  c.output.Value,
			Error:    c.err,
			Duration: c.output.Duration,
		})
		log.Warn("stage degraded", "stage", name, "error", c.err, "duration", c.output.Duration)
	} else {
		msgs = append(msgs, Message{Stage: name, Kind: MessageCompleted, Content: fmt.Sprintf("%d chars", len(c.output.Value)), At: at})
		o.emit(OrchestratorEvent{
			Type:     EventStageCompleted,
			RunID:    runID,
			Stage:    name,
			Duration: c.output.Duration,
		})
		log.Debug("stage completed", "stage", name, "duration", c.output.Duration)
	}
	results.Append(msgs...)
}

// execute runs one stage and reports its output on done.
func (o *Orchestrator) execute(ctx context.Context, stage Stage, req models.Request, in Inputs, done chan<- completion) {
	start := o.now()
	res, err := o.invoke(ctx, stage, req, in)
	elapsed := o.now().Sub(start)

	if err != nil {
		failure := &StageFailure{Stage: stage.Name, Cause: err}
		out := Placeholder(stage.Name, err, o.failureLimit)
		out.Duration = elapsed
		done <- completion{output: out, err: failure}
		return
	}
	done <- completion{
		output: Output{Stage: stage.Name, Value: res.Value, Duration: elapsed},
		notes:  res.Notes,
	}
}

// invoke calls the stage function, converting panics and per-stage timeouts
// into errors. A stage that ignores ctx keeps running in the background until
// it returns, but its result is discarded.
func (o *Orchestrator) invoke(ctx context.Context, stage Stage, req models.Request, in Inputs) (Result, error) {
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		var oc outcome
		defer func() {
			if r := recover(); r != nil {
				o.logger.Debug("stage panicked", "stage", stage.Name, "panic", r, "stack", string(debug.Stack()))
				oc = outcome{err: fmt.Errorf("panic: %v", r)}
			}
			ch <- oc
		}()
		oc.res, oc.err = stage.Run(ctx, req, in)
	}()

	select {
	case oc := <-ch:
		return oc.res, oc.err
	case <-ctx.Done():
		if o.stageTimeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("stage timed out after %s", o.stageTimeout)
		}
		return Result{}, ctx.Err()
	}
}

func (o *Orchestrator) emit(e OrchestratorEvent) {
	if o.events == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = o.now()
	}
	o.events.Emit(e)
}
