// Package pipeline wraps one orchestrator run in a deadline and turns its
// result into a single Outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/rosterbuild/internal/orchestrator"
	"github.com/ShayCichocki/rosterbuild/internal/state"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// DefaultDeadline bounds a run when the caller passes no deadline.
const DefaultDeadline = 60 * time.Second

// Runner executes the stage graph. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req models.Request) (*orchestrator.Results, error)
	Terminal() string
}

// Recorder receives a summary of every finished run.
type Recorder interface {
	RecordRun(ctx context.Context, r *state.Run) error
}

// Envelope runs requests against a Runner under a deadline.
type Envelope struct {
	runner   Runner
	models   []string
	recorder Recorder
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
}

// Option configures an Envelope.
type Option func(*Envelope)

// WithModels restricts accepted model_type values to names.
func WithModels(names ...string) Option {
	return func(e *Envelope) { e.models = append([]string(nil), names...) }
}

// WithRecorder records every run outcome in r.
func WithRecorder(r Recorder) Option {
	return func(e *Envelope) { e.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Envelope) { e.logger = l }
}

// withIDs overrides run id generation (testing only).
func withIDs(fn func() string) Option {
	return func(e *Envelope) { e.newID = fn }
}

// New creates an Envelope around runner.
func New(runner Runner, opts ...Option) *Envelope {
	e := &Envelope{
		runner: runner,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run validates req, runs the stage graph under deadline, and classifies the
// result. A deadline <= 0 uses DefaultDeadline. Run never returns a partial
// artifact: a timed-out run carries only the fixed timeout message.
func (e *Envelope) Run(ctx context.Context, req models.Request, deadline time.Duration) models.Outcome {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	start := e.now()
	norm := req.Normalized()
	out := models.Outcome{RunID: e.newID(), ModelUsed: norm.ModelType}
	log := e.logger.With("run_id", out.RunID, "team", norm.Team, "model", norm.ModelType)

	var results *orchestrator.Results
	defer func() {
		out.Duration = e.now().Sub(start)
		e.record(ctx, norm, out, start, results, log)
	}()

	if err := norm.Validate(e.models...); err != nil {
		out.Kind = models.OutcomeFailure
		out.Description = err.Error()
		out.Err = err
		log.Info("request rejected", "error", err)
		return out
	}
	if e.runner == nil {
		out.Err = fmt.Errorf("%w: no pipeline configured", orchestrator.ErrSetup)
		out.Kind = models.OutcomeFailure
		out.Description = out.Err.Error()
		return out
	}

	runCtx, cancel := context.WithTimeout(orchestrator.WithRunID(ctx, out.RunID), deadline)
	defer cancel()

	res, err := e.runner.Run(runCtx, norm)
	if err == nil && runCtx.Err() != nil {
		// Output that arrives after the deadline is discarded.
		err = runCtx.Err()
	}
	switch {
	case err == nil:
		final, ok := res.Get(e.runner.Terminal())
		if !ok {
			out.Err = fmt.Errorf("terminal stage %q produced no output", e.runner.Terminal())
			out.Kind = models.OutcomeFailure
			out.Description = out.Err.Error()
			return out
		}
		results = res
		out.Kind = models.OutcomeSuccess
		out.Artifact = final.Value
		out.Degraded = res.Degraded()

	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = models.OutcomeTimeout
		out.Description = models.TimeoutMessage
		out.Err = err
		log.Warn("run timed out", "deadline", deadline)

	case errors.Is(err, context.Canceled):
		out.Kind = models.OutcomeFailure
		out.Description = "run cancelled: " + err.Error()
		out.Err = err
		log.Info("run cancelled by caller")

	default:
		out.Kind = models.OutcomeFailure
		out.Description = err.Error()
		out.Err = err
		log.Error("run failed", "error", err)
	}
	return out
}

// record writes the run to the ledger. The caller's context may already be
// done (timeouts, disconnects); the ledger write is not bound to it.
func (e *Envelope) record(ctx context.Context, req models.Request, out models.Outcome, start time.Time, results *orchestrator.Results, log *slog.Logger) {
	log.Info("run finished", "kind", out.Kind, "duration", out.Duration, "degraded", out.Degraded)
	if e.recorder == nil {
		return
	}

	run := &state.Run{
		ID:            out.RunID,
		Team:          req.Team,
		Season:        req.Season,
		Strategy:      req.Strategy,
		ModelType:     req.ModelType,
		Kind:          out.Kind,
		Description:   out.Description,
		ArtifactChars: len([]rune(out.Artifact)),
		Degraded:      out.Degraded,
		StartedAt:     start,
		Duration:      out.Duration,
	}
	if results != nil {
		run.Stages = results.Summaries()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.RecordRun(recCtx, run); err != nil {
		log.Error("record run", "error", err)
	}
}
