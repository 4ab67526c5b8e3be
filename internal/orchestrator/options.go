package orchestrator

import (
	"log/slog"
	"time"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
// These are only used during construction.
type orchestratorOptions struct {
	logger       *slog.Logger
	events       *EventEmitter
	failureLimit int
	stageTimeout time.Duration
	now          func() time.Time
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		failureLimit: DefaultFailureLimit,
		now:          time.Now,
	}
}

// WithLogger sets the structured logger. It also becomes the package debug logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithEvents sets the emitter that receives stage lifecycle events.
func WithEvents(e *EventEmitter) Option {
	return func(o *orchestratorOptions) { o.events = e }
}

// WithFailureLimit sets the maximum cause length, in runes, kept in a failure placeholder.
func WithFailureLimit(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.failureLimit = n
		}
	}
}

// WithStageTimeout bounds each individual stage call. Zero means no per-stage
// bound; the run context still applies.
func WithStageTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.stageTimeout = d }
}

// withClock overrides the time source (testing only).
func withClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) { o.now = now }
}
