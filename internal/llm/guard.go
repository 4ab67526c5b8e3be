package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a guarded provider is cooling down.
var ErrCircuitOpen = errors.New("provider temporarily disabled after repeated failures")

// Guard disables a backend for a cooldown after maxFailures consecutive failures.
type Guard struct {
	mu            sync.Mutex
	maxFailures   int
	cooldown      time.Duration
	failures      int
	disabledUntil time.Time
	now           func() time.Time
}

// NewGuard creates a guard. maxFailures <= 0 never trips.
func NewGuard(maxFailures int, cooldown time.Duration) *Guard {
	return &Guard{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func (g *Guard) Allow() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabledUntil.IsZero() {
		return true
	}
	return g.now().After(g.disabledUntil)
}

func (g *Guard) RecordFailure() {
	if g == nil || g.maxFailures <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.failures >= g.maxFailures {
		g.disabledUntil = g.now().Add(g.cooldown)
	}
}

func (g *Guard) RecordSuccess() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.disabledUntil = time.Time{}
}

func (g *Guard) DisabledUntil() time.Time {
	if g == nil {
		return time.Time{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabledUntil
}

// Guarded wraps a Provider with a Guard. Completions fail fast with
// ErrCircuitOpen while the guard is tripped; probes always reach the backend.
type Guarded struct {
	Provider
	guard *Guard
}

// WithGuard wraps p. A nil guard returns p unchanged.
func WithGuard(p Provider, g *Guard) Provider {
	if g == nil {
		return p
	}
	return &Guarded{Provider: p, guard: g}
}

// Complete calls the wrapped provider unless the guard is open.
// Caller cancellation does not count as a backend failure.
func (g *Guarded) Complete(ctx context.Context, p Prompt) (string, error) {
	if !g.guard.Allow() {
		return "", fmt.Errorf("%s: %w (until %s)", g.Name(), ErrCircuitOpen, g.guard.DisabledUntil().Format(time.RFC3339))
	}
	out, err := g.Provider.Complete(ctx, p)
	switch {
	case err == nil:
		g.guard.RecordSuccess()
	case ctx.Err() == nil:
		g.guard.RecordFailure()
	}
	return out, err
}
