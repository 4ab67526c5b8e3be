// Package llm provides the delegated text-generation backends used by the
// analysis stages: OpenAI-compatible chat endpoints (OpenAI, Ollama) and the
// Anthropic Messages API, plus a registry that builds them lazily by name.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnknownModel is returned by the registry for an unregistered name.
	ErrUnknownModel = errors.New("unknown model type")
	// ErrEmptyResponse is returned when a backend answers with no text.
	ErrEmptyResponse = errors.New("response empty")
)

// Prompt is one single-turn completion request.
type Prompt struct {
	System string
	User   string
}

// Provider is an opaque text-generation backend. Complete may be slow or fail;
// callers bound it with ctx.
type Provider interface {
	// Name is the model-selection tag (openai, ollama, anthropic).
	Name() string
	// Model is the concrete model identifier sent to the backend.
	Model() string
	// Complete returns the backend's text answer to p.
	Complete(ctx context.Context, p Prompt) (string, error)
	// Probe makes the cheapest call that proves the backend answers.
	Probe(ctx context.Context) error
}
