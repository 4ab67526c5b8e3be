package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is wrapped by every validation failure returned from Request.Validate.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultModelType is the model-selection tag used when a request does not name one.
const DefaultModelType = "openai"

// Request is the immutable input to one pipeline run.
type Request struct {
	// Team is the subject the analysis is about.
	Team string `json:"team"`
	// Season is the season being planned (e.g. "2025").
	Season string `json:"season"`
	// Strategy is the team-building strategy (championship, rebuild, ...).
	Strategy string `json:"strategy"`
	// Priorities lists optional priority tags (defense, leadership, ...).
	Priorities []string `json:"priorities,omitempty"`
	// CapTarget is the optional salary cap approach.
	CapTarget string `json:"cap_target,omitempty"`
	// ModelType selects the delegated computation backend.
	ModelType string `json:"model_type,omitempty"`
}

// Normalized returns a trimmed copy of the request with defaults applied.
// The receiver is never modified; Priorities is copied.
func (r Request) Normalized() Request {
	out := Request{
		Team:      strings.TrimSpace(r.Team),
		Season:    strings.TrimSpace(r.Season),
		Strategy:  strings.TrimSpace(r.Strategy),
		CapTarget: strings.TrimSpace(r.CapTarget),
		ModelType: strings.ToLower(strings.TrimSpace(r.ModelType)),
	}
	if out.ModelType == "" {
		out.ModelType = DefaultModelType
	}
	out.Priorities = make([]string, 0, len(r.Priorities))
	for _, p := range r.Priorities {
		if p = strings.TrimSpace(p); p != "" {
			out.Priorities = append(out.Priorities, p)
		}
	}
	return out
}

// Validate checks required fields. If knownModels is non-empty, ModelType must
// be one of them. Call it on a normalized request.
func (r Request) Validate(knownModels ...string) error {
	var missing []string
	if r.Team == "" {
		missing = append(missing, "team")
	}
	if r.Season == "" {
		missing = append(missing, "season")
	}
	if r.Strategy == "" {
		missing = append(missing, "strategy")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required field(s): %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	if len(knownModels) > 0 {
		for _, m := range knownModels {
			if r.ModelType == m {
				return nil
			}
		}
		return fmt.Errorf("%w: unknown model_type %q (available: %s)",
			ErrInvalidRequest, r.ModelType, strings.Join(knownModels, ", "))
	}
	return nil
}

// PrioritiesOr joins the priorities with ", " or returns def when there are none.
func (r Request) PrioritiesOr(def string) string {
	if len(r.Priorities) == 0 {
		return def
	}
	return strings.Join(r.Priorities, ", ")
}

// CapTargetOr returns the cap target or def when unset.
func (r Request) CapTargetOr(def string) string {
	if r.CapTarget == "" {
		return def
	}
	return r.CapTarget
}
