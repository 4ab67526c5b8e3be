package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/orchestrator"
	"github.com/ShayCichocki/rosterbuild/internal/state"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

type memRecorder struct {
	mu   sync.Mutex
	runs []*state.Run
}

func (m *memRecorder) RecordRun(_ context.Context, r *state.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memRecorder) last(t *testing.T) *state.Run {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		t.Fatal("no run recorded")
	}
	return m.runs[len(m.runs)-1]
}

func validRequest() models.Request {
	return models.Request{Team: "X", Season: "2025", Strategy: "alpha"}
}

func abcOrchestrator(t *testing.T, c orchestrator.StageFunc) *orchestrator.Orchestrator {
	t.Helper()
	orch, err := orchestrator.New([]orchestrator.Stage{
		{Name: "A", Run: func(context.Context, models.Request, orchestrator.Inputs) (orchestrator.Result, error) {
			return orchestrator.Result{Value: "a-out"}, nil
		}},
		{Name: "B", Run: func(context.Context, models.Request, orchestrator.Inputs) (orchestrator.Result, error) {
			return orchestrator.Result{}, errors.New("search backend unreachable")
		}},
		{Name: "C", DependsOn: []string{"A", "B"}, Run: c},
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return orch
}

func TestRunSuccessWithDegradedSibling(t *testing.T) {
	orch := abcOrchestrator(t, func(_ context.Context, _ models.Request, in orchestrator.Inputs) (orchestrator.Result, error) {
		return orchestrator.Result{Value: "A=" + in.Value("A") + " | B=" + in.Value("B")}, nil
	})
	rec := &memRecorder{}
	env := New(orch, WithRecorder(rec), withIDs(func() string { return "run-42" }))

	out := env.Run(context.Background(), validRequest(), 60*time.Second)

	if !out.Succeeded() {
		t.Fatalf("outcome = %+v, want success", out)
	}
	if !strings.HasPrefix(out.Artifact, "A=a-out | B=[degraded] B error: search backend unreachable") {
		t.Errorf("artifact = %q", out.Artifact)
	}
	if len(out.Degraded) != 1 || out.Degraded[0] != "B" {
		t.Errorf("Degraded = %v, want [B]", out.Degraded)
	}
	if out.RunID != "run-42" || out.ModelUsed != models.DefaultModelType {
		t.Errorf("RunID/ModelUsed = %q/%q", out.RunID, out.ModelUsed)
	}

	run := rec.last(t)
	if run.ID != "run-42" || run.Kind != models.OutcomeSuccess || len(run.Stages) != 3 {
		t.Errorf("recorded run = %+v", run)
	}
}

func TestRunTimeout(t *testing.T) {
	orch := abcOrchestrator(t, func(ctx context.Context, _ models.Request, _ orchestrator.Inputs) (orchestrator.Result, error) {
		<-ctx.Done()
		return orchestrator.Result{Value: "partial synthesis"}, nil
	})
	rec := &memRecorder{}
	env := New(orch, WithRecorder(rec))

	const deadline = 80 * time.Millisecond
	start := time.Now()
	out := env.Run(context.Background(), validRequest(), deadline)
	elapsed := time.Since(start)

	if out.Kind != models.OutcomeTimeout {
		t.Fatalf("Kind = %s, want timeout", out.Kind)
	}
	if out.Description != models.TimeoutMessage {
		t.Errorf("Description = %q", out.Description)
	}
	if out.Artifact != "" {
		t.Errorf("timeout carried a partial artifact: %q", out.Artifact)
	}
	if elapsed < deadline || elapsed > deadline+time.Second {
		t.Errorf("returned after %v, want about %v", elapsed, deadline)
	}
	if run := rec.last(t); run.Kind != models.OutcomeTimeout || run.Stages != nil {
		t.Errorf("recorded run = %+v", run)
	}
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	called := false
	orch := abcOrchestrator(t, func(context.Context, models.Request, orchestrator.Inputs) (orchestrator.Result, error) {
		called = true
		return orchestrator.Result{Value: "x"}, nil
	})
	env := New(orch, WithModels("openai", "ollama"))

	tests := []struct {
		name string
		req  models.Request
		want string
	}{
		{"missing team", models.Request{Season: "2025", Strategy: "rebuild"}, "team"},
		{"blank strategy", models.Request{Team: "Sky", Season: "2025", Strategy: "  "}, "strategy"},
		{"unknown model", models.Request{Team: "Sky", Season: "2025", Strategy: "rebuild", ModelType: "gpt-9"}, "gpt-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := env.Run(context.Background(), tt.req, time.Second)
			if out.Kind != models.OutcomeFailure {
				t.Fatalf("Kind = %s, want failure", out.Kind)
			}
			if !strings.Contains(out.Description, tt.want) {
				t.Errorf("Description = %q, want mention of %q", out.Description, tt.want)
			}
			if !errors.Is(out.Err, models.ErrInvalidRequest) {
				t.Errorf("Err = %v, want ErrInvalidRequest", out.Err)
			}
		})
	}
	if called {
		t.Error("stages ran for an invalid request")
	}
}

func TestRunCallerCancellation(t *testing.T) {
	orch := abcOrchestrator(t, func(ctx context.Context, _ models.Request, _ orchestrator.Inputs) (orchestrator.Result, error) {
		<-ctx.Done()
		return orchestrator.Result{}, ctx.Err()
	})
	env := New(orch)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out := env.Run(ctx, validRequest(), time.Minute)
	if out.Kind != models.OutcomeFailure || !strings.Contains(out.Description, "cancelled") {
		t.Errorf("outcome = %+v, want cancelled failure", out)
	}
}

func TestRunNormalizesRequest(t *testing.T) {
	var seen models.Request
	orch, err := orchestrator.New([]orchestrator.Stage{{
		Name: "only",
		Run: func(_ context.Context, req models.Request, _ orchestrator.Inputs) (orchestrator.Result, error) {
			seen = req
			return orchestrator.Result{Value: "ok"}, nil
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	req := models.Request{Team: " Sky ", Season: "2025", Strategy: "rebuild", ModelType: "OLLAMA", Priorities: []string{"defense", " "}}
	out := New(orch, WithModels("openai", "ollama")).Run(context.Background(), req, 0)
	if !out.Succeeded() {
		t.Fatalf("outcome = %+v", out)
	}
	if seen.Team != "Sky" || seen.ModelType != "ollama" || len(seen.Priorities) != 1 {
		t.Errorf("stage saw %+v", seen)
	}
	if req.Team != " Sky " || len(req.Priorities) != 2 {
		t.Error("caller's request was modified")
	}
	if out.ModelUsed != "ollama" {
		t.Errorf("ModelUsed = %q", out.ModelUsed)
	}
}

type brokenRunner struct{}

func (brokenRunner) Run(context.Context, models.Request) (*orchestrator.Results, error) {
	return orchestrator.NewResults(), nil
}
func (brokenRunner) Terminal() string { return "missing" }

// lateRunner ignores ctx and finishes after the deadline.
type lateRunner struct{ delay time.Duration }

func (r lateRunner) Run(context.Context, models.Request) (*orchestrator.Results, error) {
	time.Sleep(r.delay)
	res := orchestrator.NewResults()
	_ = res.Put(orchestrator.Output{Stage: "final", Value: "late roster"})
	return res, nil
}
func (lateRunner) Terminal() string { return "final" }

func TestRunDiscardsOutputAfterDeadline(t *testing.T) {
	rec := &memRecorder{}
	out := New(lateRunner{delay: 60 * time.Millisecond}, WithRecorder(rec)).Run(context.Background(), validRequest(), 20*time.Millisecond)
	if out.Kind != models.OutcomeTimeout {
		t.Fatalf("outcome = %+v, want timeout", out)
	}
	if out.Artifact != "" || out.Description != models.TimeoutMessage {
		t.Errorf("timeout outcome carries %q / %q", out.Artifact, out.Description)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want DeadlineExceeded", out.Err)
	}
	if got := rec.last(t).Kind; got != models.OutcomeTimeout {
		t.Errorf("recorded kind = %s", got)
	}
}

func TestRunFailures(t *testing.T) {
	if out := New(nil).Run(context.Background(), validRequest(), time.Second); out.Kind != models.OutcomeFailure {
		t.Errorf("nil runner outcome = %+v", out)
	}
	out := New(brokenRunner{}).Run(context.Background(), validRequest(), time.Second)
	if out.Kind != models.OutcomeFailure || !strings.Contains(out.Description, "missing") {
		t.Errorf("missing terminal outcome = %+v", out)
	}
}
