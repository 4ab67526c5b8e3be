package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

func constStage(name, value string, deps ...string) Stage {
	return Stage{
		Name:      name,
		DependsOn: deps,
		Run: func(context.Context, models.Request, Inputs) (Result, error) {
			return Result{Value: value}, nil
		},
	}
}

func failingStage(name string, err error) Stage {
	return Stage{
		Name: name,
		Run: func(context.Context, models.Request, Inputs) (Result, error) {
			return Result{}, err
		},
	}
}

func testRequest() models.Request {
	return models.Request{Team: "X", Season: "2024", Strategy: "alpha"}
}

func TestRunDegradesFaultingStage(t *testing.T) {
	longCause := strings.Repeat("e", 500)

	var gotA, gotB string
	var bDegraded bool
	orch, err := New([]Stage{
		constStage("A", "a-out"),
		failingStage("B", errors.New(longCause)),
		{
			Name:      "C",
			DependsOn: []string{"A", "B"},
			Run: func(_ context.Context, _ models.Request, in Inputs) (Result, error) {
				gotA = in.Value("A")
				b, _ := in.Get("B")
				gotB, bDegraded = b.Value, b.Degraded
				return Result{Value: "final"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gotA != "a-out" {
		t.Errorf("C saw A = %q, want %q", gotA, "a-out")
	}
	if !bDegraded || !IsDegradedValue(gotB) {
		t.Errorf("C saw B = %q (degraded=%v), want a placeholder", gotB, bDegraded)
	}
	if !strings.Contains(gotB, strings.Repeat("e", DefaultFailureLimit)) {
		t.Errorf("placeholder missing truncated cause: %q", gotB)
	}
	if strings.Contains(gotB, strings.Repeat("e", DefaultFailureLimit+1)) {
		t.Errorf("placeholder cause not truncated: %d chars", len(gotB))
	}

	final, ok := results.Get(orch.Terminal())
	if !ok || final.Value != "final" {
		t.Errorf("terminal output = %+v, want final", final)
	}
	if got := results.Degraded(); len(got) != 1 || got[0] != "B" {
		t.Errorf("Degraded() = %v, want [B]", got)
	}
}

func TestRunIsolatesOneFaultAmongThree(t *testing.T) {
	var terminalInputs map[string]Output
	orch, err := New([]Stage{
		constStage("player", "p"),
		failingStage("salary", errors.New("upstream 503")),
		constStage("chemistry", "c"),
		{
			Name:      "roster",
			DependsOn: []string{"player", "salary", "chemistry"},
			Run: func(_ context.Context, _ models.Request, in Inputs) (Result, error) {
				terminalInputs = make(map[string]Output)
				for _, name := range []string{"player", "salary", "chemistry"} {
					out, _ := in.Get(name)
					terminalInputs[name] = out
				}
				return Result{Value: "roster"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := orch.Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for name, out := range terminalInputs {
		wantDegraded := name == "salary"
		if out.Degraded != wantDegraded {
			t.Errorf("%s degraded = %v, want %v", name, out.Degraded, wantDegraded)
		}
	}
	if terminalInputs["player"].Value != "p" || terminalInputs["chemistry"].Value != "c" {
		t.Errorf("healthy inputs altered: %+v", terminalInputs)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	orch, err := New([]Stage{
		{
			Name: "boom",
			Run: func(context.Context, models.Request, Inputs) (Result, error) {
				panic("nil roster")
			},
		},
		constStage("final", "ok", "boom"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, _ := results.Get("boom")
	if !out.Degraded || !strings.Contains(out.Value, "panic: nil roster") {
		t.Errorf("boom output = %+v, want degraded panic placeholder", out)
	}
}

func TestRunCancelledByDeadline(t *testing.T) {
	orch, err := New([]Stage{
		{
			Name: "slow",
			Run: func(ctx context.Context, _ models.Request, _ Inputs) (Result, error) {
				<-ctx.Done()
				return Result{}, ctx.Err()
			},
		},
		constStage("final", "never", "slow"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	results, err := orch.Run(ctx, testRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}
	if results != nil {
		t.Error("expected no results after cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run took %v after a 50ms deadline", elapsed)
	}
}

func TestRunPrefersCancellationOverLateTerminal(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		orch, err := New([]Stage{
			constStage("a", "a-out"),
			{
				Name:      "final",
				DependsOn: []string{"a"},
				Run: func(context.Context, models.Request, Inputs) (Result, error) {
					cancel()
					return Result{Value: "too late"}, nil
				},
			},
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		results, err := orch.Run(ctx, testRequest())
		cancel()
		if !errors.Is(err, context.Canceled) || results != nil {
			t.Fatalf("iteration %d: results = %v, err = %v; want context.Canceled", i, results, err)
		}
	}
}

func TestRunStageTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	orch, err := New([]Stage{
		{
			Name: "stuck",
			Run: func(context.Context, models.Request, Inputs) (Result, error) {
				<-block // ignores ctx
				return Result{Value: "late"}, nil
			},
		},
		constStage("final", "done", "stuck"),
	}, WithStageTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out, _ := results.Get("stuck")
	if !out.Degraded || !strings.Contains(out.Value, "timed out") {
		t.Errorf("stuck output = %+v, want timeout placeholder", out)
	}
}

func TestRunPromotesWithoutWaitingForSiblings(t *testing.T) {
	bRan := make(chan struct{})

	orch, err := New([]Stage{
		constStage("a", "a"),
		{
			Name:      "b",
			DependsOn: []string{"a"},
			Run: func(context.Context, models.Request, Inputs) (Result, error) {
				close(bRan)
				return Result{Value: "b"}, nil
			},
		},
		{
			// Finishes only after b has started, so b must be promoted as soon as a is done.
			Name: "slow",
			Run: func(ctx context.Context, _ models.Request, _ Inputs) (Result, error) {
				select {
				case <-bRan:
					return Result{Value: "slow"}, nil
				case <-ctx.Done():
					return Result{}, ctx.Err()
				}
			},
		},
		constStage("t", "t", "b", "slow"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	results, err := orch.Run(ctx, testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := results.Degraded(); len(got) != 0 {
		t.Errorf("Degraded() = %v, want none", got)
	}
}

func TestRunStartsIndependentStagesConcurrently(t *testing.T) {
	const n = 3
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	var stages []Stage
	var names []string
	for _, name := range []string{"x", "y", "z"} {
		names = append(names, name)
		stages = append(stages, Stage{
			Name: name,
			Run: func(context.Context, models.Request, Inputs) (Result, error) {
				cur := running.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				wg.Done()
				wg.Wait() // all three must be in flight at once
				running.Add(-1)
				return Result{Value: "ok"}, nil
			},
		})
	}
	stages = append(stages, constStage("sink", "done", names...))

	orch, err := New(stages)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := orch.Run(ctx, testRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak.Load() != n {
		t.Errorf("peak concurrency = %d, want %d", peak.Load(), n)
	}
}

func TestNewSetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
	}{
		{name: "no stages", stages: nil},
		{name: "nil function", stages: []Stage{{Name: "a"}}},
		{name: "unknown dependency", stages: []Stage{constStage("a", "", "ghost")}},
		{name: "cycle", stages: []Stage{constStage("a", "", "b"), constStage("b", "", "a")}},
		{name: "two terminals", stages: []Stage{constStage("a", ""), constStage("b", "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stages)
			if !errors.Is(err, ErrSetup) {
				t.Errorf("New() error = %v, want ErrSetup", err)
			}
		})
	}
}

func TestRunEmitsEvents(t *testing.T) {
	emitter := NewEventEmitter(32)
	orch, err := New([]Stage{
		constStage("a", "a"),
		failingStage("b", errors.New("nope")),
		constStage("c", "c", "a", "b"),
	}, WithEvents(emitter))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := WithRunID(context.Background(), "run-1")
	if _, err := orch.Run(ctx, testRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	emitter.Close()

	counts := make(map[EventType]int)
	var last OrchestratorEvent
	for e := range emitter.Events() {
		if e.RunID != "run-1" {
			t.Errorf("event %s has run id %q", e.Type, e.RunID)
		}
		counts[e.Type]++
		last = e
	}

	if counts[EventStageStarted] != 3 {
		t.Errorf("started events = %d, want 3", counts[EventStageStarted])
	}
	if counts[EventStageCompleted] != 2 || counts[EventStageFailed] != 1 {
		t.Errorf("completed/failed = %d/%d, want 2/1", counts[EventStageCompleted], counts[EventStageFailed])
	}
	if last.Type != EventRunDone || last.Stage != "c" {
		t.Errorf("last event = %+v, want run_done for c", last)
	}
}

func TestRunConcurrentRunsDoNotShareState(t *testing.T) {
	orch, err := New([]Stage{
		{
			Name: "echo",
			Run: func(_ context.Context, req models.Request, _ Inputs) (Result, error) {
				return Result{Value: req.Team}, nil
			},
		},
		{
			Name:      "final",
			DependsOn: []string{"echo"},
			Run: func(_ context.Context, _ models.Request, in Inputs) (Result, error) {
				return Result{Value: in.Value("echo")}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	teams := []string{"Aces", "Liberty", "Sky", "Storm", "Wings"}
	var wg sync.WaitGroup
	for _, team := range teams {
		wg.Add(1)
		go func(team string) {
			defer wg.Done()
			results, err := orch.Run(context.Background(), models.Request{Team: team})
			if err != nil {
				t.Errorf("Run(%s): %v", team, err)
				return
			}
			if out, _ := results.Get("final"); out.Value != team {
				t.Errorf("Run(%s) final = %q", team, out.Value)
			}
		}(team)
	}
	wg.Wait()
}

func TestRunMessageLog(t *testing.T) {
	orch, err := New([]Stage{
		{
			Name: "a",
			Run: func(context.Context, models.Request, Inputs) (Result, error) {
				return Result{Value: "a", Notes: []string{"used cached search"}}, nil
			},
		},
		constStage("b", "b", "a"),
	}, withClock(func() time.Time { return time.Unix(100, 0) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results, err := orch.Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	msgs := results.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3: %+v", len(msgs), msgs)
	}
	if msgs[0].Kind != MessageNote || msgs[0].Content != "used cached search" {
		t.Errorf("first message = %+v, want the note", msgs[0])
	}
	if msgs[2].Stage != "b" || msgs[2].Kind != MessageCompleted {
		t.Errorf("last message = %+v, want b completed", msgs[2])
	}
}

func TestDebugOutputStaysWithItsOrchestrator(t *testing.T) {
	newDebugLogger := func(buf *bytes.Buffer) *slog.Logger {
		return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	var first, second bytes.Buffer
	stages := func() []Stage {
		return []Stage{constStage("a", "a-out"), constStage("final", "done", "a")}
	}

	orchA, err := New(stages(), WithLogger(newDebugLogger(&first)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(stages(), WithLogger(newDebugLogger(&second))); err != nil {
		t.Fatalf("New: %v", err)
	}
	second.Reset()

	if _, err := orchA.Run(WithRunID(context.Background(), "run-a"), testRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(first.String(), "graph.TakeReady") || !strings.Contains(first.String(), "run_id=run-a") {
		t.Errorf("first logger missing run graph output:\n%s", first.String())
	}
	if second.Len() != 0 {
		t.Errorf("second logger received another orchestrator's output:\n%s", second.String())
	}
}

func TestEmitterDropLogsToAttachedLogger(t *testing.T) {
	var lines []string
	e := NewEventEmitter(0)
	e.sendTimeout = time.Millisecond
	e.setDebugLog(func(format string, args ...interface{}) { lines = append(lines, format) })
	e.setDebugLog(func(string, ...interface{}) { t.Error("second logger replaced the first") })

	e.Emit(OrchestratorEvent{Type: EventStageStarted})
	if e.DroppedCount() != 1 || len(lines) != 1 || !strings.Contains(lines[0], "dropped event") {
		t.Errorf("dropped = %d, lines = %v", e.DroppedCount(), lines)
	}
}
