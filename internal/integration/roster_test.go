//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/cache"
	"github.com/ShayCichocki/rosterbuild/internal/llm"
	"github.com/ShayCichocki/rosterbuild/internal/pipeline"
	"github.com/ShayCichocki/rosterbuild/internal/roster"
	"github.com/ShayCichocki/rosterbuild/internal/server"
	"github.com/ShayCichocki/rosterbuild/internal/state"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// backend is a scripted llm.Provider. It tells the stages apart by their
// system prompts.
type backend struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	fail     map[string]bool
	hang     bool
}

func newBackend() *backend {
	return &backend{calls: make(map[string]int), fail: make(map[string]bool)}
}

func stageOf(system string) string {
	switch {
	case strings.Contains(system, "salary cap expert"):
		return roster.StageSalaryCap
	case strings.Contains(system, "chemistry expert"):
		return roster.StageTeamChemistry
	case strings.Contains(system, "WNBA GM"):
		return roster.StageRosterConstruction
	default:
		return roster.StagePlayerAnalysis
	}
}

func (b *backend) Name() string                    { return "fake" }
func (b *backend) Model() string                   { return "fake-1" }
func (b *backend) Probe(ctx context.Context) error { return nil }

func (b *backend) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	stage := stageOf(p.System)
	b.mu.Lock()
	b.calls[stage]++
	fail := b.fail[stage]
	b.mu.Unlock()

	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if b.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if fail {
		return "", errors.New("backend unavailable")
	}
	if stage == roster.StageRosterConstruction {
		return "ROSTER PLAN\n" + p.User, nil
	}
	return stage + " looks solid", nil
}

func (b *backend) count(stage string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[stage]
}

type stack struct {
	backend  *backend
	cache    *cache.Cache
	ledger   *state.DB
	envelope *pipeline.Envelope
	server   *httptest.Server
}

func newStack(t *testing.T, b *backend) *stack {
	t.Helper()

	reg := llm.NewRegistry()
	reg.Register("fake", func() (llm.Provider, error) { return b, nil })

	c := cache.New()
	builder, err := roster.NewBuilder(roster.Config{Providers: reg, Cache: c})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	orch, err := builder.NewOrchestrator()
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	ledger, err := state.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	env := pipeline.New(orch, pipeline.WithModels(reg.Names()...), pipeline.WithRecorder(ledger))
	srv, err := server.New(server.Config{Addr: "127.0.0.1:0", Deadline: 2 * time.Second},
		server.Deps{Runner: env, Runs: ledger, Cache: c}, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	h, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return &stack{backend: b, cache: c, ledger: ledger, envelope: env, server: ts}
}

func (s *stack) post(t *testing.T, req models.Request) (int, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(s.server.URL+"/build-roster", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /build-roster: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

var aces = models.Request{Team: "Las Vegas Aces", Season: "2025", Strategy: "championship", ModelType: "fake"}

// TestAnalysesRunConcurrently checks the three analyses overlap and the
// roster stage sees all of them.
func TestAnalysesRunConcurrently(t *testing.T) {
	b := newBackend()
	b.delay = 100 * time.Millisecond
	s := newStack(t, b)

	start := time.Now()
	out := s.envelope.Run(context.Background(), aces, 5*time.Second)
	elapsed := time.Since(start)

	if out.Kind != models.OutcomeSuccess {
		t.Fatalf("outcome = %+v", out)
	}
	if b.peak.Load() != 3 {
		t.Errorf("peak concurrent calls = %d, want 3", b.peak.Load())
	}
	// Three parallel analyses plus one roster call, not four sequential ones.
	if elapsed >= 390*time.Millisecond {
		t.Errorf("run took %v, analyses did not overlap", elapsed)
	}
	for _, stage := range []string{roster.StagePlayerAnalysis, roster.StageSalaryCap, roster.StageTeamChemistry} {
		if !strings.Contains(out.Artifact, stage+" looks solid") {
			t.Errorf("roster prompt missing %s output", stage)
		}
	}
}

// TestFailedAnalysisDegradesRun checks one failed analysis yields a placeholder
// and the run still returns a roster over HTTP.
func TestFailedAnalysisDegradesRun(t *testing.T) {
	b := newBackend()
	b.fail[roster.StageSalaryCap] = true
	s := newStack(t, b)

	code, body := s.post(t, aces)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	degraded, _ := body["degraded_stages"].([]any)
	if len(degraded) != 1 || degraded[0] != roster.StageSalaryCap {
		t.Errorf("degraded_stages = %v", body["degraded_stages"])
	}
	result, _ := body["result"].(string)
	if !strings.Contains(result, "salary_cap error") {
		t.Errorf("roster prompt should carry the placeholder, got %q", result)
	}
	if body["agent_type"] != server.AgentType {
		t.Errorf("agent_type = %v", body["agent_type"])
	}
}

// TestRepeatRequestServedFromCache checks memoized analyses skip the backend.
func TestRepeatRequestServedFromCache(t *testing.T) {
	b := newBackend()
	s := newStack(t, b)

	for i := 0; i < 2; i++ {
		if code, body := s.post(t, aces); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %v", i, code, body)
		}
	}
	if got := b.count(roster.StagePlayerAnalysis); got != 1 {
		t.Errorf("player analysis calls = %d, want 1", got)
	}
	if got := b.count(roster.StageRosterConstruction); got != 2 {
		t.Errorf("roster construction calls = %d, want 2", got)
	}

	resp, err := http.Get(s.server.URL + "/cache/stats")
	if err != nil {
		t.Fatalf("GET /cache/stats: %v", err)
	}
	defer resp.Body.Close()
	var stats cache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Hits != 3 || stats.Size != 3 {
		t.Errorf("cache stats = %+v, want 3 hits and 3 entries", stats)
	}
}

// TestHungBackendTimesOut checks the deadline envelope over HTTP.
func TestHungBackendTimesOut(t *testing.T) {
	b := newBackend()
	b.hang = true
	s := newStack(t, b)

	start := time.Now()
	code, body := s.post(t, aces)
	if code != http.StatusRequestTimeout {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["error"] != "Request timeout" {
		t.Errorf("error = %v", body["error"])
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout took %v, deadline is 2s", elapsed)
	}

	runs, err := s.ledger.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != models.OutcomeTimeout {
		t.Errorf("ledger = %+v", runs)
	}
}

// TestInvalidRequestNeverReachesBackend checks validation happens before any stage runs.
func TestInvalidRequestNeverReachesBackend(t *testing.T) {
	b := newBackend()
	s := newStack(t, b)

	code, _ := s.post(t, models.Request{Team: "Sky", ModelType: "fake"})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("missing fields: status = %d, want 422", code)
	}
	code, _ = s.post(t, models.Request{Team: "Sky", Season: "2025", Strategy: "rebuild", ModelType: "gpt-9"})
	if code != http.StatusUnprocessableEntity {
		t.Errorf("unknown model: status = %d, want 422", code)
	}
	for _, stage := range []string{roster.StagePlayerAnalysis, roster.StageRosterConstruction} {
		if n := b.count(stage); n != 0 {
			t.Errorf("%s called %d times", stage, n)
		}
	}
}
