package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/cache"
	"github.com/ShayCichocki/rosterbuild/internal/health"
	"github.com/ShayCichocki/rosterbuild/internal/state"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	out      models.Outcome
	panicMsg string
	gotReq   models.Request
	gotDl    time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req models.Request, deadline time.Duration) models.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.gotReq = req
	f.gotDl = deadline
	return f.out
}

type fakeHealth struct{ report health.Report }

func (f fakeHealth) Check(context.Context) health.Report { return f.report }

type fakeRuns struct {
	runs []state.Run
	err  error
}

func (f fakeRuns) GetRun(_ context.Context, id string) (*state.Run, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, f.err
}

func (f fakeRuns) ListRuns(context.Context, int) ([]state.Run, error) { return f.runs, f.err }

func (f fakeRuns) RunStats(context.Context) (*state.Stats, error) {
	return &state.Stats{Total: len(f.runs)}, f.err
}

func newTestHandler(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	srv, err := New(Config{
		Addr:           ":0",
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		Deadline:       7 * time.Second,
	}, deps, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	return h
}

func postRoster(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/build-roster", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

const validBody = `{"team":"Las Vegas Aces","season":"2025","strategy":"championship","priorities":["defense"]}`

func TestBuildRosterStatuses(t *testing.T) {
	tests := []struct {
		name       string
		out        models.Outcome
		body       string
		wantStatus int
		wantError  string
		wantMsg    string
	}{
		{
			name:       "timeout",
			out:        models.Outcome{Kind: models.OutcomeTimeout, Description: models.TimeoutMessage},
			body:       validBody,
			wantStatus: http.StatusRequestTimeout,
			wantError:  "Request timeout",
			wantMsg:    models.TimeoutMessage,
		},
		{
			name: "invalid request",
			out: models.Outcome{
				Kind:        models.OutcomeFailure,
				Description: "invalid request: missing required field(s): team",
				Err:         fmt.Errorf("%w: missing required field(s): team", models.ErrInvalidRequest),
			},
			body:       `{"season":"2025","strategy":"rebuild"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Invalid request",
			wantMsg:    "team",
		},
		{
			name:       "malformed json",
			body:       `{"team":`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Invalid request",
			wantMsg:    "malformed JSON",
		},
		{
			name: "failure",
			out: models.Outcome{
				Kind:        models.OutcomeFailure,
				Description: "setup error: no pipeline configured",
				Err:         errors.New("setup error"),
			},
			body:       validBody,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
			wantMsg:    "Failed to build roster: setup error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, Deps{Runner: &fakeRunner{out: tt.out}})
			rec := postRoster(h, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var body ErrorResponse
			decode(t, rec, &body)
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
			if !strings.Contains(body.Message, tt.wantMsg) {
				t.Errorf("message = %q, want mention of %q", body.Message, tt.wantMsg)
			}
			if body.RequestID == "" || rec.Header().Get("X-Request-Id") != body.RequestID {
				t.Errorf("request id mismatch: body %q header %q", body.RequestID, rec.Header().Get("X-Request-Id"))
			}
		})
	}
}

func TestBuildRosterSuccess(t *testing.T) {
	runner := &fakeRunner{out: models.Outcome{
		Kind:      models.OutcomeSuccess,
		RunID:     "run-1",
		Artifact:  "ROSTER",
		ModelUsed: "ollama",
		Degraded:  []string{"salary_cap"},
	}}
	h := newTestHandler(t, Deps{Runner: runner})

	rec := postRoster(h, validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body BuildRosterResponse
	decode(t, rec, &body)
	if body.Result != "ROSTER" || body.AgentType != AgentType || body.ModelUsed != "ollama" || body.RunID != "run-1" {
		t.Errorf("unexpected body %+v", body)
	}
	if len(body.DegradedStages) != 1 || body.DegradedStages[0] != "salary_cap" {
		t.Errorf("degraded_stages = %v", body.DegradedStages)
	}
	if runner.gotReq.Team != "Las Vegas Aces" || len(runner.gotReq.Priorities) != 1 {
		t.Errorf("runner got %+v", runner.gotReq)
	}
	if runner.gotDl != 7*time.Second {
		t.Errorf("deadline = %v, want 7s", runner.gotDl)
	}
}

func TestBuildRosterEmptyDegradedIsArray(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{out: models.Outcome{Kind: models.OutcomeSuccess, Artifact: "ok"}}})
	rec := postRoster(h, validBody)
	if !strings.Contains(rec.Body.String(), `"degraded_stages":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSetDeadline(t *testing.T) {
	runner := &fakeRunner{out: models.Outcome{Kind: models.OutcomeSuccess}}
	srv, err := New(Config{Addr: ":0", Deadline: time.Second}, Deps{Runner: runner}, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv.SetDeadline(3 * time.Second)
	h, err := srv.Handler()
	if err != nil {
		t.Fatal(err)
	}
	postRoster(h, validBody)
	if runner.gotDl != 3*time.Second {
		t.Errorf("deadline = %v, want 3s", runner.gotDl)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("status = %q", body["status"])
	}
	if _, err := time.Parse(time.RFC3339Nano, body["timestamp"]); err != nil {
		t.Errorf("timestamp %q: %v", body["timestamp"], err)
	}
}

func TestRootAndUnknownRoutes(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("root: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/build-roster", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /build-roster status = %d", rec.Code)
	}
}

func TestModelsHealthFlattensStatus(t *testing.T) {
	h := newTestHandler(t, Deps{
		Runner: &fakeRunner{},
		Health: fakeHealth{report: health.Report{
			Status:    map[string]bool{"openai": true, "ollama": false},
			Available: []string{"openai"},
		}},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models/health", nil))

	var body struct {
		OpenAI    bool     `json:"openai"`
		Ollama    bool     `json:"ollama"`
		Available []string `json:"available_models"`
	}
	decode(t, rec, &body)
	if !body.OpenAI || body.Ollama || len(body.Available) != 1 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRunsEndpoints(t *testing.T) {
	runs := fakeRuns{runs: []state.Run{{ID: "r1", Team: "Sky", Kind: models.OutcomeSuccess}}}
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}, Runs: runs})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/runs", http.StatusOK, `"id":"r1"`},
		{"/runs?limit=5", http.StatusOK, `"team":"Sky"`},
		{"/runs?limit=-1", http.StatusBadRequest, "limit"},
		{"/runs/r1", http.StatusOK, `"kind":"success"`},
		{"/runs/missing", http.StatusNotFound, "missing"},
		{"/runs/stats", http.StatusOK, `"total":1`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s missing %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRunsLedgerError(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}, Runs: fakeRuns{err: errors.New("db gone")}})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db gone") {
		t.Error("internal error text leaked to client")
	}
}

func TestCacheStats(t *testing.T) {
	c := cache.New()
	c.Set("k", "v", time.Minute)
	c.Get("k")
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}, Cache: c})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache/stats", nil))
	var stats cache.Stats
	decode(t, rec, &stats)
	if stats.Hits != 1 || stats.Size != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCORS(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}})

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"preflight allowed", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173"},
		{"simple allowed", http.MethodGet, "http://localhost:3000", http.StatusOK, "http://localhost:3000"},
		{"other origin", http.MethodGet, "http://evil.test", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/health"
			if tt.method == http.MethodOptions {
				path = "/build-roster"
			}
			req := httptest.NewRequest(tt.method, path, nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", "POST")
				req.Header.Set("Access-Control-Request-Headers", "content-type")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.wantAllow != "" && rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentials not allowed")
			}
		})
	}
}

func TestGzipLargeResponsesOnly(t *testing.T) {
	big := strings.Repeat("Point guard with elite defense. ", 100)
	h := newTestHandler(t, Deps{Runner: &fakeRunner{out: models.Outcome{Kind: models.OutcomeSuccess, Artifact: big}}})

	req := httptest.NewRequest(http.MethodPost, "/build-roster", strings.NewReader(validBody))
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("large response not compressed: headers %v", rec.Header())
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "elite defense") {
		t.Errorf("decompressed body missing artifact")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Error("small response should not be compressed")
	}
}

func TestPanicRecovered(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{panicMsg: "boom"}})
	rec := postRoster(h, validBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ErrorResponse
	decode(t, rec, &body)
	if body.Error != "Internal server error" || body.RequestID == "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	h := newTestHandler(t, Deps{Runner: &fakeRunner{}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "client-supplied")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "client-supplied" {
		t.Errorf("X-Request-Id = %q", got)
	}
}

func TestNewRequiresRunner(t *testing.T) {
	if _, err := New(Config{Addr: ":0"}, Deps{}, nil); err == nil {
		t.Error("expected error without runner")
	}
	if _, err := New(Config{}, Deps{Runner: &fakeRunner{}}, nil); err == nil {
		t.Error("expected error without addr")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{Addr: ln.Addr().String(), ShutdownTimeout: time.Second}, Deps{Runner: &fakeRunner{}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
