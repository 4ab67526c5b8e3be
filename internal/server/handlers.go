package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ShayCichocki/rosterbuild/internal/state"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

const maxBodyBytes = 1 << 20

// BuildRosterResponse is the 200 body of POST /build-roster.
type BuildRosterResponse struct {
	Result         string   `json:"result"`
	AgentType      string   `json:"agent_type"`
	ModelUsed      string   `json:"model_used"`
	RunID          string   `json:"run_id"`
	DegradedStages []string `json:"degraded_stages"`
}

// ErrorResponse is the body of every error status.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "WNBA Team Builder API is running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleBuildRoster(w http.ResponseWriter, r *http.Request) {
	requestID, _ := RequestIDFromContext(r.Context())

	var req models.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "Invalid request",
			Message:   "malformed JSON body: " + err.Error(),
			RequestID: requestID,
		})
		return
	}

	out := s.deps.Runner.Run(r.Context(), req, s.Deadline())
	switch {
	case out.Kind == models.OutcomeSuccess:
		degraded := out.Degraded
		if degraded == nil {
			degraded = []string{}
		}
		writeJSON(w, http.StatusOK, BuildRosterResponse{
			Result:         out.Artifact,
			AgentType:      AgentType,
			ModelUsed:      out.ModelUsed,
			RunID:          out.RunID,
			DegradedStages: degraded,
		})

	case out.Kind == models.OutcomeTimeout:
		writeJSON(w, http.StatusRequestTimeout, ErrorResponse{
			Error:     "Request timeout",
			Message:   out.Description,
			RequestID: requestID,
		})

	case errors.Is(out.Err, models.ErrInvalidRequest):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "Invalid request",
			Message:   out.Description,
			RequestID: requestID,
		})

	default:
		s.logger.Error("build roster failed", "request_id", requestID, "run_id", out.RunID, "error", out.Description)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     "Internal server error",
			Message:   "Failed to build roster: " + out.Description,
			RequestID: requestID,
		})
	}
}

func (s *Server) handleModelsHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available_models": []string{}})
		return
	}
	report := s.deps.Health.Check(r.Context())
	body := make(map[string]any, len(report.Status)+1)
	for name, ok := range report.Status {
		body[name] = ok
	}
	available := report.Available
	if available == nil {
		available = []string{}
	}
	body["available_models"] = available
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Bad request", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list runs", err)
		return
	}
	if runs == nil {
		runs = []state.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Message: "run ledger disabled"})
		return
	}
	id := r.PathValue("id")
	run, err := s.deps.Runs.GetRun(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "get run", err)
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Message: "no run with id " + id})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Message: "run ledger disabled"})
		return
	}
	stats, err := s.deps.Runs.RunStats(r.Context())
	if err != nil {
		s.internalError(w, r, "run stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Not found", Message: "cache disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	requestID, _ := RequestIDFromContext(r.Context())
	s.logger.Error(op, "request_id", requestID, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:     "Internal server error",
		Message:   op + " failed",
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}
