package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/raphaelgruber/agentd/internal/metrics"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/pipeline"
	"github.com/raphaelgruber/agentd/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// RunRequest is the body of POST /run.
type RunRequest struct {
	Topic string `json:"topic"`
}

// RunResponse is returned when a pipeline was admitted.
type RunResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// AnswerRequest is the body of POST /answer/{id}.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// CancelRequest is the optional body of POST /cancel/{id}.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// MessageResponse acknowledges a command.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusCounts holds the number of records per pipeline status.
type StatusCounts struct {
	Queued          int `json:"queued_pipelines"`
	Running         int `json:"running_pipelines"`
	WaitingForInput int `json:"waiting_for_input_pipelines"`
	Completed       int `json:"completed_pipelines"`
	Failed          int `json:"failed_pipelines"`
}

// APIStatusResponse is returned by GET /api-status.
type APIStatusResponse struct {
	Status string       `json:"status"`
	Data   StatusCounts `json:"data"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string            `json:"status"`
	LastCleanup    *time.Time        `json:"last_cleanup"`
	CleanupCount   int64             `json:"cleanup_count"`
	ActiveSessions int               `json:"active_sessions"`
	InFlight       int               `json:"in_flight"`
	Capacity       int               `json:"capacity"`
	Timestamp      time.Time         `json:"timestamp"`
	Uptime         float64           `json:"uptime"`
	Metrics        *metrics.Snapshot `json:"metrics,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// Index handles GET /
func (s *Server) Index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run handles POST /run
func (s *Server) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "Topic is required.")
		return
	}

	rec, err := s.manager.Submit(req.Topic)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrOverloaded), errors.Is(err, pipeline.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "Server is busy, try again later.")
		return
	case errors.Is(err, store.ErrEmptyTopic):
		writeError(w, http.StatusBadRequest, "Topic is required.")
		return
	default:
		s.logger.Error("submit pipeline", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to start pipeline.")
		return
	}

	writeJSON(w, http.StatusAccepted, RunResponse{
		Status:    "success",
		Message:   "Pipeline started.",
		RequestID: rec.ID,
	})
}

// Answer handles POST /answer/{id}
func (s *Server) Answer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.Get(id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	var req AnswerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "Answer is required.")
		return
	}

	if err := s.manager.SubmitAnswer(id, req.Answer); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "Answer is being processed."})
}

// Status handles GET /status/{id}
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.View())
}

// Cancel handles POST /cancel/{id}
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := s.manager.Cancel(mux.Vars(r)["id"], req.Reason); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "Pipeline cancellation requested."})
}

// APIStatus handles GET /api-status
func (s *Server) APIStatus(w http.ResponseWriter, _ *http.Request) {
	counts := s.store.CountsByStatus()
	writeJSON(w, http.StatusOK, APIStatusResponse{
		Status: "success",
		Data: StatusCounts{
			Queued:          counts[models.StatusQueued],
			Running:         counts[models.StatusRunning],
			WaitingForInput: counts[models.StatusWaitingForInput],
			Completed:       counts[models.StatusCompleted],
			Failed:          counts[models.StatusFailed],
		},
	})
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:         "ok",
		ActiveSessions: s.store.Len(),
		InFlight:       s.manager.InFlight(),
		Capacity:       s.manager.Capacity(),
		Timestamp:      s.opts.Now(),
	}
	if s.reaper != nil {
		stats := s.reaper.Stats()
		if !stats.LastCleanup.IsZero() {
			last := stats.LastCleanup
			resp.LastCleanup = &last
		}
		resp.CleanupCount = stats.CleanupCount
	}
	if s.opts.Metrics != nil {
		snap := s.opts.Metrics.Snapshot()
		resp.Uptime = snap.UptimeSeconds
		resp.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found.")
	case errors.Is(err, store.ErrInvalidState):
		writeError(w, http.StatusBadRequest, stateMessage(err))
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error.")
	}
}

// stateMessage strips the sentinel prefix from an ErrInvalidState error.
func stateMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), store.ErrInvalidState.Error()+": ")
	if msg == "" {
		return "Invalid state."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
