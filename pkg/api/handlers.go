package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cortexops/drover/pkg/errdefs"
	"github.com/cortexops/drover/pkg/orchestrator"
	"github.com/cortexops/drover/pkg/types"
)

type submitTaskRequest struct {
	Payload  json.RawMessage    `json:"payload"`
	Metadata types.TaskMetadata `json:"metadata"`
}

type taskResponse struct {
	ID          string             `json:"id"`
	State       types.TaskState    `json:"state"`
	Metadata    types.TaskMetadata `json:"metadata"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

type registerWorkerRequest struct {
	ID           string            `json:"id"`
	Capabilities map[string]string `json:"capabilities"`
	Health       types.HealthState `json:"health"`
	Saturation   float64           `json:"saturation"`
}

type updateHealthRequest struct {
	Health     types.HealthState `json:"health"`
	Saturation float64           `json:"saturation"`
}

type resultRequest struct {
	WorkerID   string         `json:"workerId"`
	Decision   types.Decision `json:"decision,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Evidence   []string       `json:"evidence,omitempty"`
}

type failureRequest struct {
	WorkerID string            `json:"workerId"`
	Failure  map[string]string `json:"failure"`
}

type retryPlanResponse struct {
	ShouldRetry  bool   `json:"shouldRetry"`
	RetryAfterMs int64  `json:"retryAfterMs"`
	Attempt      int    `json:"attempt"`
	TaskID       string `json:"taskId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.InvalidArgument("malformed request body: %v", err))
		return
	}

	task, err := s.orch.Submit(req.Payload, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.orch.History(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReportResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.InvalidArgument("malformed request body: %v", err))
		return
	}
	if req.WorkerID == "" {
		s.writeError(w, errdefs.InvalidArgument("workerId is required"))
		return
	}

	err := s.orch.ReportResult(chi.URLParam(r, "id"), req.WorkerID, orchestrator.Result{
		Decision:   req.Decision,
		Confidence: req.Confidence,
		Reasoning:  req.Reasoning,
		Evidence:   req.Evidence,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReportFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.InvalidArgument("malformed request body: %v", err))
		return
	}
	if req.WorkerID == "" {
		s.writeError(w, errdefs.InvalidArgument("workerId is required"))
		return
	}

	taskID := chi.URLParam(r, "id")
	plan, err := s.orch.ReportFailure(taskID, req.WorkerID, req.Failure)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, retryPlanResponse{
		ShouldRetry:  plan.ShouldRetry,
		RetryAfterMs: plan.RetryAfter.Milliseconds(),
		Attempt:      plan.Snapshot.Attempt,
		TaskID:       taskID,
	})
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.InvalidArgument("malformed request body: %v", err))
		return
	}

	if err := s.orch.RegisterWorker(req.ID, req.Capabilities, req.Health, req.Saturation); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleDeregisterWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeregisterWorker(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Heartbeat(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateHealth(w http.ResponseWriter, r *http.Request) {
	var req updateHealthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.InvalidArgument("malformed request body: %v", err))
		return
	}

	if err := s.orch.UpdateWorkerHealth(chi.URLParam(r, "id"), req.Health, req.Saturation); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toTaskResponse(task *types.Task) taskResponse {
	resp := taskResponse{
		ID:        task.ID,
		State:     task.State,
		Metadata:  task.Metadata,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	}
	if !task.StartedAt.IsZero() {
		t := task.StartedAt
		resp.StartedAt = &t
	}
	if !task.CompletedAt.IsZero() {
		t := task.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Backpressure is
// flow control, not failure: 429 with a Retry-After hint.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
	case errdefs.IsAlreadyExists(err), errdefs.IsVersionConflict(err):
		status = http.StatusConflict
	case errdefs.IsInvalidArgument(err), errdefs.IsIllegalTransition(err),
		errors.Is(err, errdefs.ErrInsufficientParticipants):
		status = http.StatusBadRequest
	case errdefs.IsBackpressure(err):
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// retryAfterSeconds is the Retry-After hint for backpressured submits.
const retryAfterSeconds = 5
