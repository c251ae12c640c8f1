package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	idgen "github.com/JakeFAU/nmkr-support-router/internal/id/uuid"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

const healthTimeout = 2 * time.Second

type submitRequest struct {
	Query    string `json:"query"`
	Language string `json:"language"`
}

type jobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Result     *support.Answer `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid JSON")
		return
	}
	req := support.Request{
		Query:    body.Query,
		Language: body.Language,
		Source:   support.SourceAPI,
	}.Normalize()
	if err := req.Validate(); err != nil {
		s.writeErr(w, r, err)
		return
	}
	jobID, err := s.newJobID()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.enqueueJob(r.Context(), jobID, req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusAccepted, jobAccepted{JobID: jobID, Status: string(support.JobStatusQueued)})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !idgen.Valid(jobID) {
		s.writeErr(w, r, support.ErrNotFound)
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, statusResponse{
		ID:         job.ID,
		Status:     string(job.Status),
		Result:     job.Result,
		Error:      job.Error,
		EnqueuedAt: job.EnqueuedAt,
		StartedAt:  job.StartedAt,
		EndedAt:    job.EndedAt,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	now := s.clock.Now()
	if err := s.jobs.Ping(ctx); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		writeJSON(w, s.logger, http.StatusServiceUnavailable, map[string]any{
			"ok":        false,
			"status":    "unhealthy",
			"error":     "queue store unavailable",
			"timestamp": now,
		})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"ok":        true,
		"status":    "healthy",
		"timestamp": now,
		"services": map[string]string{
			"api":   "healthy",
			"queue": "healthy",
		},
		"port": s.cfg.Server.Port,
	})
}

// writeErr maps the error taxonomy onto HTTP status codes. Internal detail is
// logged, never returned.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, s.logger, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, support.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, support.ErrUnauthorized):
		return http.StatusUnauthorized, "invalid signature"
	case errors.Is(err, support.ErrNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, support.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "queue store unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}
