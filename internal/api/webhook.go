package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
	"github.com/JakeFAU/nmkr-support-router/internal/webhook"
)

const defaultMaxBodyBytes = 1 << 20

type webhookResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

// receiveWebhook verifies a Plain delivery against the raw body, then turns
// its message into a job. Redelivered event ids resolve to the original job.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Server.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, s.logger, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, s.logger, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := webhook.Verify(s.cfg.Webhook.Secret, body, r.Header.Get(webhook.HeaderSignature)); err != nil {
		metrics.ObserveWebhook("rejected")
		s.logger.Warn("webhook signature rejected", zap.String("request_id", RequestID(r.Context())))
		s.writeErr(w, r, err)
		return
	}

	evt, err := webhook.Parse(body)
	if err == nil {
		evt, err = evt.Resolve(webhook.Headers{
			EventID:     r.Header.Get(webhook.HeaderEventID),
			EventType:   r.Header.Get(webhook.HeaderEventType),
			WorkspaceID: r.Header.Get(webhook.HeaderWorkspaceID),
		})
	}
	if err != nil {
		metrics.ObserveWebhook("invalid")
		s.writeErr(w, r, err)
		return
	}
	logger := s.logger.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	req, ok := evt.Request()
	if !ok {
		metrics.ObserveWebhook("ignored")
		logger.Info("webhook carried no support question")
		writeJSON(w, s.logger, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	jobID, err := s.newJobID()
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	owner, fresh, err := s.dedup.Reserve(r.Context(), evt.ID, jobID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if !fresh {
		metrics.ObserveWebhook("duplicate")
		logger.Info("duplicate webhook delivery", zap.String("job_id", owner))
		writeJSON(w, s.logger, http.StatusOK, webhookResponse{Status: "duplicate", JobID: owner})
		return
	}

	if err := s.enqueueJob(r.Context(), jobID, req); err != nil {
		if relErr := s.dedup.Release(r.Context(), evt.ID); relErr != nil {
			logger.Error("release webhook reservation failed", zap.Error(relErr))
		}
		s.writeErr(w, r, err)
		return
	}
	metrics.ObserveWebhook("queued")
	writeJSON(w, s.logger, http.StatusAccepted, webhookResponse{Status: string(support.JobStatusQueued), JobID: jobID})
}
