package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/config"
	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// Enqueuer hands new job ids to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item support.QueueItem) error
}

// Deps bundles the collaborators the HTTP layer needs.
type Deps struct {
	Jobs   support.JobStore
	Queue  Enqueuer
	Dedup  support.Deduplicator
	IDGen  support.IDGenerator
	Clock  support.Clock
	Logger *zap.Logger
}

// Server wires HTTP handlers to the job store and queue.
type Server struct {
	router chi.Router
	jobs   support.JobStore
	queue  Enqueuer
	dedup  support.Deduplicator
	idGen  support.IDGenerator
	clock  support.Clock
	logger *zap.Logger
	cfg    config.Config
}

const defaultEnqueueTimeout = 5 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   deps.Jobs,
		queue:  deps.Queue,
		dedup:  deps.Dedup,
		idGen:  deps.IDGen,
		clock:  deps.Clock,
		logger: logger,
		cfg:    cfg,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", s.receiveWebhook)
		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey, s.logger))
			}
			r.Post("/support", s.submit)
			r.Get("/support/status/{job_id}", s.getStatus)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// enqueueJob creates the job in queued status and hands it to the queue.
func (s *Server) enqueueJob(ctx context.Context, jobID string, req support.Request) error {
	now := s.clock.Now()
	job := support.Job{
		ID:         jobID,
		Status:     support.JobStatusQueued,
		Request:    req,
		EnqueuedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	timeout := defaultEnqueueTimeout
	if s.cfg.Queue.EnqueueTimeoutSecs > 0 {
		timeout = time.Duration(s.cfg.Queue.EnqueueTimeoutSecs) * time.Second
	}
	queueCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	item := support.QueueItem{
		JobID:     jobID,
		Submitted: now.Unix(),
	}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return support.Unavailable("enqueue job", err)
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	metrics.ObserveEnqueue(string(req.Source))
	s.logger.Info("job enqueued",
		zap.String("job_id", jobID),
		zap.String("source", string(req.Source)),
		zap.String("event_id", req.EventID),
	)
	return nil
}

func (s *Server) newJobID() (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}
