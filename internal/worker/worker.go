// Package worker runs queued support jobs through the agent pipeline and
// reaps jobs whose lease expired.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
	"github.com/JakeFAU/nmkr-support-router/internal/telemetry"
)

// Failure texts stored on jobs. Internal detail only goes to logs.
const (
	msgTimedOut   = "support pipeline timed out"
	msgStage      = "support pipeline failed during %s stage"
	msgUnexpected = "support pipeline failed unexpectedly"
)

const dequeueRetryDelay = time.Second

// Config controls Worker behavior.
type Config struct {
	// PipelineTimeout bounds one pipeline invocation.
	PipelineTimeout time.Duration
	// Lease is how long a claimed job may run before the reaper takes over.
	// It must exceed PipelineTimeout.
	Lease time.Duration
}

// Worker consumes queue items and runs the support pipeline.
type Worker struct {
	id        int
	queue     support.Queue
	jobs      support.JobStore
	pipeline  support.Pipeline
	announcer *Announcer
	clock     support.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue support.Queue,
	jobs support.JobStore,
	pipeline support.Pipeline,
	announcer *Announcer,
	clock support.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = time.Hour
	}
	if cfg.Lease <= cfg.PipelineTimeout {
		cfg.Lease = cfg.PipelineTimeout + 5*time.Minute
	}
	return &Worker{
		id:        id,
		queue:     queue,
		jobs:      jobs,
		pipeline:  pipeline,
		announcer: announcer,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process claims one job, runs the pipeline and records the outcome. When ctx
// is canceled mid-run the job is left started for the lease reaper.
func (w *Worker) Process(ctx context.Context, item support.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))
	job, err := w.jobs.ClaimJob(ctx, item.JobID, w.clock.Now().Add(w.cfg.Lease))
	if err != nil {
		if errors.Is(err, support.ErrNotFound) || errors.Is(err, support.ErrInvalidTransition) {
			logger.Warn("skipping unclaimable job", zap.Error(err))
			w.ack(ctx, item.JobID, logger)
			return
		}
		logger.Error("claim job failed; requeueing", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(dequeueRetryDelay):
		}
		if err := w.queue.Enqueue(ctx, item); err != nil {
			logger.Error("requeue after claim failure failed", zap.Error(err))
			return
		}
		w.ack(ctx, item.JobID, logger)
		return
	}

	ctx, span := telemetry.Tracer().Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.Attempts),
		attribute.String("job.source", string(job.Request.Source)),
	))
	defer span.End()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.clock.Now()
	w.emitter.Emit(progress.Event{
		JobID:   job.ID,
		TS:      started,
		Stage:   progress.StageJobStart,
		Attempt: job.Attempts,
	})
	logger.Info("job started", zap.Int("attempt", job.Attempts))

	answer, runErr := w.runPipeline(ctx, job)
	if ctx.Err() != nil {
		logger.Warn("shutdown during pipeline; job left for lease reaper")
		span.SetStatus(codes.Error, "interrupted")
		return
	}

	dur := w.clock.Now().Sub(started)
	if runErr == nil {
		err = w.jobs.FinishJob(ctx, job.ID, answer)
	} else {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "pipeline failed")
		logger.Error("support pipeline failed", zap.Error(runErr))
		err = w.jobs.FailJob(ctx, job.ID, sanitize(runErr))
	}
	if err != nil {
		if errors.Is(err, support.ErrInvalidTransition) {
			logger.Warn("job already terminal; result discarded", zap.Error(err))
			w.ack(ctx, job.ID, logger)
		} else {
			logger.Error("record job outcome failed", zap.Error(err))
		}
		return
	}

	final, err := w.jobs.GetJob(ctx, job.ID)
	if err != nil {
		logger.Error("reload job failed", zap.Error(err))
	} else {
		w.announcer.Announce(ctx, final)
	}

	evt := progress.Event{JobID: job.ID, TS: w.clock.Now(), Attempt: job.Attempts, Dur: dur}
	if runErr == nil {
		evt.Stage = progress.StageJobDone
		evt.Category = string(answer.Category)
		metrics.ObserveJob(string(support.JobStatusFinished))
		logger.Info("job finished", zap.String("category", string(answer.Category)), zap.Duration("dur", dur))
	} else {
		evt.Stage = progress.StageJobError
		evt.Note = sanitize(runErr)
		metrics.ObserveJob(string(support.JobStatusFailed))
	}
	w.emitter.Emit(evt)
	w.ack(ctx, job.ID, logger)
}

func (w *Worker) runPipeline(ctx context.Context, job support.Job) (answer support.Answer, err error) {
	runCtx, cancel := context.WithTimeout(support.WithJobID(ctx, job.ID), w.cfg.PipelineTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("pipeline panic", zap.String("job_id", job.ID), zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("%w: panic: %v", support.ErrPipeline, rec)
		}
	}()
	answer, err = w.pipeline.Process(runCtx, job.Request)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	return answer, err
}

func (w *Worker) ack(ctx context.Context, jobID string, logger *zap.Logger) {
	if err := w.queue.Ack(ctx, jobID); err != nil {
		logger.Error("ack failed", zap.Error(err))
	}
}

// sanitize maps a pipeline error onto the fixed text stored on the job.
func sanitize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimedOut
	}
	var staged interface{ StageName() string }
	if errors.As(err, &staged) && staged.StageName() != "" {
		return fmt.Sprintf(msgStage, staged.StageName())
	}
	return msgUnexpected
}
