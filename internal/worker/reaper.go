package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/clock/system"
	"github.com/JakeFAU/nmkr-support-router/internal/metrics"
	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// Reaper re-dispatches jobs whose lease expired and fails them once they run
// out of attempts.
type Reaper struct {
	jobs        support.JobStore
	queue       support.Queue
	announcer   *Announcer
	clock       support.Clock
	emitter     progress.Emitter
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewReaper constructs a Reaper.
func NewReaper(
	jobs support.JobStore,
	queue support.Queue,
	announcer *Announcer,
	clock support.Clock,
	emitter progress.Emitter,
	interval time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if clock == nil {
		clock = system.New()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Reaper{
		jobs:        jobs,
		queue:       queue,
		announcer:   announcer,
		clock:       clock,
		emitter:     emitter,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.With(zap.String("component", "reaper")),
	}
}

// Run sweeps on every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("lease sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep handles every expired lease once and reports how many it touched.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.jobs.ExpiredLeases(ctx, r.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}
	reason := fmt.Sprintf("job lease expired after %d attempts", r.maxAttempts)
	var errs []error
	for _, id := range ids {
		if err := r.expire(ctx, id, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return len(ids), errors.Join(errs...)
}

func (r *Reaper) expire(ctx context.Context, jobID, reason string) error {
	logger := r.logger.With(zap.String("job_id", jobID))
	outcome, err := r.jobs.ExpireLease(ctx, jobID, r.maxAttempts, reason)
	if err != nil && !errors.Is(err, support.ErrNotFound) {
		return fmt.Errorf("expire lease %s: %w", jobID, err)
	}
	if err := r.queue.Ack(ctx, jobID); err != nil {
		logger.Warn("ack expired job failed", zap.Error(err))
	}
	switch outcome {
	case support.LeaseRequeued:
		item := support.QueueItem{JobID: jobID, Submitted: r.clock.Now().Unix()}
		if err := r.queue.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("requeue %s: %w", jobID, err)
		}
		logger.Warn("job lease expired; re-dispatched")
	case support.LeaseFailed:
		logger.Error("job lease expired; out of attempts", zap.Int("max_attempts", r.maxAttempts))
		if job, err := r.jobs.GetJob(ctx, jobID); err == nil {
			r.announcer.Announce(ctx, job)
		}
		metrics.ObserveJob(string(support.JobStatusFailed))
	}
	metrics.ObserveLeaseExpiry(outcome.String())
	r.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    r.clock.Now(),
		Stage: progress.StageLeaseExpired,
		Note:  outcome.String(),
	})
	return nil
}
