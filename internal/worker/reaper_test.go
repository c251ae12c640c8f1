package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nmkr-support-router/internal/progress"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

func TestReaper_RequeuesThenFails(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ctx := context.Background()
	r := NewReaper(h.jobs, h.queue, h.announcer, h.clock, h.emitter, time.Second, 2, nil)

	item := h.seed(t, "job-1")
	_, err := h.jobs.ClaimJob(ctx, item.JobID, h.clock.Now().Add(time.Minute))
	require.NoError(t, err)

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.clock.Advance(2 * time.Minute)
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, h.queue.Len())

	requeued, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", requeued.JobID)
	job, err := h.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, support.JobStatusStarted, job.Status)

	_, err = h.jobs.ClaimJob(ctx, "job-1", h.clock.Now().Add(time.Minute))
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, h.queue.Len())

	job, err = h.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, support.JobStatusFailed, job.Status)
	require.Equal(t, "job lease expired after 2 attempts", job.Error)
	require.Equal(t, 2, job.Attempts)

	events := h.publisher.JobEvents()
	require.Len(t, events, 1)
	require.Equal(t, support.JobStatusFailed, events[0].Status)
	require.Len(t, h.transcripts.saved, 1)
	require.Equal(t, []progress.Stage{progress.StageLeaseExpired, progress.StageLeaseExpired}, h.emitter.stages())
}

func TestReaper_ClearsFinishedLease(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ctx := context.Background()
	r := NewReaper(h.jobs, h.queue, h.announcer, h.clock, nil, time.Second, 2, nil)

	h.seed(t, "job-2")
	_, err := h.jobs.ClaimJob(ctx, "job-2", h.clock.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, h.jobs.FinishJob(ctx, "job-2", support.Answer{Category: support.CategoryUser, Answer: "ok"}))

	h.clock.Advance(time.Minute)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, h.queue.Len())
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness()
	r := NewReaper(h.jobs, h.queue, nil, h.clock, nil, 5*time.Millisecond, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
