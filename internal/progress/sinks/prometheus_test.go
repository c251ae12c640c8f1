package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/nmkr-support-router/internal/progress"
)

const jobID = "0190a5b8-3c4e-7def-8abc-1234567890ab"

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the job lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: jobID, TS: now, Stage: progress.StageJobStart, Attempt: 1},
		{JobID: jobID, TS: now, Stage: progress.StageStepDone, Step: "route", Category: "technical", Dur: time.Second},
		{JobID: jobID, TS: now, Stage: progress.StageResearchDone, Site: "docs.nmkr.io", Bytes: 1024},
		{JobID: jobID, TS: now, Stage: progress.StageJobDone, Dur: 15 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.researchPages.WithLabelValues("docs.nmkr.io")), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.researchBytes.WithLabelValues("docs.nmkr.io")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.stepDuration, "support_progress_step_duration_seconds"))
}

func TestPrometheusSinkLeaseExpiryStopsRunning(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, TS: now, Stage: progress.StageJobStart},
		{JobID: jobID, TS: now, Stage: progress.StageLeaseExpired, Note: "requeued"},
	}))
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.leasesReleased.WithLabelValues("requeued")), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: jobID, TS: time.Now(), Stage: progress.StageStepDone, Step: "answer", Category: "user"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, jobID, fields["job_id"])
	require.Equal(t, "answer", fields["step"])
	require.Equal(t, "user", fields["category"])
}
