package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/nmkr-support-router/internal/progress"
)

// PrometheusSink derives job lifecycle metrics from progress events.
type PrometheusSink struct {
	jobsStarted    prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	jobRuntime     *prometheus.HistogramVec
	stepDuration   *prometheus.HistogramVec
	researchPages  *prometheus.CounterVec
	researchBytes  *prometheus.CounterVec
	leasesReleased *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_progress_jobs_started_total",
			Help: "Total job attempts that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_progress_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_progress_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "support_progress_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "support_progress_step_duration_seconds",
			Help:    "Pipeline step duration partitioned by step and category.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"step", "category"}),
		researchPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_progress_research_pages_total",
			Help: "Pages researched per site.",
		}, []string{"site"}),
		researchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_progress_research_bytes_total",
			Help: "Research text gathered per site.",
		}, []string{"site"}),
		leasesReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_progress_lease_expired_total",
			Help: "Expired leases partitioned by outcome.",
		}, []string{"outcome"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.stepDuration,
		s.researchPages,
		s.researchBytes,
		s.leasesReleased,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.complete(evt, "success")
	case progress.StageJobError:
		s.complete(evt, "error")
	case progress.StageStepDone:
		category := evt.Category
		if category == "" {
			category = "unknown"
		}
		s.stepDuration.WithLabelValues(evt.Step, category).Observe(evt.Dur.Seconds())
	case progress.StageResearchDone:
		s.researchPages.WithLabelValues(evt.Site).Inc()
		if evt.Bytes > 0 {
			s.researchBytes.WithLabelValues(evt.Site).Add(float64(evt.Bytes))
		}
	case progress.StageLeaseExpired:
		outcome := evt.Note
		if outcome == "" {
			outcome = "unknown"
		}
		s.leasesReleased.WithLabelValues(outcome).Inc()
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) complete(evt progress.Event, label string) {
	s.jobsCompleted.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
