package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/starmark/internal/progress"
)

// PrometheusSink turns progress events into batch-run and per-URL outcome
// collectors registered on the given registry.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	crawlOutcomes *prometheus.CounterVec
	crawlDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors; nil selects the default registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starmark_batch_runs_started_total",
			Help: "Batch runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starmark_batch_runs_completed_total",
			Help: "Batch runs ended, by result (completed, paused, error).",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starmark_batch_runs_running",
			Help: "Batch runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "starmark_batch_run_duration_seconds",
			Help:    "Wall time per batch run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		crawlOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "starmark_crawl_outcomes_total",
			Help: "Per-URL crawl stages reached, by stage and crawl type.",
		}, []string{"stage", "type"}),
		crawlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "starmark_crawl_duration_seconds",
			Help:    "Time from start to a terminal stage for one URL.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"stage"}),
		tracker: newRunTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runDuration,
		s.crawlOutcomes, s.crawlDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage.IsBatch() {
			s.observeRun(evt)
			continue
		}
		typ := evt.Type
		if typ == "" {
			typ = "unknown"
		}
		s.crawlOutcomes.WithLabelValues(string(evt.Stage), typ).Inc()
		if evt.Dur > 0 {
			s.crawlDuration.WithLabelValues(string(evt.Stage)).Observe(evt.Dur.Seconds())
		}
	}
	return nil
}

func (s *PrometheusSink) observeRun(evt progress.Event) {
	var result string
	switch evt.Stage {
	case progress.StageBatchStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageBatchDone:
		result = "completed"
	case progress.StageBatchPaused:
		result = "paused"
	default:
		result = "error"
	}
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.finish(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) finish(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
