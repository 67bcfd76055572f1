package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitepdf/internal/progress"
)

// PrometheusSink exports progress stream metrics via Prometheus. It owns the
// collectors for events by type, jobs running/finished and artifact sizes.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	crawledPages prometheus.Counter
	artifactSize prometheus.Histogram

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepdf_progress_events_total",
			Help: "Progress events emitted, partitioned by event type.",
		}, []string{"type"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitepdf_progress_jobs_finished_total",
			Help: "Jobs whose progress stream reached a terminal event, by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitepdf_progress_jobs_streaming",
			Help: "Jobs that emitted progress and have not reached a terminal event.",
		}),
		crawledPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitepdf_progress_crawled_pages_total",
			Help: "Crawl progress updates that carried a page URL.",
		}),
		artifactSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitepdf_progress_artifact_bytes",
			Help:    "Size of artifacts announced by complete events.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.jobsFinished,
		s.jobsRunning,
		s.crawledPages,
		s.artifactSize,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.events.WithLabelValues(string(evt.Type)).Inc()
	if !evt.Terminal() {
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
		if update, ok := evt.Data.(progress.Update); ok && evt.Type == progress.TypeProgress && update.URL != "" {
			s.crawledPages.Inc()
		}
		return
	}
	switch data := evt.Data.(type) {
	case progress.Summary:
		s.jobsFinished.WithLabelValues("success").Inc()
		if data.FileSize > 0 {
			s.artifactSize.Observe(float64(data.FileSize))
		}
	case progress.Failure:
		s.jobsFinished.WithLabelValues("error").Inc()
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Consumer interface; it performs no action.
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
	if id == "" {
		return false
	}
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
