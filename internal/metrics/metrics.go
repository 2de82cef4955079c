// Package metrics collects Prometheus metrics for the worker: claim and
// outcome counters plus run latency, labeled by app.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/me/zkq/pkg/model"
)

// Collector owns the worker's metric set.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued *prometheus.CounterVec
	jobsClaimed  *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

// NewCollector creates and registers the metric set on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zkq_jobs_enqueued_total",
			Help: "Queue entries created, by app.",
		}, []string{"app"}),
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zkq_jobs_claimed_total",
			Help: "Queue entries claimed for execution, by app.",
		}, []string{"app"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zkq_job_outcomes_total",
			Help: "Finalized job outcomes, by app and outcome.",
		}, []string{"app", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkq_run_duration_seconds",
			Help:    "Wall-clock duration of job executions, by app.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"app"}),
	}
	c.registry.MustRegister(c.jobsEnqueued, c.jobsClaimed, c.outcomes, c.runDuration)
	return c
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// JobEnqueued counts one created queue entry.
func (c *Collector) JobEnqueued(app string) {
	c.jobsEnqueued.WithLabelValues(app).Inc()
}

// JobClaimed counts one claim.
func (c *Collector) JobClaimed(app string) {
	c.jobsClaimed.WithLabelValues(app).Inc()
}

// JobFinalized records the terminal outcome and run duration of one job.
func (c *Collector) JobFinalized(app string, outcome model.Outcome, d time.Duration) {
	c.outcomes.WithLabelValues(app, string(outcome)).Inc()
	c.runDuration.WithLabelValues(app).Observe(d.Seconds())
}

// JobSkipped records a skip, which has no run duration.
func (c *Collector) JobSkipped(app string) {
	c.outcomes.WithLabelValues(app, "skipped").Inc()
}
