// Package metrics exposes Prometheus collectors for training loop
// observability: epoch throughput, global step progress, validation and
// checkpoint activity, and deferred early stops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the loop's Prometheus instruments. A nil *Collector is
// valid and records nothing, so callers do not need to guard every call
// site.
type Collector struct {
	epochsCompleted   prometheus.Counter
	globalStep        prometheus.Gauge
	epochDuration     prometheus.Histogram
	earlyStopDeferred prometheus.Counter
	checkpointsSaved  prometheus.Counter
	validationRuns    prometheus.Counter
}

// NewCollector creates a collector registered on the default Prometheus
// registerer.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith creates a collector registered on the given registerer.
// Tests pass a fresh registry to avoid duplicate registration.
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	c := &Collector{
		epochsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitloop_epochs_completed_total",
			Help: "Number of completed training epochs.",
		}),
		globalStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitloop_global_step",
			Help: "Current global step (optimizer updates applied).",
		}),
		epochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitloop_epoch_duration_seconds",
			Help:    "Wall-clock duration of training epochs.",
			Buckets: prometheus.DefBuckets,
		}),
		earlyStopDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitloop_early_stop_deferred_total",
			Help: "Stop requests deferred because a minimum duration floor was not met.",
		}),
		checkpointsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitloop_checkpoints_saved_total",
			Help: "Number of checkpoints written.",
		}),
		validationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitloop_validation_runs_total",
			Help: "Number of epoch-level validation passes.",
		}),
	}

	reg.MustRegister(
		c.epochsCompleted,
		c.globalStep,
		c.epochDuration,
		c.earlyStopDeferred,
		c.checkpointsSaved,
		c.validationRuns,
	)

	return c
}

// RecordEpoch records a completed epoch and its duration.
func (c *Collector) RecordEpoch(d time.Duration) {
	if c == nil {
		return
	}
	c.epochsCompleted.Inc()
	c.epochDuration.Observe(d.Seconds())
}

// SetGlobalStep updates the global step gauge.
func (c *Collector) SetGlobalStep(step int) {
	if c == nil {
		return
	}
	c.globalStep.Set(float64(step))
}

// RecordEarlyStopDeferred counts a stop request deferred by a duration
// floor.
func (c *Collector) RecordEarlyStopDeferred() {
	if c == nil {
		return
	}
	c.earlyStopDeferred.Inc()
}

// RecordCheckpointSaved counts a written checkpoint.
func (c *Collector) RecordCheckpointSaved() {
	if c == nil {
		return
	}
	c.checkpointsSaved.Inc()
}

// RecordValidationRun counts an epoch-level validation pass.
func (c *Collector) RecordValidationRun() {
	if c == nil {
		return
	}
	c.validationRuns.Inc()
}

// Handler returns the HTTP handler serving the default registry in
// Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
