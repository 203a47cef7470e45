// Package metrics exports cycle counters for Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"auto_telegram_post_publisher/pipeline"
)

// Recorder implements pipeline.Observer.
type Recorder struct {
	cycles       *prometheus.CounterVec
	stepFailures *prometheus.CounterVec
	duration     prometheus.Histogram
	lastSuccess  prometheus.Gauge
}

var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_cycles_total",
			Help: "Publishing cycles by outcome.",
		}, []string{"outcome"}),
		stepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_step_failures_total",
			Help: "Failed steps, fatal or degraded.",
		}, []string{"step", "fatal"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "publisher_cycle_duration_seconds",
			Help:    "Wall time of a publishing cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_last_published_timestamp_seconds",
			Help: "Unix time of the last published post.",
		}),
	}
}

func (r *Recorder) CycleFinished(_ context.Context, res pipeline.Result) {
	r.cycles.WithLabelValues(string(res.Outcome)).Inc()
	if res.FailedStep != "" {
		r.stepFailures.WithLabelValues(string(res.FailedStep), "true").Inc()
	}
	for _, s := range res.Degraded {
		r.stepFailures.WithLabelValues(string(s), "false").Inc()
	}
	if !res.FinishedAt.IsZero() && !res.StartedAt.IsZero() {
		r.duration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
	if res.Published() {
		r.lastSuccess.Set(float64(res.Delivery.Date.Unix()))
	}
}
