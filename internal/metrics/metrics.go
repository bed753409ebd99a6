// Package metrics counts reconcile outcomes and allocation attempts and
// writes them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yk_ddns"

// Allocation attempt results.
const (
	AttemptCollision = "collision"
	AttemptClaimed   = "claimed"
	AttemptFailed    = "failed"
)

// Recorder owns a private registry so that one run's numbers never mix with
// another's. A nil *Recorder ignores every call.
type Recorder struct {
	registry *prometheus.Registry

	outcomes       *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	lastRun        prometheus.Gauge
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Host reconcile outcomes by provider and action.",
		}, []string{"provider", "action"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Providers whose portion of a run was aborted.",
		}, []string{"provider"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_attempts_total",
			Help:      "Machine ID candidates tried by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent reconciling one host, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(r.outcomes, r.providerErrors, r.attempts, r.duration, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Outcome(provider, action string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(provider, action).Inc()
	r.duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (r *Recorder) ProviderError(provider string) {
	if r == nil {
		return
	}
	r.providerErrors.WithLabelValues(provider).Inc()
}

func (r *Recorder) Attempt(result string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(result).Inc()
}

// Finished stamps the last-run gauge.
func (r *Recorder) Finished(now time.Time) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(now.Unix()))
}

// WriteTextfile writes every collected metric to path for the node-exporter
// textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write textfile %s: %w", path, err)
	}
	return nil
}
