// Package metrics exposes Prometheus instrumentation for sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the sync collectors on a private registry. A nil *Recorder
// records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	handler     http.Handler
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastSuccess prometheus.Gauge
	actions     *prometheus.CounterVec
	fetched     *prometheus.GaugeVec
	malformed   *prometheus.CounterVec
}

// New registers the sync collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caldavsync_runs_total",
		Help: "Sync runs by result",
	}, []string{"result"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caldavsync_run_duration_seconds",
		Help:    "Duration of sync runs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caldavsync_last_success_timestamp_seconds",
		Help: "Unix time of the last successful sync run",
	})

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caldavsync_actions_total",
		Help: "Reconciliation actions by kind and outcome",
	}, []string{"kind", "outcome"})

	fetched := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caldavsync_fetched_events",
		Help: "Events normalized in the last run per system",
	}, []string{"system"})

	malformed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caldavsync_skipped_records_total",
		Help: "Records dropped during normalization per system",
	}, []string{"system"})

	registry.MustRegister(runs, runDuration, lastSuccess, actions, fetched, malformed)

	return &Recorder{
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		runs:        runs,
		runDuration: runDuration,
		lastSuccess: lastSuccess,
		actions:     actions,
		fetched:     fetched,
		malformed:   malformed,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// ObserveRun records the outcome of one run that ended at end.
func (r *Recorder) ObserveRun(duration time.Duration, end time.Time, err error) {
	if r == nil {
		return
	}
	r.runDuration.Observe(duration.Seconds())
	if err != nil {
		r.runs.WithLabelValues("error").Inc()
		return
	}
	r.runs.WithLabelValues("ok").Inc()
	r.lastSuccess.Set(float64(end.Unix()))
}

// RecordAction counts one action. outcome is "applied", "dry_run", "failed" or "skipped".
func (r *Recorder) RecordAction(kind, outcome string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(kind, outcome).Inc()
}

// SetFetched records how many events a system yielded and how many records it dropped.
func (r *Recorder) SetFetched(system string, events, dropped int) {
	if r == nil {
		return
	}
	r.fetched.WithLabelValues(system).Set(float64(events))
	if dropped > 0 {
		r.malformed.WithLabelValues(system).Add(float64(dropped))
	}
}
