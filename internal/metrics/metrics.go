// Package metrics holds the Prometheus metrics of the risk engine.
// All recording helpers are nil-safe so components work without metrics wired.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the risk engine
type Registry struct {
	registry *prometheus.Registry

	BatchRuns         *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	SnapshotClaims    *prometheus.CounterVec
	ProviderRequests  *prometheus.CounterVec
	PositionsExcluded *prometheus.CounterVec
	CacheRequests     *prometheus.CounterVec
	StressClipped     prometheus.Counter
}

// NewRegistry creates a registry with its own collector set (safe to create repeatedly in tests)
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		BatchRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskboard_batch_portfolio_runs_total",
				Help: "Per-portfolio batch pipeline runs by outcome",
			},
			[]string{"status"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskboard_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
			},
			[]string{"stage", "result"},
		),

		SnapshotClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskboard_snapshot_claims_total",
				Help: "Snapshot claim attempts by result (claimed, conflict)",
			},
			[]string{"result"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskboard_provider_requests_total",
				Help: "Market-data provider requests by result",
			},
			[]string{"provider", "result"},
		),

		PositionsExcluded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskboard_positions_excluded_total",
				Help: "Positions excluded from factor aggregates by reason",
			},
			[]string{"calculator", "reason"},
		),

		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskboard_cache_requests_total",
				Help: "Cache lookups by table and result (hit, miss, stale)",
			},
			[]string{"table", "result"},
		),

		StressClipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskboard_stress_clipped_total",
				Help: "Stress results clipped to the loss ceiling",
			},
		),
	}

	r.registry.MustRegister(
		r.BatchRuns,
		r.StageDuration,
		r.SnapshotClaims,
		r.ProviderRequests,
		r.PositionsExcluded,
		r.CacheRequests,
		r.StressClipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveStage records a pipeline stage duration
func (r *Registry) ObserveStage(stage string, started time.Time, err error) {
	if r == nil {
		return
	}
	r.StageDuration.WithLabelValues(stage, result(err)).Observe(time.Since(started).Seconds())
}

// RecordBatchRun counts a finished per-portfolio pipeline
func (r *Registry) RecordBatchRun(status string) {
	if r == nil {
		return
	}
	r.BatchRuns.WithLabelValues(status).Inc()
}

// RecordSnapshotClaim counts a claim attempt
func (r *Registry) RecordSnapshotClaim(claimed bool) {
	if r == nil {
		return
	}
	if claimed {
		r.SnapshotClaims.WithLabelValues("claimed").Inc()
	} else {
		r.SnapshotClaims.WithLabelValues("conflict").Inc()
	}
}

// RecordProviderRequest counts a provider call
func (r *Registry) RecordProviderRequest(provider, outcome string) {
	if r == nil {
		return
	}
	r.ProviderRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordExcluded counts positions left out of a factor aggregate
func (r *Registry) RecordExcluded(calculator, reason string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.PositionsExcluded.WithLabelValues(calculator, reason).Add(float64(n))
}

// RecordCache counts a cache lookup
func (r *Registry) RecordCache(table, outcome string) {
	if r == nil {
		return
	}
	r.CacheRequests.WithLabelValues(table, outcome).Inc()
}

// RecordStressClipped counts a clipped stress result
func (r *Registry) RecordStressClipped() {
	if r == nil {
		return
	}
	r.StressClipped.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
