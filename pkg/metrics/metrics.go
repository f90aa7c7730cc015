// Package metrics exposes the worker's Prometheus instrumentation: request
// counters, per-stage duration histograms, and counters for the RPN/function
// warning paths, registered against github.com/prometheus/client_golang and
// served over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the worker records.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	CacheCallsTotal *prometheus.CounterVec
	RPNUnknownToken *prometheus.CounterVec
	UnknownFunction *prometheus.CounterVec
}

// New creates and registers a fresh Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compositeworker_requests_total",
			Help: "Completed composite requests, by composite id and outcome.",
		}, []string{"composite_id", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compositeworker_request_duration_seconds",
			Help:    "End-to-end request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"composite_id"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compositeworker_stage_duration_seconds",
			Help:    "Per-stage pipeline duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		CacheCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compositeworker_cache_calls_total",
			Help: "Cache client calls, by method and outcome.",
		}, []string{"method", "outcome"}),

		RPNUnknownToken: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compositeworker_rpn_unknown_token_total",
			Help: "RPN programs that referenced an unrecognised token.",
		}, []string{"token"}),

		UnknownFunction: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compositeworker_unknown_function_total",
			Help: "fctn elements that named an unregistered function.",
		}, []string{"fctn"}),
	}
}

// Handler returns the HTTP handler that serves this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
