// Package metrics exposes Prometheus counters for the HTTP surface and the
// engine's recompute and finalize passes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/incentive-engine/compensation"
)

// Metrics owns its registry so that several instances can coexist in tests.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	recomputedTotal   *prometheus.CounterVec
	finalizeTotal     *prometheus.CounterVec
}

var _ compensation.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		recomputedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_records_recomputed_total",
			Help: "Records visited by recompute passes, by result.",
		}, []string{"result"}),
		finalizeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "incentive_finalize_total",
			Help: "Finalize attempts by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.recomputedTotal,
		m.finalizeTotal,
	)
	return m
}

// RecomputeCompleted implements compensation.Observer.
func (m *Metrics) RecomputeCompleted(updated, skipped int) {
	if m == nil {
		return
	}
	m.recomputedTotal.WithLabelValues("updated").Add(float64(updated))
	m.recomputedTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// FinalizeCompleted implements compensation.Observer.
func (m *Metrics) FinalizeCompleted(outcome compensation.FinalizeOutcome) {
	if m == nil {
		return
	}
	m.finalizeTotal.WithLabelValues(string(outcome)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so /api/camps/{campID}/summary is one series for every camp.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
