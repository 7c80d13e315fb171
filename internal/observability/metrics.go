package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the HTTP API.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitions          *prometheus.CounterVec
	journals             *prometheus.CounterVec
	allocationRejections *prometheus.CounterVec
}

// NewMetrics builds a private registry with the request and ledger collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_treasury_transitions_total",
		Help: "Workflow transitions applied to payments and transfers.",
	}, []string{"module", "action"})
	journals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_treasury_journals_total",
		Help: "Journals posted, split by whether a previous journal was replaced or retired.",
	}, []string{"source_type", "outcome"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_treasury_allocation_rejections_total",
		Help: "Allocation sets rejected by validation.",
	}, []string{"module"})
	registry.MustRegister(requests, duration, transitions, journals, rejections)
	return &Metrics{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:        requests,
		requestDuration:      duration,
		transitions:          transitions,
		journals:             journals,
		allocationRejections: rejections,
	}
}

// Handler serves the registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records the count and latency of every request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// RecordTransition counts a committed workflow transition.
func (m *Metrics) RecordTransition(module, action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(module, action).Inc()
}

// RecordJournal counts a journal posting. outcome is "posted", "replaced" or "retired".
func (m *Metrics) RecordJournal(sourceType, outcome string) {
	if m == nil {
		return
	}
	m.journals.WithLabelValues(sourceType, outcome).Inc()
}

// RecordAllocationRejected counts an allocation set refused by validation.
func (m *Metrics) RecordAllocationRejected(module string) {
	if m == nil {
		return
	}
	m.allocationRejections.WithLabelValues(module).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
