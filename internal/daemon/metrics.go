package daemon

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ffqueue/internal/queue"
	"ffqueue/internal/workflow"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobs        *prometheus.GaugeVec
	revision    prometheus.Gauge
	activeSlots *prometheus.GaugeVec
	encodes     *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

// NewMetrics registers the queue collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ffqueue_jobs",
				Help: "Jobs in the queue by status",
			},
			[]string{"status"},
		),
		revision: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ffqueue_snapshot_revision",
			Help: "Current queue snapshot revision",
		}),
		activeSlots: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ffqueue_active_slots",
				Help: "Encode slots in use by resource class",
			},
			[]string{"class"},
		),
		encodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffqueue_encodes_finished_total",
				Help: "Encode runs that ended, by outcome",
			},
			[]string{"outcome"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ffqueue_http_requests_total",
				Help: "HTTP API requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(m.jobs, m.revision, m.activeSlots, m.encodes, m.requests)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, outcome := range []string{workflow.OutcomeCompleted, workflow.OutcomePaused, workflow.OutcomeFailed, workflow.OutcomeAborted} {
		m.encodes.WithLabelValues(outcome)
	}
	return m
}

// EncodeFinished counts one ended run.
func (m *Metrics) EncodeFinished(outcome string) {
	m.encodes.WithLabelValues(outcome).Inc()
}

// Update sets the gauges from a point-in-time view of the queue.
func (m *Metrics) Update(counts map[queue.Status]int, revision uint64, wf workflow.Status) {
	for _, status := range queue.AllStatuses {
		m.jobs.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	m.revision.Set(float64(revision))
	m.activeSlots.WithLabelValues("cpu").Set(float64(wf.ActiveCPU))
	m.activeSlots.WithLabelValues("hw").Set(float64(wf.ActiveHW))
}

// Handler serves the registry. refresh runs before every scrape.
func (m *Metrics) Handler(refresh func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh != nil {
			refresh()
		}
		inner.ServeHTTP(w, r)
	})
}

// Middleware counts API requests by their route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

var _ workflow.Observer = (*Metrics)(nil)
