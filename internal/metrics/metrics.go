// Package metrics exposes Prometheus metrics for terminal sessions and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "enms"

// Input drop reasons.
const (
	DropRate = "rate"
	DropSize = "size"
	DropType = "type"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	SessionsCreated   prometheus.Counter
	TerminalsAttached prometheus.Gauge
	LiveShells        prometheus.Gauge
	Messages          *prometheus.CounterVec
	InputDropped      *prometheus.CounterVec
	Transcripts       prometheus.Counter
	TranscriptBytes   prometheus.Histogram
	CleanupRemoved    *prometheus.CounterVec
}

// New registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_sessions_created_total",
			Help:      "Terminal session tokens issued",
		}),
		TerminalsAttached: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminal_views_attached",
			Help:      "Terminal views currently connected to a shell",
		}),
		LiveShells: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminal_live_shells",
			Help:      "Device shells currently running",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_messages_total",
			Help:      "Channel messages relayed, by direction",
		}, []string{"direction"}),
		InputDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_input_dropped_total",
			Help:      "Input messages dropped, by reason",
		}, []string{"reason"}),
		Transcripts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_transcripts_received_total",
			Help:      "Transcripts received on the shutdown endpoint",
		}),
		TranscriptBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terminal_transcript_bytes",
			Help:      "Size of received transcripts",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),
		CleanupRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Items removed by the cleanup job, by kind",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
