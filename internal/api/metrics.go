package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	renders           *prometheus.CounterVec
	renderFailures    *prometheus.CounterVec
	outputBytes       *prometheus.HistogramVec
	sourceBytes       prometheus.Histogram
	activeRenders     prometheus.Gauge
	renderDuration    *prometheus.HistogramVec
	slotWait          prometheus.Histogram
	pixelsRendered    prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sizeBuckets := prometheus.ExponentialBuckets(16<<10, 4, 8)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvasflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasflow_canvas_renders_total",
			Help: "Total canvases rendered.",
		}, []string{"format", "source"}),
		renderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvasflow_canvas_render_failures_total",
			Help: "Total canvas requests that failed, by stage and HTTP status.",
		}, []string{"stage", "status"}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvasflow_canvas_output_bytes",
			Help:    "Encoded canvas size in bytes.",
			Buckets: sizeBuckets,
		}, []string{"format"}),
		sourceBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "canvasflow_canvas_source_bytes",
			Help:    "Fetched source size in bytes.",
			Buckets: sizeBuckets,
		}),
		activeRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canvasflow_canvas_active_renders",
			Help: "Canvas requests currently fetching, waiting for a slot or rendering.",
		}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvasflow_canvas_render_duration_seconds",
			Help:    "End-to-end canvas pipeline duration by outcome.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		slotWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "canvasflow_canvas_render_slot_wait_seconds",
			Help:    "Time spent waiting for a render slot.",
			Buckets: prometheus.DefBuckets,
		}),
		pixelsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canvasflow_canvas_pixels_rendered_total",
			Help: "Total canvas pixels rendered across successful requests.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.renders,
		m.renderFailures,
		m.outputBytes,
		m.sourceBytes,
		m.activeRenders,
		m.renderDuration,
		m.slotWait,
		m.pixelsRendered,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		status := statusLabel(ww.Status())

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	if status == 0 {
		status = http.StatusOK
	}
	return strconv.Itoa(status)
}

// routeLabel is the matched chi pattern, which keeps label cardinality bounded.
// Call it after routing.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
