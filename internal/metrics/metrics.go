package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	catalogLoads        *prometheus.CounterVec
	catalogStale        prometheus.Counter
	maskApplications    *prometheus.CounterVec
	urlFlushes          prometheus.Counter
	sessions            prometheus.Gauge
}

// New creates a fresh Metrics registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "atlas",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	catalogLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "catalog_loads_total",
		Help:      "Catalog fetches by outcome",
	}, []string{"outcome"})

	catalogStale := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "catalog_stale_responses_total",
		Help:      "Catalog responses discarded because a newer request was issued",
	})

	maskApplications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "compare_mask_applications_total",
		Help:      "Compare mask application attempts by trigger and result",
	}, []string{"trigger", "applied"})

	urlFlushes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Name:      "url_flushes_total",
		Help:      "Debounced URL writes",
	})

	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "atlas",
		Name:      "sessions",
		Help:      "Open map sessions",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		catalogLoads,
		catalogStale,
		maskApplications,
		urlFlushes,
		sessions,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		catalogLoads:        catalogLoads,
		catalogStale:        catalogStale,
		maskApplications:    maskApplications,
		urlFlushes:          urlFlushes,
		sessions:            sessions,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncCatalogLoad counts a catalog fetch with outcome "ok" or "error".
func (m *Metrics) IncCatalogLoad(outcome string) {
	if m == nil {
		return
	}
	m.catalogLoads.WithLabelValues(outcome).Inc()
}

// IncCatalogStale counts a discarded catalog response.
func (m *Metrics) IncCatalogStale() {
	if m == nil {
		return
	}
	m.catalogStale.Inc()
}

// IncMaskApplication counts a compare mask attempt.
func (m *Metrics) IncMaskApplication(trigger string, applied bool) {
	if m == nil {
		return
	}
	m.maskApplications.WithLabelValues(trigger, strconv.FormatBool(applied)).Inc()
}

// IncURLFlush counts a debounced URL write.
func (m *Metrics) IncURLFlush() {
	if m == nil {
		return
	}
	m.urlFlushes.Inc()
}

// SetSessions sets the open session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records every request passing through next. Requests are
// labelled by the ServeMux pattern they matched so session ids do not
// become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
