package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several runners (and tests) can
// coexist in one process
type Metrics struct {
	registry *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	RateRemaining    prometheus.Gauge
	CountCacheHits   prometheus.Counter
	CountCacheMisses prometheus.Counter
	PageErrors       prometheus.Counter

	ImagesFiltered *prometheus.CounterVec
	ImagesUploaded *prometheus.CounterVec
	Downloads      *prometheus.CounterVec
	BatchDuration  prometheus.Histogram
	Runs           *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers every pexelsync collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pexelsync_provider_requests_total",
			Help: "Requests sent to the Pexels API.",
		}, []string{"endpoint", "status"}),
		RateRemaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "pexelsync_provider_rate_remaining",
			Help: "Last X-Ratelimit-Remaining value reported by Pexels.",
		}),
		CountCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "pexelsync_count_cache_hits_total",
			Help: "Result count lookups served from cache.",
		}),
		CountCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "pexelsync_count_cache_misses_total",
			Help: "Result count lookups that went to the API.",
		}),
		PageErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pexelsync_page_errors_total",
			Help: "Search pages skipped after a provider error.",
		}),
		ImagesFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pexelsync_images_filtered_total",
			Help: "Search results rejected by the filter.",
		}, []string{"reason"}),
		ImagesUploaded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pexelsync_images_uploaded_total",
			Help: "Images created in the destination.",
		}, []string{"method"}),
		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pexelsync_downloads_total",
			Help: "Image downloads by outcome.",
		}, []string{"result"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pexelsync_batch_duration_seconds",
			Help:    "Time spent downloading and uploading one batch.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pexelsync_runs_total",
			Help: "Finished runs by status.",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pexelsync_http_requests_total",
			Help: "Control API requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pexelsync_http_request_duration_seconds",
			Help:    "Control API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry exposes the underlying registry for gathering in tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteTextfile dumps the registry for the node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Middleware records request counts and latency. routePattern maps a
// request to a low-cardinality path label.
func (m *Metrics) Middleware(routePattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if routePattern != nil {
				if p := routePattern(r); p != "" {
					path = p
				}
			}
			m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the original writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes connection takeover through for websocket upgrades
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
