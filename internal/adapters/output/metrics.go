package output

import (
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// PrometheusMetrics exports pipeline and geolocation counters on its own
// registry. It implements ports.ProcessingObserver and ports.GeoObserver.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	linesProcessed   *prometheus.CounterVec
	eventsByKind     *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	geoResolutions   *prometheus.CounterVec
	limiterWait      prometheus.Histogram
	cacheEntries     prometheus.Gauge
	cacheSaveErrors  prometheus.Counter
	linesPerSecond   prometheus.GaugeFunc
	memoryUsage      prometheus.GaugeFunc
	incidentRequests *prometheus.CounterVec

	server *http.Server
	mu     sync.Mutex
}

type MetricsConfig struct {
	Port string
	Path string
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Port: ":9090",
		Path: "/metrics",
	}
}

// NewPrometheusMetrics registers every collector under namespace. snapshot
// feeds the lines-per-second gauge and may be nil.
func NewPrometheusMetrics(namespace string, snapshot func() domain.MetricsSnapshot) *PrometheusMetrics {
	if namespace == "" {
		namespace = "authradar"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &PrometheusMetrics{registry: reg}

	m.linesProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_processed_total",
		Help:      "Live log lines read, by classification result",
	}, []string{"result"})

	m.eventsByKind = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Live SSH events published, by kind",
	}, []string{"kind"})

	m.eventsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Live events discarded because a subscriber fell behind",
	})

	m.geoResolutions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "geo",
		Name:      "resolutions_total",
		Help:      "Geolocation resolve calls, by outcome",
	}, []string{"outcome"})

	m.limiterWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "geo",
		Name:      "limiter_wait_seconds",
		Help:      "Time spent waiting for the lookup rate limiter",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 13),
	})

	m.cacheEntries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "geo",
		Name:      "cache_entries",
		Help:      "Entries in the geolocation cache",
	})

	m.cacheSaveErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "geo",
		Name:      "cache_save_errors_total",
		Help:      "Failed geolocation cache saves",
	})

	m.incidentRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "API requests, by endpoint and status class",
	}, []string{"endpoint", "status"})

	m.linesPerSecond = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lines_per_second",
		Help:      "Live lines read per second",
	}, func() float64 {
		if snapshot != nil {
			return snapshot().LinesPerSecond
		}
		return 0
	})

	m.memoryUsage = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	}, func() float64 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return float64(m.Alloc)
	})

	return m
}

func (m *PrometheusMetrics) IncrementLinesProcessedByResult(result string) {
	m.linesProcessed.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordEvent(kind domain.EventKind) {
	m.eventsByKind.WithLabelValues(string(kind)).Inc()
}

func (m *PrometheusMetrics) AddDropped(n int) {
	m.eventsDropped.Add(float64(n))
}

func (m *PrometheusMetrics) ObserveResolution(outcome domain.GeoOutcome) {
	m.geoResolutions.WithLabelValues(string(outcome)).Inc()
}

func (m *PrometheusMetrics) ObserveLimiterWait(seconds float64) {
	m.limiterWait.Observe(seconds)
}

func (m *PrometheusMetrics) ObserveCacheSize(entries int) {
	m.cacheEntries.Set(float64(entries))
}

func (m *PrometheusMetrics) IncrementCacheSaveErrors() {
	m.cacheSaveErrors.Inc()
}

// ObserveRequest counts one API response.
func (m *PrometheusMetrics) ObserveRequest(endpoint string, status int) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	}
	m.incidentRequests.WithLabelValues(endpoint, class).Inc()
}

// Registry exposes the private registry, mainly for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) StartServer(config MetricsConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              config.Port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", config.Port).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return m.server.Close()
	}
	return nil
}
