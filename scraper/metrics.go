package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and reconciliation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	CacheHitsTotal  prometheus.Counter
	FilmsTotal      prometheus.Counter
	DeltaSize       prometheus.Gauge
	TableRows       prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of failed pages by error type.",
		},
		[]string{"error_type"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Pages served from the page cache.",
		},
	)
	films := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_films_scraped_total",
			Help: "Film detail pages extracted.",
		},
	)
	delta := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_delta_size",
			Help: "Listing entries missing from the snapshot in the last run.",
		},
	)
	rows := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_table_rows",
			Help: "Rows in the last reconciled table.",
		},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, cacheHits, films, delta, rows)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		CacheHitsTotal:  cacheHits,
		FilmsTotal:      films,
		DeltaSize:       delta,
		TableRows:       rows,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCacheHit counts a page served from cache.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// AddFilms counts extracted films.
func (m *Metrics) AddFilms(n int) {
	if m == nil {
		return
	}
	m.FilmsTotal.Add(float64(n))
}

// SetRun records the delta and final table size of a run.
func (m *Metrics) SetRun(delta, rows int) {
	if m == nil {
		return
	}
	m.DeltaSize.Set(float64(delta))
	m.TableRows.Set(float64(rows))
}
