package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scheduling"

// Metrics holds the scheduling service metrics
type Metrics struct {
	// Booking and cancellation outcomes, "committed" or a rejection reason
	Outcomes *prometheus.CounterVec

	// Availability planner latency
	AvailabilityLatency prometheus.Histogram

	// HTTP
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_outcomes_total",
			Help:      "Booking and cancellation outcomes by operation and result",
		}, []string{"operation", "outcome"}),
		AvailabilityLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "availability_duration_seconds",
			Help:      "Time spent computing availability",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) ObserveOutcome(operation, outcome string) {
	m.Outcomes.WithLabelValues(operation, outcome).Inc()
}

// RegisterPoolStats exposes pgxpool statistics as gauges read at scrape time
func RegisterPoolStats(reg prometheus.Registerer, pool *pgxpool.Pool) {
	factory := promauto.With(reg)
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(pool.Stat()) })
	}

	gauge("acquired_connections", "Connections currently in use",
		func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("idle_connections", "Idle connections",
		func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
	gauge("total_connections", "Open connections",
		func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("max_connections", "Pool size limit",
		func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) })
	gauge("empty_acquire_total", "Acquires that had to wait for a connection",
		func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) })
}
