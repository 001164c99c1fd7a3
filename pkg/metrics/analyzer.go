package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AnalyzerMetrics contains Prometheus metrics for the flight phase and
// alert state machine.
type AnalyzerMetrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	ActiveFlights   prometheus.Gauge
	PhaseChanges    *prometheus.CounterVec
	BurstsDetected  prometheus.Counter
	ReleaseDetected prometheus.Counter
	StorageFailures prometheus.Counter
}

// NewAnalyzerMetrics creates and registers analyzer metrics.
func NewAnalyzerMetrics(namespace string) *AnalyzerMetrics {
	m := &AnalyzerMetrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "cycles_total",
				Help:      "Total per-flight analysis cycles, by outcome",
			},
			[]string{"outcome"}, // outcome: updated, no_telemetry, error
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of one full pass over active flights",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActiveFlights: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "active_flights",
				Help:      "Flights currently receiving analysis cycles",
			},
		),
		PhaseChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "phase_changes_total",
				Help:      "Total flight phase transitions",
			},
			[]string{"from", "to"},
		),
		BurstsDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "bursts_detected_total",
				Help:      "Total burst events detected",
			},
		),
		ReleaseDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "releases_detected_total",
				Help:      "Total release events detected",
			},
		),
		StorageFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "storage_failures_total",
				Help:      "Total cycles abandoned on storage errors",
			},
		),
	}

	MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.ActiveFlights,
		m.PhaseChanges,
		m.BurstsDetected,
		m.ReleaseDetected,
		m.StorageFailures,
	)

	return m
}
