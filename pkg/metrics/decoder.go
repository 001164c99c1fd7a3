package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DecoderMetrics contains Prometheus metrics for the packet decoder and
// derived-measurement loop.
type DecoderMetrics struct {
	PacketsProcessed  *prometheus.CounterVec
	LinesDecoded      prometheus.Counter
	LinesMalformed    prometheus.Counter
	AuthFailures      *prometheus.CounterVec
	SamplesInserted   prometheus.Counter
	BatchDuration     prometheus.Histogram
	TrackedDevices    prometheus.Gauge
	StorageFailures   prometheus.Counter
	PacketsReconsumed prometheus.Counter
}

// NewDecoderMetrics creates and registers decoder metrics.
func NewDecoderMetrics(namespace string) *DecoderMetrics {
	m := &DecoderMetrics{
		PacketsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "packets_processed_total",
				Help:      "Total raw packets processed, by outcome",
			},
			[]string{"outcome"}, // outcome: consumed, empty, malformed, error
		),
		LinesDecoded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "lines_decoded_total",
				Help:      "Total packet lines decoded into telemetry samples",
			},
		),
		LinesMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "lines_malformed_total",
				Help:      "Total packet lines discarded for structural problems",
			},
		),
		AuthFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "auth_failures_total",
				Help:      "Total packet lines discarded by authentication",
			},
			[]string{"reason"}, // reason: no_flight, token_mismatch
		),
		SamplesInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "samples_inserted_total",
				Help:      "Total telemetry samples written to the store",
			},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "batch_duration_seconds",
				Help:      "Duration of one decode batch",
				Buckets:   prometheus.DefBuckets,
			},
		),
		TrackedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "tracked_devices",
				Help:      "Devices with a live rolling measurement history",
			},
		),
		StorageFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "storage_failures_total",
				Help:      "Total batches abandoned on storage errors",
			},
		),
		PacketsReconsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "decoder",
				Name:      "packets_reconsumed_total",
				Help:      "Total packets skipped because they were already consumed",
			},
		),
	}

	MustRegister(
		m.PacketsProcessed,
		m.LinesDecoded,
		m.LinesMalformed,
		m.AuthFailures,
		m.SamplesInserted,
		m.BatchDuration,
		m.TrackedDevices,
		m.StorageFailures,
		m.PacketsReconsumed,
	)

	return m
}
