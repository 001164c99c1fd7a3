package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the raw packet ingest
// consumer.
type IngestMetrics struct {
	PacketsReceived *prometheus.CounterVec
	InsertDuration  prometheus.Histogram
	PayloadBytes    prometheus.Histogram
}

// NewIngestMetrics creates and registers ingest metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := &IngestMetrics{
		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "packets_received_total",
				Help:      "Total raw packet envelopes received, by outcome",
			},
			[]string{"outcome"}, // outcome: stored, unmarshal_error, storage_error
		),
		InsertDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "insert_duration_seconds",
				Help:      "Duration of raw packet inserts",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PayloadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "payload_bytes",
				Help:      "Size of received packet payloads",
				Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
			},
		),
	}

	MustRegister(
		m.PacketsReceived,
		m.InsertDuration,
		m.PayloadBytes,
	)

	return m
}
