// Package audit runs integrity checks over a flight's recorded
// telemetry: reception gaps and physically implausible readings.
package audit

import (
	"context"
	"fmt"
	"math"
	"time"

	"stratolab.dev/sondetrack/internal/store"
)

// Check thresholds.
const (
	// gapThreshold is the largest measurement-time delta between
	// consecutive samples that still counts as continuous reception.
	gapThreshold = 5 * time.Second

	humidityMinPct = 0.0
	humidityMaxPct = 100.0

	temperatureAbsMaxC = 100.0

	signalFloorDBm = -130
)

// Gap is one reception interruption between consecutive samples.
type Gap struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration float64   `json:"duration_seconds"`
}

// Outlier flags one implausible reading on one sample.
type Outlier struct {
	MeasuredAt *time.Time `json:"measured_at"`
	SampleID   uint       `json:"sample_id"`
	Field      string     `json:"field"`
	Value      float64    `json:"value"`
	Reason     string     `json:"reason"`
}

// Report is the result of one audit pass over a flight's telemetry.
type Report struct {
	FlightID     uint       `json:"flight_id"`
	Samples      int        `json:"samples"`
	FirstSample  *time.Time `json:"first_sample,omitempty"`
	LastSample   *time.Time `json:"last_sample,omitempty"`
	Gaps         []Gap      `json:"gaps"`
	Outliers     []Outlier  `json:"outliers"`
	LongestGap   float64    `json:"longest_gap_seconds"`
	TotalGapTime float64    `json:"total_gap_seconds"`
}

// Checker audits recorded telemetry. It only reads; a flight can be
// audited live or after landing with identical semantics.
type Checker struct {
	store *store.Store
}

// New creates a new Checker instance.
func New(st *store.Store) (*Checker, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	return &Checker{store: st}, nil
}

// Audit loads the flight's full telemetry history and reports gaps and
// outliers. An empty history yields an empty report, not an error.
func (c *Checker) Audit(ctx context.Context, flightID uint) (*Report, error) {
	rows, err := c.store.TelemetryHistory(ctx, flightID)
	if err != nil {
		return nil, fmt.Errorf("audit flight %d: %w", flightID, err)
	}
	return Build(flightID, rows), nil
}

// Build computes a report from samples already ordered by measurement
// time. Samples without a measurement time are audited for outliers but
// cannot participate in gap detection.
func Build(flightID uint, rows []store.Telemetry) *Report {
	report := &Report{
		FlightID: flightID,
		Samples:  len(rows),
		Gaps:     []Gap{},
		Outliers: []Outlier{},
	}

	var prev *time.Time
	for i := range rows {
		row := &rows[i]
		report.Outliers = append(report.Outliers, inspect(row)...)

		if row.MeasuredAt == nil {
			continue
		}
		at := *row.MeasuredAt
		if report.FirstSample == nil {
			first := at
			report.FirstSample = &first
		}
		last := at
		report.LastSample = &last

		if prev != nil {
			if delta := at.Sub(*prev); delta > gapThreshold {
				seconds := delta.Seconds()
				report.Gaps = append(report.Gaps, Gap{
					Start:    *prev,
					End:      at,
					Duration: seconds,
				})
				report.TotalGapTime += seconds
				if seconds > report.LongestGap {
					report.LongestGap = seconds
				}
			}
		}
		prev = row.MeasuredAt
	}

	return report
}

// inspect flags every implausible reading on one sample.
func inspect(row *store.Telemetry) []Outlier {
	var out []Outlier

	if row.Humidity != nil && (*row.Humidity < humidityMinPct || *row.Humidity > humidityMaxPct) {
		out = append(out, Outlier{
			MeasuredAt: row.MeasuredAt,
			SampleID:   row.ID,
			Field:      "humidity",
			Value:      *row.Humidity,
			Reason:     "out-of-range",
		})
	}
	if row.Temperature != nil && math.Abs(*row.Temperature) > temperatureAbsMaxC {
		out = append(out, Outlier{
			MeasuredAt: row.MeasuredAt,
			SampleID:   row.ID,
			Field:      "temperature",
			Value:      *row.Temperature,
			Reason:     "extreme value",
		})
	}
	if row.SignalStrength != nil && *row.SignalStrength < signalFloorDBm {
		out = append(out, Outlier{
			MeasuredAt: row.MeasuredAt,
			SampleID:   row.ID,
			Field:      "signal_strength",
			Value:      float64(*row.SignalStrength),
			Reason:     "very weak signal",
		})
	}
	return out
}
