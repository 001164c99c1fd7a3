// Package analyzer maintains the live per-flight status record: flight
// phase with hysteresis, burst/release edge detection, monotonic
// extremes, gauge positions, and the alert engine. One cycle consumes a
// flight's most recent telemetry sample.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/metrics"
)

const defaultCycleInterval = 3 * time.Second

// Config holds the configuration for the Analyzer.
type Config struct {
	Logger  *slog.Logger
	Store   *store.Store
	Metrics *metrics.AnalyzerMetrics

	// Interval between passes over the active flights.
	Interval time.Duration

	// Now is the injectable clock; defaults to time.Now.
	Now func() time.Time
}

// Analyzer runs the flight phase and alert state machine. It owns the
// per-flight trackers; cycles for different flights are independent, and
// each flight's status row has at most one in-flight writer at a time.
type Analyzer struct {
	log      *slog.Logger
	store    *store.Store
	metrics  *metrics.AnalyzerMetrics
	interval time.Duration
	now      func() time.Time
	trackers *trackerRegistry
}

// New creates a new Analyzer instance.
func New(cfg *Config) (*Analyzer, error) {
	if cfg == nil {
		return nil, errors.New("analyzer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCycleInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Analyzer{
		log:      cfg.Logger,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		interval: interval,
		now:      now,
		trackers: newTrackerRegistry(),
	}, nil
}

// Run executes passes until the context is canceled. Storage failures
// abandon the pass; the next tick resumes from persisted state.
func (a *Analyzer) Run(ctx context.Context) error {
	a.log.Info("analyzer started", "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := a.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				a.log.Info("analyzer stopped")
				return nil
			}
			a.log.Error("analysis pass failed, will retry next cycle", "error", err)
			if a.metrics != nil {
				a.metrics.StorageFailures.Inc()
			}
		}

		select {
		case <-ctx.Done():
			a.log.Info("analyzer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunPass runs one cycle for every active flight and prunes trackers of
// flights that left active status. A failing flight does not stop the
// others.
func (a *Analyzer) RunPass(ctx context.Context) error {
	var timer *prometheus.Timer
	if a.metrics != nil {
		timer = prometheus.NewTimer(a.metrics.CycleDuration)
		defer timer.ObserveDuration()
	}

	flights, err := a.store.ActiveFlights(ctx)
	if err != nil {
		return fmt.Errorf("list active flights: %w", err)
	}
	if a.metrics != nil {
		a.metrics.ActiveFlights.Set(float64(len(flights)))
	}

	receiverState, parserState := a.liveness(ctx)

	active := make(map[uint]bool, len(flights))
	var firstErr error
	for i := range flights {
		f := &flights[i]
		active[f.ID] = true
		if err := a.CycleFlight(ctx, f, receiverState, parserState); err != nil {
			a.log.Error("flight cycle failed", "flight_id", f.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	a.trackers.retain(active)
	return firstErr
}

// liveness reads the supervisor's singleton system status row. The
// analyzer republishes it verbatim onto every flight status.
func (a *Analyzer) liveness(ctx context.Context) (receiverState, parserState string) {
	sys, err := a.store.SystemStatusRow(ctx)
	if err != nil {
		a.log.Warn("system status read failed", "error", err)
		return store.ProcessUnknown, store.ProcessUnknown
	}
	if sys == nil {
		return store.ProcessUnknown, store.ProcessUnknown
	}
	return sys.ReceiverState, sys.ParserState
}

// CycleFlight runs one state machine cycle for one flight from its most
// recent telemetry sample.
func (a *Analyzer) CycleFlight(ctx context.Context, flight *store.Flight, receiverState, parserState string) error {
	tr := a.trackers.track(flight.ID)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	sample, err := a.store.LatestTelemetry(ctx, flight.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if a.metrics != nil {
			a.metrics.CyclesTotal.WithLabelValues("no_telemetry").Inc()
		}
		return nil
	}
	if err != nil {
		a.countCycle("error")
		return fmt.Errorf("latest telemetry: %w", err)
	}

	prevStatus, err := a.store.StatusFor(ctx, flight.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		a.countCycle("error")
		return fmt.Errorf("load status: %w", err)
	}
	tr.seedFrom(prevStatus)

	// Windows and the previous-rate sample only advance on a sample the
	// tracker has not seen; alerts are still recomputed on stale data so
	// ages keep growing.
	newSample := sample.ID != tr.lastSampleID
	var prevRate *float64
	if newSample {
		prevRate = tr.prevRate
		if sample.AscentRate != nil {
			tr.rates.push(*sample.AscentRate)
			tr.prevRate = sample.AscentRate
		}
		if sample.SignalStrength != nil {
			tr.signals.push(float64(*sample.SignalStrength))
		}
		if sample.Temperature != nil {
			tr.temps.push(*sample.Temperature)
		}
		tr.lastSampleID = sample.ID
	}

	burstRecorded := prevStatus != nil && prevStatus.BurstDetected
	releaseRecorded := prevStatus != nil && prevStatus.ReleaseAt != nil
	rate := sample.AscentRate

	burstEdge := newSample && !burstRecorded &&
		prevRate != nil && *prevRate >= 0 &&
		rate != nil && *rate < burstEdgeRate
	releaseEdge := newSample && !releaseRecorded &&
		prevRate != nil && *prevRate <= 0 &&
		rate != nil && *rate > releaseEdgeRate

	avgRate := tr.rates.average()
	var altDelta *float64
	if sample.Altitude != nil && tr.phaseEntryAlt != nil {
		d := *sample.Altitude - *tr.phaseEntryAlt
		altDelta = &d
	}

	prevPhase := tr.phase
	phase := nextPhase(tr.phase, avgRate, sample.Altitude, altDelta, burstEdge)
	if phase != prevPhase || tr.phaseEntryAlt == nil {
		tr.phase = phase
		tr.phaseEntryAlt = sample.Altitude
	}

	// No reference row just means uncalibrated; a failing read is worth a
	// log line but never fails the cycle.
	var calibratedAt *time.Time
	ref, err := a.store.GroundReferenceFor(ctx, flight.ID)
	switch {
	case err == nil:
		calibratedAt = &ref.Timestamp
	case !errors.Is(err, gorm.ErrRecordNotFound):
		a.log.Warn("ground reference read failed", "flight_id", flight.ID, "error", err)
	}

	now := a.now().UTC()
	alerts := computeAlerts(alertInput{
		Now:          now,
		MeasuredAt:   sample.MeasuredAt,
		ReceivedAt:   sample.ReceivedAt,
		Temperature:  sample.Temperature,
		Humidity:     sample.Humidity,
		Pressure:     sample.Pressure,
		Latitude:     sample.Latitude,
		Longitude:    sample.Longitude,
		HDOP:         sample.HDOP,
		Signals:      tr.signals.snapshot(),
		Temps:        tr.temps.snapshot(),
		CalibratedAt: calibratedAt,
	})

	var burstApplied, releaseApplied bool
	var releaseAt time.Time
	err = a.store.UpdateStatus(ctx, flight.ID, func(st *store.FlightStatus) error {
		st.Phase = phase
		st.CurrentAscentRate = sample.AscentRate

		// Burst is set-once; the flag never clears.
		if burstEdge && !st.BurstDetected {
			st.BurstDetected = true
			st.BurstAltitude = sample.Altitude
			st.BurstPressure = sample.Pressure
			burstApplied = true
		}

		// Release timestamp is set-once, never overwritten.
		if releaseEdge && st.ReleaseAt == nil {
			at := now
			if sample.MeasuredAt != nil {
				at = *sample.MeasuredAt
			}
			st.ReleaseAt = &at
			st.ReleaseAltitude = sample.Altitude
			st.ReleasePressure = sample.Pressure
			releaseApplied = true
			releaseAt = at
		}

		// Extremes move strictly monotonically; the first reading seeds them.
		if sample.Altitude != nil && (st.MaxAltitude == nil || *sample.Altitude > *st.MaxAltitude) {
			alt := *sample.Altitude
			st.MaxAltitude = &alt
		}
		if sample.Pressure != nil && (st.MinPressure == nil || *sample.Pressure < *st.MinPressure) {
			p := *sample.Pressure
			st.MinPressure = &p
		}

		st.BalloonPosition, st.ParachutePosition, st.BurstPosition =
			gaugePositions(phase, sample.Pressure, st.BurstPressure)

		st.MeasurementAge = alerts.MeasurementAge
		st.TransmissionAge = alerts.TransmissionAge
		st.AgeState = alerts.AgeState
		st.SignalLevel = alerts.SignalLevel
		st.SensorState = alerts.SensorState
		st.TemperatureState = alerts.TemperatureState
		st.DataState = alerts.DataState
		st.GPSFix = alerts.GPSFix
		st.GPSQuality = alerts.GPSQuality
		st.Calibrated = alerts.Calibrated

		st.ReceiverState = receiverState
		st.ParserState = parserState
		return nil
	})
	if err != nil {
		a.countCycle("error")
		return fmt.Errorf("update status: %w", err)
	}

	if phase != prevPhase {
		a.log.Info("flight phase changed", "flight_id", flight.ID, "from", prevPhase, "to", phase)
		if a.metrics != nil {
			a.metrics.PhaseChanges.WithLabelValues(prevPhase, phase).Inc()
		}
	}
	if burstApplied {
		a.recordEvent(ctx, flight.ID, store.LogWarning,
			fmt.Sprintf("Burst detected (ascent rate %.2f m/s) at altitude %s", *rate, formatAltitude(sample.Altitude)))
		if a.metrics != nil {
			a.metrics.BurstsDetected.Inc()
		}
	}
	if releaseApplied {
		a.recordEvent(ctx, flight.ID, store.LogInfo,
			fmt.Sprintf("Sonde released (ascent rate %.2f m/s) at %s", *rate, releaseAt.Format(time.RFC3339)))
		if a.metrics != nil {
			a.metrics.ReleaseDetected.Inc()
		}
	}

	a.countCycle("updated")
	return nil
}

func (a *Analyzer) countCycle(outcome string) {
	if a.metrics != nil {
		a.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	}
}

// recordEvent appends to the immutable flight log; a logging failure is
// reported but never fails the cycle that detected the event.
func (a *Analyzer) recordEvent(ctx context.Context, flightID uint, level, message string) {
	if err := a.store.AppendLog(ctx, flightID, level, message); err != nil {
		a.log.Error("flight log append failed", "flight_id", flightID, "error", err)
	}
}

func formatAltitude(alt *float64) string {
	if alt == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.0f m", *alt)
}
