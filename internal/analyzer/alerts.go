package analyzer

import (
	"time"

	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/physics"
)

// Alert thresholds.
const (
	staleMeasurementAge = 10 * time.Second

	signalRedDBm    = -100.0
	signalYellowDBm = -85.0

	sustainedLowTempC = -40.0

	calibrationMaxAge = 300 * time.Second

	pressureSaneMinMb = 300.0
	pressureSaneMaxMb = 1100.0

	hdopYellow = 3.0
	hdopRed    = 6.0
)

// alertInput carries everything the alert engine reads for one cycle.
// Windows are passed as plain slices so the engine stays a pure function.
type alertInput struct {
	Now          time.Time
	MeasuredAt   *time.Time
	ReceivedAt   time.Time
	Temperature  *float64
	Humidity     *float64
	Pressure     *float64
	Latitude     *float64
	Longitude    *float64
	HDOP         *float64
	Signals      []float64
	Temps        []float64
	CalibratedAt *time.Time
}

// alertState is the canonical tri-state alert set recomputed every cycle.
type alertState struct {
	MeasurementAge   *int
	TransmissionAge  *int
	AgeState         string
	SignalLevel      string
	SensorState      string
	TemperatureState string
	DataState        string
	GPSFix           bool
	GPSQuality       string
	Calibrated       bool
}

// computeAlerts evaluates every alert condition from the current sample
// and rolling windows. It is independent of flight phase.
func computeAlerts(in alertInput) alertState {
	out := alertState{
		AgeState:         store.HealthWarn,
		SignalLevel:      store.LevelGreen,
		SensorState:      store.HealthOK,
		TemperatureState: store.HealthOK,
		DataState:        store.HealthOK,
	}

	// Staleness. Ages floor to 0 below one second.
	if in.MeasuredAt != nil {
		age := ageSeconds(in.Now, *in.MeasuredAt)
		out.MeasurementAge = &age
		if time.Duration(age)*time.Second < staleMeasurementAge {
			out.AgeState = store.HealthOK
		}
	}
	txAge := ageSeconds(in.Now, in.ReceivedAt)
	out.TransmissionAge = &txAge

	// Signal level over the RSSI window, worst reading wins.
	for _, rssi := range in.Signals {
		if rssi < signalRedDBm {
			out.SignalLevel = store.LevelRed
			break
		}
		if rssi < signalYellowDBm {
			out.SignalLevel = store.LevelYellow
		}
	}

	// Sensor fault: any of the three atmospheric sensors silent.
	if in.Temperature == nil || in.Humidity == nil || in.Pressure == nil {
		out.SensorState = store.HealthFault
	}

	// Sustained low temperature: the whole window below the threshold.
	if len(in.Temps) == tempWindowSize {
		low := true
		for _, t := range in.Temps {
			if t >= sustainedLowTempC {
				low = false
				break
			}
		}
		if low {
			out.TemperatureState = store.HealthWarn
		}
	}

	// Data degradation: implausible pressure or a missing coordinate.
	if in.Pressure != nil && (*in.Pressure < pressureSaneMinMb || *in.Pressure > pressureSaneMaxMb) {
		out.DataState = store.HealthFault
	}
	if in.Latitude == nil || in.Longitude == nil {
		out.DataState = store.HealthFault
	}

	// GPS fix and quality; quality is only judged while fixed.
	out.GPSFix = in.Latitude != nil && in.Longitude != nil
	if out.GPSFix && in.HDOP != nil {
		switch {
		case *in.HDOP > hdopRed:
			out.GPSQuality = store.LevelRed
		case *in.HDOP > hdopYellow:
			out.GPSQuality = store.LevelYellow
		default:
			out.GPSQuality = store.LevelGreen
		}
	}

	// Calibration freshness.
	if in.CalibratedAt != nil && in.Now.Sub(*in.CalibratedAt) < calibrationMaxAge {
		out.Calibrated = true
	}

	return out
}

func ageSeconds(now, then time.Time) int {
	age := int(now.Sub(then).Seconds())
	if age < 0 {
		age = 0
	}
	return age
}

// gaugePositions maps the current phase onto the dashboard gauges:
// ascent shows the balloon on live pressure, burst shows where the
// balloon burst, descent shows the burst marker plus a live parachute.
func gaugePositions(phase string, currentPressure, burstPressure *float64) (balloon, parachute, burst *float64) {
	switch phase {
	case store.PhaseAscent:
		balloon = gaugeOf(currentPressure)
	case store.PhaseBurst:
		burst = gaugeOf(burstPressure)
	case store.PhaseDescent:
		burst = gaugeOf(burstPressure)
		parachute = gaugeOf(currentPressure)
	}
	return balloon, parachute, burst
}

func gaugeOf(pressure *float64) *float64 {
	if pressure == nil {
		return nil
	}
	pos := physics.GaugePosition(*pressure)
	return &pos
}
