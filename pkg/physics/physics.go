// Package physics holds the small set of atmospheric and geodesic
// formulas shared by the measurement engine, the analyzer, and the
// flight simulator.
package physics

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle
	// distances.
	EarthRadiusMeters = 6371000.0

	// MetersPerSecondToKnots converts m/s to knots.
	MetersPerSecondToKnots = 1.94384

	// Magnus-Tetens parameters for dew point over water.
	magnusA = 17.27
	magnusB = 237.7 // °C

	// Gauge endpoints: 1000 mb reads 0%, 100 mb reads 100%.
	gaugeFloorMb   = 1000.0
	gaugeCeilingMb = 100.0
)

// HaversineMeters returns the great-circle distance between two
// coordinates in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DewPoint computes the Magnus-Tetens dew point in °C. It returns
// (0, false) when the inputs cannot produce a defined value, which covers
// non-positive humidity and a saturated gamma denominator.
func DewPoint(tempC, humidityPct float64) (float64, bool) {
	if humidityPct <= 0 {
		return 0, false
	}
	gamma := magnusA*tempC/(magnusB+tempC) + math.Log(humidityPct/100)
	if math.IsNaN(gamma) || math.IsInf(gamma, 0) || gamma >= magnusA {
		return 0, false
	}
	dp := magnusB * gamma / (magnusA - gamma)
	if math.IsNaN(dp) || math.IsInf(dp, 0) {
		return 0, false
	}
	return dp, true
}

// GaugePosition maps a pressure reading onto the 0-100% dashboard gauge,
// clamped to its endpoints. 1000 mb is 0%, 100 mb is 100%.
func GaugePosition(pressureMb float64) float64 {
	pct := (gaugeFloorMb - pressureMb) / (gaugeFloorMb - gaugeCeilingMb) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// BarometricPressure returns the standard-atmosphere pressure in mb at
// the given altitude. Used by the flight simulator to synthesize
// plausible descent profiles.
func BarometricPressure(altitudeMeters float64) float64 {
	return 1013.25 * math.Pow(1-2.25577e-5*altitudeMeters, 5.25588)
}
