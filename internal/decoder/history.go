package decoder

import (
	"math"
	"time"

	"stratolab.dev/sondetrack/pkg/physics"
)

const (
	// historySize bounds the per-device rolling window of fixes.
	historySize = 4

	// Derived values with magnitude below the noise floor snap to 0.0 to
	// suppress GPS jitter. Rate is m/s, speed is knots.
	rateNoiseFloor  = 0.5
	speedNoiseFloor = 0.5
)

// fix is one positioned measurement in a device's rolling history.
type fix struct {
	at  time.Time
	alt float64
	lat float64
	lon float64
}

// history is the bounded FIFO of recent fixes for one device. Fixes are
// appended only when measurement time, altitude, and both coordinates
// are present.
type history struct {
	fixes []fix
}

func (h *history) push(at time.Time, alt, lat, lon float64) {
	h.fixes = append(h.fixes, fix{at: at, alt: alt, lat: lat, lon: lon})
	if len(h.fixes) > historySize {
		h.fixes = h.fixes[1:]
	}
}

// ascentRate averages the pairwise vertical rates over consecutive fixes
// with a positive time delta. It returns nil with fewer than two fixes or
// no usable pair.
func (h *history) ascentRate() *float64 {
	if len(h.fixes) < 2 {
		return nil
	}
	var sum float64
	var n int
	for i := 0; i < len(h.fixes)-1; i++ {
		dt := h.fixes[i+1].at.Sub(h.fixes[i].at).Seconds()
		if dt <= 0 {
			continue
		}
		sum += (h.fixes[i+1].alt - h.fixes[i].alt) / dt
		n++
	}
	if n == 0 {
		return nil
	}
	return snap(sum/float64(n), rateNoiseFloor)
}

// groundSpeed averages the pairwise great-circle speeds over consecutive
// fixes and converts to knots. Same minimum-history rule as ascentRate.
func (h *history) groundSpeed() *float64 {
	if len(h.fixes) < 2 {
		return nil
	}
	var sum float64
	var n int
	for i := 0; i < len(h.fixes)-1; i++ {
		dt := h.fixes[i+1].at.Sub(h.fixes[i].at).Seconds()
		if dt <= 0 {
			continue
		}
		dist := physics.HaversineMeters(
			h.fixes[i].lat, h.fixes[i].lon,
			h.fixes[i+1].lat, h.fixes[i+1].lon,
		)
		sum += dist / dt
		n++
	}
	if n == 0 {
		return nil
	}
	return snap(sum/float64(n)*physics.MetersPerSecondToKnots, speedNoiseFloor)
}

// snap rounds to one decimal and flattens sub-noise-floor magnitudes to
// exactly 0.0.
func snap(v, floor float64) *float64 {
	if math.Abs(v) < floor {
		zero := 0.0
		return &zero
	}
	rounded := math.Round(v*10) / 10
	return &rounded
}

// registry owns the per-device rolling histories. It is process-local and
// rebuilt from nothing after a restart; derived rates self-heal within
// historySize samples.
type registry struct {
	byDevice map[uint32]*history
}

func newRegistry() *registry {
	return &registry{byDevice: make(map[uint32]*history)}
}

func (r *registry) track(serial uint32) *history {
	h, ok := r.byDevice[serial]
	if !ok {
		h = &history{}
		r.byDevice[serial] = h
	}
	return h
}

func (r *registry) size() int { return len(r.byDevice) }
