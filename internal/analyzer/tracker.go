package analyzer

import (
	"math"
	"sync"

	"stratolab.dev/sondetrack/internal/store"
)

// Rolling window sizes. Windows are process-local; a restart loses them
// and smoothing self-heals within one window of samples.
const (
	rateWindowSize   = 5
	signalWindowSize = 5
	tempWindowSize   = 3
)

// Phase thresholds in m/s. The in/out pairs form the hysteresis band:
// entering ascent or descent requires the stronger "in" rate, while the
// "out" rates bound where re-arming becomes possible again, preventing
// chatter right at the boundary.
const (
	ascentInRate   = 0.6
	ascentOutRate  = 0.4
	descentInRate  = -0.6
	descentOutRate = -0.4

	// burstEdgeRate is the sharp negative rate that marks a burst when the
	// previous sample was still non-negative.
	burstEdgeRate = -3.0

	// releaseEdgeRate is the positive rate that marks payload release when
	// the previous sample was still non-positive.
	releaseEdgeRate = 0.5

	// groundMaxAltitude and groundRateBand identify "sitting on the
	// ground": low altitude with near-zero vertical movement.
	groundMaxAltitude = 300.0
	groundRateBand    = 0.3

	// ascentMinAltDelta is the climb since phase entry required before
	// ground/unknown commits to ascent.
	ascentMinAltDelta = 5.0
)

// window is a fixed-capacity FIFO of float64 readings.
type window struct {
	values []float64
	size   int
}

func newWindow(size int) *window {
	return &window{size: size}
}

func (w *window) push(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[1:]
	}
}

func (w *window) average() *float64 {
	if len(w.values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	avg := sum / float64(len(w.values))
	return &avg
}

func (w *window) snapshot() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// tracker is the process-local analysis state for one active flight:
// rolling windows, the last ascent-rate sample for edge detection, and
// the altitude at which the current phase was entered. Constructed on
// first sight of a flight and destroyed when it leaves active status.
type tracker struct {
	mu sync.Mutex

	phase         string
	phaseEntryAlt *float64
	prevRate      *float64
	lastSampleID  uint
	seeded        bool

	rates   *window
	signals *window
	temps   *window
}

func newTracker() *tracker {
	return &tracker{
		phase:   store.PhaseUnknown,
		rates:   newWindow(rateWindowSize),
		signals: newWindow(signalWindowSize),
		temps:   newWindow(tempWindowSize),
	}
}

// seedFrom adopts the persisted phase after a process restart so a flight
// already in burst stays in burst. Windows start empty by design.
func (t *tracker) seedFrom(st *store.FlightStatus) {
	if t.seeded {
		return
	}
	t.seeded = true
	if st != nil && st.Phase != "" {
		t.phase = st.Phase
	}
}

// nextPhase applies one transition step. Burst is terminal; every other
// transition needs the smoothed rate, and ascent entries additionally
// need real climb since phase entry.
func nextPhase(current string, avgRate, altitude, altDelta *float64, burstEdge bool) string {
	if current == store.PhaseBurst {
		return current
	}
	if burstEdge {
		return store.PhaseBurst
	}
	if avgRate == nil {
		return current
	}
	r := *avgRate

	switch current {
	case store.PhaseAscent:
		if r < descentInRate {
			return store.PhaseDescent
		}
	case store.PhaseDescent:
		if r > groundRateBand && altitude != nil && *altitude < groundMaxAltitude {
			return store.PhaseGround
		}
	case store.PhaseGround:
		if r > ascentInRate && altDelta != nil && *altDelta > ascentMinAltDelta {
			return store.PhaseAscent
		}
	default: // unknown
		switch {
		case r > ascentInRate && altDelta != nil && *altDelta > ascentMinAltDelta:
			return store.PhaseAscent
		case r < descentInRate:
			return store.PhaseDescent
		case altitude != nil && *altitude < groundMaxAltitude && math.Abs(r) < groundRateBand:
			return store.PhaseGround
		}
	}
	return current
}

// trackerRegistry owns one tracker per active flight, keyed by flight ID
// and passed into each cycle; there is no ambient global state.
type trackerRegistry struct {
	mu       sync.Mutex
	byFlight map[uint]*tracker
}

func newTrackerRegistry() *trackerRegistry {
	return &trackerRegistry{byFlight: make(map[uint]*tracker)}
}

func (r *trackerRegistry) track(flightID uint) *tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byFlight[flightID]
	if !ok {
		t = newTracker()
		r.byFlight[flightID] = t
	}
	return t
}

// retain drops trackers for flights no longer active.
func (r *trackerRegistry) retain(active map[uint]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byFlight {
		if !active[id] {
			delete(r.byFlight, id)
		}
	}
}
