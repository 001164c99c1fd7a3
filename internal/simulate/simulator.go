// Package simulate generates a synthetic sonde flight and publishes the
// packets through the same queue a real receiver would, so the full
// pipeline can be exercised without radio hardware.
package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"stratolab.dev/sondetrack/internal/ingest"
	"stratolab.dev/sondetrack/pkg/mq"
	"stratolab.dev/sondetrack/pkg/physics"
	"stratolab.dev/sondetrack/pkg/wire"
)

// Flight stages driven by operator commands. Burst also triggers on its
// own when the ascent passes burstAltitude.
const (
	StageGround  = "ground"
	StageAscent  = "ascent"
	StageDescent = "descent"
)

// Flight profile defaults.
const (
	DefaultSerial uint32 = 0x11951
	DefaultMask          = "D876EE"

	defaultInterval     = 2 * time.Second
	defaultGroundElev   = 100.0
	defaultLatitude     = 47.5618
	defaultLongitude    = -122.0266
	ascentRateMps       = 5.0
	descentRateMps      = -7.0
	burstAltitudeMeters = 30000.0
	coordinateDrift     = 0.0001

	baseTemperatureC = 20.0
	baseHumidityPct  = 60.0
	lapseRatePerKm   = 6.5

	simulatedRSSI = -50
	pushTimeout   = 2 * time.Second
)

// Config holds the configuration for the Simulator.
type Config struct {
	Logger    *slog.Logger
	Publisher mq.ClientInterface

	// Serial and Mask form the transmitted auth token; they must match a
	// registered device and its flight's mask for packets to decode.
	Serial uint32
	Mask   string

	Interval       time.Duration
	GroundElev     float64
	StartLatitude  float64
	StartLongitude float64

	// Now is the injectable clock; defaults to time.Now.
	Now func() time.Time
}

// Simulator emits one authenticated packet line per tick, following the
// current stage. Stage changes are safe from another goroutine.
type Simulator struct {
	log       *slog.Logger
	publisher mq.ClientInterface
	serial    uint32
	token     uint32
	interval  time.Duration
	now       func() time.Time

	mu         sync.Mutex
	stage      string
	burstDone  bool
	altitude   float64
	latitude   float64
	longitude  float64
	groundElev float64
}

// New creates a new Simulator instance.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	serial := cfg.Serial
	if serial == 0 {
		serial = DefaultSerial
	}
	mask := cfg.Mask
	if mask == "" {
		mask = DefaultMask
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	groundElev := cfg.GroundElev
	if groundElev == 0 {
		groundElev = defaultGroundElev
	}
	lat := cfg.StartLatitude
	lon := cfg.StartLongitude
	if lat == 0 && lon == 0 {
		lat, lon = defaultLatitude, defaultLongitude
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Simulator{
		log:        cfg.Logger,
		publisher:  cfg.Publisher,
		serial:     serial,
		token:      wire.Token(serial, mask),
		interval:   interval,
		now:        now,
		stage:      StageGround,
		altitude:   groundElev,
		latitude:   lat,
		longitude:  lon,
		groundElev: groundElev,
	}, nil
}

// Serial returns the simulated device serial in wire form.
func (s *Simulator) Serial() string { return wire.FormatSerial(s.serial) }

// Token returns the auth token the simulator transmits.
func (s *Simulator) Token() uint32 { return s.token }

// Stage returns the current flight stage.
func (s *Simulator) Stage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// SetStage switches the flight stage. Unknown stages are rejected.
func (s *Simulator) SetStage(stage string) error {
	switch stage {
	case StageGround, StageAscent, StageDescent:
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = stage
	s.log.Info("simulator stage changed", "stage", stage)
	return nil
}

// Run publishes one packet per tick until the context is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Info("simulator started",
		"serial", s.Serial(),
		"token", fmt.Sprintf("%06X", s.token),
		"interval", s.interval,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				s.log.Info("simulator stopped")
				return nil
			}
			s.log.Error("packet publish failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("simulator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick advances the flight model one step and publishes the resulting
// packet line wrapped in a receiver envelope.
func (s *Simulator) Tick(ctx context.Context) error {
	now := s.now().UTC()
	line := s.step(now)

	rssi := simulatedRSSI
	env := ingest.Envelope{
		ReceivedAt: now,
		Payload:    line,
		RSSI:       &rssi,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := s.publisher.Push(pushCtx, body); err != nil {
		return fmt.Errorf("publish packet: %w", err)
	}
	return nil
}

// step advances altitude, position, and sensors for one interval.
func (s *Simulator) step(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := s.interval.Seconds()
	switch s.stage {
	case StageGround:
		s.altitude = s.groundElev + gofakeit.Float64Range(-1, 1)
	case StageAscent:
		s.altitude += ascentRateMps * dt
	case StageDescent:
		s.altitude = math.Max(s.groundElev, s.altitude+descentRateMps*dt)
	}

	// Auto-burst at the ceiling.
	if s.stage == StageAscent && !s.burstDone && s.altitude >= burstAltitudeMeters {
		s.burstDone = true
		s.stage = StageDescent
		s.log.Info("simulated burst", "altitude", s.altitude)
	}

	s.latitude += coordinateDrift + gofakeit.Float64Range(-coordinateDrift/2, coordinateDrift/2)
	s.longitude += coordinateDrift + gofakeit.Float64Range(-coordinateDrift/2, coordinateDrift/2)

	pressure := physics.BarometricPressure(s.altitude)
	temperature := baseTemperatureC - lapseRatePerKm*(s.altitude/1000.0) + gofakeit.Float64Range(-0.5, 0.5)
	humidity := math.Max(0, baseHumidityPct-0.01*s.altitude+gofakeit.Float64Range(-1, 1))
	hdop := gofakeit.Float64Range(0.8, 1.5)
	sats := gofakeit.Number(6, 9)

	return wire.FormatLine(s.serial, s.token, now,
		temperature, humidity, pressure,
		s.latitude, s.longitude, s.altitude,
		hdop, sats)
}
