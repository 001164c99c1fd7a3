// Package decoder turns raw radio packets into validated, enriched
// telemetry samples: structural decode, flight authentication, and the
// derived-measurement engine (ascent rate, ground speed, dew point).
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/metrics"
	"stratolab.dev/sondetrack/pkg/physics"
	"stratolab.dev/sondetrack/pkg/wire"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100

	// Active-flight lookups are cached briefly; lifecycle changes must be
	// visible within this window.
	flightCacheTTL = 10 * time.Second
)

// Config holds the configuration for the Decoder.
type Config struct {
	Logger  *slog.Logger
	Store   *store.Store
	Metrics *metrics.DecoderMetrics

	// PollInterval is the bounded idle wait between batches.
	PollInterval time.Duration

	// BatchSize caps unconsumed packets fetched per batch.
	BatchSize int

	// Now is the injectable clock; defaults to time.Now.
	Now func() time.Time
}

// Decoder is the decode loop service. One instance owns the per-device
// rolling histories; run a single instance per deployment.
type Decoder struct {
	log       *slog.Logger
	store     *store.Store
	metrics   *metrics.DecoderMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
	histories *registry
	flights   *gocache.Cache
}

// New creates a new Decoder instance.
func New(cfg *Config) (*Decoder, error) {
	if cfg == nil {
		return nil, errors.New("decoder config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Decoder{
		log:       cfg.Logger,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		interval:  interval,
		batchSize: batchSize,
		now:       now,
		histories: newRegistry(),
		flights:   gocache.New(flightCacheTTL, 2*flightCacheTTL),
	}, nil
}

// Run polls for unconsumed packets until the context is canceled. A batch
// that fails on storage is abandoned; the next tick resumes from the
// unconsumed markers.
func (d *Decoder) Run(ctx context.Context) error {
	d.log.Info("decoder started", "poll_interval", d.interval, "batch_size", d.batchSize)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if n, err := d.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				d.log.Info("decoder stopped")
				return nil
			}
			d.log.Error("decode batch failed, will retry next cycle", "error", err)
			if d.metrics != nil {
				d.metrics.StorageFailures.Inc()
			}
		} else if n > 0 {
			d.log.Debug("decode batch complete", "packets", n)
		}

		select {
		case <-ctx.Done():
			d.log.Info("decoder stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch decodes one batch of unconsumed packets in receipt order
// and returns how many packets it settled. Packets that decode are
// consumed transactionally with their samples; packets whose every line
// fails structural decode stay unconsumed but are flagged malformed so
// the queue never refetches them. Re-processing an already consumed
// packet is a no-op guarded by the consumed marker.
func (d *Decoder) ProcessBatch(ctx context.Context) (int, error) {
	var timer *prometheus.Timer
	if d.metrics != nil {
		timer = prometheus.NewTimer(d.metrics.BatchDuration)
		defer timer.ObserveDuration()
	}

	packets, err := d.store.UnconsumedPackets(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unconsumed packets: %w", err)
	}

	settled := 0
	for i := range packets {
		p := &packets[i]
		samples, undecodable := d.decodePacket(ctx, p)

		if undecodable {
			if err := d.store.MarkPacketMalformed(ctx, p.ID); err != nil {
				return settled, fmt.Errorf("flag packet %d: %w", p.ID, err)
			}
			settled++
			if d.metrics != nil {
				d.metrics.PacketsProcessed.WithLabelValues("malformed").Inc()
			}
			continue
		}

		err := d.store.ConsumePacket(ctx, p.ID, samples)
		switch {
		case errors.Is(err, store.ErrAlreadyConsumed):
			if d.metrics != nil {
				d.metrics.PacketsReconsumed.Inc()
			}
			continue
		case err != nil:
			if d.metrics != nil {
				d.metrics.PacketsProcessed.WithLabelValues("error").Inc()
			}
			return settled, fmt.Errorf("consume packet %d: %w", p.ID, err)
		}

		settled++
		outcome := "consumed"
		if len(samples) == 0 {
			outcome = "empty"
		}
		if d.metrics != nil {
			d.metrics.PacketsProcessed.WithLabelValues(outcome).Inc()
			d.metrics.SamplesInserted.Add(float64(len(samples)))
			d.metrics.TrackedDevices.Set(float64(d.histories.size()))
		}
	}
	return settled, nil
}

// decodePacket decodes every line of a raw packet payload. Malformed and
// unauthenticated lines are discarded individually; one bad line never
// aborts the rest of the payload. undecodable reports that the payload
// had lines and none of them passed structural decode.
func (d *Decoder) decodePacket(ctx context.Context, p *store.RawPacket) (samples []store.Telemetry, undecodable bool) {
	lines, malformed := 0, 0
	for _, line := range strings.Split(strings.TrimSpace(p.Payload), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++

		pkt, err := wire.ParseLine(line)
		if err != nil {
			d.log.Debug("discarding malformed line", "packet_id", p.ID, "error", err)
			if d.metrics != nil {
				d.metrics.LinesMalformed.Inc()
			}
			malformed++
			continue
		}

		sample := d.buildSample(ctx, pkt, p)
		if sample != nil {
			samples = append(samples, *sample)
		}
	}
	return samples, lines > 0 && malformed == lines
}

// buildSample authenticates one structurally valid packet line against
// its active flight and enriches it into a telemetry sample. Returns nil
// when the line is discarded.
func (d *Decoder) buildSample(ctx context.Context, pkt *wire.Packet, p *store.RawPacket) *store.Telemetry {
	serialHex := wire.FormatSerial(pkt.Serial)
	flight, err := d.activeFlight(ctx, serialHex)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			d.log.Warn("no active flight for device", "serial", serialHex)
			if d.metrics != nil {
				d.metrics.AuthFailures.WithLabelValues("no_flight").Inc()
			}
			return nil
		}
		d.log.Error("active flight lookup failed", "serial", serialHex, "error", err)
		return nil
	}

	if expected := wire.Token(pkt.Serial, flight.Mask); pkt.Token != expected {
		d.log.Warn("token mismatch, discarding line",
			"serial", serialHex,
			"got", fmt.Sprintf("%06X", pkt.Token),
			"want", fmt.Sprintf("%06X", expected),
		)
		if d.metrics != nil {
			d.metrics.AuthFailures.WithLabelValues("token_mismatch").Inc()
		}
		return nil
	}

	sample := store.Telemetry{
		FlightID:       flight.ID,
		DeviceSerial:   serialHex,
		ReceivedAt:     p.ReceivedAt,
		ProcessedAt:    d.now().UTC().Truncate(time.Second),
		MeasuredAt:     pkt.MeasuredAt,
		Latitude:       pkt.Latitude,
		Longitude:      pkt.Longitude,
		Altitude:       pkt.Altitude,
		Pressure:       pkt.Pressure,
		Temperature:    pkt.Temperature,
		Humidity:       pkt.Humidity,
		HDOP:           pkt.HDOP,
		SignalStrength: p.RSSI,
	}
	if pkt.Satellites != nil {
		sats := int(*pkt.Satellites)
		sample.Satellites = &sats
	}
	if pkt.Temperature != nil && pkt.Humidity != nil {
		if dp, ok := physics.DewPoint(*pkt.Temperature, *pkt.Humidity); ok {
			sample.DewPoint = &dp
		}
	}

	// The rolling history only advances on fully positioned, timestamped
	// fixes; everything else still produces a sample, just without
	// derived rates.
	h := d.histories.track(pkt.Serial)
	if pkt.MeasuredAt != nil && pkt.Altitude != nil && pkt.Latitude != nil && pkt.Longitude != nil {
		h.push(*pkt.MeasuredAt, *pkt.Altitude, *pkt.Latitude, *pkt.Longitude)
	}
	sample.AscentRate = h.ascentRate()
	sample.GroundSpeed = h.groundSpeed()

	if d.metrics != nil {
		d.metrics.LinesDecoded.Inc()
	}
	return &sample
}

// activeFlight resolves the active flight for a device serial through a
// short-lived cache; lifecycle transitions become visible within
// flightCacheTTL.
func (d *Decoder) activeFlight(ctx context.Context, serialHex string) (*store.Flight, error) {
	if cached, ok := d.flights.Get(serialHex); ok {
		return cached.(*store.Flight), nil
	}
	flight, err := d.store.ActiveFlightBySerial(ctx, serialHex)
	if err != nil {
		return nil, err
	}
	d.flights.SetDefault(serialHex, flight)
	return flight, nil
}
