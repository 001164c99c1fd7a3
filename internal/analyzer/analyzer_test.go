package analyzer_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratolab.dev/sondetrack/internal/analyzer"
	"stratolab.dev/sondetrack/internal/store"
)

var _ = Describe("Analyzer", func() {
	var (
		ctx    context.Context
		st     *store.Store
		an     *analyzer.Analyzer
		flight *store.Flight
		t0     time.Time
		wall   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.New(newTestDB())
		t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		wall = t0

		device := &store.Device{SerialNumber: "11951"}
		Expect(st.CreateDevice(ctx, device)).To(Succeed())
		flight = &store.Flight{
			MissionNumber: "M-001",
			Status:        store.FlightInFlight,
			DeviceID:      device.ID,
		}
		Expect(st.CreateFlight(ctx, flight)).To(Succeed())

		var err error
		an, err = analyzer.New(&analyzer.Config{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			Store:  st,
			Now:    func() time.Time { return wall },
		})
		Expect(err).NotTo(HaveOccurred())
	})

	// addSample inserts one decoded sample and advances the test clock to
	// just after its measurement time.
	addSample := func(offset time.Duration, rate *float64, altitude, pressure float64) {
		at := t0.Add(offset)
		wall = at.Add(time.Second)
		sample := store.Telemetry{
			FlightID:    flight.ID,
			ReceivedAt:  at,
			ProcessedAt: at,
			MeasuredAt:  &at,
			AscentRate:  rate,
			Altitude:    &altitude,
			Pressure:    &pressure,
		}
		Expect(st.DB().Create(&sample).Error).To(Succeed())
	}

	pass := func() {
		Expect(an.RunPass(ctx)).To(Succeed())
	}

	status := func() *store.FlightStatus {
		s, err := st.StatusFor(ctx, flight.ID)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	rate := func(v float64) *float64 { return &v }

	It("creates no status row for a flight without telemetry", func() {
		pass()
		_, err := st.StatusFor(ctx, flight.ID)
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	It("publishes the current ascent rate and seeds the extremes", func() {
		addSample(0, rate(5.0), 1200, 880)
		pass()

		s := status()
		Expect(s.CurrentAscentRate).To(HaveValue(Equal(5.0)))
		Expect(s.MaxAltitude).To(HaveValue(Equal(1200.0)))
		Expect(s.MinPressure).To(HaveValue(Equal(880.0)))
	})

	It("moves the extremes monotonically", func() {
		alts := []float64{100, 300, 250, 500, 400}
		press := []float64{1000, 960, 975, 940, 952}
		for i := range alts {
			addSample(time.Duration(i)*2*time.Second, rate(1.0), alts[i], press[i])
			pass()
		}

		s := status()
		Expect(s.MaxAltitude).To(HaveValue(Equal(500.0)))
		Expect(s.MinPressure).To(HaveValue(Equal(940.0)))
	})

	It("detects burst exactly once and pins the burst fields", func() {
		steps := []struct {
			rate float64
			alt  float64
			pres float64
		}{
			{1.0, 15000, 120},
			{0.5, 15010, 119},
			{-4.0, 14900, 121},
			{-5.0, 14800, 123},
		}
		for i, s := range steps {
			addSample(time.Duration(i)*2*time.Second, rate(s.rate), s.alt, s.pres)
			pass()
		}

		s := status()
		Expect(s.BurstDetected).To(BeTrue())
		Expect(s.Phase).To(Equal(store.PhaseBurst))
		Expect(s.BurstAltitude).To(HaveValue(Equal(14900.0)))
		Expect(s.BurstPressure).To(HaveValue(Equal(121.0)))
		Expect(s.BurstPosition).To(HaveValue(BeNumerically("~", (1000.0-121.0)/9.0, 1e-9)))

		logs, err := st.Logs(ctx, flight.ID, 50)
		Expect(err).NotTo(HaveOccurred())
		burstLogs := 0
		for _, entry := range logs {
			if entry.Level == store.LogWarning {
				burstLogs++
				Expect(entry.Message).To(ContainSubstring("Burst detected"))
			}
		}
		Expect(burstLogs).To(Equal(1))
	})

	It("does not fire burst on a re-cycle of the same sample", func() {
		addSample(0, rate(1.0), 15000, 120)
		pass()

		// Without a fresh sample the edge detector must stay quiet even
		// though the next insert is a sharp fall.
		pass()
		pass()

		addSample(2*time.Second, rate(-4.0), 14900, 121)
		pass()

		Expect(status().BurstDetected).To(BeTrue())

		// Re-cycling the burst sample changes nothing further.
		before := status().BurstAltitude
		pass()
		Expect(status().BurstAltitude).To(Equal(before))
	})

	It("records release once when the rate swings positive", func() {
		addSample(0, rate(-0.2), 100, 1009)
		pass()
		addSample(2*time.Second, rate(1.0), 105, 1008)
		pass()

		s := status()
		Expect(s.ReleaseAt).To(HaveValue(Equal(t0.Add(2 * time.Second))))
		Expect(s.ReleaseAltitude).To(HaveValue(Equal(105.0)))

		addSample(4*time.Second, rate(2.0), 115, 1007)
		pass()
		Expect(status().ReleaseAt).To(HaveValue(Equal(t0.Add(2 * time.Second))))
	})

	It("walks ground into ascent with hysteresis", func() {
		// Low and still long enough to settle on the ground.
		addSample(0, rate(0.0), 100, 1009)
		pass()
		Expect(status().Phase).To(Equal(store.PhaseGround))

		// A single strong climb reading is not enough until the altitude
		// delta confirms it.
		addSample(2*time.Second, rate(5.0), 102, 1008)
		pass()
		Expect(status().Phase).To(Equal(store.PhaseGround))

		addSample(4*time.Second, rate(5.0), 120, 1006)
		pass()
		Expect(status().Phase).To(Equal(store.PhaseAscent))
	})

	It("holds the signal grade until the weak reading scrolls out", func() {
		addSignal := func(i, dbm int) {
			at := t0.Add(time.Duration(i) * 2 * time.Second)
			wall = at.Add(time.Second)
			sample := store.Telemetry{
				FlightID:       flight.ID,
				ReceivedAt:     at,
				ProcessedAt:    at,
				MeasuredAt:     &at,
				SignalStrength: &dbm,
			}
			Expect(st.DB().Create(&sample).Error).To(Succeed())
			pass()
		}

		for i := 0; i < 5; i++ {
			addSignal(i, -90)
		}
		Expect(status().SignalLevel).To(Equal(store.LevelYellow))

		addSignal(5, -105)
		Expect(status().SignalLevel).To(Equal(store.LevelRed))

		// Red holds while -105 dBm is still inside the five-sample window.
		for i := 6; i < 10; i++ {
			addSignal(i, -70)
			Expect(status().SignalLevel).To(Equal(store.LevelRed))
		}

		addSignal(10, -70)
		Expect(status().SignalLevel).To(Equal(store.LevelGreen))
	})

	It("marks calibration from a fresh ground reference", func() {
		addSample(0, rate(0.0), 100, 1009)
		Expect(st.CreateGroundReference(ctx, &store.GroundReference{
			FlightID:  flight.ID,
			Timestamp: t0,
		})).To(Succeed())

		pass()
		Expect(status().Calibrated).To(BeTrue())
	})

	It("reports uncalibrated when the reference read fails", func() {
		addSample(0, rate(0.0), 100, 1009)
		Expect(st.DB().Migrator().DropTable(&store.GroundReference{})).To(Succeed())

		// The cycle still completes; the broken lookup only costs the flag.
		pass()
		Expect(status().Calibrated).To(BeFalse())
	})

	It("republishes the supervisor liveness onto the flight status", func() {
		addSample(0, rate(1.0), 500, 950)

		pass()
		s := status()
		Expect(s.ReceiverState).To(Equal(store.ProcessUnknown))
		Expect(s.ParserState).To(Equal(store.ProcessUnknown))

		Expect(st.UpsertSystemStatus(ctx, store.ProcessRunning, store.ProcessStopped)).To(Succeed())
		pass()
		s = status()
		Expect(s.ReceiverState).To(Equal(store.ProcessRunning))
		Expect(s.ParserState).To(Equal(store.ProcessStopped))
	})

})
