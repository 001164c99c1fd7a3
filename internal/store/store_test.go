package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratolab.dev/sondetrack/internal/store"
)

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		st  *store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = store.New(newTestDB())
	})

	newFlight := func(serial, mask, status string) *store.Flight {
		device := &store.Device{SerialNumber: serial}
		Expect(st.CreateDevice(ctx, device)).To(Succeed())
		flight := &store.Flight{
			MissionNumber: "M-" + serial + "-" + status,
			Status:        status,
			Mask:          mask,
			DeviceID:      device.ID,
		}
		Expect(st.CreateFlight(ctx, flight)).To(Succeed())
		return flight
	}

	Describe("raw packets", func() {
		It("lists unconsumed packets in receipt order with a limit", func() {
			for i := 0; i < 3; i++ {
				Expect(st.AppendRawPacket(ctx, &store.RawPacket{
					ReceivedAt: time.Now().UTC(),
					Payload:    "line",
				})).To(Succeed())
			}

			packets, err := st.UnconsumedPackets(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets).To(HaveLen(2))
			Expect(packets[0].ID).To(BeNumerically("<", packets[1].ID))
		})

		It("consumes a packet exactly once", func() {
			flight := newFlight("B4F", "", store.FlightPreFlight)

			p := &store.RawPacket{ReceivedAt: time.Now().UTC(), Payload: "line"}
			Expect(st.AppendRawPacket(ctx, p)).To(Succeed())

			sample := store.Telemetry{
				FlightID:    flight.ID,
				ReceivedAt:  p.ReceivedAt,
				ProcessedAt: time.Now().UTC(),
			}
			Expect(st.ConsumePacket(ctx, p.ID, []store.Telemetry{sample})).To(Succeed())

			// Replaying the same packet must be a guarded no-op.
			err := st.ConsumePacket(ctx, p.ID, []store.Telemetry{sample})
			Expect(err).To(MatchError(store.ErrAlreadyConsumed))

			var count int64
			Expect(st.DB().Model(&store.Telemetry{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))

			packets, err := st.UnconsumedPackets(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets).To(BeEmpty())
		})

		It("excludes flagged malformed packets without consuming them", func() {
			p := &store.RawPacket{ReceivedAt: time.Now().UTC(), Payload: "garbage"}
			Expect(st.AppendRawPacket(ctx, p)).To(Succeed())

			Expect(st.MarkPacketMalformed(ctx, p.ID)).To(Succeed())

			packets, err := st.UnconsumedPackets(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets).To(BeEmpty())

			var reloaded store.RawPacket
			Expect(st.DB().First(&reloaded, p.ID).Error).To(Succeed())
			Expect(reloaded.Consumed).To(BeFalse())
			Expect(reloaded.Malformed).To(BeTrue())
		})

		It("consumes a packet that produced no samples", func() {
			p := &store.RawPacket{ReceivedAt: time.Now().UTC(), Payload: "garbage"}
			Expect(st.AppendRawPacket(ctx, p)).To(Succeed())

			Expect(st.ConsumePacket(ctx, p.ID, nil)).To(Succeed())

			packets, err := st.UnconsumedPackets(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(packets).To(BeEmpty())
		})
	})

	Describe("active flight resolution", func() {
		It("finds the active flight for a device serial", func() {
			flight := newFlight("11951", "D876EE", store.FlightPreFlight)

			found, err := st.ActiveFlightBySerial(ctx, "11951")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(flight.ID))
			Expect(found.Mask).To(Equal("D876EE"))
		})

		It("ignores post-flight flights", func() {
			newFlight("22AB2", "", store.FlightPostFlight)

			_, err := st.ActiveFlightBySerial(ctx, "22AB2")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("fails for an unregistered device", func() {
			_, err := st.ActiveFlightBySerial(ctx, "FFFFF")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("lists only active flights", func() {
			newFlight("00001", "", store.FlightPreFlight)
			newFlight("00002", "", store.FlightInFlight)
			newFlight("00003", "", store.FlightPostFlight)

			flights, err := st.ActiveFlights(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(flights).To(HaveLen(2))
		})
	})

	Describe("telemetry", func() {
		var flight *store.Flight

		BeforeEach(func() {
			flight = newFlight("11951", "", store.FlightInFlight)
		})

		addSample := func(measuredAt *time.Time) store.Telemetry {
			sample := store.Telemetry{
				FlightID:    flight.ID,
				ReceivedAt:  time.Now().UTC(),
				ProcessedAt: time.Now().UTC(),
				MeasuredAt:  measuredAt,
			}
			Expect(st.DB().Create(&sample).Error).To(Succeed())
			return sample
		}

		It("returns the newest sample by measurement time", func() {
			early := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
			late := early.Add(30 * time.Second)
			addSample(&late)
			addSample(&early)

			latest, err := st.LatestTelemetry(ctx, flight.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.MeasuredAt).To(HaveValue(Equal(late)))
		})

		It("breaks measurement-time ties by insert order", func() {
			at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
			addSample(&at)
			second := addSample(&at)

			latest, err := st.LatestTelemetry(ctx, flight.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.ID).To(Equal(second.ID))
		})

		It("prefers timestamped samples over untimestamped ones", func() {
			at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
			timestamped := addSample(&at)
			addSample(nil)

			latest, err := st.LatestTelemetry(ctx, flight.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.ID).To(Equal(timestamped.ID))
		})

		It("returns history in measurement order", func() {
			t1 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
			t2 := t1.Add(10 * time.Second)
			addSample(&t2)
			addSample(&t1)

			rows, err := st.TelemetryHistory(ctx, flight.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].MeasuredAt).To(HaveValue(Equal(t1)))
			Expect(rows[1].MeasuredAt).To(HaveValue(Equal(t2)))
		})
	})

	Describe("flight status", func() {
		var flight *store.Flight

		BeforeEach(func() {
			flight = newFlight("11951", "", store.FlightInFlight)
		})

		It("creates the row on first update and keeps it unique", func() {
			_, err := st.StatusFor(ctx, flight.ID)
			Expect(err).To(MatchError(store.ErrNotFound))

			Expect(st.UpdateStatus(ctx, flight.ID, func(s *store.FlightStatus) error {
				s.Phase = store.PhaseAscent
				return nil
			})).To(Succeed())
			Expect(st.UpdateStatus(ctx, flight.ID, func(s *store.FlightStatus) error {
				s.BurstDetected = true
				return nil
			})).To(Succeed())

			var count int64
			Expect(st.DB().Model(&store.FlightStatus{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))

			status, err := st.StatusFor(ctx, flight.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Phase).To(Equal(store.PhaseAscent))
			Expect(status.BurstDetected).To(BeTrue())
		})

		It("propagates a mutate error without saving", func() {
			Expect(st.UpdateStatus(ctx, flight.ID, func(s *store.FlightStatus) error {
				s.Phase = store.PhaseAscent
				return context.Canceled
			})).To(MatchError(context.Canceled))

			_, err := st.StatusFor(ctx, flight.ID)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("flight log", func() {
		It("returns entries newest first with a limit", func() {
			flight := newFlight("11951", "", store.FlightInFlight)

			Expect(st.AppendLog(ctx, flight.ID, store.LogInfo, "first")).To(Succeed())
			Expect(st.AppendLog(ctx, flight.ID, store.LogWarning, "second")).To(Succeed())
			Expect(st.AppendLog(ctx, flight.ID, store.LogInfo, "third")).To(Succeed())

			logs, err := st.Logs(ctx, flight.ID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(logs).To(HaveLen(2))
			Expect(logs[0].Message).To(Equal("third"))
			Expect(logs[1].Message).To(Equal("second"))
		})
	})

	Describe("system status", func() {
		It("returns nil before any supervisor has written", func() {
			row, err := st.SystemStatusRow(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(row).To(BeNil())
		})

		It("upserts the singleton row", func() {
			Expect(st.UpsertSystemStatus(ctx, store.ProcessRunning, store.ProcessStopped)).To(Succeed())
			Expect(st.UpsertSystemStatus(ctx, store.ProcessRunning, store.ProcessRunning)).To(Succeed())

			var count int64
			Expect(st.DB().Model(&store.SystemStatus{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))

			row, err := st.SystemStatusRow(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(row.ReceiverState).To(Equal(store.ProcessRunning))
			Expect(row.ParserState).To(Equal(store.ProcessRunning))
		})
	})

	Describe("ground reference", func() {
		It("stores one calibration snapshot per flight", func() {
			flight := newFlight("11951", "", store.FlightPreFlight)

			_, err := st.GroundReferenceFor(ctx, flight.ID)
			Expect(err).To(MatchError(store.ErrNotFound))

			temp := 18.5
			Expect(st.CreateGroundReference(ctx, &store.GroundReference{
				FlightID:    flight.ID,
				Timestamp:   time.Now().UTC(),
				Temperature: &temp,
			})).To(Succeed())

			ref, err := st.GroundReferenceFor(ctx, flight.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.Temperature).To(HaveValue(Equal(18.5)))
		})
	})
})
