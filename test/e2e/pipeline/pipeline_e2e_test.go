// Package pipeline exercises ingest-to-status flow against a real
// PostgreSQL instance: raw packet, decode, analysis, API reads.
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratolab.dev/sondetrack/internal/analyzer"
	"stratolab.dev/sondetrack/internal/api"
	"stratolab.dev/sondetrack/internal/audit"
	"stratolab.dev/sondetrack/internal/decoder"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/pkg/wire"
)

const (
	testSerial uint32 = 0x11951
	testMask          = "D876EE"
)

var _ = Describe("Telemetry pipeline", Ordered, func() {
	var (
		ctx      context.Context
		flight   *store.Flight
		dec      *decoder.Decoder
		an       *analyzer.Analyzer
		now      time.Time
		measured time.Time
	)

	// line builds an authenticated packet line for the test device.
	line := func(at time.Time, alt float64) string {
		return wire.FormatLine(testSerial, wire.Token(testSerial, testMask), at,
			12.5, 61.0, 1008.4, 47.5618, -122.0266, alt, 1.1, 8)
	}

	appendPacket := func(at time.Time, alt float64) {
		rssi := -58
		Expect(testStore.AppendRawPacket(ctx, &store.RawPacket{
			ReceivedAt: at,
			Payload:    line(at, alt),
			RSSI:       &rssi,
		})).To(Succeed())
	}

	BeforeAll(func() {
		ctx = context.Background()
		now = time.Now().UTC().Truncate(time.Second)
		measured = now.Add(-time.Minute)

		device := &store.Device{SerialNumber: wire.FormatSerial(testSerial)}
		Expect(testStore.CreateDevice(ctx, device)).To(Succeed())

		flight = &store.Flight{
			MissionNumber: "E2E-001",
			Status:        store.FlightPreFlight,
			Mask:          testMask,
			DeviceID:      device.ID,
		}
		Expect(testStore.CreateFlight(ctx, flight)).To(Succeed())

		var err error
		dec, err = decoder.New(&decoder.Config{
			Logger: testLogger,
			Store:  testStore,
			Now:    func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())

		an, err = analyzer.New(&analyzer.Config{
			Logger: testLogger,
			Store:  testStore,
			Now:    func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("decodes an authenticated packet into telemetry", func() {
		appendPacket(measured, 110)

		n, err := dec.ProcessBatch(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		sample, err := testStore.LatestTelemetry(ctx, flight.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sample.DeviceSerial).To(Equal("11951"))
		Expect(sample.Temperature).To(HaveValue(BeNumerically("~", 12.5, 0.01)))
		Expect(sample.DewPoint).NotTo(BeNil())
		// A single fix cannot support derived rates.
		Expect(sample.AscentRate).To(BeNil())
	})

	It("does not decode the same packet twice", func() {
		n, err := dec.ProcessBatch(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		var count int64
		Expect(testDB.Model(&store.Telemetry{}).Count(&count).Error).To(Succeed())
		Expect(count).To(Equal(int64(1)))
	})

	It("tracks a climb into the ascent phase", func() {
		alt := 110.0
		for i := 1; i <= 6; i++ {
			measured = measured.Add(2 * time.Second)
			alt += 10 // 5 m/s
			appendPacket(measured, alt)

			_, err := dec.ProcessBatch(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(an.RunPass(ctx)).To(Succeed())
		}

		st, err := testStore.StatusFor(ctx, flight.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Phase).To(Equal(store.PhaseAscent))
		Expect(st.CurrentAscentRate).To(HaveValue(BeNumerically("~", 5.0, 0.2)))
		Expect(st.MaxAltitude).To(HaveValue(BeNumerically("~", alt, 0.1)))
		Expect(st.BurstDetected).To(BeFalse())
	})

	It("detects a burst on a sharp rate reversal, once", func() {
		alt := 170.0
		for i := 0; i < 2; i++ {
			// The first descent sample arrives after a 10 s dropout.
			if i == 0 {
				measured = measured.Add(10 * time.Second)
			} else {
				measured = measured.Add(2 * time.Second)
			}
			alt -= 60
			appendPacket(measured, alt)

			_, err := dec.ProcessBatch(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(an.RunPass(ctx)).To(Succeed())
		}

		st, err := testStore.StatusFor(ctx, flight.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.BurstDetected).To(BeTrue())
		Expect(st.Phase).To(Equal(store.PhaseBurst))
		// Extremes survive the fall.
		Expect(st.MaxAltitude).To(HaveValue(BeNumerically("~", 170.0, 0.1)))

		logs, err := testStore.Logs(ctx, flight.ID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).NotTo(BeEmpty())
		Expect(logs[0].Message).To(ContainSubstring("Burst detected"))
	})

	It("serves the status snapshot over the API", func() {
		checker, err := audit.New(testStore)
		Expect(err).NotTo(HaveOccurred())
		handlers, err := api.NewHandlers(&api.HandlersConfig{
			Logger: testLogger,
			Store:  testStore,
			Audit:  checker,
		})
		Expect(err).NotTo(HaveOccurred())

		srv := httptest.NewServer(api.NewRouter(handlers))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/v1/flights/1/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body struct {
			Status string `json:"status"`
			Data   struct {
				Phase         string `json:"phase"`
				BurstDetected bool   `json:"burst_detected"`
			} `json:"data"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body.Status).To(Equal("success"))
		Expect(body.Data.Phase).To(Equal(store.PhaseBurst))
		Expect(body.Data.BurstDetected).To(BeTrue())
	})

	It("reports reception gaps in the audit", func() {
		checker, err := audit.New(testStore)
		Expect(err).NotTo(HaveOccurred())

		// Every sample is 2 s from its neighbor except the 10 s dropout
		// before the descent.
		report, err := checker.Audit(ctx, flight.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Samples).To(BeNumerically(">", 0))
		Expect(report.Gaps).To(HaveLen(1))
		Expect(report.LongestGap).To(BeNumerically("~", 10.0, 0.01))
		Expect(report.Outliers).To(BeEmpty())
	})
})
