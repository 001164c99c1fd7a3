package audit_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratolab.dev/sondetrack/internal/audit"
	"stratolab.dev/sondetrack/internal/store"
)

var _ = Describe("Build", func() {
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	sample := func(id uint, offset time.Duration) store.Telemetry {
		at := t0.Add(offset)
		return store.Telemetry{ID: id, FlightID: 7, MeasuredAt: &at}
	}

	It("reports an empty history as an empty report", func() {
		report := audit.Build(7, nil)
		Expect(report.FlightID).To(Equal(uint(7)))
		Expect(report.Samples).To(BeZero())
		Expect(report.FirstSample).To(BeNil())
		Expect(report.LastSample).To(BeNil())
		Expect(report.Gaps).To(BeEmpty())
		Expect(report.Outliers).To(BeEmpty())
	})

	It("tracks the first and last measurement times", func() {
		report := audit.Build(7, []store.Telemetry{
			sample(1, 0),
			sample(2, 2*time.Second),
			sample(3, 4*time.Second),
		})
		Expect(report.Samples).To(Equal(3))
		Expect(report.FirstSample).To(HaveValue(Equal(t0)))
		Expect(report.LastSample).To(HaveValue(Equal(t0.Add(4 * time.Second))))
		Expect(report.Gaps).To(BeEmpty())
	})

	Describe("gaps", func() {
		It("flags deltas beyond the continuity threshold", func() {
			report := audit.Build(7, []store.Telemetry{
				sample(1, 0),
				sample(2, 8*time.Second),
			})
			Expect(report.Gaps).To(HaveLen(1))
			Expect(report.Gaps[0].Start).To(Equal(t0))
			Expect(report.Gaps[0].End).To(Equal(t0.Add(8 * time.Second)))
			Expect(report.Gaps[0].Duration).To(Equal(8.0))
			Expect(report.LongestGap).To(Equal(8.0))
			Expect(report.TotalGapTime).To(Equal(8.0))
		})

		It("accepts a delta exactly at the threshold", func() {
			report := audit.Build(7, []store.Telemetry{
				sample(1, 0),
				sample(2, 5*time.Second),
			})
			Expect(report.Gaps).To(BeEmpty())
		})

		It("accumulates total and longest gap across several dropouts", func() {
			report := audit.Build(7, []store.Telemetry{
				sample(1, 0),
				sample(2, 6*time.Second),
				sample(3, 8*time.Second),
				sample(4, 20*time.Second),
			})
			Expect(report.Gaps).To(HaveLen(2))
			Expect(report.LongestGap).To(Equal(12.0))
			Expect(report.TotalGapTime).To(Equal(18.0))
		})

		It("skips untimestamped samples for gap detection", func() {
			rows := []store.Telemetry{
				sample(1, 0),
				{ID: 2, FlightID: 7},
				sample(3, 4*time.Second),
			}
			report := audit.Build(7, rows)
			Expect(report.Samples).To(Equal(3))
			Expect(report.Gaps).To(BeEmpty())
		})
	})

	Describe("outliers", func() {
		fptr := func(v float64) *float64 { return &v }
		iptr := func(v int) *int { return &v }

		It("flags out-of-range humidity", func() {
			row := sample(1, 0)
			row.Humidity = fptr(104.2)
			report := audit.Build(7, []store.Telemetry{row})

			Expect(report.Outliers).To(HaveLen(1))
			o := report.Outliers[0]
			Expect(o.Field).To(Equal("humidity"))
			Expect(o.Value).To(Equal(104.2))
			Expect(o.Reason).To(Equal("out-of-range"))
			Expect(o.SampleID).To(Equal(uint(1)))
		})

		It("flags extreme temperatures in either direction", func() {
			cold := sample(1, 0)
			cold.Temperature = fptr(-101.0)
			hot := sample(2, 2*time.Second)
			hot.Temperature = fptr(130.0)

			report := audit.Build(7, []store.Telemetry{cold, hot})
			Expect(report.Outliers).To(HaveLen(2))
			Expect(report.Outliers[0].Reason).To(Equal("extreme value"))
			Expect(report.Outliers[1].Reason).To(Equal("extreme value"))
		})

		It("flags an implausibly weak signal", func() {
			row := sample(1, 0)
			row.SignalStrength = iptr(-135)
			report := audit.Build(7, []store.Telemetry{row})

			Expect(report.Outliers).To(HaveLen(1))
			Expect(report.Outliers[0].Field).To(Equal("signal_strength"))
			Expect(report.Outliers[0].Reason).To(Equal("very weak signal"))
		})

		It("accepts boundary readings", func() {
			row := sample(1, 0)
			row.Humidity = fptr(100.0)
			row.Temperature = fptr(-100.0)
			row.SignalStrength = iptr(-130)

			report := audit.Build(7, []store.Telemetry{row})
			Expect(report.Outliers).To(BeEmpty())
		})

		It("can flag several fields on one sample", func() {
			row := sample(1, 0)
			row.Humidity = fptr(-3.0)
			row.Temperature = fptr(140.0)

			report := audit.Build(7, []store.Telemetry{row})
			Expect(report.Outliers).To(HaveLen(2))
		})
	})
})
