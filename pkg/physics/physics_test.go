package physics_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratolab.dev/sondetrack/pkg/physics"
)

var _ = Describe("HaversineMeters", func() {
	It("returns zero for identical points", func() {
		Expect(physics.HaversineMeters(47.5, -122.0, 47.5, -122.0)).To(BeZero())
	})

	It("matches the known distance of one degree of latitude", func() {
		// One degree of latitude on a 6371 km sphere is ~111.19 km.
		d := physics.HaversineMeters(47.0, -122.0, 48.0, -122.0)
		Expect(d).To(BeNumerically("~", 111195, 50))
	})

	It("is symmetric", func() {
		there := physics.HaversineMeters(47.5618, -122.0266, 47.6205, -122.3493)
		back := physics.HaversineMeters(47.6205, -122.3493, 47.5618, -122.0266)
		Expect(there).To(BeNumerically("~", back, 1e-6))
	})
})

var _ = Describe("DewPoint", func() {
	It("sits below the air temperature for unsaturated air", func() {
		dp, ok := physics.DewPoint(20.0, 60.0)
		Expect(ok).To(BeTrue())
		// Magnus-Tetens at 20 C and 60% RH gives roughly 12 C.
		Expect(dp).To(BeNumerically("~", 12.0, 0.5))
		Expect(dp).To(BeNumerically("<", 20.0))
	})

	It("equals the air temperature at saturation", func() {
		dp, ok := physics.DewPoint(15.0, 100.0)
		Expect(ok).To(BeTrue())
		Expect(dp).To(BeNumerically("~", 15.0, 1e-9))
	})

	It("is undefined for non-positive humidity", func() {
		_, ok := physics.DewPoint(20.0, 0)
		Expect(ok).To(BeFalse())

		_, ok = physics.DewPoint(20.0, -5)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("GaugePosition", func() {
	It("reads 0% at the 1000 mb floor", func() {
		Expect(physics.GaugePosition(1000)).To(BeZero())
	})

	It("reads 100% at the 100 mb ceiling", func() {
		Expect(physics.GaugePosition(100)).To(Equal(100.0))
	})

	It("reads 50% at 550 mb", func() {
		Expect(physics.GaugePosition(550)).To(BeNumerically("~", 50.0, 1e-9))
	})

	It("clamps beyond both endpoints", func() {
		Expect(physics.GaugePosition(1030)).To(BeZero())
		Expect(physics.GaugePosition(40)).To(Equal(100.0))
	})
})

var _ = Describe("BarometricPressure", func() {
	It("returns the standard sea-level pressure at zero altitude", func() {
		Expect(physics.BarometricPressure(0)).To(BeNumerically("~", 1013.25, 1e-9))
	})

	It("halves roughly every 5.5 km", func() {
		Expect(physics.BarometricPressure(5500)).To(BeNumerically("~", 505, 5))
	})

	It("decreases monotonically with altitude", func() {
		prev := physics.BarometricPressure(0)
		for _, h := range []float64{1000, 5000, 10000, 20000, 30000} {
			p := physics.BarometricPressure(h)
			Expect(p).To(BeNumerically("<", prev))
			prev = p
		}
	})
})
