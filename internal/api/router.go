package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"stratolab.dev/sondetrack/pkg/metrics"
)

// NewRouter wires every endpoint onto a chi router.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument(h.metrics))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/flights", h.CreateFlight)
		r.Route("/flights/{flightID}", func(r chi.Router) {
			r.Get("/", h.GetFlight)
			r.Get("/status", h.GetStatus)
			r.Get("/telemetry", h.GetTelemetry)
			r.Get("/gps", h.GetGPS)
			r.Get("/logs", h.GetLogs)
			r.Get("/audit", h.GetAudit)

			r.Post("/start", h.StartFlight)
			r.Post("/release", h.ReleaseFlight)
			r.Post("/end", h.EndFlight)
			r.Post("/calibrate", h.CalibrateFlight)
		})
	})

	return r
}

// instrument records request counts and latency per route pattern, so
// /flights/17/status and /flights/30/status share one series.
func instrument(m *metrics.APIMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}
