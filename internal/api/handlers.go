// Package api is the JSON control surface: flight registry, lifecycle
// commands, and read endpoints for status, telemetry, path, logs, and
// audit reports.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stratolab.dev/sondetrack/internal/audit"
	"stratolab.dev/sondetrack/internal/store"
	"stratolab.dev/sondetrack/internal/weather"
	"stratolab.dev/sondetrack/pkg/metrics"
)

const defaultLogLimit = 50

// Handlers carries the dependencies shared by all endpoints.
type Handlers struct {
	log     *slog.Logger
	store   *store.Store
	audit   *audit.Checker
	weather *weather.Client
	metrics *metrics.APIMetrics
	now     func() time.Time
}

// HandlersConfig holds the configuration for the Handlers.
type HandlersConfig struct {
	Logger  *slog.Logger
	Store   *store.Store
	Audit   *audit.Checker
	Metrics *metrics.APIMetrics

	// Weather is the optional reference conditions client; calibration
	// degrades to sonde-only snapshots when nil.
	Weather *weather.Client

	// Now is the injectable clock; defaults to time.Now.
	Now func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) (*Handlers, error) {
	if cfg == nil {
		return nil, errors.New("handlers config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Audit == nil {
		return nil, errors.New("audit checker cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Handlers{
		log:     cfg.Logger,
		store:   cfg.Store,
		audit:   cfg.Audit,
		weather: cfg.Weather,
		metrics: cfg.Metrics,
		now:     now,
	}, nil
}

// flightFromPath loads the flight named by the {flightID} URL parameter.
// A nil return means the response has already been written.
func (h *Handlers) flightFromPath(w http.ResponseWriter, r *http.Request) *store.Flight {
	id, err := strconv.ParseUint(chi.URLParam(r, "flightID"), 10, 32)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid flight id")
		return nil
	}
	flight, err := h.store.FlightByID(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "flight not found")
			return nil
		}
		h.log.Error("flight lookup failed", "flight_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "flight lookup failed")
		return nil
	}
	return flight
}

// ---- registry ----

type createFlightRequest struct {
	MissionNumber  string   `json:"mission_number"`
	DeviceSerial   string   `json:"device_serial"`
	Mask           string   `json:"mask"`
	Equipment      string   `json:"equipment"`
	Comments       string   `json:"comments"`
	StartLatitude  *float64 `json:"start_latitude"`
	StartLongitude *float64 `json:"start_longitude"`
	Elevation      *int     `json:"elevation"`
}

// CreateFlight registers a flight in pre-flight state, registering the
// device on first sight.
func (h *Handlers) CreateFlight(w http.ResponseWriter, r *http.Request) {
	var req createFlightRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MissionNumber == "" {
		respondWithError(w, http.StatusBadRequest, "mission_number is required")
		return
	}
	serial := strings.ToUpper(strings.TrimSpace(req.DeviceSerial))
	if serial == "" {
		respondWithError(w, http.StatusBadRequest, "device_serial is required")
		return
	}

	ctx := r.Context()
	device, err := h.store.DeviceBySerial(ctx, serial)
	if errors.Is(err, store.ErrNotFound) {
		device = &store.Device{SerialNumber: serial}
		if err := h.store.CreateDevice(ctx, device); err != nil {
			h.log.Error("device registration failed", "serial", serial, "error", err)
			respondWithError(w, http.StatusInternalServerError, "device registration failed")
			return
		}
	} else if err != nil {
		h.log.Error("device lookup failed", "serial", serial, "error", err)
		respondWithError(w, http.StatusInternalServerError, "device lookup failed")
		return
	}

	flight := &store.Flight{
		MissionNumber:  req.MissionNumber,
		Equipment:      req.Equipment,
		Comments:       req.Comments,
		Status:         store.FlightPreFlight,
		Mask:           strings.ToUpper(strings.TrimSpace(req.Mask)),
		StartLatitude:  req.StartLatitude,
		StartLongitude: req.StartLongitude,
		Elevation:      req.Elevation,
		DeviceID:       device.ID,
	}
	if err := h.store.CreateFlight(ctx, flight); err != nil {
		h.log.Error("flight creation failed", "mission", req.MissionNumber, "error", err)
		respondWithError(w, http.StatusInternalServerError, "flight creation failed")
		return
	}

	h.log.Info("flight created", "flight_id", flight.ID, "mission", flight.MissionNumber, "serial", serial)
	resp := toFlightResponse(flight, serial)
	respondWithSuccess(w, http.StatusCreated, &resp)
}

// GetFlight returns one flight record.
func (h *Handlers) GetFlight(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	resp := toFlightResponse(flight, h.deviceSerial(r.Context(), flight))
	respondWithSuccess(w, http.StatusOK, &resp)
}

func (h *Handlers) deviceSerial(ctx context.Context, flight *store.Flight) string {
	if flight.Device.SerialNumber != "" {
		return flight.Device.SerialNumber
	}
	var d store.Device
	if err := h.store.DB().WithContext(ctx).First(&d, flight.DeviceID).Error; err != nil {
		return ""
	}
	return d.SerialNumber
}

// ---- lifecycle ----

// StartFlight moves a pre-flight flight to in-flight without recording a
// release event; used when the balloon left the ground unobserved.
func (h *Handlers) StartFlight(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	if flight.Status != store.FlightPreFlight {
		h.countLifecycle("start", "rejected")
		respondWithError(w, http.StatusBadRequest, "flight must be in 'pre-flight' state to start")
		return
	}

	now := h.now().UTC()
	flight.Status = store.FlightInFlight
	flight.StartTime = &now
	if err := h.store.SaveFlight(r.Context(), flight); err != nil {
		h.countLifecycle("start", "error")
		h.log.Error("flight start failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "flight start failed")
		return
	}

	h.countLifecycle("start", "accepted")
	h.log.Info("flight started", "flight_id", flight.ID)
	resp := toFlightResponse(flight, h.deviceSerial(r.Context(), flight))
	respondWithSuccess(w, http.StatusOK, &resp)
}

// ReleaseFlight moves a pre-flight flight to in-flight and records the
// release moment on the status row, once.
func (h *Handlers) ReleaseFlight(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	if flight.Status != store.FlightPreFlight {
		h.countLifecycle("release", "rejected")
		respondWithError(w, http.StatusBadRequest, "flight must be in 'pre-flight' state to release")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	flight.Status = store.FlightInFlight
	flight.StartTime = &now
	if err := h.store.SaveFlight(ctx, flight); err != nil {
		h.countLifecycle("release", "error")
		h.log.Error("flight release failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "flight release failed")
		return
	}

	err := h.store.UpdateStatus(ctx, flight.ID, func(st *store.FlightStatus) error {
		if st.ReleaseAt == nil {
			st.ReleaseAt = &now
		}
		return nil
	})
	if err != nil {
		h.log.Error("release timestamp update failed", "flight_id", flight.ID, "error", err)
	}
	if err := h.store.AppendLog(ctx, flight.ID, store.LogInfo,
		"Balloon released at "+now.Format(time.RFC3339)+" by operator command"); err != nil {
		h.log.Error("release log append failed", "flight_id", flight.ID, "error", err)
	}

	h.countLifecycle("release", "accepted")
	h.log.Info("flight released", "flight_id", flight.ID)
	resp := toFlightResponse(flight, h.deviceSerial(ctx, flight))
	respondWithSuccess(w, http.StatusOK, &resp)
}

// EndFlight moves an in-flight flight to post-flight.
func (h *Handlers) EndFlight(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	if flight.Status != store.FlightInFlight {
		h.countLifecycle("end", "rejected")
		respondWithError(w, http.StatusBadRequest, "flight must be in 'in-flight' state to end")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	flight.Status = store.FlightPostFlight
	flight.EndTime = &now
	if err := h.store.SaveFlight(ctx, flight); err != nil {
		h.countLifecycle("end", "error")
		h.log.Error("flight end failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "flight end failed")
		return
	}

	// The analyzer stops cycling post-flight flights, so the end moment
	// goes onto the status row here.
	err := h.store.UpdateStatus(ctx, flight.ID, func(st *store.FlightStatus) error {
		if st.EndAt == nil {
			st.EndAt = &now
		}
		return nil
	})
	if err != nil {
		h.log.Error("end timestamp update failed", "flight_id", flight.ID, "error", err)
	}

	h.countLifecycle("end", "accepted")
	h.log.Info("flight ended", "flight_id", flight.ID)
	resp := toFlightResponse(flight, h.deviceSerial(ctx, flight))
	respondWithSuccess(w, http.StatusOK, &resp)
}

// CalibrateFlight snapshots the latest pre-flight telemetry as the
// ground reference, enriched with external conditions when available.
// One calibration per flight; a failed external lookup is not an error.
func (h *Handlers) CalibrateFlight(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	if flight.Status != store.FlightPreFlight {
		h.countLifecycle("calibrate", "rejected")
		respondWithError(w, http.StatusBadRequest, "flight must be in 'pre-flight' state to calibrate")
		return
	}

	ctx := r.Context()
	if _, err := h.store.GroundReferenceFor(ctx, flight.ID); err == nil {
		h.countLifecycle("calibrate", "rejected")
		respondWithError(w, http.StatusBadRequest, "ground reference already set")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.countLifecycle("calibrate", "error")
		h.log.Error("ground reference lookup failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "ground reference lookup failed")
		return
	}

	sample, err := h.store.LatestTelemetry(ctx, flight.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.countLifecycle("calibrate", "rejected")
		respondWithError(w, http.StatusBadRequest, "no telemetry available to calibrate")
		return
	}
	if err != nil {
		h.countLifecycle("calibrate", "error")
		h.log.Error("telemetry lookup failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "telemetry lookup failed")
		return
	}

	ref := &store.GroundReference{
		FlightID:    flight.ID,
		Timestamp:   h.now().UTC(),
		Latitude:    sample.Latitude,
		Longitude:   sample.Longitude,
		Altitude:    sample.Altitude,
		Temperature: sample.Temperature,
		Pressure:    sample.Pressure,
		Humidity:    sample.Humidity,
		DewPoint:    sample.DewPoint,
	}
	if sample.MeasuredAt != nil {
		ref.Timestamp = *sample.MeasuredAt
	}

	if h.weather != nil && flight.StartLatitude != nil && flight.StartLongitude != nil {
		cond, err := h.weather.CurrentConditions(ctx, *flight.StartLatitude, *flight.StartLongitude)
		if err != nil {
			h.log.Warn("reference conditions lookup failed, calibrating without",
				"flight_id", flight.ID, "error", err)
		} else {
			ref.RefTemperature = cond.Temperature
			ref.RefPressure = cond.Pressure
			ref.RefHumidity = cond.Humidity
			if cond.LocationName != "" {
				name := cond.LocationName
				ref.RefLocationName = &name
			}
		}
	}

	if err := h.store.CreateGroundReference(ctx, ref); err != nil {
		h.countLifecycle("calibrate", "error")
		h.log.Error("ground reference creation failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "ground reference creation failed")
		return
	}
	if err := h.store.AppendLog(ctx, flight.ID, store.LogInfo, "Ground reference calibrated"); err != nil {
		h.log.Error("calibration log append failed", "flight_id", flight.ID, "error", err)
	}

	h.countLifecycle("calibrate", "accepted")
	h.log.Info("ground reference calibrated", "flight_id", flight.ID)
	msg := "ground reference calibrated"
	respondWithSuccess(w, http.StatusOK, &msg)
}

// ---- reads ----

// GetStatus returns the live status snapshot for a flight.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	st, err := h.store.StatusFor(r.Context(), flight.ID)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "no status recorded for flight")
		return
	}
	if err != nil {
		h.log.Error("status lookup failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	resp := toStatusResponse(st)
	respondWithSuccess(w, http.StatusOK, &resp)
}

// GetTelemetry returns the latest decoded sample for a flight.
func (h *Handlers) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	sample, err := h.store.LatestTelemetry(r.Context(), flight.ID)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "no telemetry recorded for flight")
		return
	}
	if err != nil {
		h.log.Error("telemetry lookup failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "telemetry lookup failed")
		return
	}
	resp := toTelemetryResponse(sample)
	respondWithSuccess(w, http.StatusOK, &resp)
}

// GetGPS returns the positioned flight path in measurement order.
func (h *Handlers) GetGPS(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	rows, err := h.store.TelemetryHistory(r.Context(), flight.ID)
	if err != nil {
		h.log.Error("telemetry history failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "telemetry history failed")
		return
	}

	path := make([]gpsPoint, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if row.Latitude == nil || row.Longitude == nil {
			continue
		}
		path = append(path, gpsPoint{
			MeasuredAt: row.MeasuredAt,
			Latitude:   *row.Latitude,
			Longitude:  *row.Longitude,
			Altitude:   row.Altitude,
		})
	}
	respondWithSuccess(w, http.StatusOK, &path)
}

// GetLogs returns the most recent flight log entries, newest first.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := h.store.Logs(r.Context(), flight.ID, limit)
	if err != nil {
		h.log.Error("flight log read failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "flight log read failed")
		return
	}

	entries := make([]logEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, logEntry{
			Timestamp: row.Timestamp,
			Level:     row.Level,
			Message:   row.Message,
		})
	}
	respondWithSuccess(w, http.StatusOK, &entries)
}

// GetAudit runs the telemetry audit for a flight and returns the report.
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	flight := h.flightFromPath(w, r)
	if flight == nil {
		return
	}
	report, err := h.audit.Audit(r.Context(), flight.ID)
	if err != nil {
		h.log.Error("audit failed", "flight_id", flight.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	respondWithSuccess(w, http.StatusOK, report)
}

// Health reports process and database health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	ok := "ok"
	respondWithSuccess(w, http.StatusOK, &ok)
}

func (h *Handlers) countLifecycle(command, outcome string) {
	if h.metrics != nil {
		h.metrics.LifecycleCommands.WithLabelValues(command, outcome).Inc()
	}
}
