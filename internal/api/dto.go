package api

import (
	"time"

	"stratolab.dev/sondetrack/internal/store"
)

// flightResponse is the public view of a flight record.
type flightResponse struct {
	ID             uint       `json:"id"`
	MissionNumber  string     `json:"mission_number"`
	DeviceSerial   string     `json:"device_serial"`
	Equipment      string     `json:"equipment,omitempty"`
	Comments       string     `json:"comments,omitempty"`
	Status         string     `json:"status"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	StartLatitude  *float64   `json:"start_latitude,omitempty"`
	StartLongitude *float64   `json:"start_longitude,omitempty"`
	Elevation      *int       `json:"elevation,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toFlightResponse(f *store.Flight, deviceSerial string) flightResponse {
	return flightResponse{
		ID:             f.ID,
		MissionNumber:  f.MissionNumber,
		DeviceSerial:   deviceSerial,
		Equipment:      f.Equipment,
		Comments:       f.Comments,
		Status:         f.Status,
		StartTime:      f.StartTime,
		EndTime:        f.EndTime,
		StartLatitude:  f.StartLatitude,
		StartLongitude: f.StartLongitude,
		Elevation:      f.Elevation,
		CreatedAt:      f.CreatedAt,
	}
}

// statusResponse is the live status snapshot the dashboard polls.
type statusResponse struct {
	Phase             string     `json:"phase"`
	CurrentAscentRate *float64   `json:"current_ascent_rate"`
	BurstDetected     bool       `json:"burst_detected"`
	BurstAltitude     *float64   `json:"burst_altitude,omitempty"`
	BurstPressure     *float64   `json:"burst_pressure,omitempty"`
	ReleaseAt         *time.Time `json:"release_ts,omitempty"`
	ReleaseAltitude   *float64   `json:"release_altitude,omitempty"`
	ReleasePressure   *float64   `json:"release_pressure,omitempty"`
	EndAt             *time.Time `json:"end_ts,omitempty"`

	MaxAltitude *float64 `json:"max_altitude"`
	MinPressure *float64 `json:"min_pressure"`

	BalloonPosition   *float64 `json:"balloon_position,omitempty"`
	ParachutePosition *float64 `json:"parachute_position,omitempty"`
	BurstPosition     *float64 `json:"burst_position,omitempty"`

	MeasurementAge   *int   `json:"measurement_age"`
	TransmissionAge  *int   `json:"transmission_age"`
	AgeState         string `json:"age_state"`
	SignalLevel      string `json:"signal_level"`
	SensorState      string `json:"sensor_state"`
	TemperatureState string `json:"temperature_state"`
	DataState        string `json:"data_state"`
	GPSFix           bool   `json:"gps_fix"`
	GPSQuality       string `json:"gps_quality,omitempty"`
	Calibrated       bool   `json:"calibrated"`

	ReceiverState string `json:"receiver_state"`
	ParserState   string `json:"parser_state"`

	UpdatedAt time.Time `json:"updated_at"`
}

func toStatusResponse(st *store.FlightStatus) statusResponse {
	return statusResponse{
		Phase:             st.Phase,
		CurrentAscentRate: st.CurrentAscentRate,
		BurstDetected:     st.BurstDetected,
		BurstAltitude:     st.BurstAltitude,
		BurstPressure:     st.BurstPressure,
		ReleaseAt:         st.ReleaseAt,
		ReleaseAltitude:   st.ReleaseAltitude,
		ReleasePressure:   st.ReleasePressure,
		EndAt:             st.EndAt,
		MaxAltitude:       st.MaxAltitude,
		MinPressure:       st.MinPressure,
		BalloonPosition:   st.BalloonPosition,
		ParachutePosition: st.ParachutePosition,
		BurstPosition:     st.BurstPosition,
		MeasurementAge:    st.MeasurementAge,
		TransmissionAge:   st.TransmissionAge,
		AgeState:          st.AgeState,
		SignalLevel:       st.SignalLevel,
		SensorState:       st.SensorState,
		TemperatureState:  st.TemperatureState,
		DataState:         st.DataState,
		GPSFix:            st.GPSFix,
		GPSQuality:        st.GPSQuality,
		Calibrated:        st.Calibrated,
		ReceiverState:     st.ReceiverState,
		ParserState:       st.ParserState,
		UpdatedAt:         st.UpdatedAt,
	}
}

// telemetryResponse is one decoded sample.
type telemetryResponse struct {
	ID             uint       `json:"id"`
	MeasuredAt     *time.Time `json:"measured_at"`
	ReceivedAt     time.Time  `json:"received_at"`
	DeviceSerial   string     `json:"device_serial"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	Altitude       *float64   `json:"altitude"`
	Pressure       *float64   `json:"pressure"`
	Temperature    *float64   `json:"temperature"`
	DewPoint       *float64   `json:"dew_point"`
	Humidity       *float64   `json:"humidity"`
	HDOP           *float64   `json:"hdop"`
	Satellites     *int       `json:"satellites"`
	SignalStrength *int       `json:"signal_strength"`
	GroundSpeed    *float64   `json:"ground_speed"`
	AscentRate     *float64   `json:"ascent_rate"`
}

func toTelemetryResponse(t *store.Telemetry) telemetryResponse {
	return telemetryResponse{
		ID:             t.ID,
		MeasuredAt:     t.MeasuredAt,
		ReceivedAt:     t.ReceivedAt,
		DeviceSerial:   t.DeviceSerial,
		Latitude:       t.Latitude,
		Longitude:      t.Longitude,
		Altitude:       t.Altitude,
		Pressure:       t.Pressure,
		Temperature:    t.Temperature,
		DewPoint:       t.DewPoint,
		Humidity:       t.Humidity,
		HDOP:           t.HDOP,
		Satellites:     t.Satellites,
		SignalStrength: t.SignalStrength,
		GroundSpeed:    t.GroundSpeed,
		AscentRate:     t.AscentRate,
	}
}

// gpsPoint is one positioned fix on the flight path; samples without a
// coordinate are skipped.
type gpsPoint struct {
	MeasuredAt *time.Time `json:"measured_at"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Altitude   *float64   `json:"altitude"`
}

// logEntry is one operator-facing flight log line.
type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
