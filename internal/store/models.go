// Package store provides the persistent record set shared by the ingest,
// decode, and analyze loops: raw packets, decoded telemetry, per-flight
// live status, and the supporting flight/device registry.
package store

import (
	"time"
)

// Flight lifecycle statuses. A flight is "active" (authenticates packets,
// gets analyzer cycles) while pre-flight or in-flight.
const (
	FlightPreFlight  = "pre-flight"
	FlightInFlight   = "in-flight"
	FlightPostFlight = "post-flight"
)

// Flight phases maintained by the analyzer.
const (
	PhaseUnknown = "unknown"
	PhaseGround  = "ground"
	PhaseAscent  = "ascent"
	PhaseDescent = "descent"
	PhaseBurst   = "burst"
)

// Signal/GPS quality gradient levels.
const (
	LevelGreen  = "green"
	LevelYellow = "yellow"
	LevelRed    = "red"
)

// Tri-state health values for non-gradient alerts.
const (
	HealthOK    = "ok"
	HealthWarn  = "warn"
	HealthFault = "fault"
)

// Flight log severities.
const (
	LogInfo    = "INFO"
	LogWarning = "WARNING"
)

// Device is a registered sonde transmitter. SerialNumber is the uppercase
// hex form of the 24-bit serial the device puts on the wire.
type Device struct {
	SerialNumber string    `gorm:"uniqueIndex;not null"`
	Description  string    ``
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	ID           uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the Device model.
func (Device) TableName() string { return "devices" }

// Flight is one launch-to-landing campaign. The lifecycle API owns
// Status; the core only reads it to authenticate packets and to scope
// analyzer cycles.
type Flight struct {
	MissionNumber  string     `gorm:"uniqueIndex;not null"`
	Equipment      string     ``
	Comments       string     ``
	Status         string     `gorm:"index;not null;default:pre-flight"`
	Mask           string     `gorm:"not null;default:''"`
	StartTime      *time.Time ``
	EndTime        *time.Time ``
	StartLatitude  *float64   ``
	StartLongitude *float64   ``
	Elevation      *int       ``
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
	Device         Device     ``
	DeviceID       uint       `gorm:"index"`
	ID             uint       `gorm:"primaryKey"`
}

// TableName specifies the table name for the Flight model.
func (Flight) TableName() string { return "flights" }

// Active reports whether the flight authenticates packets and receives
// analyzer cycles.
func (f *Flight) Active() bool {
	return f.Status == FlightPreFlight || f.Status == FlightInFlight
}

// RawPacket is one received radio transmission, exactly as heard:
// receipt time, payload text (possibly several lines), and RSSI.
// Consumed flips to true once the decoder has turned it into telemetry.
// Malformed flags packets that failed structural decode on every line;
// they stay unconsumed for the audit trail but leave the decode queue.
type RawPacket struct {
	ReceivedAt time.Time `gorm:"index;not null"`
	Payload    string    `gorm:"not null"`
	RSSI       *int      ``
	Consumed   bool      `gorm:"index;not null;default:false"`
	Malformed  bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ID         uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the RawPacket model.
func (RawPacket) TableName() string { return "raw_packets" }

// Telemetry is one decoded, enriched measurement bound to a flight.
// Immutable once written. Sensor fields are nil where the device
// transmitted no reading; derived fields are nil where the rolling
// history could not support them.
type Telemetry struct {
	ReceivedAt     time.Time  `gorm:"not null"`
	ProcessedAt    time.Time  `gorm:"not null"`
	MeasuredAt     *time.Time `gorm:"index:idx_telemetry_flight_measured"`
	DeviceSerial   string     ``
	Latitude       *float64   ``
	Longitude      *float64   ``
	Altitude       *float64   ``
	Pressure       *float64   ``
	Temperature    *float64   ``
	DewPoint       *float64   ``
	Humidity       *float64   ``
	HDOP           *float64   ``
	Satellites     *int       ``
	SignalStrength *int       ``
	GroundSpeed    *float64   ``
	AscentRate     *float64   ``
	FlightID       uint       `gorm:"index:idx_telemetry_flight_measured;not null"`
	ID             uint       `gorm:"primaryKey"`
}

// TableName specifies the table name for the Telemetry model.
func (Telemetry) TableName() string { return "telemetry" }

// FlightStatus is the single live status row per flight, upserted by the
// analyzer every cycle. Burst fields and ReleaseAt are set-once; extremes
// are monotonic; everything else is recomputed each cycle.
type FlightStatus struct {
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	// Phase and events.
	Phase             string     `gorm:"not null;default:unknown"`
	CurrentAscentRate *float64   ``
	BurstDetected     bool       `gorm:"not null;default:false"`
	BurstAltitude     *float64   ``
	BurstPressure     *float64   ``
	ReleaseAt         *time.Time ``
	ReleaseAltitude   *float64   ``
	ReleasePressure   *float64   ``
	EndAt             *time.Time ``

	// Monotonic extremes.
	MaxAltitude *float64 ``
	MinPressure *float64 ``

	// Gauge positions, valid for the current phase only.
	BalloonPosition   *float64 ``
	ParachutePosition *float64 ``
	BurstPosition     *float64 ``

	// Alert flags, recomputed every cycle.
	MeasurementAge   *int   ``
	TransmissionAge  *int   ``
	AgeState         string `gorm:"not null;default:ok"`
	SignalLevel      string `gorm:"not null;default:green"`
	SensorState      string `gorm:"not null;default:ok"`
	TemperatureState string `gorm:"not null;default:ok"`
	DataState        string `gorm:"not null;default:ok"`
	GPSFix           bool   `gorm:"not null;default:false"`
	GPSQuality       string `gorm:"not null;default:''"`
	Calibrated       bool   `gorm:"not null;default:false"`

	// Upstream liveness, republished from the system status row.
	ReceiverState string `gorm:"not null;default:unknown"`
	ParserState   string `gorm:"not null;default:unknown"`

	FlightID uint `gorm:"uniqueIndex;not null"`
	ID       uint `gorm:"primaryKey"`
}

// TableName specifies the table name for the FlightStatus model.
func (FlightStatus) TableName() string { return "flight_status" }

// FlightLog is an immutable, append-only operator-facing event record.
type FlightLog struct {
	Timestamp time.Time `gorm:"index;not null"`
	Level     string    `gorm:"not null;default:INFO"`
	Message   string    `gorm:"not null"`
	FlightID  uint      `gorm:"index;not null"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the FlightLog model.
func (FlightLog) TableName() string { return "flight_logs" }

// GroundReference is the one-time pre-flight calibration snapshot:
// the sonde's own readings plus, when the external lookup succeeded,
// the reference source's readings for the launch site.
type GroundReference struct {
	Timestamp   time.Time `gorm:"not null"`
	Latitude    *float64  ``
	Longitude   *float64  ``
	Altitude    *float64  ``
	Temperature *float64  ``
	Pressure    *float64  ``
	Humidity    *float64  ``
	DewPoint    *float64  ``

	RefTemperature  *float64 ``
	RefPressure     *float64 ``
	RefHumidity     *float64 ``
	RefLocationName *string  ``

	FlightID uint `gorm:"uniqueIndex;not null"`
	ID       uint `gorm:"primaryKey"`
}

// TableName specifies the table name for the GroundReference model.
func (GroundReference) TableName() string { return "ground_reference" }

// Process liveness states recorded on the SystemStatus row.
const (
	ProcessRunning = "running"
	ProcessStopped = "stopped"
	ProcessUnknown = "unknown"
)

// systemStatusID pins the system status table to a single row.
const systemStatusID = 1

// SystemStatus is the singleton liveness row maintained by the process
// supervisor and republished onto every flight status by the analyzer.
type SystemStatus struct {
	ReceiverState string    `gorm:"not null;default:unknown"`
	ParserState   string    `gorm:"not null;default:unknown"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
	ID            uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the SystemStatus model.
func (SystemStatus) TableName() string { return "system_status" }
