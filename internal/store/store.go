package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrAlreadyConsumed is returned when a raw packet was already decoded;
	// re-processing it is a no-op by contract.
	ErrAlreadyConsumed = errors.New("store: raw packet already consumed")
)

// Store is the query surface over the shared record set. All loops and
// the API layer go through it; it owns no in-memory state.
type Store struct {
	db *gorm.DB
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// ---- raw packets ----

// AppendRawPacket appends one received transmission to the raw packet log.
func (s *Store) AppendRawPacket(ctx context.Context, p *RawPacket) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("append raw packet: %w", err)
	}
	return nil
}

// UnconsumedPackets returns up to limit decodable unconsumed packets in
// receipt order. Packets flagged malformed are excluded; they remain
// unconsumed but would never decode.
func (s *Store) UnconsumedPackets(ctx context.Context, limit int) ([]RawPacket, error) {
	var packets []RawPacket
	err := s.db.WithContext(ctx).
		Where("consumed = ? AND malformed = ?", false, false).
		Order("id ASC").
		Limit(limit).
		Find(&packets).Error
	if err != nil {
		return nil, fmt.Errorf("list unconsumed packets: %w", err)
	}
	return packets, nil
}

// MarkPacketMalformed flags a packet whose every line failed structural
// decode. The consumed marker stays false; the packet only leaves the
// decode queue.
func (s *Store) MarkPacketMalformed(ctx context.Context, packetID uint) error {
	err := s.db.WithContext(ctx).Model(&RawPacket{}).
		Where("id = ?", packetID).
		Update("malformed", true).Error
	if err != nil {
		return fmt.Errorf("mark packet malformed: %w", err)
	}
	return nil
}

// ConsumePacket atomically inserts the telemetry decoded from one raw
// packet and marks the packet consumed. The consumed marker guards
// idempotence: a packet that is already consumed yields ErrAlreadyConsumed
// and no inserts.
func (s *Store) ConsumePacket(ctx context.Context, packetID uint, samples []Telemetry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RawPacket{}).
			Where("id = ? AND consumed = ?", packetID, false).
			Update("consumed", true)
		if res.Error != nil {
			return fmt.Errorf("mark packet consumed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyConsumed
		}
		if len(samples) == 0 {
			return nil
		}
		if err := tx.Create(&samples).Error; err != nil {
			return fmt.Errorf("insert telemetry: %w", err)
		}
		return nil
	})
}

// ---- devices and flights ----

// DeviceBySerial finds a registered device by its uppercase hex serial.
func (s *Store) DeviceBySerial(ctx context.Context, serial string) (*Device, error) {
	var d Device
	if err := s.db.WithContext(ctx).Where("serial_number = ?", serial).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDevice registers a new device.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// CreateFlight persists a new flight.
func (s *Store) CreateFlight(ctx context.Context, f *Flight) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create flight: %w", err)
	}
	return nil
}

// SaveFlight persists lifecycle mutations made by the API layer.
func (s *Store) SaveFlight(ctx context.Context, f *Flight) error {
	if err := s.db.WithContext(ctx).Save(f).Error; err != nil {
		return fmt.Errorf("save flight: %w", err)
	}
	return nil
}

// FlightByID loads one flight.
func (s *Store) FlightByID(ctx context.Context, id uint) (*Flight, error) {
	var f Flight
	if err := s.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// ActiveFlightBySerial resolves the unique active flight bound to the
// device with the given uppercase hex serial. Packets that match no
// active flight are discarded upstream.
func (s *Store) ActiveFlightBySerial(ctx context.Context, serial string) (*Flight, error) {
	device, err := s.DeviceBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	var f Flight
	err = s.db.WithContext(ctx).
		Where("device_id = ? AND status IN ?", device.ID,
			[]string{FlightPreFlight, FlightInFlight}).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ActiveFlights lists every flight the analyzer should cycle over.
func (s *Store) ActiveFlights(ctx context.Context) ([]Flight, error) {
	var flights []Flight
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{FlightPreFlight, FlightInFlight}).
		Order("id ASC").
		Find(&flights).Error
	if err != nil {
		return nil, fmt.Errorf("list active flights: %w", err)
	}
	return flights, nil
}

// ---- telemetry ----

// LatestTelemetry returns the most recent sample for a flight by
// measurement time; on duplicate timestamps the later insert wins.
func (s *Store) LatestTelemetry(ctx context.Context, flightID uint) (*Telemetry, error) {
	var t Telemetry
	err := s.db.WithContext(ctx).
		Where("flight_id = ?", flightID).
		Order("measured_at DESC NULLS LAST").
		Order("id DESC").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TelemetryHistory returns a flight's full telemetry ordered by
// measurement time.
func (s *Store) TelemetryHistory(ctx context.Context, flightID uint) ([]Telemetry, error) {
	var rows []Telemetry
	err := s.db.WithContext(ctx).
		Where("flight_id = ?", flightID).
		Order("measured_at ASC NULLS FIRST").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("telemetry history: %w", err)
	}
	return rows, nil
}

// ---- flight status ----

// StatusFor loads the live status row for a flight.
func (s *Store) StatusFor(ctx context.Context, flightID uint) (*FlightStatus, error) {
	var st FlightStatus
	if err := s.db.WithContext(ctx).Where("flight_id = ?", flightID).First(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateStatus upserts the single status row for a flight inside one
// transaction: load-or-create, apply mutate, save. Callers serialize
// their own concurrent writers per flight; there is never more than one
// row per flight.
func (s *Store) UpdateStatus(ctx context.Context, flightID uint, mutate func(*FlightStatus) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st FlightStatus
		err := tx.Where("flight_id = ?", flightID).First(&st).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			st = FlightStatus{FlightID: flightID, Phase: PhaseUnknown}
		case err != nil:
			return fmt.Errorf("load flight status: %w", err)
		}
		if err := mutate(&st); err != nil {
			return err
		}
		if err := tx.Save(&st).Error; err != nil {
			return fmt.Errorf("save flight status: %w", err)
		}
		return nil
	})
}

// ---- flight log ----

// AppendLog appends one immutable flight log entry.
func (s *Store) AppendLog(ctx context.Context, flightID uint, level, message string) error {
	entry := FlightLog{
		FlightID:  flightID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append flight log: %w", err)
	}
	return nil
}

// Logs returns the most recent log entries for a flight, newest first.
func (s *Store) Logs(ctx context.Context, flightID uint, limit int) ([]FlightLog, error) {
	var rows []FlightLog
	err := s.db.WithContext(ctx).
		Where("flight_id = ?", flightID).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("flight logs: %w", err)
	}
	return rows, nil
}

// ---- ground reference ----

// GroundReferenceFor loads a flight's calibration snapshot.
func (s *Store) GroundReferenceFor(ctx context.Context, flightID uint) (*GroundReference, error) {
	var ref GroundReference
	if err := s.db.WithContext(ctx).Where("flight_id = ?", flightID).First(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

// CreateGroundReference stores the one-time calibration snapshot.
func (s *Store) CreateGroundReference(ctx context.Context, ref *GroundReference) error {
	if err := s.db.WithContext(ctx).Create(ref).Error; err != nil {
		return fmt.Errorf("create ground reference: %w", err)
	}
	return nil
}

// ---- system status ----

// UpsertSystemStatus records the supervisor's view of the receiver and
// parser processes on the singleton liveness row.
func (s *Store) UpsertSystemStatus(ctx context.Context, receiverState, parserState string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st SystemStatus
		err := tx.First(&st, systemStatusID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			st = SystemStatus{ID: systemStatusID}
		case err != nil:
			return fmt.Errorf("load system status: %w", err)
		}
		st.ReceiverState = receiverState
		st.ParserState = parserState
		if err := tx.Save(&st).Error; err != nil {
			return fmt.Errorf("save system status: %w", err)
		}
		return nil
	})
}

// SystemStatusRow returns the singleton liveness row, or nil when no
// supervisor has written it yet.
func (s *Store) SystemStatusRow(ctx context.Context) (*SystemStatus, error) {
	var st SystemStatus
	err := s.db.WithContext(ctx).First(&st, systemStatusID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load system status: %w", err)
	}
	return &st, nil
}
