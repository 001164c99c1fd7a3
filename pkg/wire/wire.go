// Package wire decodes the comma-separated packet lines transmitted by
// sonde radio devices.
//
// A line carries at least eleven fields in fixed order:
//
//	SERIAL_HEX,TOKEN_HEX,UTC_TIME,TEMP_C,HUMIDITY_PCT,PRESSURE_MB,LAT,LON,ALT_M,HDOP,SATS
//
// Extra trailing fields are ignored. Numeric sensor fields accept the
// literal token "NAN" (any case) to mean "no reading"; a partially blind
// sonde still produces a usable packet.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinFields is the minimum number of comma-separated fields in a valid line.
const MinFields = 11

// TimeLayout is the on-device UTC timestamp serialization.
const TimeLayout = "2006-01-02T15:04:05Z"

// tokenMask truncates authentication tokens to 24 bits, matching the
// device firmware.
const tokenMask = 0xFFFFFF

var (
	// ErrTooFewFields is returned for lines with fewer than MinFields fields.
	ErrTooFewFields = errors.New("wire: too few fields")

	// ErrBadSerial is returned when the serial field is not parseable hex.
	ErrBadSerial = errors.New("wire: serial is not valid hex")

	// ErrBadToken is returned when the token field is not parseable hex.
	ErrBadToken = errors.New("wire: token is not valid hex")
)

// Packet is one structurally valid, decoded radio line. Sensor fields are
// nil when the device transmitted NAN or garbage for them.
type Packet struct {
	MeasuredAt  *time.Time
	Temperature *float64
	Humidity    *float64
	Pressure    *float64
	Latitude    *float64
	Longitude   *float64
	Altitude    *float64
	HDOP        *float64
	Satellites  *float64
	Serial      uint32
	Token       uint32
}

// ParseLine decodes a single raw line. It fails only on structural
// problems: too few fields, or a serial/token that is not hex. Sensor
// fields never fail; unparseable values decode as nil.
func ParseLine(line string) (*Packet, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < MinFields {
		return nil, fmt.Errorf("%w: got %d, want at least %d", ErrTooFewFields, len(fields), MinFields)
	}

	serial, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadSerial, fields[0])
	}
	token, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadToken, fields[1])
	}

	p := &Packet{
		Serial:      uint32(serial),
		Token:       uint32(token),
		MeasuredAt:  parseTime(fields[2]),
		Temperature: ParseFloat(fields[3]),
		Humidity:    ParseFloat(fields[4]),
		Pressure:    ParseFloat(fields[5]),
		Latitude:    ParseFloat(fields[6]),
		Longitude:   ParseFloat(fields[7]),
		Altitude:    ParseFloat(fields[8]),
		HDOP:        ParseFloat(fields[9]),
		Satellites:  ParseFloat(fields[10]),
	}
	return p, nil
}

// ParseFloat parses a numeric sensor field. The literal "NAN" in any case
// and any non-numeric text both decode as nil rather than an error.
func ParseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "NAN") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseTime(s string) *time.Time {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Token computes the expected authentication token for a device serial and
// a flight's hex secret mask: (serial XOR mask) truncated to 24 bits.
// A mask that is not valid hex is treated as zero, again matching the
// firmware's forgiving behavior.
func Token(serial uint32, mask string) uint32 {
	key, err := strconv.ParseUint(strings.TrimSpace(mask), 16, 32)
	if err != nil {
		key = 0
	}
	return (serial ^ uint32(key)) & tokenMask
}

// FormatSerial renders a device serial the way the device registry stores
// it: uppercase hex without a 0x prefix.
func FormatSerial(serial uint32) string {
	return fmt.Sprintf("%X", serial)
}

// FormatLine renders a fully populated packet line. It is the inverse of
// ParseLine for lines without missing fields, and exists for the flight
// simulator and tests.
func FormatLine(serial, token uint32, measuredAt time.Time, temp, hum, pres, lat, lon, alt, hdop float64, sats int) string {
	return fmt.Sprintf("%05X,%06X,%s,%.2f,%.2f,%.2f,%.5f,%.5f,%.1f,%.2f,%d",
		serial, token,
		measuredAt.UTC().Format(TimeLayout),
		temp, hum, pres, lat, lon, alt, hdop, sats)
}
