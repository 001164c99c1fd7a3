// Package ingest consumes receiver envelopes from RabbitMQ and appends
// them to the raw packet log, untouched. Decode happens downstream.
package ingest

import (
	"encoding/json"
	"errors"
	"time"
)

// Envelope is the JSON message a ground receiver publishes for each
// radio transmission it hears. Payload is carried verbatim; a garbled
// transmission is still a valid envelope.
type Envelope struct {
	ReceivedAt time.Time `json:"recv_ts"`
	Payload    string    `json:"payload"`
	RSSI       *int      `json:"rssi_dbm,omitempty"`
}

// DecodeEnvelope parses one receiver message. A missing receipt time is
// rejected; the raw packet log is ordered by it.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.ReceivedAt.IsZero() {
		return nil, errors.New("envelope missing recv_ts")
	}
	return &env, nil
}
