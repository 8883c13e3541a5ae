package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// SensorMessage is the inbound wire format published by the plant producer.
// Null channel values mean the sensor had no sample for that row.
type SensorMessage struct {
	Timestamp string              `json:"timestamp"`
	RowIndex  int64               `json:"row_index"`
	Data      map[string]*float64 `json:"data"`
}

// DecodeReading parses an inbound payload into a SensorReading, stamping
// ReceivedAt with the supplied arrival time. Malformed payloads and rows
// failing schema validation are rejected with an error the consumer logs
// and drops.
func DecodeReading(payload []byte, receivedAt time.Time) (*SensorReading, error) {
	var msg SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode sensor message: %w", err)
	}

	observedAt, err := ParseTimestamp(msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp %q: %w", msg.Timestamp, err)
	}

	features := make(map[string]float64, len(msg.Data))
	for name, v := range msg.Data {
		if v == nil {
			continue
		}
		features[name] = *v
	}

	reading := &SensorReading{
		Sequence:   msg.RowIndex,
		ObservedAt: observedAt,
		Features:   features,
		ReceivedAt: receivedAt.UTC(),
	}

	if err := reading.Validate(); err != nil {
		return nil, err
	}
	return reading, nil
}

// ParseTimestamp attempts to parse a timestamp string into time.Time
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
