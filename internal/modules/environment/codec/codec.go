// Package codec maps a types.Reading to and from its persisted record shape.
//
// The record is what crosses the store boundary: SQLite columns and MQTT ingest
// payloads use these field names. The in-memory Reading is free to change shape
// without touching stored data as long as Encode and Decode are kept in step.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"iot-environment-server/internal/modules/environment/types"
)

// SchemaVersion is the record version written by Encode.
const SchemaVersion = 1

// TimestampLayout is fixed width so that lexical order of stored values equals time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

var (
	ErrMissingTimestamp   = errors.New("timestamp is required")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
)

// Record is the persisted shape of a reading.
type Record struct {
	SchemaVersion      int      `json:"schema_version,omitempty"`
	ID                 string   `json:"id"`
	Timestamp          string   `json:"timestamp"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	HumidityPercent    *int     `json:"humidity_percent,omitempty"`
	Sensor             string   `json:"sensor,omitempty"`
	Device             string   `json:"device,omitempty"`
	Location           string   `json:"location,omitempty"`
	DataSource         string   `json:"data_source,omitempty"`
}

// FormatTimestamp renders t in the stored layout (UTC, nanosecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 instant, with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func Encode(r types.Reading) Record {
	c := r.Clone()
	return Record{
		SchemaVersion:      SchemaVersion,
		ID:                 c.ID,
		Timestamp:          FormatTimestamp(c.Timestamp),
		TemperatureCelsius: c.TemperatureCelsius,
		HumidityPercent:    c.HumidityPercent,
		Sensor:             c.Sensor,
		Device:             c.Device,
		Location:           c.Location,
		DataSource:         c.DataSource,
	}
}

// Decode converts a record into a Reading. A missing schema version is read as version 1.
func Decode(rec Record) (types.Reading, error) {
	switch rec.SchemaVersion {
	case 0, 1:
	default:
		return types.Reading{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.SchemaVersion)
	}
	if rec.Timestamp == "" {
		return types.Reading{}, ErrMissingTimestamp
	}
	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return types.Reading{}, fmt.Errorf("parse timestamp %q: %w", rec.Timestamp, err)
	}
	r := types.Reading{
		ID:                 rec.ID,
		Timestamp:          ts,
		TemperatureCelsius: rec.TemperatureCelsius,
		HumidityPercent:    rec.HumidityPercent,
		Sensor:             rec.Sensor,
		Device:             rec.Device,
		Location:           rec.Location,
		DataSource:         rec.DataSource,
	}
	return r.Clone(), nil
}

func Marshal(r types.Reading) ([]byte, error) {
	return json.Marshal(Encode(r))
}

func Unmarshal(data []byte) (types.Reading, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Reading{}, fmt.Errorf("decode record: %w", err)
	}
	return Decode(rec)
}
