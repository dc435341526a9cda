package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"iot-environment-server/internal/modules/environment/codec"
	"iot-environment-server/internal/modules/environment/types"
)

var ErrInvalidReading = errors.New("invalid reading")

// Inserter is the write side used by ingestion.
type Inserter interface {
	Insert(ctx context.Context, r types.Reading) error
}

// Ingestor turns MQTT payloads in the persisted record shape into stored readings.
type Ingestor struct {
	store   Inserter
	logger  *slog.Logger
	timeout time.Duration
	newID   func() string
}

func NewIngestor(store Inserter, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:   store,
		logger:  logger.With("component", "ingest"),
		timeout: 5 * time.Second,
		newID:   uuid.NewString,
	}
}

// HandleMessage is the MQTT callback. Bad payloads and store failures are
// logged and dropped; nothing is sent back to the publisher.
func (i *Ingestor) HandleMessage(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()

	r, err := i.Ingest(ctx, payload)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrInvalidReading) {
			level = slog.LevelWarn
		}
		i.logger.Log(ctx, level, "failed to ingest reading", "topic", topic, "error", err, "size", len(payload))
		return
	}
	i.logger.Debug("stored reading", "topic", topic, "id", r.ID, "timestamp", r.Timestamp)
}

// Ingest decodes, validates and stores one record. A record without an id
// gets a random UUID.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte) (types.Reading, error) {
	r, err := codec.Unmarshal(payload)
	if err != nil {
		return types.Reading{}, fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	if err := validateReading(r); err != nil {
		return types.Reading{}, fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}
	if r.ID == "" {
		r.ID = i.newID()
	}
	if err := i.store.Insert(ctx, r); err != nil {
		return types.Reading{}, err
	}
	return r, nil
}

func validateReading(r types.Reading) error {
	if r.Timestamp.IsZero() {
		return codec.ErrMissingTimestamp
	}
	if r.HumidityPercent != nil && (*r.HumidityPercent < 0 || *r.HumidityPercent > 100) {
		return fmt.Errorf("humidity_percent out of range: %d (must be 0-100)", *r.HumidityPercent)
	}
	if r.TemperatureCelsius != nil && *r.TemperatureCelsius < -273.15 {
		return fmt.Errorf("temperature_celsius below absolute zero: %g", *r.TemperatureCelsius)
	}
	return nil
}
