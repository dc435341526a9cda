package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"iot-environment-server/internal/modules/environment/codec"
	"iot-environment-server/internal/modules/environment/types"
)

//go:embed sql/most-recent.sql
var mostRecentSQL string

//go:embed sql/after.sql
var afterSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/count.sql
var countSQL string

// ReadingStore is the read side consumed by the query service.
type ReadingStore interface {
	// MostRecent returns up to n readings, newest first. Equal timestamps order by ID descending.
	MostRecent(ctx context.Context, n int) ([]types.Reading, error)
	// After returns every reading strictly later than ts, oldest first. Equal timestamps order by ID ascending.
	After(ctx context.Context, ts time.Time) ([]types.Reading, error)
}

type EnvironmentRepository interface {
	ReadingStore
	Insert(ctx context.Context, r types.Reading) error
	Count(ctx context.Context) (int, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) EnvironmentRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) MostRecent(ctx context.Context, n int) ([]types.Reading, error) {
	if n <= 0 {
		return []types.Reading{}, nil
	}
	rows, err := r.db.QueryContext(ctx, mostRecentSQL, n)
	if err != nil {
		return nil, fmt.Errorf("query most recent: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close most recent rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) After(ctx context.Context, ts time.Time) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, afterSQL, codec.FormatTimestamp(ts))
	if err != nil {
		return nil, fmt.Errorf("query after: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close after rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) Insert(ctx context.Context, reading types.Reading) error {
	if reading.ID == "" {
		return fmt.Errorf("insert reading: id is required")
	}
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("insert reading %q: %w", reading.ID, codec.ErrMissingTimestamp)
	}
	rec := codec.Encode(reading)

	var tempVal any
	if rec.TemperatureCelsius != nil {
		tempVal = *rec.TemperatureCelsius
	}
	var humidityVal any
	if rec.HumidityPercent != nil {
		humidityVal = *rec.HumidityPercent
	}

	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		rec.ID, rec.Timestamp, tempVal, humidityVal,
		rec.Sensor, rec.Device, rec.Location, rec.DataSource, rec.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("insert reading %q: %w", reading.ID, err)
	}
	return nil
}

func (r *repositoryImpl) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	out := []types.Reading{}
	for rows.Next() {
		var rec codec.Record
		var temp sql.NullFloat64
		var humidity sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &temp, &humidity,
			&rec.Sensor, &rec.Device, &rec.Location, &rec.DataSource); err != nil {
			return nil, err
		}
		if temp.Valid {
			v := temp.Float64
			rec.TemperatureCelsius = &v
		}
		if humidity.Valid {
			v := int(humidity.Int64)
			rec.HumidityPercent = &v
		}
		reading, err := codec.Decode(rec)
		if err != nil {
			return nil, fmt.Errorf("decode reading %q: %w", rec.ID, err)
		}
		out = append(out, reading)
	}
	return out, rows.Err()
}
