package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"climatecloud/internal/modules/climate/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/insert-change.sql
var insertChangeSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-changes.sql
var getChangesSQL string

// ErrPersistenceUnavailable marks a failure of the durable backend. The
// in-memory store is unaffected by it.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Persistence is a durable backend for accepted readings.
type Persistence interface {
	Save(ctx context.Context, r types.Reading) error
	SaveChange(ctx context.Context, c types.Change) error
	// Query returns the most recent limit readings, oldest-first.
	Query(ctx context.Context, limit int) ([]types.Reading, error)
}

// ChangeReader lists stored change records.
type ChangeReader interface {
	// QueryChanges returns the most recent limit change records, oldest-first.
	QueryChanges(ctx context.Context, limit int) ([]types.Change, error)
}

// ClimateRepository is the SQLite-backed Persistence, which can also list
// stored change records.
type ClimateRepository interface {
	Persistence
	ChangeReader
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) ClimateRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Save(ctx context.Context, reading types.Reading) error {
	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		reading.SourceID,
		formatTime(reading.RecordedAt),
		reading.Temperature,
		reading.Humidity,
	)
	if err != nil {
		return fmt.Errorf("%w: insert reading: %w", ErrPersistenceUnavailable, err)
	}
	return nil
}

func (r *repositoryImpl) SaveChange(ctx context.Context, c types.Change) error {
	var prevAt, prevTemp, prevHum any
	if c.Previous != nil {
		prevAt = formatTime(c.Previous.RecordedAt)
		prevTemp = c.Previous.Temperature
		prevHum = c.Previous.Humidity
	}
	_, err := r.db.ExecContext(ctx, insertChangeSQL,
		c.ID,
		string(c.Kind),
		c.Current.SourceID,
		formatTime(c.Current.RecordedAt),
		c.Current.Temperature,
		c.Current.Humidity,
		prevAt,
		prevTemp,
		prevHum,
		c.DeltaTemperature,
		c.DeltaHumidity,
	)
	if err != nil {
		return fmt.Errorf("%w: insert change %s: %w", ErrPersistenceUnavailable, c.ID, err)
	}
	return nil
}

func (r *repositoryImpl) Query(ctx context.Context, limit int) ([]types.Reading, error) {
	out := []types.Reading{}
	if limit <= 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, getReadingsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query readings: %w", ErrPersistenceUnavailable, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()
	for rows.Next() {
		var rec types.Reading
		var ts string
		if err := rows.Scan(&rec.SourceID, &ts, &rec.Temperature, &rec.Humidity); err != nil {
			return nil, err
		}
		if rec.RecordedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) QueryChanges(ctx context.Context, limit int) ([]types.Change, error) {
	out := []types.Change{}
	if limit <= 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, getChangesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query changes: %w", ErrPersistenceUnavailable, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close changes rows", "error", err)
		}
	}()
	for rows.Next() {
		var (
			c        types.Change
			kind, ts string
			prevAt   sql.NullString
			prevTemp sql.NullFloat64
			prevHum  sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &kind, &c.Current.SourceID, &ts, &c.Current.Temperature, &c.Current.Humidity,
			&prevAt, &prevTemp, &prevHum, &c.DeltaTemperature, &c.DeltaHumidity); err != nil {
			return nil, err
		}
		c.Kind = types.ChangeKind(kind)
		if c.Current.RecordedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		if prevAt.Valid {
			prev := types.Reading{
				SourceID:    c.Current.SourceID,
				Temperature: prevTemp.Float64,
				Humidity:    prevHum.Float64,
			}
			if prev.RecordedAt, err = parseTime(prevAt.String); err != nil {
				return nil, err
			}
			c.Previous = &prev
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Fixed-width so recorded_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, ts)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", ts, err, err2)
		}
	}
	return t, nil
}
