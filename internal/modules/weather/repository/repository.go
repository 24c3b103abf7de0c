package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"weatherlive/internal/modules/weather/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-readings.sql
var getLatestReadingsSQL string

//go:embed sql/get-readings-by-location.sql
var getReadingsByLocationSQL string

//go:embed sql/get-statistics.sql
var getStatisticsSQL string

// timeLayout has a fixed width so that observed_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type WeatherRepository interface {
	InsertReading(ctx context.Context, r types.Reading) error
	GetLatestReadings(ctx context.Context, limit int) ([]types.Reading, error)
	GetReadingsByLocation(ctx context.Context, locationName string, limit int) ([]types.Reading, error)
	GetStatistics(ctx context.Context) ([]types.Statistic, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) WeatherRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertReading(ctx context.Context, rec types.Reading) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	synthetic := 0
	if rec.Synthetic {
		synthetic = 1
	}
	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		rec.LocationName, rec.Coordinates.Lat, rec.Coordinates.Lon, rec.Condition, rec.Icon,
		rec.Temperature, rec.FeelsLike, rec.Humidity, rec.Pressure,
		rec.WindSpeed, rec.WindDirection, rec.CloudCover, rec.Visibility,
		formatTime(rec.ObservedAt), synthetic,
	)
	if err != nil {
		return fmt.Errorf("insert reading for %q: %w", rec.LocationName, err)
	}
	return nil
}

func (r *repositoryImpl) GetLatestReadings(ctx context.Context, limit int) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getLatestReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close latest readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) GetReadingsByLocation(ctx context.Context, locationName string, limit int) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsByLocationSQL, locationName, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close location readings rows", "error", err)
		}
	}()
	return scanReadings(rows)
}

func (r *repositoryImpl) GetStatistics(ctx context.Context) ([]types.Statistic, error) {
	rows, err := r.db.QueryContext(ctx, getStatisticsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close statistics rows", "error", err)
		}
	}()
	out := []types.Statistic{}
	for rows.Next() {
		var s types.Statistic
		if err := rows.Scan(&s.LocationName, &s.AvgTemp, &s.MaxTemp, &s.MinTemp, &s.AvgHumidity, &s.Count); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]types.Reading, error) {
	out := []types.Reading{}
	for rows.Next() {
		var (
			rec       types.Reading
			ts        string
			synthetic int
		)
		if err := rows.Scan(
			&rec.LocationName, &rec.Coordinates.Lat, &rec.Coordinates.Lon, &rec.Condition, &rec.Icon,
			&rec.Temperature, &rec.FeelsLike, &rec.Humidity, &rec.Pressure,
			&rec.WindSpeed, &rec.WindDirection, &rec.CloudCover, &rec.Visibility,
			&ts, &synthetic,
		); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		rec.ObservedAt = t
		rec.Synthetic = synthetic != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

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
