// Package store persists raw staging data and published daily summaries.
// Both SQLite and PostgreSQL backends satisfy the same interface so the
// aggregation engine never sees a SQL dialect.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sensoretl/internal/engine"
)

// Store is the persistence boundary of a pipeline run.
type Store interface {
	// ReplaceSensors replaces the sensor directory staging table.
	ReplaceSensors(ctx context.Context, sensors []engine.Sensor) error

	// LoadReadings stages raw readings. When replace is true the staging
	// table is emptied first (full-refresh); otherwise rows are appended,
	// upserting on reading_id so re-delivered readings are not duplicated.
	LoadReadings(ctx context.Context, readings []engine.Reading, replace bool) error

	// ReplaceWeather replaces the weather reference staging table.
	ReplaceWeather(ctx context.Context, weather []engine.WeatherObservation) error

	// GetSensors returns the full sensor directory.
	GetSensors(ctx context.Context) ([]engine.Sensor, error)

	// GetReadings returns staged readings with timestamp in [start, end).
	// Zero start and end return everything.
	GetReadings(ctx context.Context, start, end time.Time) ([]engine.Reading, error)

	// GetWeather returns the full weather reference table.
	GetWeather(ctx context.Context) ([]engine.WeatherObservation, error)

	// ReplaceSummaries replaces the entire summary table in one
	// transaction, so readers never observe an empty table mid-refresh.
	ReplaceSummaries(ctx context.Context, rows []engine.DailySummary) error

	// ReplacePartitions deletes and rewrites the date partitions present
	// in rows, in one transaction. Re-running a window is idempotent.
	ReplacePartitions(ctx context.Context, rows []engine.DailySummary) error

	// GetSummaries returns summary rows, optionally filtered by location
	// and date range (zero times disable the range filter).
	GetSummaries(ctx context.Context, location string, from, to time.Time) ([]engine.DailySummary, error)

	// GetLocations lists the distinct locations present in the summary table.
	GetLocations(ctx context.Context) ([]string, error)

	// Counts reports row counts per table for run diagnostics.
	Counts(ctx context.Context) (TableCounts, error)

	// SummaryDateRange returns the oldest and newest summary dates,
	// zero times when the table is empty.
	SummaryDateRange(ctx context.Context) (oldest, newest time.Time, err error)

	// Close closes the database connection.
	Close() error
}

// TableCounts holds per-table row counts.
type TableCounts struct {
	Sensors   int `json:"sensors"`
	Readings  int `json:"readings"`
	Weather   int `json:"weather"`
	Summaries int `json:"summaries"`
}

// sqlStore implements Store over database/sql. The dialect only matters for
// placeholder syntax; table and column names line up across both migration
// sets.
type sqlStore struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
}

// DB returns the underlying database connection for migration commands.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, ... for postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	result := make([]byte, 0, len(query))
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, fmt.Sprintf("$%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func (s *sqlStore) ReplaceSensors(ctx context.Context, sensors []engine.Sensor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_sensors`); err != nil {
		return fmt.Errorf("clearing sensors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO raw_sensors (sensor_id, location) VALUES (?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, sn := range sensors {
		if _, err := stmt.ExecContext(ctx, sn.SensorID, sn.Location); err != nil {
			return fmt.Errorf("inserting sensor %d: %w", sn.SensorID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) LoadReadings(ctx context.Context, readings []engine.Reading, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM raw_readings`); err != nil {
			return fmt.Errorf("clearing readings: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO raw_readings (reading_id, sensor_id, temperature, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reading_id) DO UPDATE SET
			sensor_id=excluded.sensor_id,
			temperature=excluded.temperature,
			timestamp=excluded.timestamp`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.ReadingID, r.SensorID, r.Temperature, r.Timestamp.UTC()); err != nil {
			return fmt.Errorf("inserting reading %d: %w", r.ReadingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) ReplaceWeather(ctx context.Context, weather []engine.WeatherObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_weather`); err != nil {
		return fmt.Errorf("clearing weather: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO raw_weather (location, date, condition, avg_temp)
		VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, w := range weather {
		if _, err := stmt.ExecContext(ctx, w.Location, w.Date.Format(time.DateOnly), w.Condition, w.AvgTemp); err != nil {
			return fmt.Errorf("inserting weather %s/%s: %w", w.Location, w.Date.Format(time.DateOnly), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSensors(ctx context.Context) ([]engine.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sensor_id, location FROM raw_sensors ORDER BY sensor_id`)
	if err != nil {
		return nil, fmt.Errorf("querying sensors: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var sensors []engine.Sensor
	for rows.Next() {
		var sn engine.Sensor
		if err := rows.Scan(&sn.SensorID, &sn.Location); err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		sensors = append(sensors, sn)
	}
	return sensors, rows.Err()
}

func (s *sqlStore) GetReadings(ctx context.Context, start, end time.Time) ([]engine.Reading, error) {
	query := `SELECT reading_id, sensor_id, temperature, timestamp FROM raw_readings`
	var args []any
	if !start.IsZero() || !end.IsZero() {
		query += ` WHERE timestamp >= ? AND timestamp < ?`
		args = append(args, start.UTC(), end.UTC())
	}
	query += ` ORDER BY timestamp`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var readings []engine.Reading
	for rows.Next() {
		var r engine.Reading
		var tsRaw any
		if err := rows.Scan(&r.ReadingID, &r.SensorID, &r.Temperature, &tsRaw); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if r.Timestamp, err = parseTimestamp(tsRaw); err != nil {
			return nil, fmt.Errorf("parsing reading timestamp: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *sqlStore) GetWeather(ctx context.Context) ([]engine.WeatherObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT location, date, condition, avg_temp FROM raw_weather ORDER BY location, date`)
	if err != nil {
		return nil, fmt.Errorf("querying weather: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var weather []engine.WeatherObservation
	for rows.Next() {
		var w engine.WeatherObservation
		var dateRaw any
		if err := rows.Scan(&w.Location, &dateRaw, &w.Condition, &w.AvgTemp); err != nil {
			return nil, fmt.Errorf("scanning weather: %w", err)
		}
		if w.Date, err = parseDate(dateRaw); err != nil {
			return nil, fmt.Errorf("parsing weather date: %w", err)
		}
		weather = append(weather, w)
	}
	return weather, rows.Err()
}

const insertSummarySQL = `
	INSERT INTO daily_sensor_summary (
		location, date, avg_temp, min_temp, max_temp,
		moving_avg_3day, reading_count,
		weather_condition, weather_avg_temp,
		quality_flag, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *sqlStore) ReplaceSummaries(ctx context.Context, rows []engine.DailySummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_sensor_summary`); err != nil {
		return fmt.Errorf("clearing summaries: %w", err)
	}

	if err := s.insertSummaries(ctx, tx, rows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) ReplacePartitions(ctx context.Context, rows []engine.DailySummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	seen := make(map[string]bool)
	for _, r := range rows {
		date := r.Date.Format(time.DateOnly)
		if seen[date] {
			continue
		}
		seen[date] = true
		if _, err := tx.ExecContext(ctx,
			s.rebind(`DELETE FROM daily_sensor_summary WHERE date = ?`), date); err != nil {
			return fmt.Errorf("clearing partition %s: %w", date, err)
		}
	}

	if err := s.insertSummaries(ctx, tx, rows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) insertSummaries(ctx context.Context, tx *sql.Tx, rows []engine.DailySummary) error {
	stmt, err := tx.PrepareContext(ctx, s.rebind(insertSummarySQL))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Location, r.Date.Format(time.DateOnly),
			r.AvgTemp, r.MinTemp, r.MaxTemp,
			r.MovingAvg3Day, r.ReadingCount,
			r.WeatherCondition, r.WeatherAvgTemp,
			r.QualityFlag, r.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("inserting summary %s/%s: %w", r.Location, r.Date.Format(time.DateOnly), err)
		}
	}
	return nil
}

func (s *sqlStore) GetSummaries(ctx context.Context, location string, from, to time.Time) ([]engine.DailySummary, error) {
	query := `
		SELECT location, date, avg_temp, min_temp, max_temp,
			moving_avg_3day, reading_count,
			weather_condition, weather_avg_temp,
			quality_flag, created_at
		FROM daily_sensor_summary
		WHERE 1=1`
	var args []any
	if location != "" {
		query += ` AND location = ?`
		args = append(args, location)
	}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.Format(time.DateOnly))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.Format(time.DateOnly))
	}
	query += ` ORDER BY location, date`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []engine.DailySummary
	for rows.Next() {
		var d engine.DailySummary
		var dateRaw, createdRaw any
		var cond sql.NullString
		var wavg sql.NullFloat64
		if err := rows.Scan(
			&d.Location, &dateRaw, &d.AvgTemp, &d.MinTemp, &d.MaxTemp,
			&d.MovingAvg3Day, &d.ReadingCount,
			&cond, &wavg,
			&d.QualityFlag, &createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if d.Date, err = parseDate(dateRaw); err != nil {
			return nil, fmt.Errorf("parsing summary date: %w", err)
		}
		if d.CreatedAt, err = parseTimestamp(createdRaw); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if cond.Valid {
			c := cond.String
			d.WeatherCondition = &c
		}
		if wavg.Valid {
			v := wavg.Float64
			d.WeatherAvgTemp = &v
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *sqlStore) GetLocations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT location FROM daily_sensor_summary ORDER BY location`)
	if err != nil {
		return nil, fmt.Errorf("querying locations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var locations []string
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

func (s *sqlStore) Counts(ctx context.Context) (TableCounts, error) {
	var c TableCounts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"raw_sensors", &c.Sensors},
		{"raw_readings", &c.Readings},
		{"raw_weather", &c.Weather},
		{"daily_sensor_summary", &c.Summaries},
	} {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+q.table).Scan(q.dst); err != nil {
			return c, fmt.Errorf("counting %s: %w", q.table, err)
		}
	}
	return c, nil
}

func (s *sqlStore) SummaryDateRange(ctx context.Context) (oldest, newest time.Time, err error) {
	var minRaw, maxRaw any
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date) FROM daily_sensor_summary`).Scan(&minRaw, &maxRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("querying summary date range: %w", err)
	}
	if minRaw == nil || maxRaw == nil {
		return time.Time{}, time.Time{}, nil
	}
	if oldest, err = parseDate(minRaw); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing oldest date: %w", err)
	}
	if newest, err = parseDate(maxRaw); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing newest date: %w", err)
	}
	return oldest, newest, nil
}

// --- Shared helpers ---

// parseTimestamp handles both time.Time and string timestamp values; SQLite
// hands back text, PostgreSQL hands back time.Time.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05.999999999-07:00",
			"2006-01-02 15:04:05+00:00",
			"2006-01-02 15:04:05 +0000 UTC",
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse timestamp: %q", t)
	case []byte:
		return parseTimestamp(string(t))
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type: %T", v)
	}
}

// parseDate handles DATE columns across both backends.
func parseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		d = d.UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
	case string:
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return time.Time{}, fmt.Errorf("unable to parse date: %q", d)
		}
		return t, nil
	case []byte:
		return parseDate(string(d))
	default:
		return time.Time{}, fmt.Errorf("unexpected date type: %T", v)
	}
}
