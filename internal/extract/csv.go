// Package extract reads the raw CSV inputs of a pipeline run: the sensor
// directory, the reading stream, and the reference weather table.
package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"sensoretl/internal/engine"
)

// Result wraps a parsed file with the number of malformed lines skipped.
type Result[T any] struct {
	Rows    []T
	Skipped int
}

// timestampLayouts are tried in order when parsing reading timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// Sensors reads a sensor directory CSV with columns sensor_id, location.
func Sensors(path string, logger *slog.Logger) (Result[engine.Sensor], error) {
	return parseFile(path, logger, []string{"sensor_id", "location"},
		func(get func(string) string) (engine.Sensor, error) {
			id, err := strconv.Atoi(get("sensor_id"))
			if err != nil {
				return engine.Sensor{}, fmt.Errorf("invalid sensor_id %q", get("sensor_id"))
			}
			loc := get("location")
			if loc == "" {
				return engine.Sensor{}, fmt.Errorf("missing location for sensor %d", id)
			}
			return engine.Sensor{SensorID: id, Location: loc}, nil
		})
}

// Readings reads a readings CSV with columns reading_id, sensor_id,
// temperature, timestamp.
func Readings(path string, logger *slog.Logger) (Result[engine.Reading], error) {
	return parseFile(path, logger, []string{"reading_id", "sensor_id", "temperature", "timestamp"},
		func(get func(string) string) (engine.Reading, error) {
			var r engine.Reading
			var err error
			if r.ReadingID, err = strconv.ParseInt(get("reading_id"), 10, 64); err != nil {
				return r, fmt.Errorf("invalid reading_id %q", get("reading_id"))
			}
			if r.SensorID, err = strconv.Atoi(get("sensor_id")); err != nil {
				return r, fmt.Errorf("invalid sensor_id %q", get("sensor_id"))
			}
			if r.Temperature, err = strconv.ParseFloat(get("temperature"), 64); err != nil {
				return r, fmt.Errorf("invalid temperature %q", get("temperature"))
			}
			if r.Timestamp, err = parseTimestamp(get("timestamp")); err != nil {
				return r, err
			}
			return r, nil
		})
}

// Weather reads a weather reference CSV with columns date, location,
// condition, avg_temp.
func Weather(path string, logger *slog.Logger) (Result[engine.WeatherObservation], error) {
	return parseFile(path, logger, []string{"date", "location", "condition", "avg_temp"},
		func(get func(string) string) (engine.WeatherObservation, error) {
			var w engine.WeatherObservation
			var err error
			if w.Date, err = time.Parse(time.DateOnly, get("date")); err != nil {
				return w, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", get("date"))
			}
			w.Date = w.Date.UTC()
			w.Location = get("location")
			if w.Location == "" {
				return w, fmt.Errorf("missing location")
			}
			w.Condition = get("condition")
			if w.AvgTemp, err = strconv.ParseFloat(get("avg_temp"), 64); err != nil {
				return w, fmt.Errorf("invalid avg_temp %q", get("avg_temp"))
			}
			return w, nil
		})
}

// parseFile opens path and decodes each data line with decode. Lines that
// fail to decode are logged and counted, not fatal; a header missing any of
// the required columns is.
func parseFile[T any](path string, logger *slog.Logger, required []string,
	decode func(get func(string) string) (T, error)) (Result[T], error) {

	var res Result[T]

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return res, fmt.Errorf("reading header of %s: %w", path, err)
	}

	indices := make(map[string]int, len(header))
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := indices[col]; !ok {
			return res, fmt.Errorf("%s: missing required column %q", path, col)
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("%s line %d: %w", path, line+1, err)
		}
		line++

		get := func(col string) string {
			if idx, ok := indices[col]; ok && idx < len(record) {
				return strings.TrimSpace(record[idx])
			}
			return ""
		}

		row, err := decode(get)
		if err != nil {
			logger.Warn("skipping malformed line", "file", path, "line", line, "error", err)
			res.Skipped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	return res, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", s)
}
