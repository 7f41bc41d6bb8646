// Package engine computes per-location daily temperature summaries from raw
// sensor readings. It is a pure batch transform over in-memory tuples; the
// store package adapts it to whichever SQL backend persists the result.
package engine

import (
	"math"
	"sort"
	"time"
)

// abnormalMaxTemp is the business threshold above which a day's rounded
// maximum temperature flags the row ABNORMAL.
const abnormalMaxTemp = 25.0

// Input carries everything one aggregation run consumes.
type Input struct {
	Readings []Reading
	Sensors  []Sensor
	Weather  []WeatherObservation
	Window   Window
	Mode     Mode

	// Now stamps CreatedAt on emitted rows. Zero means time.Now().UTC().
	Now time.Time
}

// Aggregate joins readings to the sensor directory, groups by
// (location, date), computes temperature statistics and the 3-day trailing
// moving average, joins reference weather, and classifies quality.
//
// Readings whose sensor_id has no directory entry are dropped and counted in
// Stats.UnknownSensor. An empty post-filter reading set returns ErrEmptyInput.
func Aggregate(in Input) ([]DailySummary, Stats, error) {
	var stats Stats
	stats.ReadingsIn = len(in.Readings)

	if in.Mode == Incremental && !in.Window.Start.Before(in.Window.End) {
		return nil, stats, &ConfigError{Reason: "window start must be before end"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	locations := make(map[int]string, len(in.Sensors))
	for _, s := range in.Sensors {
		locations[s.SensorID] = s.Location
	}

	type groupKey struct {
		location string
		date     time.Time
	}
	type groupAgg struct {
		sum   float64
		min   float64
		max   float64
		count int
	}

	groups := make(map[groupKey]*groupAgg)
	for _, r := range in.Readings {
		if in.Mode == Incremental && !in.Window.Contains(r.Timestamp) {
			continue
		}
		stats.ReadingsInWindow++

		loc, ok := locations[r.SensorID]
		if !ok {
			stats.UnknownSensor++
			continue
		}

		key := groupKey{location: loc, date: dateOf(r.Timestamp)}
		g, ok := groups[key]
		if !ok {
			g = &groupAgg{min: r.Temperature, max: r.Temperature}
			groups[key] = g
		}
		g.sum += r.Temperature
		g.count++
		if r.Temperature < g.min {
			g.min = r.Temperature
		}
		if r.Temperature > g.max {
			g.max = r.Temperature
		}
	}

	if stats.ReadingsInWindow == 0 {
		return nil, stats, ErrEmptyInput
	}
	if len(groups) == 0 {
		// Readings existed but none resolved to a known sensor.
		return nil, stats, ErrEmptyInput
	}

	weather := make(map[groupKey]WeatherObservation, len(in.Weather))
	for _, w := range in.Weather {
		weather[groupKey{location: w.Location, date: dateOf(w.Date)}] = w
	}

	rows := make([]DailySummary, 0, len(groups))
	for key, g := range groups {
		row := DailySummary{
			Location:     key.location,
			Date:         key.date,
			AvgTemp:      round2(g.sum / float64(g.count)),
			MinTemp:      round2(g.min),
			MaxTemp:      round2(g.max),
			ReadingCount: g.count,
			QualityFlag:  QualityNormal,
			CreatedAt:    now,
		}
		if row.MaxTemp > abnormalMaxTemp {
			row.QualityFlag = QualityAbnormal
		}
		if w, ok := weather[key]; ok {
			cond := w.Condition
			avg := w.AvgTemp
			row.WeatherCondition = &cond
			row.WeatherAvgTemp = &avg
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Location != rows[j].Location {
			return rows[i].Location < rows[j].Location
		}
		return rows[i].Date.Before(rows[j].Date)
	})

	fillMovingAverages(rows)

	stats.Groups = len(rows)
	return rows, stats, nil
}

// fillMovingAverages computes the trailing 3-row moving average of AvgTemp
// per location. Rows must be sorted by (location, date). The window slides
// over the dates present in the result set, not calendar days: a gap in
// dates shifts the window.
func fillMovingAverages(rows []DailySummary) {
	start := 0
	for i := range rows {
		if rows[i].Location != rows[start].Location {
			start = i
		}
		lo := i - 2
		if lo < start {
			lo = start
		}
		var sum float64
		for j := lo; j <= i; j++ {
			sum += rows[j].AvgTemp
		}
		rows[i].MovingAvg3Day = round2(sum / float64(i-lo+1))
	}
}

// dateOf truncates a timestamp to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// round2 rounds to 2 decimal places, halves away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
