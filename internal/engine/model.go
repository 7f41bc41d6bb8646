package engine

import "time"

// Mode selects which readings a run is responsible for.
type Mode int

const (
	// Incremental processes only readings inside the execution window and
	// publishes into that window's date partitions.
	Incremental Mode = iota
	// FullRefresh reprocesses every staged reading and replaces the whole
	// summary table.
	FullRefresh
)

func (m Mode) String() string {
	if m == FullRefresh {
		return "full-refresh"
	}
	return "incremental"
}

// ParseMode converts a CLI/config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "incremental":
		return Incremental, nil
	case "full-refresh", "full_refresh", "full":
		return FullRefresh, nil
	}
	return Incremental, &ConfigError{Reason: "mode must be 'incremental' or 'full-refresh', got " + "\"" + s + "\""}
}

// Window is the half-open time interval [Start, End) a run covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Day returns the one-day window starting at midnight UTC of date.
func Day(date time.Time) Window {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// Reading is a single raw temperature measurement.
type Reading struct {
	ReadingID   int64
	SensorID    int
	Temperature float64
	Timestamp   time.Time
}

// Sensor maps a sensor to its installed location. Static per run.
type Sensor struct {
	SensorID int
	Location string
}

// WeatherObservation is reference weather for one (location, date).
type WeatherObservation struct {
	Location  string
	Date      time.Time // midnight UTC
	Condition string
	AvgTemp   float64
}

// Quality flag values for DailySummary.
const (
	QualityNormal   = "NORMAL"
	QualityAbnormal = "ABNORMAL"
)

// DailySummary is one output row per (location, date).
type DailySummary struct {
	Location         string
	Date             time.Time // midnight UTC
	AvgTemp          float64
	MinTemp          float64
	MaxTemp          float64
	MovingAvg3Day    float64
	ReadingCount     int
	WeatherCondition *string  // nil when no weather observation matched
	WeatherAvgTemp   *float64 // nil when no weather observation matched
	QualityFlag      string
	CreatedAt        time.Time
}

// Abnormal reports whether the row was classified above the quality threshold.
func (d DailySummary) Abnormal() bool {
	return d.QualityFlag == QualityAbnormal
}

// Stats counts rows at each aggregation stage for run diagnostics.
type Stats struct {
	ReadingsIn       int // readings handed to the engine
	ReadingsInWindow int // readings surviving the window filter
	UnknownSensor    int // readings dropped for missing directory entries
	Groups           int // (location, date) groups emitted
}
