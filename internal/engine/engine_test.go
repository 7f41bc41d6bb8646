package engine

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

func testSensors() []Sensor {
	return []Sensor{
		{SensorID: 1, Location: "Loc1"},
		{SensorID: 2, Location: "Loc2"},
	}
}

func fullWindow() Window {
	return Window{Start: day(2024, 1, 1), End: day(2024, 2, 1)}
}

func findRow(t *testing.T, rows []DailySummary, location string, date time.Time) DailySummary {
	t.Helper()
	for _, r := range rows {
		if r.Location == location && r.Date.Equal(date) {
			return r
		}
	}
	t.Fatalf("no row for %s on %s", location, date.Format(time.DateOnly))
	return DailySummary{}
}

func TestAggregate_SingleGroup(t *testing.T) {
	// Two readings, one location-day: mean 25.0, max 30.0 → ABNORMAL.
	in := Input{
		Readings: []Reading{
			{ReadingID: 1, SensorID: 1, Temperature: 20.0, Timestamp: at(2024, 1, 1, 10)},
			{ReadingID: 2, SensorID: 1, Temperature: 30.0, Timestamp: at(2024, 1, 1, 14)},
		},
		Sensors: testSensors(),
		Weather: []WeatherObservation{
			{Location: "Loc1", Date: day(2024, 1, 1), Condition: "Sunny", AvgTemp: 24.0},
		},
		Window: fullWindow(),
		Mode:   Incremental,
	}

	rows, stats, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	r := rows[0]
	if r.Location != "Loc1" || !r.Date.Equal(day(2024, 1, 1)) {
		t.Errorf("row key = %s/%s", r.Location, r.Date.Format(time.DateOnly))
	}
	if r.AvgTemp != 25.0 {
		t.Errorf("avg_temp = %v, want 25.0", r.AvgTemp)
	}
	if r.MinTemp != 20.0 {
		t.Errorf("min_temp = %v, want 20.0", r.MinTemp)
	}
	if r.MaxTemp != 30.0 {
		t.Errorf("max_temp = %v, want 30.0", r.MaxTemp)
	}
	if r.ReadingCount != 2 {
		t.Errorf("reading_count = %d, want 2", r.ReadingCount)
	}
	if r.QualityFlag != QualityAbnormal {
		t.Errorf("quality_flag = %q, want ABNORMAL", r.QualityFlag)
	}
	if r.WeatherCondition == nil || *r.WeatherCondition != "Sunny" {
		t.Errorf("weather_condition = %v, want Sunny", r.WeatherCondition)
	}
	if r.WeatherAvgTemp == nil || *r.WeatherAvgTemp != 24.0 {
		t.Errorf("weather_avg_temp = %v, want 24.0", r.WeatherAvgTemp)
	}
	if stats.Groups != 1 || stats.ReadingsInWindow != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	_, _, err := Aggregate(Input{
		Sensors: testSensors(),
		Window:  fullWindow(),
		Mode:    Incremental,
	})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestAggregate_WindowFiltersToEmpty(t *testing.T) {
	in := Input{
		Readings: []Reading{
			{SensorID: 1, Temperature: 20.0, Timestamp: at(2024, 3, 1, 10)},
		},
		Sensors: testSensors(),
		Window:  Window{Start: day(2024, 1, 1), End: day(2024, 1, 2)},
		Mode:    Incremental,
	}
	_, _, err := Aggregate(in)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestAggregate_BadWindow(t *testing.T) {
	in := Input{
		Readings: []Reading{{SensorID: 1, Temperature: 20.0, Timestamp: at(2024, 1, 1, 10)}},
		Sensors:  testSensors(),
		Window:   Window{Start: day(2024, 1, 2), End: day(2024, 1, 1)},
		Mode:     Incremental,
	}
	_, _, err := Aggregate(in)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestAggregate_FullRefreshIgnoresWindow(t *testing.T) {
	// Full refresh takes all readings; the zero window must not reject them.
	in := Input{
		Readings: []Reading{
			{SensorID: 1, Temperature: 21.0, Timestamp: at(2024, 1, 1, 9)},
			{SensorID: 1, Temperature: 22.0, Timestamp: at(2024, 6, 1, 9)},
		},
		Sensors: testSensors(),
		Mode:    FullRefresh,
	}
	rows, _, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestAggregate_UnknownSensorDropped(t *testing.T) {
	in := Input{
		Readings: []Reading{
			{SensorID: 1, Temperature: 20.0, Timestamp: at(2024, 1, 1, 10)},
			{SensorID: 99, Temperature: 50.0, Timestamp: at(2024, 1, 1, 11)},
		},
		Sensors: testSensors(),
		Window:  fullWindow(),
		Mode:    Incremental,
	}
	rows, stats, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].MaxTemp != 20.0 {
		t.Errorf("unknown sensor leaked into aggregates: max_temp = %v", rows[0].MaxTemp)
	}
	if stats.UnknownSensor != 1 {
		t.Errorf("unknown_sensor count = %d, want 1", stats.UnknownSensor)
	}
}

func TestAggregate_AllSensorsUnknown(t *testing.T) {
	in := Input{
		Readings: []Reading{
			{SensorID: 99, Temperature: 20.0, Timestamp: at(2024, 1, 1, 10)},
		},
		Sensors: testSensors(),
		Window:  fullWindow(),
		Mode:    Incremental,
	}
	_, _, err := Aggregate(in)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
}

func TestAggregate_ClassificationBoundary(t *testing.T) {
	tests := []struct {
		temp string
		max  float64
		want string
	}{
		{"exactly 25.00", 25.00, QualityNormal},
		{"25.01", 25.01, QualityAbnormal},
		{"rounds down to 25.00", 25.004, QualityNormal},
		{"rounds up past threshold", 25.005, QualityAbnormal},
	}
	for _, tt := range tests {
		t.Run(tt.temp, func(t *testing.T) {
			in := Input{
				Readings: []Reading{{SensorID: 1, Temperature: tt.max, Timestamp: at(2024, 1, 1, 10)}},
				Sensors:  testSensors(),
				Window:   fullWindow(),
				Mode:     Incremental,
			}
			rows, _, err := Aggregate(in)
			if err != nil {
				t.Fatalf("Aggregate: %v", err)
			}
			if rows[0].QualityFlag != tt.want {
				t.Errorf("quality_flag = %q, want %q (max_temp %v)", rows[0].QualityFlag, tt.want, rows[0].MaxTemp)
			}
		})
	}
}

func TestAggregate_MovingAverageWindow(t *testing.T) {
	// Four consecutive dates with avg temps 10, 20, 30, 40. The 3-row window
	// slides over present dates: D3 averages D1..D3, D4 averages D2..D4.
	var readings []Reading
	for i, temp := range []float64{10, 20, 30, 40} {
		readings = append(readings, Reading{
			SensorID:    1,
			Temperature: temp,
			Timestamp:   at(2024, 1, 1+i, 12),
		})
	}
	rows, _, err := Aggregate(Input{
		Readings: readings,
		Sensors:  testSensors(),
		Window:   fullWindow(),
		Mode:     Incremental,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}

	want := []float64{10, 15, 20, 30}
	for i, w := range want {
		if rows[i].MovingAvg3Day != w {
			t.Errorf("moving_avg_3day[%d] = %v, want %v", i, rows[i].MovingAvg3Day, w)
		}
	}
}

func TestAggregate_MovingAverageSkipsCalendarGaps(t *testing.T) {
	// Dates Jan 1, Jan 5, Jan 9: the window is over rows present in the
	// result set, so Jan 9 averages all three despite the calendar gaps.
	readings := []Reading{
		{SensorID: 1, Temperature: 10, Timestamp: at(2024, 1, 1, 12)},
		{SensorID: 1, Temperature: 20, Timestamp: at(2024, 1, 5, 12)},
		{SensorID: 1, Temperature: 30, Timestamp: at(2024, 1, 9, 12)},
	}
	rows, _, err := Aggregate(Input{
		Readings: readings,
		Sensors:  testSensors(),
		Window:   fullWindow(),
		Mode:     Incremental,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got := rows[2].MovingAvg3Day; got != 20.0 {
		t.Errorf("moving_avg_3day on gapped date = %v, want 20.0", got)
	}
}

func TestAggregate_MovingAverageResetsPerLocation(t *testing.T) {
	readings := []Reading{
		{SensorID: 1, Temperature: 10, Timestamp: at(2024, 1, 1, 12)},
		{SensorID: 1, Temperature: 20, Timestamp: at(2024, 1, 2, 12)},
		{SensorID: 2, Temperature: 40, Timestamp: at(2024, 1, 3, 12)},
	}
	rows, _, err := Aggregate(Input{
		Readings: readings,
		Sensors:  testSensors(),
		Window:   fullWindow(),
		Mode:     Incremental,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	loc2 := findRow(t, rows, "Loc2", day(2024, 1, 3))
	if loc2.MovingAvg3Day != 40.0 {
		t.Errorf("Loc2 moving average = %v, want 40.0 (must not bleed from Loc1)", loc2.MovingAvg3Day)
	}
}

func TestAggregate_UnmatchedWeatherIsNull(t *testing.T) {
	in := Input{
		Readings: []Reading{{SensorID: 1, Temperature: 20.0, Timestamp: at(2024, 1, 1, 10)}},
		Sensors:  testSensors(),
		Weather: []WeatherObservation{
			{Location: "Loc2", Date: day(2024, 1, 1), Condition: "Rainy", AvgTemp: 18.0},
		},
		Window: fullWindow(),
		Mode:   Incremental,
	}
	rows, _, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if rows[0].WeatherCondition != nil {
		t.Errorf("weather_condition = %v, want nil for unmatched group", *rows[0].WeatherCondition)
	}
	if rows[0].WeatherAvgTemp != nil {
		t.Errorf("weather_avg_temp = %v, want nil for unmatched group", *rows[0].WeatherAvgTemp)
	}
}

func TestAggregate_Rounding(t *testing.T) {
	// Three readings averaging to 20.116666... must round half away from
	// zero to 20.12.
	in := Input{
		Readings: []Reading{
			{SensorID: 1, Temperature: 20.10, Timestamp: at(2024, 1, 1, 8)},
			{SensorID: 1, Temperature: 20.12, Timestamp: at(2024, 1, 1, 9)},
			{SensorID: 1, Temperature: 20.13, Timestamp: at(2024, 1, 1, 10)},
		},
		Sensors: testSensors(),
		Window:  fullWindow(),
		Mode:    Incremental,
	}
	rows, _, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if rows[0].AvgTemp != 20.12 {
		t.Errorf("avg_temp = %v, want 20.12", rows[0].AvgTemp)
	}
}

func TestAggregate_ReadingCountAtLeastOne(t *testing.T) {
	// Groups only exist for readings, so every row must carry count >= 1.
	var readings []Reading
	for i := 0; i < 50; i++ {
		readings = append(readings, Reading{
			SensorID:    1 + i%2,
			Temperature: 15.0 + float64(i%10),
			Timestamp:   at(2024, 1, 1+i%7, i%24),
		})
	}
	rows, _, err := Aggregate(Input{
		Readings: readings,
		Sensors:  testSensors(),
		Window:   fullWindow(),
		Mode:     Incremental,
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for _, r := range rows {
		if r.ReadingCount < 1 {
			t.Errorf("%s/%s: reading_count = %d", r.Location, r.Date.Format(time.DateOnly), r.ReadingCount)
		}
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	// Full refresh over identical input yields identical rows apart from
	// CreatedAt, which is pinned here via Now.
	stamp := at(2024, 2, 1, 0)
	in := Input{
		Readings: []Reading{
			{SensorID: 1, Temperature: 21.5, Timestamp: at(2024, 1, 1, 10)},
			{SensorID: 2, Temperature: 19.25, Timestamp: at(2024, 1, 2, 10)},
			{SensorID: 1, Temperature: 26.0, Timestamp: at(2024, 1, 2, 11)},
		},
		Sensors: testSensors(),
		Mode:    FullRefresh,
		Now:     stamp,
	}

	first, _, err := Aggregate(in)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, _, err := Aggregate(in)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("row counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Location != b.Location || !a.Date.Equal(b.Date) ||
			a.AvgTemp != b.AvgTemp || a.MinTemp != b.MinTemp || a.MaxTemp != b.MaxTemp ||
			a.MovingAvg3Day != b.MovingAvg3Day || a.ReadingCount != b.ReadingCount ||
			a.QualityFlag != b.QualityFlag {
			t.Errorf("row %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}

func TestAggregate_WindowBoundaries(t *testing.T) {
	// [start, end): the start instant is included, the end instant is not.
	w := Window{Start: day(2024, 1, 1), End: day(2024, 1, 2)}
	in := Input{
		Readings: []Reading{
			{SensorID: 1, Temperature: 20.0, Timestamp: w.Start},
			{SensorID: 1, Temperature: 99.0, Timestamp: w.End},
		},
		Sensors: testSensors(),
		Window:  w,
		Mode:    Incremental,
	}
	rows, _, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(rows) != 1 || rows[0].ReadingCount != 1 {
		t.Fatalf("rows = %+v, want single row with one reading", rows)
	}
	if rows[0].MaxTemp != 20.0 {
		t.Errorf("end-exclusive reading leaked in: max_temp = %v", rows[0].MaxTemp)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("incremental"); err != nil || m != Incremental {
		t.Errorf("ParseMode(incremental) = %v, %v", m, err)
	}
	if m, err := ParseMode("full-refresh"); err != nil || m != FullRefresh {
		t.Errorf("ParseMode(full-refresh) = %v, %v", m, err)
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Error("ParseMode(bogus) should fail")
	}
}

func TestValidate(t *testing.T) {
	cond := "Sunny"
	valid := []DailySummary{
		{Location: "Loc1", Date: day(2024, 1, 1), WeatherCondition: &cond},
	}
	if err := Validate(valid); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}

	var vErr *ValidationError
	if err := Validate(nil); !errors.As(err, &vErr) {
		t.Errorf("Validate(empty) = %v, want *ValidationError", err)
	}

	gap := []DailySummary{
		{Location: "Loc1", Date: day(2024, 1, 1), WeatherCondition: &cond},
		{Location: "Loc2", Date: day(2024, 1, 1)},
	}
	err := Validate(gap)
	if !errors.As(err, &vErr) {
		t.Fatalf("Validate(gap) = %v, want *ValidationError", err)
	}
	if len(vErr.Problems) != 1 {
		t.Errorf("problems = %v, want exactly the Loc2 gap", vErr.Problems)
	}
}
