package extract

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSensors(t *testing.T) {
	path := writeFile(t, "sensors.csv", "sensor_id,location\n1,Room101\n2,Server_Room\n")

	res, err := Sensors(path, discard())
	if err != nil {
		t.Fatalf("Sensors: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
	if res.Rows[0].SensorID != 1 || res.Rows[0].Location != "Room101" {
		t.Errorf("row 0 = %+v", res.Rows[0])
	}
	if res.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", res.Skipped)
	}
}

func TestSensors_HeaderOrderIndependent(t *testing.T) {
	path := writeFile(t, "sensors.csv", "Location,Sensor_ID\nLobby,7\n")

	res, err := Sensors(path, discard())
	if err != nil {
		t.Fatalf("Sensors: %v", err)
	}
	if res.Rows[0].SensorID != 7 || res.Rows[0].Location != "Lobby" {
		t.Errorf("row = %+v", res.Rows[0])
	}
}

func TestSensors_MissingColumn(t *testing.T) {
	path := writeFile(t, "sensors.csv", "sensor_id\n1\n")
	if _, err := Sensors(path, discard()); err == nil {
		t.Fatal("expected error for missing location column")
	}
}

func TestReadings(t *testing.T) {
	path := writeFile(t, "readings.csv",
		"reading_id,sensor_id,temperature,timestamp\n"+
			"1,1,20.5,2024-01-01 10:00:00\n"+
			"2,1,-3.25,2024-01-01T14:30:00\n"+
			"3,2,22.0,2024-01-02T09:00:00Z\n")

	res, err := Readings(path, discard())
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(res.Rows))
	}

	r := res.Rows[0]
	if r.ReadingID != 1 || r.SensorID != 1 || r.Temperature != 20.5 {
		t.Errorf("row 0 = %+v", r)
	}
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
	}
	if res.Rows[1].Temperature != -3.25 {
		t.Errorf("negative temperature = %v", res.Rows[1].Temperature)
	}
}

func TestReadings_SkipsMalformedLines(t *testing.T) {
	path := writeFile(t, "readings.csv",
		"reading_id,sensor_id,temperature,timestamp\n"+
			"1,1,20.5,2024-01-01 10:00:00\n"+
			"2,1,not-a-number,2024-01-01 11:00:00\n"+
			"3,1,21.0,garbage-timestamp\n"+
			"4,1,21.5,2024-01-01 12:00:00\n")

	res, err := Readings(path, discard())
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("got %d rows, want 2", len(res.Rows))
	}
	if res.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", res.Skipped)
	}
}

func TestWeather(t *testing.T) {
	path := writeFile(t, "weather.csv",
		"date,location,condition,avg_temp\n"+
			"2024-01-01,Room101,Sunny,24.0\n"+
			"2024-01-02,Room101,Rainy,18.5\n")

	res, err := Weather(path, discard())
	if err != nil {
		t.Fatalf("Weather: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}

	w := res.Rows[0]
	if w.Location != "Room101" || w.Condition != "Sunny" || w.AvgTemp != 24.0 {
		t.Errorf("row 0 = %+v", w)
	}
	if !w.Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", w.Date)
	}
}

func TestWeather_BadDateSkipped(t *testing.T) {
	path := writeFile(t, "weather.csv",
		"date,location,condition,avg_temp\n"+
			"01/02/2024,Room101,Sunny,24.0\n"+
			"2024-01-02,Room101,Rainy,18.5\n")

	res, err := Weather(path, discard())
	if err != nil {
		t.Fatalf("Weather: %v", err)
	}
	if len(res.Rows) != 1 || res.Skipped != 1 {
		t.Errorf("rows = %d skipped = %d, want 1/1", len(res.Rows), res.Skipped)
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Sensors(filepath.Join(t.TempDir(), "nope.csv"), discard()); err == nil {
		t.Fatal("expected error for missing file")
	}
}
