// Package gen produces synthetic CSV inputs for local runs and demos.
// Temperatures follow a sinusoidal daily curve per location with random
// noise and a cooler weekend offset.
package gen

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Params controls the size and shape of the generated data set.
type Params struct {
	Sensors         int
	Days            int
	ReadingsPerHour int
	Start           time.Time // first day, midnight UTC
	Seed            int64
}

// Defaults fills zero fields with sensible demo values.
func (p *Params) Defaults() {
	if p.Sensors == 0 {
		p.Sensors = 50
	}
	if p.Days == 0 {
		p.Days = 7
	}
	if p.ReadingsPerHour == 0 {
		p.ReadingsPerHour = 2
	}
	if p.Start.IsZero() {
		p.Start = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	}
	if p.Seed == 0 {
		p.Seed = 1
	}
}

var locations = []string{
	"Room101", "Room102", "Room201", "Room202", "Room301", "Room302",
	"Lobby", "Kitchen", "Conference_Room", "Server_Room", "Storage",
	"Meeting_Room_A", "Meeting_Room_B", "Executive_Suite", "Break_Room",
	"IT_Department", "HR_Department", "Finance_Department", "Reception",
	"Archive_Room", "Training_Room", "Cafeteria", "Library", "Lab_A", "Lab_B",
}

// baseTemps overrides the 22.0 default for locations with distinct climates.
var baseTemps = map[string]float64{
	"Server_Room":     18.0,
	"Kitchen":         26.0,
	"Conference_Room": 22.0,
	"Lobby":           21.0,
	"Storage":         20.0,
}

// Files writes sensors.csv, sensor_readings.csv, and weather_data.csv into
// dir. Generation is deterministic for a given seed.
func Files(dir string, p Params, logger *slog.Logger) error {
	p.Defaults()
	rng := rand.New(rand.NewSource(p.Seed))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	sensorLocs := make([]string, p.Sensors+1) // 1-indexed by sensor_id
	for i := 1; i <= p.Sensors; i++ {
		sensorLocs[i] = locations[rng.Intn(len(locations))]
	}

	if err := writeSensors(filepath.Join(dir, "sensors.csv"), sensorLocs); err != nil {
		return err
	}
	readingCount, err := writeReadings(filepath.Join(dir, "sensor_readings.csv"), sensorLocs, p, rng)
	if err != nil {
		return err
	}
	weatherCount, err := writeWeather(filepath.Join(dir, "weather_data.csv"), sensorLocs, p, rng)
	if err != nil {
		return err
	}

	logger.Info("generated data set",
		"dir", dir,
		"sensors", p.Sensors,
		"readings", readingCount,
		"weather_rows", weatherCount,
		"days", p.Days,
	)
	return nil
}

func writeSensors(path string, sensorLocs []string) error {
	return writeCSV(path, []string{"sensor_id", "location"}, func(w *csv.Writer) error {
		for id := 1; id < len(sensorLocs); id++ {
			if err := w.Write([]string{strconv.Itoa(id), sensorLocs[id]}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeReadings(path string, sensorLocs []string, p Params, rng *rand.Rand) (int, error) {
	count := 0
	err := writeCSV(path, []string{"reading_id", "sensor_id", "temperature", "timestamp"}, func(w *csv.Writer) error {
		readingID := int64(1)
		for day := 0; day < p.Days; day++ {
			date := p.Start.AddDate(0, 0, day)
			weekend := date.Weekday() == time.Saturday || date.Weekday() == time.Sunday
			for hour := 0; hour < 24; hour++ {
				for n := 0; n < p.ReadingsPerHour; n++ {
					ts := date.Add(time.Duration(hour)*time.Hour +
						time.Duration(rng.Intn(60))*time.Minute +
						time.Duration(rng.Intn(60))*time.Second)

					sensorID := 1 + rng.Intn(len(sensorLocs)-1)
					temp := temperature(sensorLocs[sensorID], hour, weekend, rng)

					if err := w.Write([]string{
						strconv.FormatInt(readingID, 10),
						strconv.Itoa(sensorID),
						strconv.FormatFloat(temp, 'f', 1, 64),
						ts.Format(time.RFC3339),
					}); err != nil {
						return err
					}
					readingID++
					count++
				}
			}
		}
		return nil
	})
	return count, err
}

// temperature models a daily curve peaking mid-afternoon, with noise and a
// cooler weekend offset.
func temperature(location string, hour int, weekend bool, rng *rand.Rand) float64 {
	base, ok := baseTemps[location]
	if !ok {
		base = 22.0
	}
	daily := 2 * math.Sin(float64(hour-6)*math.Pi/12)
	noise := rng.NormFloat64() * 0.5
	if weekend {
		base += rng.NormFloat64()*0.3 - 1
	}
	return math.Round((base+daily+noise)*10) / 10
}

func writeWeather(path string, sensorLocs []string, p Params, rng *rand.Rand) (int, error) {
	// One weather row per (location, date) so the summary join always has
	// a candidate. Distinct locations only.
	seen := make(map[string]bool)
	var locs []string
	for _, loc := range sensorLocs[1:] {
		if !seen[loc] {
			seen[loc] = true
			locs = append(locs, loc)
		}
	}

	count := 0
	err := writeCSV(path, []string{"date", "location", "condition", "avg_temp"}, func(w *csv.Writer) error {
		for day := 0; day < p.Days; day++ {
			date := p.Start.AddDate(0, 0, day)
			// Seasonal outdoor baseline shared by all locations that day.
			seasonal := 25 + 5*math.Sin(float64(day-80)*2*math.Pi/365)
			for _, loc := range locs {
				high := seasonal + rng.NormFloat64() + 3
				low := seasonal + rng.NormFloat64() - 3
				humidity := 60 + rng.NormFloat64()*15

				condition := "Normal"
				switch {
				case high-low > 8 && humidity > 70:
					condition = "Rainy"
				case high > 30:
					condition = "Hot"
				case low < 15:
					condition = "Cold"
				}

				avg := math.Round((high+low)/2*10) / 10
				if err := w.Write([]string{
					date.Format(time.DateOnly),
					loc,
					condition,
					strconv.FormatFloat(avg, 'f', 1, 64),
				}); err != nil {
					return err
				}
				count++
			}
		}
		return nil
	})
	return count, err
}

func writeCSV(path string, header []string, body func(w *csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header of %s: %w", path, err)
	}
	if err := body(w); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}
