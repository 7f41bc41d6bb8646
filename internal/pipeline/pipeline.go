// Package pipeline orchestrates a full ETL run: staging CSV inputs,
// aggregating daily summaries, validating them, and publishing to the
// summary table. Each run walks a fixed sequence of stages and records a
// report the API exposes afterwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sensoretl/internal/alert"
	"sensoretl/internal/engine"
	"sensoretl/internal/extract"
	"sensoretl/internal/store"
)

// Stage names, in execution order.
const (
	StageCreateTargets = "CREATE_TARGETS"
	StageLoadInputs    = "LOAD_INPUTS"
	StageAggregate     = "AGGREGATE"
	StageValidate      = "VALIDATE"
	StagePublish       = "PUBLISH"
)

// Run states.
const (
	StateRunning = "RUNNING"
	StateDone    = "DONE"
	StateFailed  = "FAILED"
)

// Options configures a single run.
type Options struct {
	Mode   engine.Mode
	Window engine.Window // required for incremental, ignored for full-refresh

	SensorsPath  string
	ReadingsPath string
	WeatherPath  string
}

// StageReport records one stage's outcome.
type StageReport struct {
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Report is the full record of one run.
type Report struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	WindowStart *time.Time    `json:"window_start,omitempty"`
	WindowEnd   *time.Time    `json:"window_end,omitempty"`
	State       string        `json:"state"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Stages      []StageReport `json:"stages"`

	SensorsLoaded  int `json:"sensors_loaded"`
	ReadingsLoaded int `json:"readings_loaded"`
	WeatherLoaded  int `json:"weather_loaded"`
	RowsSkipped    int `json:"rows_skipped"`
	UnknownSensor  int `json:"unknown_sensor"`
	RowsPublished  int `json:"rows_published"`
	AlertsRaised   int `json:"alerts_raised"`

	Error string `json:"error,omitempty"`
}

// Runner executes pipeline runs against one store and keeps a bounded
// history of reports.
type Runner struct {
	store    store.Store
	notifier alert.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	history []*Report
}

const historyLimit = 50

// NewRunner creates a runner. notifier may be nil when alert delivery is
// not wanted (tests, one-off CLI runs with --no-alerts).
func NewRunner(s store.Store, notifier alert.Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		store:    s,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ErrRunInProgress is returned when a run is requested while another is
// still executing. Runs are serialized; concurrent publishes would race on
// the summary table.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Run executes the stage sequence and returns the report. The report is
// recorded in history whether the run succeeds or fails.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	rep := &Report{
		RunID:     uuid.NewString(),
		Mode:      opts.Mode.String(),
		State:     StateRunning,
		StartedAt: r.now(),
	}
	if opts.Mode == engine.Incremental {
		ws, we := opts.Window.Start, opts.Window.End
		rep.WindowStart, rep.WindowEnd = &ws, &we
	}

	logger := r.logger.With("run_id", rep.RunID, "mode", rep.Mode)
	logger.Info("pipeline run starting")

	err := r.execute(ctx, opts, rep, logger)

	rep.FinishedAt = r.now()
	if err != nil {
		rep.State = StateFailed
		rep.Error = err.Error()
		logger.Error("pipeline run failed", "error", err, "duration", rep.FinishedAt.Sub(rep.StartedAt))
	} else {
		rep.State = StateDone
		logger.Info("pipeline run finished",
			"rows_published", rep.RowsPublished,
			"alerts", rep.AlertsRaised,
			"duration", rep.FinishedAt.Sub(rep.StartedAt),
		)
	}

	r.mu.Lock()
	r.history = append(r.history, rep)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
	r.mu.Unlock()

	return rep, err
}

func (r *Runner) execute(ctx context.Context, opts Options, rep *Report, logger *slog.Logger) error {
	// CREATE_TARGETS: migrations already ran when the store was opened;
	// this stage verifies the target tables answer before any loading.
	err := r.stage(rep, StageCreateTargets, logger, func() error {
		if _, err := r.store.Counts(ctx); err != nil {
			return fmt.Errorf("target tables unavailable: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// LOAD_INPUTS: stage the CSV landing zone.
	err = r.stage(rep, StageLoadInputs, logger, func() error {
		sensors, err := extract.Sensors(opts.SensorsPath, logger)
		if err != nil {
			return err
		}
		readings, err := extract.Readings(opts.ReadingsPath, logger)
		if err != nil {
			return err
		}
		weather, err := extract.Weather(opts.WeatherPath, logger)
		if err != nil {
			return err
		}

		if err := r.store.ReplaceSensors(ctx, sensors.Rows); err != nil {
			return err
		}
		if err := r.store.LoadReadings(ctx, readings.Rows, opts.Mode == engine.FullRefresh); err != nil {
			return err
		}
		if err := r.store.ReplaceWeather(ctx, weather.Rows); err != nil {
			return err
		}

		rep.SensorsLoaded = len(sensors.Rows)
		rep.ReadingsLoaded = len(readings.Rows)
		rep.WeatherLoaded = len(weather.Rows)
		rep.RowsSkipped = sensors.Skipped + readings.Skipped + weather.Skipped
		logger.Info("inputs staged",
			"sensors", rep.SensorsLoaded,
			"readings", rep.ReadingsLoaded,
			"weather", rep.WeatherLoaded,
			"skipped", rep.RowsSkipped,
		)
		return nil
	})
	if err != nil {
		return err
	}

	// AGGREGATE: pull the run's scope back out of staging and compute
	// summaries. Incremental reads only the window; full-refresh reads all.
	var rows []engine.DailySummary
	err = r.stage(rep, StageAggregate, logger, func() error {
		var start, end time.Time
		if opts.Mode == engine.Incremental {
			start, end = opts.Window.Start, opts.Window.End
		}
		readings, err := r.store.GetReadings(ctx, start, end)
		if err != nil {
			return err
		}
		sensors, err := r.store.GetSensors(ctx)
		if err != nil {
			return err
		}
		weather, err := r.store.GetWeather(ctx)
		if err != nil {
			return err
		}

		var stats engine.Stats
		rows, stats, err = engine.Aggregate(engine.Input{
			Readings: readings,
			Sensors:  sensors,
			Weather:  weather,
			Window:   opts.Window,
			Mode:     opts.Mode,
			Now:      r.now(),
		})
		if err != nil {
			return err
		}
		rep.UnknownSensor = stats.UnknownSensor
		if stats.UnknownSensor > 0 {
			logger.Warn("dropped readings with unknown sensors", "count", stats.UnknownSensor)
		}
		logger.Info("aggregation complete", "groups", stats.Groups, "readings_in_window", stats.ReadingsInWindow)
		return nil
	})
	if err != nil {
		return err
	}

	// VALIDATE: quality gate before anything is published.
	err = r.stage(rep, StageValidate, logger, func() error {
		return engine.Validate(rows)
	})
	if err != nil {
		return err
	}

	// PUBLISH: write summaries, then deliver alerts for abnormal rows.
	return r.stage(rep, StagePublish, logger, func() error {
		if opts.Mode == engine.FullRefresh {
			if err := r.store.ReplaceSummaries(ctx, rows); err != nil {
				return err
			}
		} else {
			if err := r.store.ReplacePartitions(ctx, rows); err != nil {
				return err
			}
		}
		rep.RowsPublished = len(rows)

		var alerts []alert.Alert
		for _, row := range rows {
			if row.Abnormal() {
				alerts = append(alerts, alert.Alert{
					Location: row.Location,
					Date:     row.Date,
					MaxTemp:  row.MaxTemp,
				})
			}
		}
		rep.AlertsRaised = len(alerts)
		if len(alerts) > 0 && r.notifier != nil {
			// Alert delivery failures never fail a published run.
			if err := r.notifier.Notify(ctx, alerts); err != nil {
				logger.Error("alert delivery failed", "error", err)
			}
		}
		return nil
	})
}

// stage runs fn, timing it and recording the outcome on the report.
func (r *Runner) stage(rep *Report, name string, logger *slog.Logger, fn func() error) error {
	sr := StageReport{Name: name, StartedAt: r.now()}
	logger.Debug("stage starting", "stage", name)

	err := fn()
	sr.FinishedAt = r.now()
	if err != nil {
		sr.Error = err.Error()
	}
	rep.Stages = append(rep.Stages, sr)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// History returns recorded run reports, newest first.
func (r *Runner) History() []*Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Report, len(r.history))
	for i, rep := range r.history {
		out[len(r.history)-1-i] = rep
	}
	return out
}

// LastReport returns the most recent run report, or nil when no run has
// executed yet.
func (r *Runner) LastReport() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return nil
	}
	return r.history[len(r.history)-1]
}
