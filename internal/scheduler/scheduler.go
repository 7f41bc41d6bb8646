// Package scheduler runs the daily incremental pipeline job in serve mode.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"sensoretl/internal/engine"
	"sensoretl/internal/pipeline"
)

// Scheduler triggers one incremental run per day covering yesterday's
// readings.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    *pipeline.Runner
	opts      pipeline.Options
	logger    *slog.Logger
	hour      int
	minute    int
}

// New creates a scheduler that fires daily at hour:minute UTC. opts supplies
// the input paths; mode and window are set per trigger.
func New(runner *pipeline.Runner, opts pipeline.Options, hour, minute int, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	// A trigger that lands while a run is executing waits instead of stacking.
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		opts:      opts,
		logger:    logger,
		hour:      hour,
		minute:    minute,
	}
}

// Start schedules the daily job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	at := fmt.Sprintf("%02d:%02d", s.hour, s.minute)
	_, err := s.scheduler.Every(1).Day().At(at).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling daily run: %w", err)
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "at", at+" UTC")
	return nil
}

// runOnce executes an incremental run for yesterday's date partition.
func (s *Scheduler) runOnce(ctx context.Context) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	opts := s.opts
	opts.Mode = engine.Incremental
	opts.Window = engine.Day(yesterday)

	s.logger.Info("scheduled run starting",
		"window_start", opts.Window.Start.Format(time.DateOnly),
		"window_end", opts.Window.End.Format(time.DateOnly),
	)
	if _, err := s.runner.Run(ctx, opts); err != nil {
		// Empty windows are routine when a landing zone has no fresh
		// files yet; anything else is a real failure.
		if errors.Is(err, engine.ErrEmptyInput) {
			s.logger.Warn("scheduled run found no readings in window")
			return
		}
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
