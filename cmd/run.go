package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sensoretl/internal/alert"
	"sensoretl/internal/config"
	"sensoretl/internal/engine"
	"sensoretl/internal/pipeline"
	"sensoretl/internal/store"
)

var (
	runMode     string
	runDate     string
	runStart    string
	runEnd      string
	runNoAlerts bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and exit",
	Long: `Run executes the full pipeline once: stage the CSV inputs, aggregate
daily summaries, validate them, and publish.

Incremental runs cover a half-open window [start, end) and rewrite only the
date partitions inside it; full-refresh runs reprocess everything and replace
the whole summary table.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "incremental", "run mode (incremental or full-refresh)")
	runCmd.Flags().StringVar(&runDate, "date", "", "single day to process (YYYY-MM-DD, incremental only)")
	runCmd.Flags().StringVar(&runStart, "start", "", "window start (YYYY-MM-DD, inclusive)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "window end (YYYY-MM-DD, exclusive)")
	runCmd.Flags().BoolVar(&runNoAlerts, "no-alerts", false, "skip alert delivery")
	rootCmd.AddCommand(runCmd)
}

// openStore opens the configured storage backend, running migrations.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN())
	case "postgres":
		return store.NewPostgresStore(cfg.DSN())
	}
	return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
}

// buildNotifier assembles the alert fan-out from config. extra notifiers
// (the API broadcaster in serve mode) are appended.
func buildNotifier(cfg *config.Config, logger *slog.Logger, extra ...alert.Notifier) alert.Notifier {
	notifiers := []alert.Notifier{&alert.LogNotifier{Logger: logger}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.Alerts.WebhookURL, logger))
	}
	notifiers = append(notifiers, extra...)
	return &alert.Fanout{Notifiers: notifiers, Logger: logger}
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		SensorsPath:  cfg.SensorsPath(),
		ReadingsPath: cfg.ReadingsPath(),
		WeatherPath:  cfg.WeatherPath(),
	}
}

func parseRunWindow() (engine.Window, error) {
	if runDate != "" {
		if runStart != "" || runEnd != "" {
			return engine.Window{}, fmt.Errorf("--date and --start/--end are mutually exclusive")
		}
		date, err := time.Parse(time.DateOnly, runDate)
		if err != nil {
			return engine.Window{}, fmt.Errorf("invalid --date: %w", err)
		}
		return engine.Day(date.UTC()), nil
	}

	if runStart == "" || runEnd == "" {
		return engine.Window{}, fmt.Errorf("incremental runs need --date or both --start and --end")
	}
	start, err := time.Parse(time.DateOnly, runStart)
	if err != nil {
		return engine.Window{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, runEnd)
	if err != nil {
		return engine.Window{}, fmt.Errorf("invalid --end: %w", err)
	}
	return engine.Window{Start: start.UTC(), End: end.UTC()}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogFormat)

	mode, err := engine.ParseMode(runMode)
	if err != nil {
		return err
	}

	opts := pipelineOptions(cfg)
	opts.Mode = mode
	if mode == engine.Incremental {
		if opts.Window, err = parseRunWindow(); err != nil {
			return err
		}
	} else if runDate != "" || runStart != "" || runEnd != "" {
		slog.Warn("window flags are ignored in full-refresh mode")
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	var notifier alert.Notifier
	if !runNoAlerts {
		notifier = buildNotifier(cfg, slog.Default())
	}
	runner := pipeline.NewRunner(s, notifier, slog.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s\n", rep.RunID, rep.State)
	fmt.Printf("  published: %d rows\n", rep.RowsPublished)
	if rep.UnknownSensor > 0 {
		fmt.Printf("  dropped (unknown sensor): %d readings\n", rep.UnknownSensor)
	}
	if rep.RowsSkipped > 0 {
		fmt.Printf("  skipped (malformed): %d lines\n", rep.RowsSkipped)
	}
	if rep.AlertsRaised > 0 {
		fmt.Printf("  alerts: %d abnormal location-days\n", rep.AlertsRaised)
	}
	return nil
}
