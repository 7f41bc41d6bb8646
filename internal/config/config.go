package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for sensoretl.
type Config struct {
	ListenAddr string         `mapstructure:"listen_addr"`
	LogFormat  string         `mapstructure:"log_format"`
	Storage    StorageConfig  `mapstructure:"storage"`
	Data       DataConfig     `mapstructure:"data"`
	Schedule   ScheduleConfig `mapstructure:"schedule"`
	Alerts     AlertsConfig   `mapstructure:"alerts"`
}

// StorageConfig defines the database backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL-specific configuration.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DataConfig points at the CSV landing zone. The per-file names are
// resolved relative to Dir unless they are absolute.
type DataConfig struct {
	Dir          string `mapstructure:"dir"`
	SensorsFile  string `mapstructure:"sensors_file"`
	ReadingsFile string `mapstructure:"readings_file"`
	WeatherFile  string `mapstructure:"weather_file"`
}

// ScheduleConfig controls the daily incremental run in serve mode.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	At      string `mapstructure:"at"` // "HH:MM", UTC
}

// AlertsConfig controls where abnormal-temperature alerts are delivered.
// The log notifier is always on; a webhook is added when the URL is set.
type AlertsConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $SENSORETL_CONFIG env → ~/.config/sensoretl/config.yaml → /etc/sensoretl/config.yaml
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", "sensoretl.db")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.sensors_file", "sensors.csv")
	v.SetDefault("data.readings_file", "sensor_readings.csv")
	v.SetDefault("data.weather_file", "weather_data.csv")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.at", "02:00")

	// Env var support
	v.SetEnvPrefix("SENSORETL")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv("SENSORETL_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		// Try ~/.config/sensoretl/config.yaml first
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sensoretl"))
		}
		// Fall back to /etc/sensoretl/config.yaml
		v.AddConfigPath("/etc/sensoretl")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		// Warn if config file is world-readable; the postgres DSN may
		// carry credentials.
		if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
			if info, err := os.Stat(cfgPath); err == nil {
				perm := info.Mode().Perm()
				if perm&0004 != 0 {
					slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite driver")
		}
		dir := filepath.Dir(c.Storage.SQLite.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("creating storage directory %q: %w", dir, err)
			}
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite' or 'postgres', got %q", c.Storage.Driver)
	}

	if c.Data.SensorsFile == "" || c.Data.ReadingsFile == "" || c.Data.WeatherFile == "" {
		return fmt.Errorf("data.sensors_file, data.readings_file, and data.weather_file are required")
	}

	if c.Schedule.Enabled {
		if _, err := parseClock(c.Schedule.At); err != nil {
			return fmt.Errorf("schedule.at %q is not a valid HH:MM time: %w", c.Schedule.At, err)
		}
	}

	// Validate listen_addr.
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	return nil
}

// DSN returns the appropriate DSN for the configured storage driver.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case "sqlite":
		return c.Storage.SQLite.Path
	case "postgres":
		return c.Storage.Postgres.DSN
	default:
		return ""
	}
}

// SensorsPath returns the sensor directory CSV path.
func (c *Config) SensorsPath() string { return c.dataPath(c.Data.SensorsFile) }

// ReadingsPath returns the raw readings CSV path.
func (c *Config) ReadingsPath() string { return c.dataPath(c.Data.ReadingsFile) }

// WeatherPath returns the weather reference CSV path.
func (c *Config) WeatherPath() string { return c.dataPath(c.Data.WeatherFile) }

func (c *Config) dataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Data.Dir, name)
}

// ScheduleAt returns the configured daily run time as hour and minute.
func (c *Config) ScheduleAt() (hour, minute int, err error) {
	clock, err := parseClock(c.Schedule.At)
	if err != nil {
		return 0, 0, err
	}
	return clock / 60, clock % 60, nil
}

func parseClock(s string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("out of range")
	}
	return hour*60 + minute, nil
}
