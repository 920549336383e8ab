package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"folio/internal/backtest"
	"folio/internal/optimize"
	"folio/internal/rotation"
	"folio/internal/signal"
)

// DefaultPath is used when FOLIO_CONFIG is unset.
const DefaultPath = "config/folio.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for folio.
type Config struct {
	Storage     Storage                    `yaml:"storage"`
	Server      Server                     `yaml:"server"`
	Alpaca      Alpaca                     `yaml:"alpaca"`
	Logging     Logging                    `yaml:"logging"`
	Gather      GatherJobConfig            `yaml:"gather"`
	Backtest    BacktestConfig             `yaml:"backtest"`
	Rotation    RotationConfig             `yaml:"rotation"`
	WalkForward optimize.WalkForwardConfig `yaml:"walk_forward"`
	Robustness  optimize.RobustnessConfig  `yaml:"robustness"`
	Workers     int                        `yaml:"workers"`
	Schedule    Schedule                   `yaml:"schedule"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and the market data endpoint.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger. When File is set, output is
// also written to a size-rotated file.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// GatherJobConfig holds parameters for the daily bar gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// BacktestConfig holds single-asset run settings and indicator parameters.
type BacktestConfig struct {
	backtest.Config `yaml:",inline"`
	Signals         signal.Params `yaml:"signals"`
}

// RotationConfig holds rotation settings and the default parameter set.
type RotationConfig struct {
	rotation.Config `yaml:",inline"`
	Defaults        rotation.Params `yaml:"defaults"`
}

// Schedule holds the server's cron expressions.
type Schedule struct {
	GatherCron   string `yaml:"gather_cron"`
	EvaluateCron string `yaml:"evaluate_cron"`
	Market       string `yaml:"market"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Defaults returns a fully populated configuration. YAML and environment
// values are layered on top of it.
func Defaults() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/folio.db"},
		Server:  Server{Host: "127.0.0.1", Port: 8080},
		Alpaca:  Alpaca{DataURL: "https://data.alpaca.markets", Feed: "iex"},
		Logging: Logging{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Gather: GatherJobConfig{
			StartDate:       "2020-01-01",
			BatchSize:       100,
			MaxWorkers:      4,
			RateLimitPerMin: 200,
		},
		Backtest: BacktestConfig{
			Config:  backtest.DefaultConfig(),
			Signals: signal.DefaultParams(),
		},
		Rotation: RotationConfig{
			Config:   rotation.DefaultConfig(),
			Defaults: rotation.DefaultParams(),
		},
		WalkForward: optimize.DefaultWalkForwardConfig(),
		Robustness:  optimize.DefaultRobustnessConfig(),
		Schedule:    Schedule{GatherCron: "30 17 * * 1-5", EvaluateCron: "0 18 * * 1-5", Market: "us"},
	}
}

// Validate checks every engine section.
func (c *Config) Validate() error {
	if err := c.Backtest.Config.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if err := c.Backtest.Signals.Validate(); err != nil {
		return fmt.Errorf("backtest.signals: %w", err)
	}
	if err := c.Rotation.Config.Validate(); err != nil {
		return fmt.Errorf("rotation: %w", err)
	}
	if err := c.Rotation.Defaults.Validate(); err != nil {
		return fmt.Errorf("rotation.defaults: %w", err)
	}
	if err := c.WalkForward.Validate(); err != nil {
		return fmt.Errorf("walk_forward: %w", err)
	}
	if err := c.Robustness.Validate(); err != nil {
		return fmt.Errorf("robustness: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns FOLIO_CONFIG when set, otherwise DefaultPath.
func Path() string {
	if v := os.Getenv("FOLIO_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over Defaults(),
// and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Defaults() with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Defaults()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return cfg, err
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("FOLIO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("FOLIO_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
