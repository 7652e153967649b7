// Package config loads runtime configuration and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendSQLite    = "sqlite"
	BackendSurrealDB = "surrealdb"
	BackendMemory    = "memory"
)

// Dataset backends.
const (
	DatasetManifest  = "manifest"
	DatasetSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// Execution store
	StoreBackend string `yaml:"store_backend"`
	SQLitePath   string `yaml:"sqlite_path"`
	PanelVersion string `yaml:"panel_version"`

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Dataset
	DatasetBackend  string `yaml:"dataset_backend"`
	DatasetManifest string `yaml:"dataset_manifest"`
	DatasetID       string `yaml:"dataset_id"`

	// Polling and computation
	PollSchedule        string        `yaml:"poll_schedule"`
	NewSampleDelay      time.Duration `yaml:"new_sample_delay"`
	ImmediateTimeout    time.Duration `yaml:"immediate_timeout"`
	HistogramBins       int           `yaml:"histogram_bins"`
	OperatorConcurrency int           `yaml:"operator_concurrency"`
	MaxConcurrentRuns   int           `yaml:"max_concurrent_runs"`
	WorkerInterval      time.Duration `yaml:"worker_interval"`

	// Access level of the acting user: TAG, EDIT or MANAGE. Empty means no
	// user context, which allows everything.
	UserPermission string `yaml:"user_permission"`

	// Logging
	LogFile      string     `yaml:"log_file"`
	LogLevelName string     `yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		StoreBackend: BackendSQLite,
		SQLitePath:   "dataquality.db",
		PanelVersion: "v1",

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "dataquality",
		SurrealDBDatabase:  "panel",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		DatasetBackend:  DatasetManifest,
		DatasetManifest: "dataset.yaml",

		PollSchedule:        "@every 15s",
		NewSampleDelay:      2 * time.Second,
		ImmediateTimeout:    10 * time.Minute,
		HistogramBins:       50,
		OperatorConcurrency: 4,
		MaxConcurrentRuns:   1,
		WorkerInterval:      5 * time.Second,

		LogFile:      "/tmp/dataquality.log",
		LogLevelName: "INFO",
	}
}

// Load reads configuration from the YAML file named by DQ_CONFIG, if any,
// then applies environment overrides. A broken config file is reported but
// does not stop the program; defaults are used instead.
func Load() Config {
	cfg, err := LoadWithFile(os.Getenv("DQ_CONFIG"))
	if err != nil {
		slog.Error("failed to load config file, using defaults", "error", err)
		cfg = Defaults()
		applyEnv(&cfg)
	}
	return cfg
}

// LoadWithFile layers defaults, the YAML file at path (skipped when empty),
// and environment variables, in that order.
func LoadWithFile(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	envOverride(&cfg.StoreBackend, "DQ_STORE_BACKEND")
	envOverride(&cfg.SQLitePath, "DQ_SQLITE_PATH")
	envOverride(&cfg.PanelVersion, "DQ_PANEL_VERSION")

	envOverride(&cfg.SurrealDBURL, "SURREALDB_URL")
	envOverride(&cfg.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	envOverride(&cfg.SurrealDBDatabase, "SURREALDB_DATABASE")
	envOverride(&cfg.SurrealDBUser, "SURREALDB_USER")
	envOverride(&cfg.SurrealDBPass, "SURREALDB_PASS")
	envOverride(&cfg.SurrealDBAuthLevel, "SURREALDB_AUTH_LEVEL")

	envOverride(&cfg.DatasetBackend, "DQ_DATASET_BACKEND")
	envOverride(&cfg.DatasetManifest, "DQ_DATASET_MANIFEST")
	envOverride(&cfg.DatasetID, "DQ_DATASET_ID")

	envOverride(&cfg.PollSchedule, "DQ_POLL_SCHEDULE")
	envOverrideDuration(&cfg.NewSampleDelay, "DQ_NEW_SAMPLE_DELAY")
	envOverrideDuration(&cfg.ImmediateTimeout, "DQ_IMMEDIATE_TIMEOUT")
	envOverrideInt(&cfg.HistogramBins, "DQ_HISTOGRAM_BINS")
	envOverrideInt(&cfg.OperatorConcurrency, "DQ_OPERATOR_CONCURRENCY")
	envOverrideInt(&cfg.MaxConcurrentRuns, "DQ_MAX_CONCURRENT_RUNS")
	envOverrideDuration(&cfg.WorkerInterval, "DQ_WORKER_INTERVAL")

	envOverride(&cfg.UserPermission, "DQ_USER_PERMISSION")

	envOverride(&cfg.LogFile, "DQ_LOG_FILE")
	envOverride(&cfg.LogLevelName, "DQ_LOG_LEVEL")
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.UserPermission = strings.ToUpper(strings.TrimSpace(cfg.UserPermission))
}

// Validate reports configuration values the program cannot run with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendSurrealDB, BackendMemory:
	default:
		return fmt.Errorf("invalid store backend %q", c.StoreBackend)
	}
	switch c.DatasetBackend {
	case DatasetManifest, DatasetSurrealDB:
	default:
		return fmt.Errorf("invalid dataset backend %q", c.DatasetBackend)
	}
	switch c.UserPermission {
	case "", "TAG", "EDIT", "MANAGE":
	default:
		return fmt.Errorf("invalid user permission %q", c.UserPermission)
	}
	if c.HistogramBins <= 0 {
		return fmt.Errorf("histogram bins must be positive, got %d", c.HistogramBins)
	}
	return nil
}

func envOverride(field *string, key string) {
	if val := os.Getenv(key); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		}
	}
}

func envOverrideDuration(field *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*field = d
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
