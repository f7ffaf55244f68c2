package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment" yaml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server" yaml:"server"`
	Mongo       MongoConfig       `toml:"mongo" yaml:"mongo"`
	Snapshot    SnapshotConfig    `toml:"snapshot" yaml:"snapshot"`
	Fingerprint FingerprintConfig `toml:"fingerprint" yaml:"fingerprint"`
	Supervisor  SupervisorConfig  `toml:"supervisor" yaml:"supervisor"`
	Storage     StorageConfig     `toml:"storage" yaml:"storage"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`
	API         APIConfig         `toml:"api" yaml:"api"`
}

type ServerConfig struct {
	Port int    `toml:"port" yaml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" yaml:"host" validate:"required"`
}

// MongoConfig describes the document store the detector and refresher read from
type MongoConfig struct {
	URL              string   `toml:"url" yaml:"url"`                             // Connection string, usually supplied via MONGO_DB_URL
	Databases        []string `toml:"databases" yaml:"databases" validate:"min=1,dive,required"` // Logical databases, processed in this order
	CollectionPrefix string   `toml:"collection_prefix" yaml:"collection_prefix" validate:"required"`
	ConnectTimeout   string   `toml:"connect_timeout" yaml:"connect_timeout"` // e.g., "30s" - connect and server selection timeout
	TLS              bool     `toml:"tls" yaml:"tls"`
	CAFile           string   `toml:"ca_file" yaml:"ca_file"` // Optional PEM bundle; system roots when empty
	RetryAttempts    int      `toml:"retry_attempts" yaml:"retry_attempts" validate:"min=1"`
	RetryDelay       string   `toml:"retry_delay" yaml:"retry_delay"`
}

// SnapshotConfig controls where materialized snapshots are written and read
type SnapshotConfig struct {
	Dir            string   `toml:"dir" yaml:"dir" validate:"required"`
	FilenamePrefix string   `toml:"filename_prefix" yaml:"filename_prefix" validate:"required"`
	MarketStates   []string `toml:"market_states" yaml:"market_states" validate:"min=1,dive,required"` // Tokens matched against database names, in order
	OtherDir       string   `toml:"other_dir" yaml:"other_dir" validate:"required"`                    // Subdirectory for databases matching no market state
}

type FingerprintConfig struct {
	Path string `toml:"path" yaml:"path" validate:"required"`
}

// SupervisorConfig controls the polling loop and the subprocesses it spawns
type SupervisorConfig struct {
	CheckInterval  int    `toml:"check_interval" yaml:"check_interval" validate:"min=1"` // Seconds between checks (CHECK_INTERVAL)
	Schedule       string `toml:"schedule" yaml:"schedule"`                              // Optional cron expression, replaces check_interval when set
	DetectTimeout  string `toml:"detect_timeout" yaml:"detect_timeout"`
	RefreshTimeout string `toml:"refresh_timeout" yaml:"refresh_timeout"`
	RetryAttempts  int    `toml:"retry_attempts" yaml:"retry_attempts" validate:"min=1"`
	RetryDelay     string `toml:"retry_delay" yaml:"retry_delay"`
	ProbeTimeout   string `toml:"probe_timeout" yaml:"probe_timeout"`
	HealthPath     string `toml:"health_path" yaml:"health_path" validate:"required,startswith=/"`
	Executable     string `toml:"executable" yaml:"executable"` // Binary to spawn for subcommands (default: this executable)
}

type StorageConfig struct {
	Type   string       `toml:"type" yaml:"type" validate:"omitempty,oneof=badger"` // Only "badger" is supported
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path      string `toml:"path" yaml:"path" validate:"required"` // Database directory path
	Retention int    `toml:"retention" yaml:"retention" validate:"min=0"` // Run records kept, 0 keeps all
}

type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output" yaml:"output" validate:"dive,oneof=stdout console file"`
	Dir        string   `toml:"dir" yaml:"dir"`
	TimeFormat string   `toml:"time_format" yaml:"time_format"`
}

// APIConfig contains settings for the prediction API server
type APIConfig struct {
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" validate:"min=0"` // Requests per second, 0 disables limiting
	Burst     int     `toml:"burst" yaml:"burst" validate:"min=0"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Mongo: MongoConfig{
			Databases:        []string{"BACHV_BB_STOCKS", "BACHV_UD_STOCKS"},
			CollectionPrefix: "Net_Data_",
			ConnectTimeout:   "30s",
			RetryAttempts:    3,
			RetryDelay:       "2s",
		},
		Snapshot: SnapshotConfig{
			Dir:            "Get_Data",
			FilenamePrefix: "mongodb_data",
			MarketStates:   []string{"BB", "UD"},
			OtherDir:       "Other",
		},
		Fingerprint: FingerprintConfig{
			Path: "last_data_hash.txt",
		},
		Supervisor: SupervisorConfig{
			CheckInterval:  7200,
			DetectTimeout:  "60s",
			RefreshTimeout: "120s",
			RetryAttempts:  3,
			RetryDelay:     "2s",
			ProbeTimeout:   "2s",
			HealthPath:     "/api/health",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path:      "./data/history",
				Retention: 1000,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			Dir:        "logs",
			TimeFormat: "15:04:05",
		},
		API: APIConfig{
			RateLimit: 20,
			Burst:     40,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files. Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("STOCKFEED_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("STOCKFEED_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("STOCKFEED_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Document store: MONGO_DB_URL is the name the data publishers use
	if url := os.Getenv("MONGO_DB_URL"); url != "" {
		config.Mongo.URL = url
	}
	if databases := os.Getenv("STOCKFEED_MONGO_DATABASES"); databases != "" {
		if list := splitList(databases); len(list) > 0 {
			config.Mongo.Databases = list
		}
	}

	// Snapshot and fingerprint locations
	if dir := os.Getenv("STOCKFEED_SNAPSHOT_DIR"); dir != "" {
		config.Snapshot.Dir = dir
	}
	if path := os.Getenv("STOCKFEED_FINGERPRINT_PATH"); path != "" {
		config.Fingerprint.Path = path
	}

	// Supervisor: CHECK_INTERVAL is seconds
	if interval := os.Getenv("CHECK_INTERVAL"); interval != "" {
		if i, err := strconv.Atoi(interval); err == nil && i > 0 {
			config.Supervisor.CheckInterval = i
		}
	}
	if schedule := os.Getenv("STOCKFEED_CHECK_SCHEDULE"); schedule != "" {
		config.Supervisor.Schedule = schedule
	}

	// Storage configuration
	if badgerPath := os.Getenv("STOCKFEED_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("STOCKFEED_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("STOCKFEED_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct constraints and that every duration and schedule string parses
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"mongo.connect_timeout":      c.Mongo.ConnectTimeout,
		"mongo.retry_delay":          c.Mongo.RetryDelay,
		"supervisor.detect_timeout":  c.Supervisor.DetectTimeout,
		"supervisor.refresh_timeout": c.Supervisor.RefreshTimeout,
		"supervisor.retry_delay":     c.Supervisor.RetryDelay,
		"supervisor.probe_timeout":   c.Supervisor.ProbeTimeout,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("invalid configuration: %s: %q is not a valid duration", name, value)
		}
	}

	if c.Supervisor.Schedule != "" {
		if _, err := ParseCheckSchedule(c.Supervisor.Schedule); err != nil {
			return fmt.Errorf("invalid configuration: supervisor.schedule: %w", err)
		}
	}

	return nil
}

// ParseCheckSchedule parses a standard five-field cron expression (descriptors like @hourly are accepted)
func ParseCheckSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// ParseDurationOr parses a duration string, returning fallback when empty or invalid
func ParseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// CheckIntervalDuration returns the polling interval as a duration
func (c *SupervisorConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// splitList splits a comma-separated value, dropping empty entries
func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
