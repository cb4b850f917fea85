// Package config handles pathfold configuration via YAML or TOML files and
// environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--backend, --data-dir, etc.)
//  2. Environment variables (PATHFOLD_*)
//  3. Config file (pathfold.yaml or pathfold.toml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables (all use PATHFOLD_ prefix):
//
// Storage:
//   - PATHFOLD_BACKEND="memory", "badger" or "sqlite"
//   - PATHFOLD_DATA_DIR="./data"
//   - PATHFOLD_SYNC_WRITES=true
//   - PATHFOLD_SCHEMA_FILE="schema.yaml"
//   - PATHFOLD_RECORDS_FILE="records.yaml"
//
// Planner:
//   - PATHFOLD_FOLDING_ENABLED=true
//   - PATHFOLD_PLAN_CACHE_SIZE=256
//   - PATHFOLD_SLOW_QUERY_THRESHOLD="100ms"
//
// Logging:
//   - PATHFOLD_LOG_LEVEL="INFO"
//   - PATHFOLD_LOG_FORMAT="text"
//   - PATHFOLD_LOG_OUTPUT="stderr"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Index storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds all pathfold configuration.
//
// Configuration is organized into logical sections:
//   - Storage: index backend and input files
//   - Planner: folding and plan caching
//   - Logging: log level, format and destination
type Config struct {
	Storage StorageConfig
	Planner PlannerConfig
	Logging LoggingConfig
}

// StorageConfig holds index storage settings.
type StorageConfig struct {
	// Backend is one of memory, badger or sqlite.
	Backend string
	// DataDir holds the badger directory or the sqlite file.
	DataDir string
	// SyncWrites fsyncs every index write (badger only).
	SyncWrites bool
	// SchemaFile is loaded at startup when set.
	SchemaFile string
	// RecordsFile is loaded at startup when set.
	RecordsFile string
}

// PlannerConfig holds query planner settings.
type PlannerConfig struct {
	// FoldingEnabled turns index folding on. When off every query scans.
	FoldingEnabled bool
	// CacheSize is the number of resolved paths kept.
	CacheSize int
	// SlowQueryThreshold logs queries taking longer at WARN. Zero disables.
	SlowQueryThreshold time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
	// Output path (stdout, stderr, or file path)
	Output string
}

// FileConfig is the config file structure. The same layout is read from YAML
// and TOML.
type FileConfig struct {
	Storage struct {
		Backend     string `yaml:"backend" toml:"backend"`
		DataDir     string `yaml:"data_dir" toml:"data_dir"`
		SyncWrites  *bool  `yaml:"sync_writes" toml:"sync_writes"`
		SchemaFile  string `yaml:"schema_file" toml:"schema_file"`
		RecordsFile string `yaml:"records_file" toml:"records_file"`
	} `yaml:"storage" toml:"storage"`

	Planner struct {
		FoldingEnabled     *bool  `yaml:"folding_enabled" toml:"folding_enabled"`
		CacheSize          int    `yaml:"cache_size" toml:"cache_size"`
		SlowQueryThreshold string `yaml:"slow_query_threshold" toml:"slow_query_threshold"`
	} `yaml:"planner" toml:"planner"`

	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
		Output string `yaml:"output" toml:"output"`
	} `yaml:"logging" toml:"logging"`
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	config := &Config{}

	// Storage defaults
	config.Storage.Backend = BackendMemory
	config.Storage.DataDir = "./data"
	config.Storage.SyncWrites = false

	// Planner defaults
	config.Planner.FoldingEnabled = true
	config.Planner.CacheSize = 256
	config.Planner.SlowQueryThreshold = 100 * time.Millisecond

	// Logging defaults
	config.Logging.Level = "INFO"
	config.Logging.Format = "text"
	config.Logging.Output = "stderr"

	return config
}

// LoadFromEnv returns the defaults overridden by PATHFOLD_* variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// LoadFromFile layers defaults, the config file and environment variables.
// A missing file is not an error. Files ending in .toml are read as TOML,
// everything else as YAML.
func LoadFromFile(configPath string) (*Config, error) {
	// Step 1: Start with built-in defaults
	config := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			// Step 2: Apply the config file
			var fileCfg FileConfig
			if strings.EqualFold(filepath.Ext(configPath), ".toml") {
				if _, err := toml.Decode(string(data), &fileCfg); err != nil {
					return nil, fmt.Errorf("failed to parse config file: %w", err)
				}
			} else if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			if err := applyFile(config, &fileCfg); err != nil {
				return nil, err
			}
		}
	}

	// Step 3: Apply environment variable overrides (higher priority than config file)
	applyEnvVars(config)

	return config, nil
}

func applyFile(config *Config, f *FileConfig) error {
	// === Storage Settings ===
	if f.Storage.Backend != "" {
		config.Storage.Backend = f.Storage.Backend
	}
	if f.Storage.DataDir != "" {
		config.Storage.DataDir = f.Storage.DataDir
	}
	if f.Storage.SyncWrites != nil {
		config.Storage.SyncWrites = *f.Storage.SyncWrites
	}
	if f.Storage.SchemaFile != "" {
		config.Storage.SchemaFile = f.Storage.SchemaFile
	}
	if f.Storage.RecordsFile != "" {
		config.Storage.RecordsFile = f.Storage.RecordsFile
	}

	// === Planner Settings ===
	if f.Planner.FoldingEnabled != nil {
		config.Planner.FoldingEnabled = *f.Planner.FoldingEnabled
	}
	if f.Planner.CacheSize > 0 {
		config.Planner.CacheSize = f.Planner.CacheSize
	}
	if f.Planner.SlowQueryThreshold != "" {
		d, err := time.ParseDuration(f.Planner.SlowQueryThreshold)
		if err != nil {
			return fmt.Errorf("invalid slow_query_threshold %q: %w", f.Planner.SlowQueryThreshold, err)
		}
		config.Planner.SlowQueryThreshold = d
	}

	// === Logging Settings ===
	if f.Logging.Level != "" {
		config.Logging.Level = f.Logging.Level
	}
	if f.Logging.Format != "" {
		config.Logging.Format = f.Logging.Format
	}
	if f.Logging.Output != "" {
		config.Logging.Output = f.Logging.Output
	}
	return nil
}

func applyEnvVars(config *Config) {
	config.Storage.Backend = getEnv("PATHFOLD_BACKEND", config.Storage.Backend)
	config.Storage.DataDir = getEnv("PATHFOLD_DATA_DIR", config.Storage.DataDir)
	config.Storage.SyncWrites = getEnvBool("PATHFOLD_SYNC_WRITES", config.Storage.SyncWrites)
	config.Storage.SchemaFile = getEnv("PATHFOLD_SCHEMA_FILE", config.Storage.SchemaFile)
	config.Storage.RecordsFile = getEnv("PATHFOLD_RECORDS_FILE", config.Storage.RecordsFile)

	config.Planner.FoldingEnabled = getEnvBool("PATHFOLD_FOLDING_ENABLED", config.Planner.FoldingEnabled)
	config.Planner.CacheSize = getEnvInt("PATHFOLD_PLAN_CACHE_SIZE", config.Planner.CacheSize)
	config.Planner.SlowQueryThreshold = getEnvDuration("PATHFOLD_SLOW_QUERY_THRESHOLD", config.Planner.SlowQueryThreshold)

	config.Logging.Level = getEnv("PATHFOLD_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("PATHFOLD_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("PATHFOLD_LOG_OUTPUT", config.Logging.Output)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("invalid storage backend: %q", c.Storage.Backend)
	}

	if c.Storage.Backend != BackendMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("%s backend requires a data directory", c.Storage.Backend)
	}

	if c.Planner.CacheSize <= 0 {
		return fmt.Errorf("invalid plan cache size: %d", c.Planner.CacheSize)
	}

	if c.Planner.SlowQueryThreshold < 0 {
		return fmt.Errorf("invalid slow query threshold: %v", c.Planner.SlowQueryThreshold)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Backend: %s, DataDir: %s, Folding: %v, CacheSize: %d, Log: %s/%s}",
		c.Storage.Backend, c.Storage.DataDir,
		c.Planner.FoldingEnabled, c.Planner.CacheSize,
		c.Logging.Level, c.Logging.Format,
	)
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.pathfold/config.yaml, ~/.pathfold/config.toml
//  2. Current working directory (pathfold.yaml, pathfold.toml)
//  3. ~/.config/pathfold/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates,
			filepath.Join(home, ".pathfold", "config.yaml"),
			filepath.Join(home, ".pathfold", "config.toml"),
		)
	}

	candidates = append(candidates, "pathfold.yaml", "pathfold.toml")

	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pathfold", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as milliseconds
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
