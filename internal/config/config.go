// Package config provides configuration management for sigilvault.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Home     string         `yaml:"home"`
	Storage  StorageConfig  `yaml:"storage"`
	KDF      KDFConfig      `yaml:"kdf"`
	Export   ExportConfig   `yaml:"export"`
	Security SecurityConfig `yaml:"security"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Warnings accumulates non-fatal issues found while applying
	// environment overrides (e.g. a malformed SIGILVAULT_EXPORT_CHUNK_SIZE),
	// surfaced by cmd/walletctl rather than failing startup outright.
	Warnings []string `yaml:"-"`
}

// StorageConfig defines default storage-backend settings.
type StorageConfig struct {
	DefaultType string `yaml:"default_type"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// KDFConfig holds the kdf section of the config file. The Argon2i cost
// values are not read by walletcrypto, which derives Master Keys with
// its own fixed parameters.
type KDFConfig struct {
	DefaultMethod string `yaml:"default_method"`
	MemoryKiB     uint32 `yaml:"memory_kib"`
	Iterations    uint32 `yaml:"iterations"`
	Parallelism   uint8  `yaml:"parallelism"`
}

// ExportConfig defines default export/import codec settings.
type ExportConfig struct {
	ChunkSize uint32 `yaml:"chunk_size"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	PendingTTLMinutes    int `yaml:"pending_ttl_minutes"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// GetHome returns the sigilvault home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// GetStoragePath returns the configured default storage path.
func (c *Config) GetStoragePath() string {
	return c.Storage.Path
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// GetSecurity returns the security configuration.
func (c *Config) GetSecurity() SecurityConfig {
	return c.Security
}

// DefaultHome returns the default sigilvault home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sigilvault"
	}
	return filepath.Join(home, ".sigilvault")
}
