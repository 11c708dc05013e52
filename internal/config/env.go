package config

import (
	"fmt"
	"strconv"
	"strings"

	"os"

	"github.com/mrz1836/go-sanitize"
)

// Environment variable names.
const (
	EnvHome              = "SIGILVAULT_HOME"
	EnvStorageDefaultType = "SIGILVAULT_STORAGE_TYPE"
	EnvStoragePath        = "SIGILVAULT_STORAGE_PATH"
	EnvStoragePostgresDSN = "SIGILVAULT_POSTGRES_DSN" //nolint:gosec // G101 -- false positive, this is a const name not a credential
	EnvKDFMethod          = "SIGILVAULT_KDF_METHOD"
	EnvExportChunkSize    = "SIGILVAULT_EXPORT_CHUNK_SIZE"
	EnvOutputFormat       = "SIGILVAULT_OUTPUT_FORMAT"
	EnvVerbose            = "SIGILVAULT_VERBOSE"
	EnvLogLevel           = "SIGILVAULT_LOG_LEVEL"
	EnvNoColor            = "NO_COLOR"
	EnvPendingTTL         = "SIGILVAULT_PENDING_TTL"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvStorageDefaultType); v != "" {
		cfg.Storage.DefaultType = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = SanitizePath(v)
	}

	if v := os.Getenv(EnvStoragePostgresDSN); v != "" {
		cfg.Storage.PostgresDSN = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvKDFMethod); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "raw", "argon2i_mod", "argon2i_int":
			cfg.KDF.DefaultMethod = v
		default:
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: unrecognized derivation method %q, keeping default", EnvKDFMethod, v))
		}
	}

	if v := os.Getenv(EnvExportChunkSize); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.Export.ChunkSize = uint32(n)
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("%s: invalid chunk size %q, keeping default", EnvExportChunkSize, v))
		}
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}

	if v := os.Getenv(EnvPendingTTL); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil && ttl > 0 {
			cfg.Security.PendingTTLMinutes = ttl
		}
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizePath cleans a filesystem path string. ApplyEnvironment uses it
// for the SIGILVAULT_STORAGE_PATH override; a wallet's storage_config
// path is not passed through it. It strips the control
// characters and copy-paste artifacts go-sanitize's PathName catches.
func SanitizePath(raw string) string {
	return sanitize.PathName(strings.TrimSpace(raw))
}
