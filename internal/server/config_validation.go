// config_validation.go - Startup configuration loading and validation.
//
// Reads BW_* environment variables, applies defaults and collects every
// problem before failing, so a misconfigured deployment reports all of
// its mistakes at once.
package server

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"binwalk-web/internal/blobstore"
)

// ConfigValidationError represents a configuration validation error.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator validates application configuration.
type ConfigValidator struct {
	errors []ConfigValidationError
}

// NewConfigValidator creates a new configuration validator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		errors: make([]ConfigValidationError, 0),
	}
}

// AddError adds a validation error.
func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *ConfigValidator) Errors() []ConfigValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidateURL validates that a value is a valid URL.
func (v *ConfigValidator) ValidateURL(key, value string) {
	if value == "" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, "URL must use http or https scheme")
	}
}

// ValidatePort validates that a value is a valid listen address port.
func (v *ConfigValidator) ValidatePort(key, value string) {
	if value == "" {
		return
	}

	// Accept ":8080" and "127.0.0.1:8080".
	portStr := value
	if i := strings.LastIndex(value, ":"); i >= 0 {
		portStr = value[i+1:]
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}

	if port < 1 || port > 65535 {
		v.AddError(key, "port must be between 1 and 65535")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *ConfigValidator) ValidateEnum(key, value string, allowed []string) {
	if value == "" {
		return
	}

	for _, opt := range allowed {
		if value == opt {
			return
		}
	}

	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidatePostgresURL checks the scheme of a database connection string.
func (v *ConfigValidator) ValidatePostgresURL(key, value string) {
	if value == "" {
		return
	}
	if !strings.HasPrefix(value, "postgres://") && !strings.HasPrefix(value, "postgresql://") {
		v.AddError(key, "must be a valid PostgreSQL connection string")
	}
}

// Int reads a non-negative integer, recording an error and returning def
// when the value is malformed.
func (v *ConfigValidator) Int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return def
	}
	if n < 0 {
		v.AddError(key, "must not be negative")
		return def
	}
	return n
}

// Int64 is Int for byte sizes.
func (v *ConfigValidator) Int64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		v.AddError(key, "must be a valid integer")
		return def
	}
	if n < 0 {
		v.AddError(key, "must not be negative")
		return def
	}
	return n
}

// Duration reads a Go duration string such as "10m" or "1h30m".
func (v *ConfigValidator) Duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		v.AddError(key, "must be a valid duration (e.g., 90s, 10m, 24h)")
		return def
	}
	if d < 0 {
		v.AddError(key, "must not be negative")
		return def
	}
	return d
}

// LoadConfigFromEnv builds the server configuration from the environment.
// Dependencies (engine, store, database, mirror) are left nil and are
// wired by the caller.
func LoadConfigFromEnv() (Config, error) {
	v := NewConfigValidator()

	cfg := Config{
		Addr: getenvDefault("BW_ADDR", ":8080"),
		Build: BuildInfo{
			Version: getenvDefault("BW_VERSION", "dev"),
			Commit:  getenvDefault("BW_COMMIT", "unknown"),
		},
		EnginePath:     getenvDefault("BW_ENGINE_PATH", "binwalk"),
		ScratchDir:     os.Getenv("BW_SCRATCH_DIR"),
		EngineWorkers:  v.Int("BW_ENGINE_WORKERS", runtime.NumCPU()),
		EngineTimeout:  v.Duration("BW_ENGINE_TIMEOUT", 10*time.Minute),
		MaxUploadBytes: v.Int64("BW_MAX_UPLOAD_BYTES", 256<<20),
		Blob: blobstore.Options{
			MaxEntries: v.Int("BW_BLOB_MAX_ENTRIES", 0),
			MaxAge:     v.Duration("BW_BLOB_MAX_AGE", 0),
		},
		BlobSweepInterval: v.Duration("BW_BLOB_SWEEP_INTERVAL", time.Minute),
		RateLimits: RateLimitConfig{
			AnalyzePerMinute:  v.Int("BW_RATE_ANALYZE_PER_MIN", 30),
			DownloadPerMinute: v.Int("BW_RATE_DOWNLOAD_PER_MIN", 600),
			APIPerMinute:      v.Int("BW_RATE_API_PER_MIN", 300),
		},
		Mirror: MirrorConfig{
			Endpoint:  os.Getenv("BW_S3_ENDPOINT"),
			AccessKey: os.Getenv("BW_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BW_S3_SECRET_KEY"),
			Bucket:    os.Getenv("BW_S3_BUCKET"),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	v.ValidatePort("BW_ADDR", cfg.Addr)
	if cfg.EngineWorkers == 0 {
		v.AddError("BW_ENGINE_WORKERS", "must be a positive integer")
	}
	if strings.Contains(cfg.Mirror.Endpoint, "://") {
		v.ValidateURL("BW_S3_ENDPOINT", cfg.Mirror.Endpoint)
	}
	if cfg.Mirror.Enabled() && !cfg.Mirror.Complete() {
		v.AddError("BW_S3_ENDPOINT", "artifact mirror needs BW_S3_ENDPOINT, BW_S3_ACCESS_KEY, BW_S3_SECRET_KEY and BW_S3_BUCKET")
	}
	v.ValidatePostgresURL("DATABASE_URL", cfg.DatabaseURL)

	v.ValidateEnum("BW_LOG_FORMAT", os.Getenv("BW_LOG_FORMAT"), []string{"", "json", "text"})
	v.ValidateEnum("BW_LOG_LEVEL", os.Getenv("BW_LOG_LEVEL"), []string{"", "debug", "info", "warn", "error"})
	v.ValidateEnum("BW_ENV", os.Getenv("BW_ENV"), []string{"", "development", "production", "staging"})

	if v.HasErrors() {
		return cfg, fmt.Errorf("%s", v.ErrorString())
	}
	return cfg, nil
}

// WarnOnOptionalMissingConfig logs warnings for optional but recommended config.
func WarnOnOptionalMissingConfig(cfg Config) {
	warnings := make([]string, 0)

	if cfg.Blob.MaxEntries == 0 && cfg.Blob.MaxAge == 0 {
		warnings = append(warnings, "BW_BLOB_MAX_ENTRIES and BW_BLOB_MAX_AGE not set - harvested artifacts are kept in memory until restart")
	}

	if cfg.EngineTimeout == 0 {
		warnings = append(warnings, "BW_ENGINE_TIMEOUT is 0 - a stuck analysis holds its worker slot forever")
	}

	if !cfg.Mirror.Enabled() {
		warnings = append(warnings, "BW_S3_ENDPOINT not set - artifact mirror disabled")
	}

	if cfg.DatabaseURL == "" {
		warnings = append(warnings, "DATABASE_URL not set - analysis audit trail disabled")
	}

	if os.Getenv("BW_LOG_FORMAT") == "" {
		warnings = append(warnings, "BW_LOG_FORMAT not set - using text format (consider 'json' for production)")
	}

	if len(warnings) > 0 {
		Info("configuration warnings", map[string]any{
			"count":    len(warnings),
			"warnings": warnings,
		})
	}
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
