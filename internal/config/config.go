// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidKlingMode is returned when KLING_MODE is neither standard nor pro.
	ErrInvalidKlingMode = errors.New("config: KLING_MODE must be standard or pro")
	// ErrInvalidPolling is returned when the poll settings are not positive.
	ErrInvalidPolling = errors.New("config: POLL_INTERVAL, POLL_TIMEOUT and MAX_POLL_FAILURES must be positive")
	// ErrInvalidMaxActive is returned when MAX_ACTIVE_GENERATIONS is below one.
	ErrInvalidMaxActive = errors.New("config: MAX_ACTIVE_GENERATIONS must be at least 1")
	// ErrWildcardOrigin is returned when ALLOWED_ORIGINS contains "*".
	ErrWildcardOrigin = errors.New("config: ALLOWED_ORIGINS must list the panel origin, not *")
)

// DefaultEnvFile is read before the environment when present.
const DefaultEnvFile = ".env"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8765" json:"port"`
	BindAddr       string   `env:"BIND_ADDR, default=127.0.0.1" json:"bind_addr"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" json:"allowed_origins"` // panel origin(s); empty admits no browser caller

	// Replicate settings
	ReplicateAPIToken string        `env:"REPLICATE_API_TOKEN" json:"-"` // Masked in JSON
	ReplicateBaseURL  string        `env:"REPLICATE_BASE_URL, default=https://api.replicate.com/v1" json:"replicate_base_url"`
	ReplicateModel    string        `env:"REPLICATE_MODEL, default=kwaivgi/kling-v2.1" json:"replicate_model"`
	KlingMode         string        `env:"KLING_MODE, default=standard" json:"kling_mode"`
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT, default=60s" json:"http_timeout"`

	// Polling settings
	PollInterval    time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT, default=15m" json:"poll_timeout"`
	MaxPollFailures int           `env:"MAX_POLL_FAILURES, default=3" json:"max_poll_failures"`

	// Processing settings
	MaxActiveGenerations int    `env:"MAX_ACTIVE_GENERATIONS, default=1" json:"max_active_generations"`
	FFmpegPath           string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Storage settings
	DownloadDir    string `env:"DOWNLOAD_DIR" json:"download_dir"`
	TempDir        string `env:"TEMP_DIR" json:"temp_dir"`
	CredentialFile string `env:"CREDENTIAL_FILE" json:"credential_file"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ResolvedDownloadDir returns where finished clips are written.
// DOWNLOAD_DIR wins, then TEMP_DIR/kling-panel, then the system temp dir.
func (c *Config) ResolvedDownloadDir() string {
	if c.DownloadDir != "" {
		return c.DownloadDir
	}
	base := c.TempDir
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "kling-panel")
}

// Load reads the optional env files, then the environment, using
// go-envconfig. Values already set in the environment win over the files.
// With no arguments DefaultEnvFile is tried; a missing file is ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	switch c.KlingMode {
	case "standard", "pro":
	default:
		return ErrInvalidKlingMode
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 || c.MaxPollFailures <= 0 {
		return ErrInvalidPolling
	}
	if c.MaxActiveGenerations < 1 {
		return ErrInvalidMaxActive
	}
	if slices.Contains(c.AllowedOrigins, "*") {
		return ErrWildcardOrigin
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Addr: %s:%d, ReplicateModel: %s, ReplicateAPIToken: %s, KlingMode: %s, PollInterval: %s, PollTimeout: %s, MaxPollFailures: %d, MaxActiveGenerations: %d, DownloadDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.BindAddr,
		c.Port,
		c.ReplicateModel,
		mask(c.ReplicateAPIToken),
		c.KlingMode,
		c.PollInterval,
		c.PollTimeout,
		c.MaxPollFailures,
		c.MaxActiveGenerations,
		c.ResolvedDownloadDir(),
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
