// Package config holds linedex's serve and build settings.
//
// Settings come from three layers, later ones winning:
//   - Default()
//   - an optional JSON file, a versioned envelope {"version": 1, "config": {...}}
//   - command-line flags (applied by cmd/linedex)
//
// The file is read once at startup. Nothing watches it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linedex/internal/index"
)

const currentVersion = 1

var ErrInvalid = errors.New("invalid config")

// envelope is the versioned on-disk format.
type envelope struct {
	Version int     `json:"version"`
	Config  *Config `json:"config"`
}

// Config is the full set of settings.
type Config struct {
	// Source is the line-delimited data file (plain or seekable zstd).
	Source string `json:"source"`

	// IndexDir holds the artifacts. Empty means "<source>.linedex".
	IndexDir string `json:"indexDir,omitempty"`

	// BucketPolicy for builds: strict, overwrite or merge.
	BucketPolicy string `json:"bucketPolicy"`

	// BuildMissing makes serve build the index first when none exists.
	BuildMissing bool `json:"buildMissing,omitempty"`

	Server ServerConfig `json:"server"`

	// LogLevel is the default level: debug, info, warn or error.
	LogLevel string `json:"logLevel"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr string `json:"addr"`

	// Mmap serves the offset table from a read-only mapping.
	Mmap bool `json:"mmap"`

	// Watch marks the index stale when the source file changes.
	Watch bool `json:"watch"`

	// MaxLimit caps the lines returned by one range query. Larger limits are clamped.
	MaxLimit int `json:"maxLimit"`

	// RateLimit is requests per second per client IP on the range endpoint.
	// Zero disables rate limiting.
	RateLimit float64 `json:"rateLimit"`
	RateBurst int     `json:"rateBurst"`

	// AllowedOrigins lists extra CORS origins. Same-origin and loopback
	// origins are always allowed; "*" allows any.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// ReadTimeout bounds one range query (Go duration string).
	ReadTimeout string `json:"readTimeout"`

	// ShutdownTimeout bounds the graceful drain on stop.
	ShutdownTimeout string `json:"shutdownTimeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BucketPolicy: string(index.PolicyStrict),
		LogLevel:     "info",
		Server: ServerConfig{
			Addr:            ":8000",
			Mmap:            true,
			MaxLimit:        10000,
			RateLimit:       50,
			RateBurst:       100,
			ReadTimeout:     "30s",
			ShutdownTimeout: "10s",
		},
	}
}

// Load reads the file at path over Default(). A missing file is an error:
// callers only pass a path the operator named.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	env := envelope{Config: &cfg}
	if err := json.Unmarshal(data, &env); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if env.Version == 0 {
		return Config{}, fmt.Errorf("%w: %s has no version field", ErrInvalid, path)
	}
	if env.Version > currentVersion {
		return Config{}, fmt.Errorf("%w: config file version %d is newer than supported version %d", ErrInvalid, env.Version, currentVersion)
	}
	return cfg, nil
}

// Save writes cfg to path in the envelope format.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(envelope{Version: currentVersion, Config: &cfg}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if _, err := index.ParsePolicy(c.BucketPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.maxLimit must be positive, got %d", c.Server.MaxLimit))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rateLimit must not be negative, got %v", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		errs = append(errs, fmt.Errorf("server.rateBurst must be positive when rate limiting, got %d", c.Server.RateBurst))
	}
	for name, d := range map[string]string{"server.readTimeout": c.Server.ReadTimeout, "server.shutdownTimeout": c.Server.ShutdownTimeout} {
		if d == "" {
			continue
		}
		if v, err := time.ParseDuration(d); err != nil || v < 0 {
			errs = append(errs, fmt.Errorf("%s: bad duration %q", name, d))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ReadTimeoutDuration returns the parsed read timeout, zero when unset.
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout, zero when unset.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.ShutdownTimeout)
	return d
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
