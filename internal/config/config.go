// Package config loads and validates the process-wide configuration
// surface for the cache daemon: store layout, freshness window,
// background job timeout, compression policy, and stats toggle.
//
// Configuration is loaded once at startup via [Load] and is read-only
// thereafter; nothing in this package mutates a [Config] after
// [Config.Validate] succeeds.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Sentinel errors. Wrapped with fmt.Errorf("%w: ...") by callers so
// errors.Is keeps working across layers.
var (
	ErrInvalidConfig  = errors.New("invalid config")
	ErrPathEscape     = errors.New("path escapes working directory")
	ErrReadConfig     = errors.New("reading config file")
	ErrParseConfig    = errors.New("parsing config file")
	ErrUnknownBoolean = errors.New("unrecognized boolean value")
)

// Config is the full set of recognized options.
type Config struct {
	Cache       CacheConfig       `json:"cache"`
	Freshness   FreshnessConfig   `json:"freshness"`
	Background  BackgroundConfig  `json:"background"`
	Stats       StatsConfig       `json:"stats"`
	Compression CompressionConfig `json:"compression"`
	Lock        LockConfig        `json:"lock"`
	Server      ServerConfig      `json:"server"`
}

// CacheConfig controls the Store's on-disk layout and default TTL.
type CacheConfig struct {
	Dir         string   `json:"dir"`
	DefaultTTL  int64    `json:"default_ttl"`
	UseSharding flexBool `json:"use_sharding"`
}

// FreshnessConfig controls the Freshness Classifier's stale window.
//
// StaleWindowSeconds is a pointer so "unset" (nil, defaulting to the
// entry's own TTL) is distinguishable from an explicit zero.
type FreshnessConfig struct {
	StaleWindowSeconds *int64 `json:"stale_window_seconds"`
}

// BackgroundConfig controls the dispatcher's job lifetime.
type BackgroundConfig struct {
	TimeoutSeconds int64 `json:"timeout"`
	// MaxRetries is parsed and stored but neither validated nor used by
	// the core; reserved.
	MaxRetries int `json:"max_retries"`
}

// StatsConfig toggles stats collection.
type StatsConfig struct {
	Enabled flexBool `json:"enabled"`
}

// CompressionConfig controls the Sender's gzip policy.
type CompressionConfig struct {
	Enabled flexBool `json:"enabled"`
	Level   int      `json:"level"`
}

// LockConfig controls where lock artifacts are persisted. Defaults
// under cache.dir when unset.
type LockConfig struct {
	Dir string `json:"dir"`
}

// ServerConfig is specific to the demo binary, cmd/isrd.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Default returns the baseline configuration applied before any
// layer is merged on top.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Dir:         "./isr-cache",
			DefaultTTL:  3600,
			UseSharding: true,
		},
		Freshness: FreshnessConfig{
			StaleWindowSeconds: nil,
		},
		Background: BackgroundConfig{
			TimeoutSeconds: 30,
			MaxRetries:     0,
		},
		Stats: StatsConfig{
			Enabled: true,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   6,
		},
		Lock: LockConfig{
			Dir: "",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load builds a [Config] by layering, in order: built-in defaults,
// a global user config (ignored if absent), a project-local config
// (ignored if absent), and an explicit path if non-empty. Each layer
// that exists must parse; a missing file is not an error.
//
// Values are JSONC (JSON with comments and trailing commas) via
// [hujson]; each layer is standardized to JSON before being merged.
//
// Load validates the final, merged result before returning it. A
// config that fails validation does not start the process.
func Load(globalPath, projectPath, explicitPath string) (Config, error) {
	cfg := Default()

	for _, path := range []string{globalPath, projectPath, explicitPath} {
		if path == "" {
			continue
		}

		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("%w: %s: %w", ErrReadConfig, path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrParseConfig, path, err)
	}

	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrParseConfig, path, err)
	}

	return nil
}

// Validate checks the declared-type invariants — no implicit coercion
// beyond what [ParseBool] documents.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("%w: cache.dir must not be empty", ErrInvalidConfig)
	}

	if err := rejectEscape(c.Cache.Dir); err != nil {
		return err
	}

	if c.Lock.Dir != "" {
		if err := rejectEscape(c.Lock.Dir); err != nil {
			return err
		}
	}

	if c.Cache.DefaultTTL < 0 {
		return fmt.Errorf("%w: cache.default_ttl must be >= 0, got %d", ErrInvalidConfig, c.Cache.DefaultTTL)
	}

	if c.Background.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: background.timeout must be > 0, got %d", ErrInvalidConfig, c.Background.TimeoutSeconds)
	}

	if c.Freshness.StaleWindowSeconds != nil && *c.Freshness.StaleWindowSeconds < 0 {
		return fmt.Errorf("%w: freshness.stale_window_seconds must be >= 0, got %d", ErrInvalidConfig, *c.Freshness.StaleWindowSeconds)
	}

	if c.Compression.Enabled.Bool() && (c.Compression.Level < 1 || c.Compression.Level > 9) {
		return fmt.Errorf("%w: compression.level must be in [1,9], got %d", ErrInvalidConfig, c.Compression.Level)
	}

	return nil
}

// rejectEscape fails configuration load for a path that escapes the
// process's working directory via "..", guarding against a config
// loader path-traversal.
func rejectEscape(path string) error {
	if filepath.IsAbs(path) {
		return nil
	}

	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q", ErrPathEscape, path)
	}

	return nil
}

// ParseBool implements the declared boolean coercion: only the literal
// strings "true"/"false"/"1"/"0" (case-insensitive) are accepted;
// anything else is a validation failure. [flexBool.UnmarshalJSON] calls
// this for a JSON string value; it is also exported directly for
// callers coercing a boolean from outside a config file (e.g. an
// environment variable override).
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownBoolean, s)
	}
}

// flexBool is a bool-typed config field that accepts either a native
// JSON boolean or a string coerced via [ParseBool], so a JSONC layer
// can write "use_sharding": "1" as freely as "use_sharding": true.
type flexBool bool

// Bool returns the underlying bool value.
func (b flexBool) Bool() bool {
	return bool(b)
}

// UnmarshalJSON tries a native JSON boolean first, falling back to
// [ParseBool] for a JSON string.
func (b *flexBool) UnmarshalJSON(data []byte) error {
	var native bool
	if err := json.Unmarshal(data, &native); err == nil {
		*b = flexBool(native)

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: expected bool or string, got %s", ErrUnknownBoolean, data)
	}

	parsed, err := ParseBool(s)
	if err != nil {
		return err
	}

	*b = flexBool(parsed)

	return nil
}

// LockDir returns the effective lock directory: the explicit
// lock.dir, or a ".locks" subdirectory of cache.dir when unset.
func (c Config) LockDir() string {
	if c.Lock.Dir != "" {
		return c.Lock.Dir
	}

	return filepath.Join(c.Cache.Dir, ".locks")
}

// StaleWindow returns the effective stale window: the configured
// value, or the entry's own ttl when unset.
func (c Config) StaleWindow(ttl int64) int64 {
	if c.Freshness.StaleWindowSeconds != nil {
		return *c.Freshness.StaleWindowSeconds
	}

	return ttl
}
