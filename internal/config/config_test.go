package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", "", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ExplicitFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "isr.jsonc")

	body := `{
		// trailing comments and commas are fine, this is JSONC
		"cache": {
			"dir": "/tmp/cache-data",
			"default_ttl": 120,
		},
		"compression": {
			"enabled": true,
			"level": 9,
		},
	}`

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load("", "", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.Dir != "/tmp/cache-data" {
		t.Errorf("Cache.Dir = %q, want %q", cfg.Cache.Dir, "/tmp/cache-data")
	}

	if cfg.Cache.DefaultTTL != 120 {
		t.Errorf("Cache.DefaultTTL = %d, want 120", cfg.Cache.DefaultTTL)
	}

	if cfg.Compression.Level != 9 {
		t.Errorf("Compression.Level = %d, want 9", cfg.Compression.Level)
	}

	// Untouched fields keep their defaults.
	if cfg.Background.TimeoutSeconds != Default().Background.TimeoutSeconds {
		t.Errorf("Background.TimeoutSeconds = %d, want default", cfg.Background.TimeoutSeconds)
	}
}

func TestLoad_CoercesStringBooleans(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "isr.jsonc")

	body := `{
		"cache": { "use_sharding": "0" },
		"stats": { "enabled": "1" },
		"compression": { "enabled": "true", "level": 5 },
	}`

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load("", "", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.UseSharding.Bool() {
		t.Errorf("Cache.UseSharding = true, want false (from string %q)", "0")
	}

	if !cfg.Stats.Enabled.Bool() {
		t.Errorf("Stats.Enabled = false, want true (from string %q)", "1")
	}

	if !cfg.Compression.Enabled.Bool() {
		t.Errorf("Compression.Enabled = false, want true (from string %q)", "true")
	}
}

func TestLoad_RejectsUnknownStringBoolean(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "isr.jsonc")

	body := `{"stats": {"enabled": "yes"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load("", "", path)
	if !errors.Is(err, ErrUnknownBoolean) {
		t.Fatalf("Load() = %v, want ErrUnknownBoolean", err)
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	_, err := Load("", "", filepath.Join(t.TempDir(), "does-not-exist.jsonc"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}

func TestLoad_LayerPrecedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "global.jsonc")
	project := filepath.Join(dir, "project.jsonc")

	if err := os.WriteFile(global, []byte(`{"cache": {"default_ttl": 10}}`), 0o644); err != nil {
		t.Fatalf("WriteFile global: %v", err)
	}

	if err := os.WriteFile(project, []byte(`{"cache": {"default_ttl": 20}}`), 0o644); err != nil {
		t.Fatalf("WriteFile project: %v", err)
	}

	cfg, err := Load(global, project, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.DefaultTTL != 20 {
		t.Fatalf("Cache.DefaultTTL = %d, want 20 (project should win over global)", cfg.Cache.DefaultTTL)
	}
}

func TestValidate_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*Config){
		"empty cache dir": func(c *Config) { c.Cache.Dir = "" },
		"negative ttl":     func(c *Config) { c.Cache.DefaultTTL = -1 },
		"zero background":  func(c *Config) { c.Background.TimeoutSeconds = 0 },
		"compression level too low": func(c *Config) {
			c.Compression.Enabled = true
			c.Compression.Level = 0
		},
		"compression level too high": func(c *Config) {
			c.Compression.Enabled = true
			c.Compression.Level = 10
		},
	}

	for name, mutate := range tests {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			mutate(&cfg)

			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidate_RejectsPathEscape(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Cache.Dir = "../../etc"

	if err := cfg.Validate(); !errors.Is(err, ErrPathEscape) {
		t.Fatalf("Validate() = %v, want ErrPathEscape", err)
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"true": true, "TRUE": true, "1": true,
		"false": false, "FALSE": false, "0": false,
	}

	for input, want := range tests {
		got, err := ParseBool(input)
		if err != nil {
			t.Errorf("ParseBool(%q): %v", input, err)
		}

		if got != want {
			t.Errorf("ParseBool(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseBool("yes"); !errors.Is(err, ErrUnknownBoolean) {
		t.Fatalf("ParseBool(\"yes\") = %v, want ErrUnknownBoolean", err)
	}
}

func TestConfig_StaleWindow(t *testing.T) {
	t.Parallel()

	cfg := Default()

	if got := cfg.StaleWindow(60); got != 60 {
		t.Fatalf("StaleWindow(60) = %d, want 60 (unset falls back to ttl)", got)
	}

	w := int64(30)
	cfg.Freshness.StaleWindowSeconds = &w

	if got := cfg.StaleWindow(60); got != 30 {
		t.Fatalf("StaleWindow(60) = %d, want 30 (explicit value wins)", got)
	}
}

func TestConfig_LockDir(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Cache.Dir = "/var/isr-cache"

	if got, want := cfg.LockDir(), filepath.Join("/var/isr-cache", ".locks"); got != want {
		t.Fatalf("LockDir() = %q, want %q", got, want)
	}

	cfg.Lock.Dir = "/var/isr-locks"
	if got, want := cfg.LockDir(), "/var/isr-locks"; got != want {
		t.Fatalf("LockDir() = %q, want %q", got, want)
	}
}
