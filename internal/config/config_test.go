package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MOODTRACE_CONFIG", "")
	// Equivalent of t.Chdir (Go 1.24+) for the Go 1.21 toolchain.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LogPath != "data/output.csv" {
		t.Errorf("LogPath = %q", cfg.LogPath)
	}
	if cfg.Pipeline.Interval != 30*time.Millisecond {
		t.Errorf("Interval = %s", cfg.Pipeline.Interval)
	}
	if !reflect.DeepEqual(cfg.Analysis.Whitelist, []string{"cell phone", "book", "other"}) {
		t.Errorf("Whitelist = %v", cfg.Analysis.Whitelist)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moodtrace.yaml")
	yml := `
log_path: /tmp/events.csv
capture:
  device: /dev/video2
  max_width: 640
pipeline:
  interval: 50ms
  interest_set: [cell phone, book, cup]
  report_every: "@every 1m"
analysis:
  whitelist: [cup, other]
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MOODTRACE_DEVICE", "/dev/video9")
	t.Setenv("MOODTRACE_INTERVAL", "75")
	t.Setenv("MOODTRACE_WHITELIST", " book , other ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LogPath != "/tmp/events.csv" {
		t.Errorf("LogPath = %q", cfg.LogPath)
	}
	if cfg.Capture.MaxWidth != 640 {
		t.Errorf("MaxWidth = %d", cfg.Capture.MaxWidth)
	}
	if cfg.Capture.Device != "/dev/video9" {
		t.Errorf("Env should override YAML device, got %q", cfg.Capture.Device)
	}
	if cfg.Pipeline.Interval != 75*time.Millisecond {
		t.Errorf("Interval = %s, want 75ms", cfg.Pipeline.Interval)
	}
	if !reflect.DeepEqual(cfg.Pipeline.InterestSet, []string{"cell phone", "book", "cup"}) {
		t.Errorf("InterestSet = %v", cfg.Pipeline.InterestSet)
	}
	if !reflect.DeepEqual(cfg.Analysis.Whitelist, []string{"book", "other"}) {
		t.Errorf("Whitelist = %v", cfg.Analysis.Whitelist)
	}
	if cfg.Worker.Script != "python/worker.py" {
		t.Errorf("Unset fields should keep defaults, got %q", cfg.Worker.Script)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for an explicitly named missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("pipeline: [unclosed"), 0644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "error parsing") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"Valid defaults", func(c *Config) {}, false},
		{"Valid file input", func(c *Config) { c.Capture.Input = tmpFile.Name() }, false},
		{"Stdin input", func(c *Config) { c.Capture.Input = "-" }, false},
		{"Missing input file", func(c *Config) { c.Capture.Input = "nonexistent.mp4" }, true},
		{"Input is directory", func(c *Config) { c.Capture.Input = os.TempDir() }, true},
		{"No source at all", func(c *Config) { c.Capture.Device = "" }, true},
		{"Zero interval", func(c *Config) { c.Pipeline.Interval = 0 }, true},
		{"Empty log path", func(c *Config) { c.LogPath = " " }, true},
		{"Empty interest set", func(c *Config) { c.Pipeline.InterestSet = nil }, true},
		{"Empty whitelist", func(c *Config) { c.Analysis.Whitelist = nil }, true},
		{"Bad cron spec", func(c *Config) { c.Pipeline.ReportEvery = "every minute" }, true},
		{"Good cron spec", func(c *Config) { c.Pipeline.ReportEvery = "*/5 * * * *" }, false},
		{"Negative fps", func(c *Config) { c.Capture.FPS = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresURL(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	cfg := Default()
	if got := cfg.PostgresURL(); got != "postgres://localhost:5432/moodtrace" {
		t.Errorf("Default URL = %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "moods")
	t.Setenv("POSTGRES_PORT", "")
	if got := cfg.PostgresURL(); got != "postgres://u:p@db:5432/moods" {
		t.Errorf("Env URL = %q", got)
	}

	cfg.DBURL = "postgres://explicit/db"
	if got := cfg.PostgresURL(); got != "postgres://explicit/db" {
		t.Errorf("Explicit URL = %q", got)
	}
}
