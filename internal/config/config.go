// Package config loads moodtrace settings from defaults, an optional YAML
// file and MOODTRACE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all moodtrace configuration.
type Config struct {
	LogPath  string         `yaml:"log_path"`
	LogLevel string         `yaml:"log_level"`
	LogJSON  bool           `yaml:"log_json"`
	Capture  CaptureConfig  `yaml:"capture"`
	Worker   WorkerConfig   `yaml:"worker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Analysis AnalysisConfig `yaml:"analysis"`
	DBURL    string         `yaml:"db_url"`
}

// CaptureConfig selects the frame source.
type CaptureConfig struct {
	Device         string        `yaml:"device"`
	Input          string        `yaml:"input"`
	FPS            int           `yaml:"fps"`
	MaxWidth       uint          `yaml:"max_width"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// WorkerConfig launches the classification sidecar.
type WorkerConfig struct {
	Python  string        `yaml:"python"`
	Script  string        `yaml:"script"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes the capture loop.
type PipelineConfig struct {
	Interval    time.Duration `yaml:"interval"`
	InterestSet []string      `yaml:"interest_set"`
	Append      bool          `yaml:"append"`
	Parallel    bool          `yaml:"parallel"`
	ReportEvery string        `yaml:"report_every"` // cron spec, empty disables
}

// AnalysisConfig controls aggregation.
type AnalysisConfig struct {
	Whitelist []string `yaml:"whitelist"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogPath:  "data/output.csv",
		LogLevel: "info",
		Capture: CaptureConfig{
			Device:         "/dev/video0",
			AcquireTimeout: 100 * time.Millisecond,
		},
		Worker: WorkerConfig{
			Python:  "python3",
			Script:  "python/worker.py",
			Timeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Interval:    30 * time.Millisecond,
			InterestSet: []string{"cell phone", "book"},
		},
		Analysis: AnalysisConfig{
			Whitelist: []string{"cell phone", "book", "other"},
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if path is
// empty, MOODTRACE_CONFIG or ./moodtrace.yaml is tried), then env overrides.
// A missing file is not an error unless it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = getenv("MOODTRACE_CONFIG", "moodtrace.yaml")
		explicit = os.Getenv("MOODTRACE_CONFIG") != ""
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("error reading %s: %w", path, err)
	}

	envOverride(&cfg.LogPath, "MOODTRACE_LOG_PATH")
	envOverride(&cfg.LogLevel, "MOODTRACE_LOG_LEVEL")
	envOverride(&cfg.Capture.Device, "MOODTRACE_DEVICE")
	envOverride(&cfg.Capture.Input, "MOODTRACE_INPUT")
	envOverride(&cfg.Worker.Python, "MOODTRACE_PYTHON")
	envOverride(&cfg.Worker.Script, "MOODTRACE_WORKER_SCRIPT")
	envOverride(&cfg.Pipeline.ReportEvery, "MOODTRACE_REPORT_EVERY")
	envOverride(&cfg.DBURL, "MOODTRACE_DB_URL")
	envOverrideDuration(&cfg.Pipeline.Interval, "MOODTRACE_INTERVAL")
	envOverrideList(&cfg.Pipeline.InterestSet, "MOODTRACE_INTEREST_SET")
	envOverrideList(&cfg.Analysis.Whitelist, "MOODTRACE_WHITELIST")
	return cfg, nil
}

// Validate ensures the settings are usable before heavy processes start.
func (c Config) Validate() error {
	if strings.TrimSpace(c.LogPath) == "" {
		return errors.New("log path must not be empty")
	}
	if c.Pipeline.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Pipeline.Interval)
	}
	if c.Capture.Input == "" && c.Capture.Device == "" {
		return errors.New("either an input file or a capture device is required")
	}
	if c.Capture.Input != "" && c.Capture.Input != "-" {
		info, err := os.Stat(c.Capture.Input)
		if err != nil {
			return fmt.Errorf("unable to access input file: %w", err)
		}
		if info.IsDir() {
			return errors.New("input path is a directory, expected a video file")
		}
	}
	if c.Capture.FPS < 0 {
		return fmt.Errorf("fps must be >= 0, got %d", c.Capture.FPS)
	}
	if len(c.Pipeline.InterestSet) == 0 {
		return errors.New("interest set must not be empty")
	}
	if len(c.Analysis.Whitelist) == 0 {
		return errors.New("whitelist must not be empty")
	}
	if c.Pipeline.ReportEvery != "" {
		if _, err := cron.ParseStandard(c.Pipeline.ReportEvery); err != nil {
			return fmt.Errorf("invalid report schedule %q: %w", c.Pipeline.ReportEvery, err)
		}
	}
	return nil
}

// PostgresURL returns the archive connection string: an explicit URL wins,
// then POSTGRES_* variables, then a local default.
func (c Config) PostgresURL() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := getenv("POSTGRES_PORT", "5432")
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/moodtrace"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	} else if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func envOverrideList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var items []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	if len(items) > 0 {
		*dst = items
	}
}
