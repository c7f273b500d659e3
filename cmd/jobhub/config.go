package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JadKHaddad-ORG/JobHub"
)

// Config is the file layout of jobhub.yaml. Environment variables
// (JOBHUB_*) override the file, and command flags override both.
type Config struct {
	Listen string        `yaml:"listen"`
	Token  string        `yaml:"token"`
	Store  StoreConfig   `yaml:"store"`
	Log    LogConfig     `yaml:"log"`
	Hub    jobhub.Config `yaml:"hub"`

	// Audit logs one structured record per job lifecycle event.
	Audit bool `yaml:"audit"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis.
	Driver string `yaml:"driver"`
	// DSN is the backend address: a file path for sqlite, a connection
	// URL for postgres and redis.
	DSN string `yaml:"dsn"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() Config {
	return Config{
		Listen: ":8080",
		Store:  StoreConfig{Driver: "sqlite"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Hub:    jobhub.DefaultConfig(),
	}
}

// loadConfig reads path over the defaults, then applies the environment.
// A missing file is an error only when path was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays JOBHUB_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("JOBHUB_LISTEN", &cfg.Listen)
	str("JOBHUB_TOKEN", &cfg.Token)
	str("JOBHUB_STORE", &cfg.Store.Driver)
	str("JOBHUB_STORE_DSN", &cfg.Store.DSN)
	str("JOBHUB_LOG_LEVEL", &cfg.Log.Level)
	str("JOBHUB_LOG_FORMAT", &cfg.Log.Format)
	str("JOBHUB_DATA_DIR", &cfg.Hub.DataDir)

	if v, ok := lookup("JOBHUB_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JOBHUB_CONCURRENCY: %w", err)
		}
		cfg.Hub.Concurrency = n
	}
	if v, ok := lookup("JOBHUB_AUDIT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("JOBHUB_AUDIT: %w", err)
		}
		cfg.Audit = b
	}
	if v, ok := lookup("JOBHUB_JOB_RETENTION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JOBHUB_JOB_RETENTION: %w", err)
		}
		cfg.Hub.JobRetention = d
	}
	if v, ok := lookup("JOBHUB_SUBMIT_RATE"); ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("JOBHUB_SUBMIT_RATE: %w", err)
		}
		cfg.Hub.SubmitRate = r
	}
	return nil
}

// newLogger builds the process logger from the log section.
func newLogger(c LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("log format: unknown %q", c.Format)
	}
}
