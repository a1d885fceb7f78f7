package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Attempts struct {
		EvaluationWorkers int    `yaml:"evaluation_workers"`
		CountAbandoned    bool   `yaml:"count_abandoned"`
		CacheTTL          string `yaml:"cache_ttl"`
		StreakTimezone    string `yaml:"streak_timezone"`
	} `yaml:"attempts"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
		File        string `yaml:"file"`
	} `yaml:"log"`
	Queue struct {
		Enabled     bool `yaml:"enabled"`
		Concurrency int  `yaml:"concurrency"`
	} `yaml:"queue"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// StreakLocation resolves the time zone used to bucket completions into days.
func (c Config) StreakLocation() (*time.Location, error) {
	if c.Attempts.StreakTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Attempts.StreakTimezone)
}
