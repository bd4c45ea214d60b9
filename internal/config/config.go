package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDailyCap is the attempts allowed per participant per calendar day.
const DefaultDailyCap = 3

type Config struct {
	Server struct {
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
	} `yaml:"server"`
	Quota struct {
		DailyCap int    `yaml:"dailyCap"`
		Timezone string `yaml:"timezone"`
	} `yaml:"quota"`
	Store struct {
		Backend string `yaml:"backend"` // memory | redis | postgres
		Timeout string `yaml:"timeout"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Notifier struct {
		URL string `yaml:"url"` // admin dashboard websocket endpoint
	} `yaml:"notifier"`
	Certificate struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"certificate"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads YAML config from path and fills defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Quota.DailyCap <= 0 {
		cfg.Quota.DailyCap = DefaultDailyCap
	}
	return cfg, nil
}

// Timezone resolves the configured zone for day-boundary math. An empty or
// unknown zone falls back to the server's local time, matching what the
// quiz frontends historically assumed.
func (c Config) Timezone() *time.Location {
	if c.Quota.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
