package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   string `yaml:"port"`
		APIKey string `yaml:"api_key"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Telegram struct {
		APIBaseURL string  `yaml:"api_base_url"`
		Timeout    string  `yaml:"timeout"`
		RatePerSec float64 `yaml:"rate_per_sec"`
		Burst      int     `yaml:"burst"`
	} `yaml:"telegram"`
	Worker struct {
		PollInterval      string `yaml:"poll_interval"`
		OpTimeout         string `yaml:"op_timeout"`
		ProcessingLockTTL string `yaml:"processing_lock_ttl"`
		FinalizeLockTTL   string `yaml:"finalize_lock_ttl"`
		RoundResultsPause string `yaml:"round_results_pause"`
		DisplayRefreshMin string `yaml:"display_refresh_min"`
		MaxConcurrent     int    `yaml:"max_concurrent"`
	} `yaml:"worker"`
	Quiz struct {
		QuestionCacheTTL string `yaml:"question_cache_ttl"`
	} `yaml:"quiz"`
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

// Duration parses a duration string or returns the fallback if empty/invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
