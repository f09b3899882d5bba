// Package config loads service configuration from an optional YAML file with
// environment variable overrides for the recognized tuning options.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Eval      EvalConfig      `yaml:"evaluation"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	DefinitionTTLMs int `yaml:"definition_ttl_ms"`
	ResultTTLMs     int `yaml:"result_ttl_ms"`
}

type MetricsConfig struct {
	PeriodMin        int `yaml:"period_min"`
	FlushIntervalSec int `yaml:"flush_interval_sec"`
}

type RateLimitConfig struct {
	WindowMs int `yaml:"window_ms"`
	Limit    int `yaml:"limit"`
}

type EvalConfig struct {
	SlowThresholdMs int    `yaml:"slow_threshold_ms"`
	HashSeed        uint32 `yaml:"hash_seed"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080", Env: "development"},
		Cache:     CacheConfig{DefinitionTTLMs: 300000, ResultTTLMs: 60000},
		Metrics:   MetricsConfig{PeriodMin: 5, FlushIntervalSec: 60},
		RateLimit: RateLimitConfig{WindowMs: 1000, Limit: 100},
		Eval:      EvalConfig{SlowThresholdMs: 10, HashSeed: 0x12345678},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. path == "" skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies the recognized environment options.
func (c *Config) applyEnv() {
	strVar(&c.Server.Port, "PORT")
	strVar(&c.Database.DSN, "DATABASE_URL")
	strVar(&c.Redis.Addr, "REDIS_ADDR")
	strVar(&c.Redis.Password, "REDIS_PASSWORD")
	intVar(&c.Redis.DB, "REDIS_DB")

	intVar(&c.Cache.DefinitionTTLMs, "DEFINITION_CACHE_TTL_MS")
	intVar(&c.Cache.ResultTTLMs, "RESULT_CACHE_TTL_MS")
	intVar(&c.Metrics.PeriodMin, "METRICS_PERIOD_MIN")
	intVar(&c.Metrics.FlushIntervalSec, "METRICS_FLUSH_INTERVAL_SEC")
	intVar(&c.RateLimit.WindowMs, "RATE_LIMIT_WINDOW_MS")
	intVar(&c.RateLimit.Limit, "RATE_LIMIT_DEFAULT")
	intVar(&c.Eval.SlowThresholdMs, "SLOW_EVAL_THRESHOLD_MS")

	if raw := os.Getenv("HASH_SEED"); raw != "" {
		if seed, err := strconv.ParseUint(raw, 0, 32); err == nil {
			c.Eval.HashSeed = uint32(seed)
		}
	}
}

// Duration accessors for the millisecond/minute/second options.

func (c *Config) DefinitionTTL() time.Duration {
	return time.Duration(c.Cache.DefinitionTTLMs) * time.Millisecond
}

func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Cache.ResultTTLMs) * time.Millisecond
}

func (c *Config) MetricsPeriod() time.Duration {
	return time.Duration(c.Metrics.PeriodMin) * time.Minute
}

func (c *Config) MetricsFlushInterval() time.Duration {
	return time.Duration(c.Metrics.FlushIntervalSec) * time.Second
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

func (c *Config) SlowEvalThreshold() time.Duration {
	return time.Duration(c.Eval.SlowThresholdMs) * time.Millisecond
}

func strVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
