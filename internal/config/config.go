// Package config loads runtime settings from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/talgya/tamagochai/internal/evolution"
)

// Prefix is prepended to every variable name.
const Prefix = "TAMAGOCHAI_"

// Config holds every runtime setting.
type Config struct {
	DBPath   string `env:"DB_PATH" envDefault:"data/tamagochai.db"`
	APIAddr  string `env:"API_ADDR" envDefault:":8080"`
	AdminKey string `env:"ADMIN_KEY"`
	Name     string `env:"NAME" envDefault:"Tama"`
	Mode     string `env:"MODE" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	TickInterval    time.Duration `env:"TICK_INTERVAL" envDefault:"60s"`
	EmotionCacheTTL time.Duration `env:"EMOTION_CACHE_TTL" envDefault:"5s"`
	HistoryKeepDays int           `env:"HISTORY_KEEP_DAYS" envDefault:"30"`

	Sensors        bool          `env:"SENSORS" envDefault:"true"`
	SensorInterval time.Duration `env:"SENSOR_INTERVAL" envDefault:"30s"`

	APIRate  float64 `env:"API_RATE" envDefault:"5"`
	APIBurst int     `env:"API_BURST" envDefault:"20"`

	LLMAPIKey    string `env:"LLM_API_KEY"`
	LLMBaseURL   string `env:"LLM_BASE_URL"`
	LLMModel     string `env:"LLM_MODEL"`
	LLMMaxPerMin int    `env:"LLM_MAX_PER_MIN" envDefault:"20"`
}

// Load reads files (".env" when none are given) into the process
// environment, then parses it. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return Parse(env.ToMap(os.Environ()))
}

// Parse builds a Config from environ and validates it. ANTHROPIC_API_KEY is
// honoured when no prefixed key is set.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = environ["ANTHROPIC_API_KEY"]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be expressed as struct tags.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: DB_PATH is empty")
	}
	if _, err := evolution.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("config: MODE: %w", err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.Sensors && c.SensorInterval <= 0 {
		return fmt.Errorf("config: SENSOR_INTERVAL must be positive, got %s", c.SensorInterval)
	}
	if c.EmotionCacheTTL < 0 {
		return fmt.Errorf("config: EMOTION_CACHE_TTL must not be negative, got %s", c.EmotionCacheTTL)
	}
	if c.HistoryKeepDays < 1 {
		return fmt.Errorf("config: HISTORY_KEEP_DAYS must be at least 1, got %d", c.HistoryKeepDays)
	}
	if c.APIRate <= 0 || c.APIBurst < 1 {
		return fmt.Errorf("config: API_RATE and API_BURST must be positive")
	}
	return nil
}

// EvolutionMode returns the parsed development mode.
func (c *Config) EvolutionMode() evolution.Mode {
	m, err := evolution.ParseMode(c.Mode)
	if err != nil {
		return evolution.Production
	}
	return m
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// HistoryKeep returns how long hormone history is retained.
func (c *Config) HistoryKeep() time.Duration {
	return time.Duration(c.HistoryKeepDays) * 24 * time.Hour
}
