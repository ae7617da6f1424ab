// Package config defines service configuration and its defaults.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8000".
	Addr string `koanf:"addr"`

	// AllowedOrigin is the single browser origin allowed by CORS.
	AllowedOrigin string `koanf:"allowed_origin"`

	// LogDir holds the daily journal files.
	LogDir string `koanf:"log_dir"`

	// AppLogFile is the rotated plain-text application log. Empty logs to stdout only.
	AppLogFile string `koanf:"app_log_file"`

	// LLM settings.
	LLMProvider    string  `koanf:"llm_provider"`
	LLMAPIKey      string  `koanf:"llm_api_key"`
	LLMModel       string  `koanf:"llm_model"`
	LLMBaseURL     string  `koanf:"llm_base_url"`
	LLMTimeoutMS   int     `koanf:"llm_timeout_ms"`
	LLMMaxRetries  int     `koanf:"llm_max_retries"`
	LLMTemperature float64 `koanf:"llm_temperature"`
	LLMMaxTokens   int     `koanf:"llm_max_tokens"`

	// StoreBackend is one of memory, sqlite, redis.
	StoreBackend      string `koanf:"store_backend"`
	StorePath         string `koanf:"store_path"`
	RedisAddr         string `koanf:"redis_addr"`
	SessionTTLMinutes int    `koanf:"session_ttl_minutes"`

	// JournalQueueSize bounds pending journal records.
	JournalQueueSize int `koanf:"journal_queue_size"`

	// DedupeTTLMinutes is how long activity event ids are remembered.
	DedupeTTLMinutes int `koanf:"dedupe_ttl_minutes"`

	OTelEnabled  bool   `koanf:"otel_enabled"`
	OTelEndpoint string `koanf:"otel_endpoint"`
}

// New returns a Config holding the defaults. Context is accepted first to
// follow the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":8000",
		AllowedOrigin:     "http://localhost:3000",
		LogDir:            "logs",
		AppLogFile:        "logs/app.log",
		LLMProvider:       "openai",
		LLMModel:          "",
		LLMTimeoutMS:      60_000,
		LLMMaxRetries:     3,
		LLMTemperature:    0.7,
		LLMMaxTokens:      2000,
		StoreBackend:      "memory",
		StorePath:         "casve.db",
		RedisAddr:         "localhost:6379",
		SessionTTLMinutes: 24 * 60,
		JournalQueueSize:  1024,
		DedupeTTLMinutes:  30,
		OTelEndpoint:      "localhost:4318",
	}
}

// LLMTimeout is the per-attempt upstream timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMS) * time.Millisecond
}

// SessionTTL is how long an untouched session is kept by expiring backends.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// DedupeTTL is how long an activity event id is remembered.
func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLMinutes) * time.Minute
}
