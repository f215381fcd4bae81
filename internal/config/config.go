// Package config loads and holds all companion configuration.
// Settings are read from environment variables first, then
// companion-config.json. Durations are expressed as integer minutes or
// seconds in the file so the JSON stays hand-editable.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds the full companion configuration.
type Config struct {
	// Session lifecycle
	SessionTimeoutMin  int `json:"sessionTimeoutMin"`
	SessionSweepSec    int `json:"sessionSweepSec"`
	MaxSessions        int `json:"maxSessions"`
	MaxTurnsPerSession int `json:"maxTurnsPerSession"`

	// Crisis escalation
	EscalationWindowMin int `json:"escalationWindowMin"`
	StaleAlertMin       int `json:"staleAlertMin"`

	// Response cache
	CacheCapacity int `json:"cacheCapacity"`

	// Per-session request-rate ceiling
	RateLimitPerMin int `json:"rateLimitPerMin"`
	RateBurst       int `json:"rateBurst"`

	// Completion provider
	OpenAIModel        string `json:"openaiModel"`
	ProviderTimeoutSec int    `json:"providerTimeoutSec"`
	ProviderMaxRetries int    `json:"providerMaxRetries"`

	// Locale handling
	DefaultLocale string `json:"defaultLocale"`

	// Operational surface
	LogLevel    string `json:"logLevel"`
	OpsPort     int    `json:"opsPort"`
	OpsToken    string `json:"opsToken"`
	BindAddress string `json:"bindAddress"`
}

// Load returns config with defaults overridden by companion-config.json and
// env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "companion-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		SessionTimeoutMin:  30,
		SessionSweepSec:    60,
		MaxSessions:        1000,
		MaxTurnsPerSession: 20,

		EscalationWindowMin: 30,
		StaleAlertMin:       30,

		CacheCapacity: 500,

		RateLimitPerMin: 30,
		RateBurst:       10,

		OpenAIModel:        "gpt-4o-mini",
		ProviderTimeoutSec: 20,
		ProviderMaxRetries: 3,

		DefaultLocale: "en",

		LogLevel:    "info",
		OpsPort:     8081,
		BindAddress: "127.0.0.1",
	}
}

// SessionTimeout returns the session idle timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMin) * time.Minute
}

// SessionSweepInterval returns the background sweep interval.
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.SessionSweepSec) * time.Second
}

// EscalationWindow returns the crisis escalation window.
func (c *Config) EscalationWindow() time.Duration {
	return time.Duration(c.EscalationWindowMin) * time.Minute
}

// StaleAlertAfter returns how long an alert may sit unactioned before it is
// marked unattended.
func (c *Config) StaleAlertAfter() time.Duration {
	return time.Duration(c.StaleAlertMin) * time.Minute
}

// ProviderTimeout returns the per-call completion provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	setInt := func(key string, dst *int, minVal int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= minVal {
				*dst = n
			}
		}
	}

	setInt("SESSION_TIMEOUT_MIN", &cfg.SessionTimeoutMin, 1)
	setInt("SESSION_SWEEP_SEC", &cfg.SessionSweepSec, 1)
	setInt("MAX_SESSIONS", &cfg.MaxSessions, 1)
	setInt("MAX_TURNS_PER_SESSION", &cfg.MaxTurnsPerSession, 2)
	setInt("ESCALATION_WINDOW_MIN", &cfg.EscalationWindowMin, 1)
	setInt("STALE_ALERT_MIN", &cfg.StaleAlertMin, 1)
	setInt("CACHE_CAPACITY", &cfg.CacheCapacity, 0)
	setInt("RATE_LIMIT_PER_MIN", &cfg.RateLimitPerMin, 1)
	setInt("RATE_BURST", &cfg.RateBurst, 1)
	setInt("PROVIDER_TIMEOUT_SEC", &cfg.ProviderTimeoutSec, 1)
	setInt("PROVIDER_MAX_RETRIES", &cfg.ProviderMaxRetries, 0)
	setInt("OPS_PORT", &cfg.OpsPort, 1)

	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("DEFAULT_LOCALE"); v != "" {
		cfg.DefaultLocale = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OPS_TOKEN"); v != "" {
		cfg.OpsToken = v
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
}
