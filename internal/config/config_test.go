package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.SessionTimeoutMin != 30 {
		t.Errorf("SessionTimeoutMin: got %d, want 30", cfg.SessionTimeoutMin)
	}
	if cfg.MaxSessions != 1000 {
		t.Errorf("MaxSessions: got %d, want 1000", cfg.MaxSessions)
	}
	if cfg.MaxTurnsPerSession != 20 {
		t.Errorf("MaxTurnsPerSession: got %d, want 20", cfg.MaxTurnsPerSession)
	}
	if cfg.EscalationWindowMin != 30 {
		t.Errorf("EscalationWindowMin: got %d, want 30", cfg.EscalationWindowMin)
	}
	if cfg.CacheCapacity != 500 {
		t.Errorf("CacheCapacity: got %d, want 500", cfg.CacheCapacity)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("OpenAIModel: got %s", cfg.OpenAIModel)
	}
	if cfg.DefaultLocale != "en" {
		t.Errorf("DefaultLocale: got %s", cfg.DefaultLocale)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.OpsPort != 8081 {
		t.Errorf("OpsPort: got %d, want 8081", cfg.OpsPort)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress: got %s", cfg.BindAddress)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaults()
	if cfg.SessionTimeout() != 30*time.Minute {
		t.Errorf("SessionTimeout: got %v", cfg.SessionTimeout())
	}
	if cfg.EscalationWindow() != 30*time.Minute {
		t.Errorf("EscalationWindow: got %v", cfg.EscalationWindow())
	}
	if cfg.SessionSweepInterval() != time.Minute {
		t.Errorf("SessionSweepInterval: got %v", cfg.SessionSweepInterval())
	}
	if cfg.ProviderTimeout() != 20*time.Second {
		t.Errorf("ProviderTimeout: got %v", cfg.ProviderTimeout())
	}
}

func TestLoadEnv_SessionTimeout(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT_MIN", "5")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.SessionTimeoutMin != 5 {
		t.Errorf("SessionTimeoutMin: got %d, want 5", cfg.SessionTimeoutMin)
	}
}

func TestLoadEnv_MaxSessions(t *testing.T) {
	t.Setenv("MAX_SESSIONS", "50")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.MaxSessions != 50 {
		t.Errorf("MaxSessions: got %d, want 50", cfg.MaxSessions)
	}
}

func TestLoadEnv_InvalidInt_Ignored(t *testing.T) {
	t.Setenv("MAX_SESSIONS", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.MaxSessions != 1000 {
		t.Errorf("MaxSessions: got %d, want 1000 (invalid env should be ignored)", cfg.MaxSessions)
	}
}

func TestLoadEnv_BelowMinimum_Ignored(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT_MIN", "0")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.SessionTimeoutMin != 30 {
		t.Errorf("SessionTimeoutMin: got %d, want 30 (zero should be ignored)", cfg.SessionTimeoutMin)
	}
}

func TestLoadEnv_Model(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("OpenAIModel: got %s", cfg.OpenAIModel)
	}
}

func TestLoadEnv_OpsToken(t *testing.T) {
	t.Setenv("OPS_TOKEN", "secret-token")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.OpsToken != "secret-token" {
		t.Errorf("OpsToken: got %s", cfg.OpsToken)
	}
}

func TestLoadEnv_DefaultLocale(t *testing.T) {
	t.Setenv("DEFAULT_LOCALE", "es")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.DefaultLocale != "es" {
		t.Errorf("DefaultLocale: got %s", cfg.DefaultLocale)
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"sessionTimeoutMin": 10,
		"cacheCapacity":     42,
		"defaultLocale":     "fr",
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.SessionTimeoutMin != 10 {
		t.Errorf("SessionTimeoutMin: got %d, want 10", cfg.SessionTimeoutMin)
	}
	if cfg.CacheCapacity != 42 {
		t.Errorf("CacheCapacity: got %d, want 42", cfg.CacheCapacity)
	}
	if cfg.DefaultLocale != "fr" {
		t.Errorf("DefaultLocale: got %s, want fr", cfg.DefaultLocale)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.MaxSessions != 1000 {
		t.Errorf("MaxSessions changed unexpectedly: %d", cfg.MaxSessions)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.MaxSessions != 1000 {
		t.Errorf("MaxSessions changed on bad JSON: %d", cfg.MaxSessions)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.MaxSessions <= 0 {
		t.Errorf("MaxSessions should be positive, got %d", cfg.MaxSessions)
	}
}
