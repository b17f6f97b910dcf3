package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q", path, got)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want config.yaml", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/piggy-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("Listen.Port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Chat.MaxRounds != 5 {
		t.Errorf("Chat.MaxRounds = %d, want 5", cfg.Chat.MaxRounds)
	}
	if cfg.Chat.ToolTimeout != 20*time.Second {
		t.Errorf("Chat.ToolTimeout = %v", cfg.Chat.ToolTimeout)
	}
	if cfg.Weather.DefaultCity != "北京" {
		t.Errorf("Weather.DefaultCity = %q", cfg.Weather.DefaultCity)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
	if want := filepath.Join("/tmp/piggy-test", "piggy.db"); cfg.Database.DSN != want {
		t.Errorf("Database.DSN = %q, want %q", cfg.Database.DSN, want)
	}
	if cfg.Persona.UserName != "piggy" || cfg.Persona.AssistantName != "Champ" {
		t.Errorf("Persona = %+v", cfg.Persona)
	}
	if cfg.LLM.Model != "deepseek-chat" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("PIGGY_TEST_KEY", "secret123")
	path := writeConfig(t, "weather:\n  amap_key: ${PIGGY_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Weather.AMapKey != "secret123" {
		t.Errorf("AMapKey = %q, want secret123", cfg.Weather.AMapKey)
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("QWEATHER_API_KEY", "qw-from-env")
	t.Setenv("DEEPSEEK_API_KEY", "ds-from-env")
	path := writeConfig(t, "llm:\n  api_key: from-file\nweather:\n  openweather_key: owm-file\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Weather.QWeatherKey != "qw-from-env" {
		t.Errorf("QWeatherKey = %q", cfg.Weather.QWeatherKey)
	}
	if cfg.LLM.APIKey != "ds-from-env" {
		t.Errorf("LLM.APIKey = %q, want env to override file", cfg.LLM.APIKey)
	}
}

func TestLoad_UnsetEnvKeepsFileValue(t *testing.T) {
	os.Unsetenv("OPENWEATHER_API_KEY")
	path := writeConfig(t, "weather:\n  openweather_key: owm-file\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Weather.OpenWeatherKey != "owm-file" {
		t.Errorf("OpenWeatherKey = %q, want owm-file", cfg.Weather.OpenWeatherKey)
	}
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, "chat:\n  model_timeout: 90s\n  tool_timeout: 5s\nweather:\n  cache:\n    ttl: 1m\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chat.ModelTimeout != 90*time.Second || cfg.Chat.ToolTimeout != 5*time.Second {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Weather.Cache.TTL != time.Minute {
		t.Errorf("Cache.TTL = %v", cfg.Weather.Cache.TTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"mysql without dsn", func(c *Config) { c.Database.Driver = "mysql"; c.Database.DSN = "" }, "database.dsn"},
		{"bad classifier", func(c *Config) { c.Chat.Classifier = "magic" }, "chat.classifier"},
		{"zero rounds", func(c *Config) { c.Chat.MaxRounds = -1 }, "max_rounds"},
		{"bad cache", func(c *Config) { c.Weather.Cache.Backend = "disk" }, "cache.backend"},
		{"redis without addr", func(c *Config) { c.Weather.Cache.Backend = "redis"; c.Weather.Cache.RedisAddr = "" }, "redis_addr"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "mqtt.broker"},
		{"bad embeddings", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "Asia/Shanghai"}
	if got := cfg.Location().String(); got != "Asia/Shanghai" {
		t.Errorf("Location = %q", got)
	}
	cfg.Timezone = "Nowhere/Special"
	if cfg.Location() != time.Local {
		t.Error("unknown zone should fall back to time.Local")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "payload")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("output = %q, want level=TRACE", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, slog.LevelInfo, "json").Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json output = %q", buf.String())
	}
}
