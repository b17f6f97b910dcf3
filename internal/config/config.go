// Package config handles Piggy configuration loading.
//
// Configuration comes from a single YAML file with ${VAR} expansion,
// followed by an environment overlay for provider secrets so a
// deployment can keep keys out of the file entirely.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // embedded zone data for Location

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/piggy/config.yaml,
// /etc/piggy/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "piggy", "config.yaml"))
	}

	paths = append(paths, "/etc/piggy/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Piggy configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	LLM        LLMConfig        `yaml:"llm"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Database   DatabaseConfig   `yaml:"database"`
	Memory     MemoryConfig     `yaml:"memory"`
	Chat       ChatConfig       `yaml:"chat"`
	Weather    WeatherConfig    `yaml:"weather"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Persona    PersonaConfig    `yaml:"persona"`

	// DataDir holds the SQLite databases when no DSN is configured.
	DataDir string `yaml:"data_dir"`

	// Timezone is the IANA zone used for the time block, day keys, and
	// default dates (e.g. "Asia/Shanghai").
	Timezone string `yaml:"timezone"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects the chat model and its OpenAI-compatible endpoint.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible API, DeepSeek by
	// default) or "ollama".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url" env:"DEEPSEEK_BASE_URL"`
	APIKey   string `yaml:"api_key" env:"DEEPSEEK_API_KEY"`

	// ClassifierModel is used by the "llm" classifier. Empty means Model.
	ClassifierModel string `yaml:"classifier_model"`
}

// OllamaConfig points at a local Ollama instance.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	// Provider is "openai", "ollama", or "" to disable semantic memory.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key" env:"OPENAI_API_KEY"`
}

// DatabaseConfig selects the diary store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"PIGGY_DB_DRIVER"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn" env:"PIGGY_DB_DSN"`
}

// MemoryConfig configures the long-term memory store.
type MemoryConfig struct {
	// Path is the SQLite file for memory records. Defaults to
	// <data_dir>/memory.db.
	Path string `yaml:"path"`
}

// ChatConfig tunes the conversation loop.
type ChatConfig struct {
	MaxRounds    int           `yaml:"max_rounds"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`

	// Classifier is "keyword" or "llm".
	Classifier string `yaml:"classifier"`
}

// WeatherConfig holds provider keys and cache settings. Providers with
// an empty key are treated as not configured.
type WeatherConfig struct {
	DefaultCity string `yaml:"default_city"`

	QWeatherKey    string `yaml:"qweather_key" env:"QWEATHER_API_KEY"`
	QWeatherHost   string `yaml:"qweather_host" env:"QWEATHER_API_HOST"`
	AMapKey        string `yaml:"amap_key" env:"AMAP_API_KEY"`
	OpenWeatherKey string `yaml:"openweather_key" env:"OPENWEATHER_API_KEY"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig selects the weather report cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // memory, redis, none
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr" env:"PIGGY_REDIS_ADDR"`
	Prefix    string        `yaml:"prefix"`
}

// MQTTConfig enables the optional event bridge.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker" env:"PIGGY_MQTT_BROKER"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// PersonaConfig names the two participants of the diary.
type PersonaConfig struct {
	UserName      string `yaml:"user_name"`
	AssistantName string `yaml:"assistant_name"`
	// File optionally replaces the built-in system prompt.
	File string `yaml:"file"`
}

// Load reads configuration from a YAML file, applies the environment
// overlay and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overlay: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and the
// environment overlay honored. Used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	_ = env.Parse(cfg)
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Shanghai"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		if c.LLM.Provider == "ollama" {
			c.LLM.Model = "qwen3:4b"
		} else {
			c.LLM.Model = "deepseek-chat"
		}
	}
	if c.LLM.BaseURL == "" && c.LLM.Provider == "openai" {
		c.LLM.BaseURL = "https://api.deepseek.com/v1"
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}

	if c.Embeddings.Model == "" {
		switch c.Embeddings.Provider {
		case "openai":
			c.Embeddings.Model = "text-embedding-3-small"
		case "ollama":
			c.Embeddings.Model = "nomic-embed-text"
		}
	}
	if c.Embeddings.Provider == "ollama" && c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Ollama.URL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = filepath.Join(c.DataDir, "piggy.db")
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}

	if c.Chat.MaxRounds == 0 {
		c.Chat.MaxRounds = 5
	}
	if c.Chat.ModelTimeout == 0 {
		c.Chat.ModelTimeout = 60 * time.Second
	}
	if c.Chat.ToolTimeout == 0 {
		c.Chat.ToolTimeout = 20 * time.Second
	}
	if c.Chat.Classifier == "" {
		c.Chat.Classifier = "keyword"
	}

	if c.Weather.DefaultCity == "" {
		c.Weather.DefaultCity = "北京"
	}
	if c.Weather.Cache.Backend == "" {
		c.Weather.Cache.Backend = "memory"
	}
	if c.Weather.Cache.Size == 0 {
		c.Weather.Cache.Size = 128
	}
	if c.Weather.Cache.TTL == 0 {
		c.Weather.Cache.TTL = 10 * time.Minute
	}
	if c.Weather.Cache.Prefix == "" {
		c.Weather.Cache.Prefix = "piggy:weather:"
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "piggy"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "piggy"
	}

	if c.Persona.UserName == "" {
		c.Persona.UserName = "piggy"
	}
	if c.Persona.AssistantName == "" {
		c.Persona.AssistantName = "Champ"
	}

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: openai, ollama)", c.LLM.Provider)
	}
	switch c.Embeddings.Provider {
	case "", "openai", "ollama":
	default:
		return fmt.Errorf("unknown embeddings.provider %q (valid: openai, ollama)", c.Embeddings.Provider)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unknown database.driver %q (valid: sqlite, mysql, postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
	}
	switch c.Chat.Classifier {
	case "keyword", "llm":
	default:
		return fmt.Errorf("unknown chat.classifier %q (valid: keyword, llm)", c.Chat.Classifier)
	}
	if c.Chat.MaxRounds < 1 {
		return fmt.Errorf("chat.max_rounds must be at least 1, got %d", c.Chat.MaxRounds)
	}
	switch c.Weather.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unknown weather.cache.backend %q (valid: memory, redis, none)", c.Weather.Cache.Backend)
	}
	if c.Weather.Cache.Backend == "redis" && c.Weather.Cache.RedisAddr == "" {
		return fmt.Errorf("weather.cache.redis_addr is required for the redis backend")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Location resolves Timezone, falling back to the local zone when the
// name is unknown to the tz database.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
