package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/piggy-diary/piggy/internal/agent"
	"github.com/piggy-diary/piggy/internal/background"
	"github.com/piggy-diary/piggy/internal/classify"
	"github.com/piggy-diary/piggy/internal/config"
	"github.com/piggy-diary/piggy/internal/diary"
	"github.com/piggy-diary/piggy/internal/embeddings"
	"github.com/piggy-diary/piggy/internal/events"
	"github.com/piggy-diary/piggy/internal/llm"
	"github.com/piggy-diary/piggy/internal/memory"
	"github.com/piggy-diary/piggy/internal/prompts"
	"github.com/piggy-diary/piggy/internal/tools"
	"github.com/piggy-diary/piggy/internal/weather"
)

// backgroundTaskTimeout bounds each memory mirror write.
const backgroundTaskTimeout = 30 * time.Second

// app holds the wired components shared by serve and ask.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	diary   *diary.Store
	memory  *memory.Store
	weather *weather.Service
	runner  *background.Runner
	loop    *agent.Loop

	closers []func() error
}

// newApp opens the stores and builds the chat pipeline. The caller must
// Close the result.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, bus: events.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	loc := cfg.Location()

	llmClient := createLLMClient(cfg, logger)

	embedder := createEmbedder(cfg, logger)
	a.memory, err = memory.Open(cfg.Memory.Path, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	a.closers = append(a.closers, a.memory.Close)

	a.diary, err = diary.Open(cfg.Database.Driver, cfg.Database.DSN, loc, logger)
	if err != nil {
		return nil, fmt.Errorf("open diary store: %w", err)
	}
	a.closers = append(a.closers, a.diary.Close)
	logger.Info("diary store opened", "driver", cfg.Database.Driver)

	a.weather, err = a.createWeather(ctx)
	if err != nil {
		return nil, err
	}

	a.runner = background.NewRunner(context.WithoutCancel(ctx), backgroundTaskTimeout, logger)

	exec, err := tools.NewExecutor(tools.Deps{
		Diary:      a.diary,
		Memory:     a.memory,
		Weather:    a.weather,
		Background: a.runner,
		Bus:        a.bus,
		Logger:     logger,
		Timeout:    cfg.Chat.ToolTimeout,
		Author:     cfg.Persona.UserName,
	})
	if err != nil {
		return nil, fmt.Errorf("build tool executor: %w", err)
	}

	builder := agent.NewContextBuilder(createClassifier(cfg, llmClient, logger), a.memory, loc, logger)

	systemPrompt, err := loadSystemPrompt(cfg)
	if err != nil {
		return nil, err
	}

	a.loop = agent.NewLoop(llmClient, exec, builder, agent.Config{
		Model:        cfg.LLM.Model,
		SystemPrompt: systemPrompt,
		MaxRounds:    cfg.Chat.MaxRounds,
		ModelTimeout: cfg.Chat.ModelTimeout,
		Tools:        tools.Definitions(),
	}, a.bus, logger)

	return a, nil
}

// Close releases stores and caches in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// createLLMClient builds a multi-provider client. The configured
// provider serves the chat model; the other is registered so a
// classifier model can live elsewhere.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollamaClient := llm.NewOllamaClient(cfg.Ollama.URL, logger)

	var primary llm.Client = ollamaClient
	var openaiClient *llm.OpenAIClient
	if cfg.LLM.Provider == "openai" || cfg.LLM.APIKey != "" {
		openaiClient = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, logger)
		if cfg.LLM.Provider == "openai" {
			primary = openaiClient
		}
	}

	multi := llm.NewMultiClient(primary)
	multi.AddProvider("ollama", ollamaClient)
	if openaiClient != nil {
		multi.AddProvider("openai", openaiClient)
	}
	multi.AddModel(cfg.LLM.Model, cfg.LLM.Provider)

	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		logger.Warn("no API key configured for the chat model", "base_url", cfg.LLM.BaseURL)
	}
	logger.Info("LLM client initialized", "model", cfg.LLM.Model, "provider", cfg.LLM.Provider)
	return multi
}

// createEmbedder returns nil when semantic memory is disabled.
func createEmbedder(cfg *config.Config, logger *slog.Logger) embeddings.Embedder {
	switch cfg.Embeddings.Provider {
	case "openai":
		logger.Info("embeddings enabled", "provider", "openai", "model", cfg.Embeddings.Model)
		return embeddings.NewOpenAI(embeddings.OpenAIConfig{
			APIKey:  cfg.Embeddings.APIKey,
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	case "ollama":
		logger.Info("embeddings enabled", "provider", "ollama", "model", cfg.Embeddings.Model)
		return embeddings.NewOllama(embeddings.OllamaConfig{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	default:
		logger.Info("embeddings disabled, memory recall uses text match only")
		return nil
	}
}

func createClassifier(cfg *config.Config, client llm.Client, logger *slog.Logger) classify.Classifier {
	if cfg.Chat.Classifier != "llm" {
		return classify.KeywordClassifier{}
	}
	model := cfg.LLM.ClassifierModel
	if model == "" {
		model = cfg.LLM.Model
	}
	return classify.NewLLMClassifier(client, model, logger)
}

// createWeather assembles the provider chain in fallback order: QWeather,
// AMap, OpenWeatherMap. Providers without a key are skipped.
func (a *app) createWeather(ctx context.Context) (*weather.Service, error) {
	wc := a.cfg.Weather

	var providers []weather.Provider
	if wc.QWeatherKey != "" {
		providers = append(providers, weather.NewQWeather(wc.QWeatherKey, wc.QWeatherHost, nil, a.logger))
	}
	if wc.AMapKey != "" {
		providers = append(providers, weather.NewAMap(wc.AMapKey, nil, a.logger))
	}
	if wc.OpenWeatherKey != "" {
		providers = append(providers, weather.NewOpenWeather(wc.OpenWeatherKey, nil))
	}

	var cache weather.Cache
	switch wc.Cache.Backend {
	case "memory":
		mc, err := weather.NewMemoryCache(wc.Cache.Size)
		if err != nil {
			return nil, fmt.Errorf("weather cache: %w", err)
		}
		cache = mc
	case "redis":
		rc, err := weather.NewRedisCache(ctx, wc.Cache.RedisAddr, wc.Cache.Prefix)
		if err != nil {
			return nil, fmt.Errorf("weather cache: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		cache = rc
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	if len(providers) == 0 {
		a.logger.Warn("no weather provider configured, get_weather will report unavailable")
	} else {
		a.logger.Info("weather providers configured", "providers", strings.Join(names, ","), "cache", wc.Cache.Backend)
	}

	return weather.NewService(providers, weather.Options{
		DefaultCity: wc.DefaultCity,
		Cache:       cache,
		TTL:         wc.Cache.TTL,
		Logger:      a.logger,
	}), nil
}

// loadSystemPrompt returns the persona file when configured, otherwise
// the built-in prompt for the configured names.
func loadSystemPrompt(cfg *config.Config) (string, error) {
	if cfg.Persona.File == "" {
		return prompts.SystemPrompt(cfg.Persona.AssistantName, cfg.Persona.UserName), nil
	}
	data, err := os.ReadFile(cfg.Persona.File)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("persona file %s is empty", cfg.Persona.File)
	}
	return prompt, nil
}
