package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kidsclubplans/kcp/internal/chat"
	"github.com/kidsclubplans/kcp/internal/config"
	"github.com/kidsclubplans/kcp/internal/embedding"
	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/memory"
	"github.com/kidsclubplans/kcp/internal/metrics"
	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/safety"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/tools"
	"github.com/kidsclubplans/kcp/internal/weather"
)

// loadConfig reads the config file and applies the logging flags. The
// process-wide slog default is replaced with the configured handler.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format))
	return cfg, nil
}

// app holds the collaborators shared by the commands. Optional pieces are
// nil when their credentials are missing.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	metrics     *metrics.Registry
	store       *store.Store
	vectors     *rag.VectorStore
	weather     *weather.Client
	memory      *memory.Manager
	provider    llm.Provider
	executor    *tools.Executor
	chat        *chat.Service
	limiters    *safety.Limiters
	transcriber *llm.Transcriber
}

// newApp opens the store and builds every service from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := store.NewStore(store.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Default,
		store:   st,
		weather: weather.NewClient(cfg.Weather, st),
		memory:  memory.NewManager(st),
		limiters: safety.NewLimiters(
			cfg.RateLimits.ChatPerMinute,
			cfg.RateLimits.ScheduleSavePerMinute,
			cfg.RateLimits.ActivitySavePerMinute,
			cfg.RateLimits.DeletePerMinute,
		),
	}

	embedder, err := embedding.NewEmbeddingProvider(cfg)
	switch {
	case errors.Is(err, embedding.ErrDisabled):
		logger.Warn("semantic search disabled, using keyword search", "reason", err)
	case err != nil:
		st.Close()
		return nil, err
	}
	a.vectors = rag.New(st, embedder)

	provider, err := llm.NewProvider(cfg)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("llm provider not configured", "provider", cfg.LLM.Provider)
	case err != nil:
		st.Close()
		return nil, err
	default:
		a.provider = provider
	}

	if cfg.LLM.OpenAI.APIKey != "" {
		a.transcriber = llm.NewTranscriber(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.BaseURL)
	}

	a.executor = tools.NewExecutor(tools.DefaultRegistry(), cfg.LLM.Timeout)
	a.chat = chat.NewService(chat.Config{
		RAGLimit: cfg.Chat.RAGLimit,
		Loop: chat.LoopConfig{
			Model:           llm.ModelName(cfg),
			MaxIterations:   cfg.LLM.MaxIterations,
			MaxOutputTokens: cfg.LLM.MaxTokens,
			Temperature:     float32(cfg.LLM.Temperature),
			ConcurrentTools: cfg.Chat.ConcurrentTools,
		},
	}, chat.Deps{
		Provider:   a.provider,
		Executor:   a.executor,
		Search:     a.vectors,
		Memory:     a.memory,
		Activities: st,
		Indexer:    a.vectors,
		Weather:    a.weather,
		Profiles:   st,
		Logger:     logger,
		Metrics:    a.metrics,
	})
	return a, nil
}

// toolContext builds an execution context for tools invoked outside a chat
// request, such as the schedule and save endpoints.
func (a *app) toolContext(userID, sessionID string) *tools.ExecutionContext {
	return &tools.ExecutionContext{
		UserID:     userID,
		SessionID:  sessionID,
		Activities: a.store,
		Search:     a.vectors,
		Indexer:    a.vectors,
		Weather:    a.weather,
		Profiles:   a.store,
		Logger:     a.logger,
	}
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}
