package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/storyloom/narrate/internal/config"
	"github.com/storyloom/narrate/internal/engine"
	"github.com/storyloom/narrate/internal/handlers"
	"github.com/storyloom/narrate/internal/logger"
	"github.com/storyloom/narrate/internal/middleware"
	"github.com/storyloom/narrate/internal/services"
	"github.com/storyloom/narrate/internal/storage"
	"github.com/storyloom/narrate/pkg/story"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg)

	log.Info("Starting narrate API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"provider", cfg.LLMProvider,
		"model", cfg.ModelName)

	store, err := storage.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Error("Failed to create story store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(ctx); err != nil {
		log.Warn("Story store unreachable at startup, continuing degraded", "error", err)
	}
	cancel()

	var llm services.LLMService
	switch cfg.LLMProvider {
	case "mock":
		llm = services.NewMockLLMAPI()
	default:
		llm = services.NewGroqService(cfg.GroqAPIKey, cfg.GroqBaseURL, log)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := llm.InitializeModel(initCtx, cfg.ModelName); err != nil {
		log.Warn("Model initialization failed, continuing", "error", err, "model", cfg.ModelName)
	}
	initCancel()

	storyCtx := services.NewStoryContextService(store, log)
	eng := engine.New(llm, storyCtx, log, engine.Defaults{
		ModelName:        cfg.ModelName,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		MaxTokens:        cfg.MaxNewTokens,
		FrequencyPenalty: cfg.FrequencyPenalty,
		ReasoningEffort:  cfg.ReasoningEffort,
		HistoryLimit:     cfg.HistoryLimit,
		SnippetLimit:     cfg.SnippetLimit,
		Thresholds:       story.Thresholds{Low: cfg.LoopLow, High: cfg.LoopHigh},
	})

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(store, log))
	mux.Handle("/v1/chat", handlers.NewChatHandler(eng, log, cfg.StreamFormat))
	mux.Handle("/v1/stories/{story_id}/nodes/{node_id}", handlers.NewStoryHandler(store, storyCtx, log))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.RequestLogger(log, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	log.Info("Server stopped")
}
