package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Stream frame formats for the SSE chat endpoint.
const (
	StreamFormatRaw     = "raw"     // frames carry bare content fragments
	StreamFormatWrapped = "wrapped" // frames carry typed JSON envelopes
)

type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	LLMProvider string // "groq" or "mock"
	GroqAPIKey  string
	GroqBaseURL string
	ModelName   string

	Temperature      *float64
	TopP             *float64
	MaxNewTokens     *int
	FrequencyPenalty *float64
	ReasoningEffort  string

	RedisURL     string
	StreamFormat string
	LoopLow      int
	LoopHigh     int
	HistoryLimit int
	SnippetLimit int
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),

		LLMProvider: getEnv("LLM_PROVIDER", "groq"),
		GroqAPIKey:  getEnv("GROQ_API_KEY", ""),
		GroqBaseURL: getEnv("GROQ_BASE_URL", ""),
		ModelName:   getEnv("MODEL_NAME", "llama-3.3-70b-versatile"),

		Temperature:      getEnvFloat("TEMPERATURE"),
		TopP:             getEnvFloat("TOP_P"),
		MaxNewTokens:     getEnvInt("MAX_NEW_TOKENS"),
		FrequencyPenalty: getEnvFloat("FREQUENCY_PENALTY"),
		ReasoningEffort:  getEnv("REASONING_EFFORT", ""),

		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StreamFormat: getEnv("STREAM_FORMAT", StreamFormatWrapped),
		LoopLow:      getEnvIntDefault("LOOP_THRESHOLD_LOW", 2),
		LoopHigh:     getEnvIntDefault("LOOP_THRESHOLD_HIGH", 5),
		HistoryLimit: getEnvIntDefault("HISTORY_LIMIT", 20),
		SnippetLimit: getEnvIntDefault("SNIPPET_LIMIT", 0),
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string) *float64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

func getEnvInt(key string) *int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &n
}

func getEnvIntDefault(key string, defaultValue int) int {
	if n := getEnvInt(key); n != nil {
		return *n
	}
	return defaultValue
}
