package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// Config holds all the configuration for the application
type Config struct {
	BotToken   string
	BotEnabled bool
	// Debug turns on Telegram API request logging
	Debug bool

	// GeminiAPIKey is the deploy-time default credential. Users may override it.
	GeminiAPIKey string

	DatabasePath  string
	QuestionsPath string
	HTTPAddr      string
	CacheBackend  string
	LogMode       string

	PrimaryModel           string
	FallbackModel          string
	FastModel              string
	TTSModel               string
	TTSVoice               string
	FallbackThinkingBudget int32
	RequestTimeout         time.Duration
}

// Load loads the configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		BotToken:      os.Getenv("BOT_TOKEN"),
		BotEnabled:    boolEnv("BOT_ENABLED", true),
		Debug:         boolEnv("DEBUG", false),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		DatabasePath:  stringEnv("DB_PATH", "./data/physprep.db"),
		QuestionsPath: stringEnv("QUESTIONS_PATH", "assets/questions.json"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		CacheBackend:  strings.ToLower(stringEnv("CACHE_BACKEND", CacheMemory)),
		LogMode:       stringEnv("LOG_MODE", "dev"),

		PrimaryModel:           stringEnv("PRIMARY_MODEL", "gemini-2.5-pro"),
		FallbackModel:          stringEnv("FALLBACK_MODEL", "gemini-2.5-flash"),
		FastModel:              stringEnv("FAST_MODEL", "gemini-2.5-flash"),
		TTSModel:               stringEnv("TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		TTSVoice:               stringEnv("TTS_VOICE", "Kore"),
		FallbackThinkingBudget: int32(intEnv("FALLBACK_THINKING_BUDGET", 0)),
		RequestTimeout:         durationEnv("REQUEST_TIMEOUT", 90*time.Second),
	}

	if cfg.BotEnabled && cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN environment variable is required")
	}
	if !cfg.BotEnabled && cfg.HTTPAddr == "" {
		return nil, errors.New("nothing to run: set BOT_TOKEN or HTTP_ADDR")
	}
	switch cfg.CacheBackend {
	case CacheMemory, CacheSQLite:
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}

	return cfg, nil
}

func stringEnv(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func intEnv(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func boolEnv(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
