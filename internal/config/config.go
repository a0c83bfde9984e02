package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	DBDriver string // sqlite | postgres
	DBPath   string // sqlite file
	DBDSN    string // postgres DSN

	SessionDir     string
	RestaurantName string

	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	GeminiMaxTokens   int
	GeminiTemperature float64

	ReplyDelayMinMs      int
	ReplyDelayMaxMs      int
	FallbackMessages     []string
	HistoryRetentionDays int
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "3001"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBPath:   getEnv("DB_PATH", "./bridge.db"),
		DBDSN:    getEnv("DB_DSN", ""),

		SessionDir:     getEnv("SESSION_DIR", "./sessions"),
		RestaurantName: getEnv("RESTAURANT_NAME", "Restaurante"),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		GeminiMaxTokens:   getEnvInt("GEMINI_MAX_TOKENS", 150),
		GeminiTemperature: getEnvFloat("GEMINI_TEMPERATURE", 0.7),

		ReplyDelayMinMs:      getEnvInt("REPLY_DELAY_MIN_MS", 2000),
		ReplyDelayMaxMs:      getEnvInt("REPLY_DELAY_MAX_MS", 5000),
		HistoryRetentionDays: getEnvInt("HISTORY_RETENTION_DAYS", 30),
	}

	if raw := getEnv("FALLBACK_MESSAGES", ""); raw != "" {
		cfg.FallbackMessages = splitList(raw)
	}

	if cfg.ReplyDelayMinMs > cfg.ReplyDelayMaxMs {
		cfg.ReplyDelayMinMs, cfg.ReplyDelayMaxMs = cfg.ReplyDelayMaxMs, cfg.ReplyDelayMinMs
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// splitList parses a pipe- or comma-separated env value. Pipe wins when
// present so fallback messages can contain commas.
func splitList(raw string) []string {
	sep := ","
	if strings.Contains(raw, "|") {
		sep = "|"
	}
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
