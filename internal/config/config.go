package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	AppEnv        string
	LogLevel      string
	LogEncoding   string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QuotaDBPath   string

	AuthSecret            string
	AccessTokenTTLMinutes int

	GeminiAPIKey          string
	GeminiModel           string
	GeminiBaseURL         string
	ImageSearchAPIKey     string
	ImageSearchEngineID   string
	ImageSearchBaseURL    string
	GatewayTimeoutSeconds int

	FreeAnalyses             int
	RegistrationBonus        int
	PromptDelayMS            int
	ShareTTLHours            int
	ReferenceCacheTTLMinutes int

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the process environment. A .env file in the working directory is
// applied first when present; variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		AppEnv:        getEnv("APP_ENV", "production"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogEncoding:   getEnv("LOG_ENCODING", "json"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0, 0),
		QuotaDBPath:   getEnv("QUOTA_DB_PATH", "stockia.db"),

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 720, 1),

		GeminiAPIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		ImageSearchAPIKey:     strings.TrimSpace(os.Getenv("IMAGE_SEARCH_API_KEY")),
		ImageSearchEngineID:   strings.TrimSpace(os.Getenv("IMAGE_SEARCH_ENGINE_ID")),
		ImageSearchBaseURL:    getEnv("IMAGE_SEARCH_BASE_URL", "https://www.googleapis.com"),
		GatewayTimeoutSeconds: getEnvInt("GATEWAY_TIMEOUT_SECONDS", 30, 1),

		FreeAnalyses:             getEnvInt("FREE_ANALYSES", 5, 1),
		RegistrationBonus:        getEnvInt("REGISTRATION_BONUS", 5, 1),
		PromptDelayMS:            getEnvInt("PROMPT_DELAY_MS", 2000, 0),
		ShareTTLHours:            getEnvInt("SHARE_TTL_HOURS", 7*24, 1),
		ReferenceCacheTTLMinutes: getEnvInt("REFERENCE_CACHE_TTL_MINUTES", 24*60, 1),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "stockia.inventory"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt falls back when the value is missing, malformed or below min.
func getEnvInt(key string, fallback int, min int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return fallback
	}
	return n
}

func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
