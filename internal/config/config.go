package config

import (
	"os"
	"strings"
)

// Config carries every runtime setting the service reads. All values come
// from the environment; main loads a .env file first so local development
// works without exporting anything.
type Config struct {
	ServicePort string
	AppURL      string
	DBPath      string

	OpenAIAPIKey string
	OpenAIModel  string

	EmailWebhookURL string
	AdminAPIKey     string

	CleanupTimezone string
}

func Load() Config {
	return Config{
		ServicePort:     getEnv("SERVICE_PORT", "8000"),
		AppURL:          strings.TrimRight(getEnv("APP_URL", "http://localhost:8000"), "/"),
		DBPath:          getEnv("DB_PATH", "db/signgate.db"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		EmailWebhookURL: getEnv("EMAIL_WEBHOOK_URL", ""),
		AdminAPIKey:     getEnv("ADMIN_API_KEY", ""),
		CleanupTimezone: getEnv("CLEANUP_TIMEZONE", "Asia/Kolkata"),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}
