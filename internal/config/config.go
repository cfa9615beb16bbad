package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// WhatsApp gateway (whapi-style provider)
	WhatsAppAPIURL    string
	WhatsAppAPIToken  string
	WhatsAppSendPaths []string
	WhatsAppTimeout   time.Duration
	WebhookSecret     string
	FollowupMessage   string

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// In-memory inspector ring buffer
	RecentRequestsCap int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "3000"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		WhatsAppAPIURL:     getEnv("WHATSAPP_API_URL", "https://gate.whapi.cloud"),
		WhatsAppAPIToken:   getEnv("WHATSAPP_API_TOKEN", ""),
		WhatsAppSendPaths:  getEnvAsList("WHATSAPP_SEND_PATHS", []string{"/messages/text", "/messages", "/api/messages/text", "/api/sendText"}),
		WhatsAppTimeout:    getEnvAsDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		FollowupMessage:    getEnv("FOLLOWUP_MESSAGE", "Grazie per la chiamata! Per procedere, inviaci una foto della tua ultima bolletta."),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		RecentRequestsCap: getEnvAsInt("RECENT_REQUESTS_CAP", 100),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
