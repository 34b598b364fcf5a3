// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	ServiceName        string
	DatabaseURL        string
	BaseURL            string
	JWTSecret          string
	JWTIssuer          string
	AdminAPIKey        string
	HTTPListenAddr     string
	MetricsListenAddr  string
	LogLevel           string
	CORSOrigins        []string
	CookieName         string
	DevMode            bool
	SeedClientID       string
	SeedClientName     string
	SeedClientRedirect string
}

func Load() (*Config, error) {
	origins := getEnv("CORS_ORIGINS", "http://localhost:5173")
	var corsList []string
	for _, o := range strings.Split(origins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			corsList = append(corsList, trimmed)
		}
	}

	cfg := &Config{
		ServiceName:        getEnv("SERVICE_NAME", "identity-api"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "https://id.together.app"),
		AdminAPIKey:        getEnv("ADMIN_API_KEY", ""),
		HTTPListenAddr:     getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsListenAddr:  getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSOrigins:        corsList,
		CookieName:         getEnv("SESSION_COOKIE_NAME", "together_session"),
		DevMode:            getEnv("DEV_MODE", "") == "true",
		SeedClientID:       getEnv("SEED_CLIENT_ID", ""),
		SeedClientName:     getEnv("SEED_CLIENT_NAME", "Together"),
		SeedClientRedirect: getEnv("SEED_CLIENT_REDIRECT", ""),
	}

	return cfg, nil
}

// Validate reports missing or unusable required settings. The process must
// refuse to serve rather than run without secrets.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.AdminAPIKey == "" {
		missing = append(missing, "ADMIN_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
