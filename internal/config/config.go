// Package config loads and validates environment configuration.
//
// A .env file is loaded first (best effort, for local development),
// then individual variables are read from the environment. Required
// variables fail fast at startup with an actionable message.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// JWT settings shared with the Better Auth frontend.
const (
	JWTAlgorithm = "HS256"
	TokenTTL     = 24 * time.Hour
)

// Config holds all runtime configuration for the backend.
type Config struct {
	Host        string
	Port        int
	DatabaseURL string

	// AuthSecret is the HS256 key shared with Better Auth. Must be at
	// least 32 characters.
	AuthSecret string

	// FrontendURL is the allowed CORS origin.
	FrontendURL string

	// OpenAI-compatible chat completions endpoint.
	AIBaseURL string
	AIAPIKey  string
	AIModel   string

	// ValkeyURL enables the per-user chat rate limiter when set.
	ValkeyURL string

	// ChatTimeout bounds a full /api/chat turn, including the model call.
	ChatTimeout time.Duration
}

// Load reads configuration from .env and the environment.
func Load() (*Config, error) {
	// Missing .env is fine — production sets real environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		Host:        getenv("HOST", "0.0.0.0"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AuthSecret:  os.Getenv("BETTER_AUTH_SECRET"),
		FrontendURL: getenv("FRONTEND_URL", "http://localhost:3000"),
		AIBaseURL:   getenv("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIAPIKey:    os.Getenv("AI_API_KEY"),
		AIModel:     getenv("AI_MODEL", "openai/gpt-3.5-turbo"),
		ValkeyURL:   os.Getenv("VALKEY_URL"),
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("BETTER_AUTH_SECRET is not set; generate one with: openssl rand -hex 32")
	}
	if len(cfg.AuthSecret) < 32 {
		return nil, fmt.Errorf("BETTER_AUTH_SECRET must be at least 32 characters, got %d", len(cfg.AuthSecret))
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set; expected a postgres DSN or a sqlite path for local dev")
	}

	port, err := strconv.Atoi(getenv("PORT", "8000"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("PORT must be a valid port number, got %q", os.Getenv("PORT"))
	}
	cfg.Port = port

	timeout := getenv("CHAT_TIMEOUT", "30s")
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return nil, fmt.Errorf("CHAT_TIMEOUT must be a positive duration, got %q", timeout)
	}
	cfg.ChatTimeout = d

	return cfg, nil
}

// Addr returns the host:port pair the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
