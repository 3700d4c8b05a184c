package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/klixlabs/klix-backend/internal/provider/gemini"
)

// Generation parameters are fixed by the product contract and shared by
// every provider.
const (
	genTemperature     float32 = 0.9
	genTopP            float32 = 0.95
	genMaxOutputTokens         = 2048
)

// Config aggregates the whole service configuration.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Database DatabaseConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Database: DatabaseConfig{Path: getEnvOrDefault("DB_PATH", "klix.db")},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DatabaseConfig selects the persistence backend. Path "memory" runs the
// service on the in-memory store instead of SQLite.
type DatabaseConfig struct {
	Path string
}

// InMemory reports whether the ephemeral store was requested.
func (c DatabaseConfig) InMemory() bool {
	return strings.EqualFold(c.Path, "memory")
}

// AIConfig describes the completion provider.
type AIConfig struct {
	// Provider is "gemini" (default) or "ark".
	Provider string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

func loadAIConfig() (AIConfig, error) {
	cfg := AIConfig{
		Provider:      strings.ToLower(getEnvOrDefault("AI_PROVIDER", "gemini")),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL: getEnvOrDefault("GEMINI_BASE_URL", gemini.DefaultBaseURL),
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", gemini.DefaultModel),
		ArkAPIKey:     strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:  strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:  strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:      strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:    getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:     getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}

	switch cfg.Provider {
	case "gemini", "ark":
		return cfg, nil
	default:
		return AIConfig{}, fmt.Errorf("unknown AI_PROVIDER %q", cfg.Provider)
	}
}

// NewChatModel builds the configured completion model. The Gemini provider
// accepts per-request caller keys; Ark requires server credentials.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	switch c.Provider {
	case "ark":
		if c.ArkModel == "" || (c.ArkAPIKey == "" && (c.ArkAccessKey == "" || c.ArkSecretKey == "")) {
			return nil, fmt.Errorf("ark provider requires ARK_MODEL plus ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
		}
		temperature := genTemperature
		topP := genTopP
		maxTokens := genMaxOutputTokens
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.ArkBaseURL,
			Region:      c.ArkRegion,
			APIKey:      c.ArkAPIKey,
			AccessKey:   c.ArkAccessKey,
			SecretKey:   c.ArkSecretKey,
			Model:       c.ArkModel,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			TopP:        &topP,
		})
	default:
		return gemini.NewChatModel(gemini.Config{
			BaseURL: c.GeminiBaseURL,
			Model:   c.GeminiModel,
			APIKey:  c.GeminiAPIKey,
		}), nil
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
