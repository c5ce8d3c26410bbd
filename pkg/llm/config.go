package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"frameworks/bosun/pkg/config"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	APIURL      string
	MaxTokens   int
	Temperature *float64
}

func LoadConfig() Config {
	return Config{
		Provider:    config.GetEnv("LLM_PROVIDER", "openai"),
		Model:       config.GetEnv("LLM_MODEL", ""),
		APIKey:      config.GetEnv("LLM_API_KEY", ""),
		APIURL:      config.GetEnv("LLM_API_URL", ""),
		MaxTokens:   config.GetEnvInt("LLM_MAX_TOKENS", 0),
		Temperature: temperatureFromEnv(),
	}
}

// temperatureFromEnv returns nil when LLM_TEMPERATURE is unset or invalid so
// the provider default applies.
func temperatureFromEnv() *float64 {
	raw := strings.TrimSpace(os.Getenv("LLM_TEMPERATURE"))
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 || value > 2 {
		return nil
	}
	return &value
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
