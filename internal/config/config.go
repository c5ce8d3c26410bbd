package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"frameworks/bosun/internal/schedule"
	"frameworks/bosun/pkg/config"
	"frameworks/bosun/pkg/llm"
)

// Config stores environment configuration for Bosun.
type Config struct {
	Port        string
	AdminAPIKey string

	PostsPerMonth     int
	PostsPerDay       int
	AutoPoster        bool
	AutoResponder     bool
	ResponderInterval time.Duration
	ResponderBatch    int
	DevMode           bool
	MaxAttempts       int
	SlotJitter        time.Duration
	ThreadMode        schedule.ThreadMode
	RosterMode        string
	AgentNames        []string

	LLM llm.Config

	XAPIURL       string
	XUserID       string
	XAccessToken  string
	XRefreshToken string
	XClientID     string
	XClientSecret string
	XTokenURL     string

	DexScreenerURL string

	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string
	EventsTopic  string
}

// LoadConfig loads the Bosun configuration from environment variables.
// Malformed values fall back to defaults; Validate reports what cannot run.
func LoadConfig() Config {
	mode, err := schedule.ParseThreadMode(config.GetEnv("BOSUN_THREAD_MODE", "chain"))
	if err != nil {
		mode = ""
	}
	return Config{
		Port:        config.GetEnv("PORT", "18030"),
		AdminAPIKey: config.GetEnv("BOSUN_API_KEY", ""),

		PostsPerMonth:     config.GetEnvInt("BOSUN_POSTS_PER_MONTH", 1500),
		PostsPerDay:       config.GetEnvInt("BOSUN_POSTS_PER_DAY", 50),
		AutoPoster:        config.GetEnvBool("BOSUN_AUTO_POSTER", false),
		AutoResponder:     config.GetEnvBool("BOSUN_AUTO_RESPONDER", false),
		ResponderInterval: time.Duration(config.GetEnvInt("BOSUN_RESPONDER_INTERVAL_MINUTES", 15)) * time.Minute,
		ResponderBatch:    config.GetEnvInt("BOSUN_RESPONDER_BATCH", 5),
		DevMode:           config.GetEnvBool("BOSUN_DEV_MODE", false),
		MaxAttempts:       config.GetEnvInt("BOSUN_MAX_PIPELINE_ATTEMPTS", 3),
		SlotJitter:        config.GetEnvDuration("BOSUN_SLOT_JITTER", 0),
		ThreadMode:        mode,
		RosterMode:        strings.ToLower(config.GetEnv("BOSUN_ROSTER", "llm")),
		AgentNames:        config.GetEnvList("BOSUN_AGENT_NAMES"),

		LLM: llm.LoadConfig(),

		XAPIURL:       config.GetEnv("X_API_URL", "https://api.x.com"),
		XUserID:       config.GetEnv("X_USER_ID", ""),
		XAccessToken:  config.GetEnv("X_ACCESS_TOKEN", ""),
		XRefreshToken: config.GetEnv("X_REFRESH_TOKEN", ""),
		XClientID:     config.GetEnv("X_CLIENT_ID", ""),
		XClientSecret: config.GetEnv("X_CLIENT_SECRET", ""),
		XTokenURL:     config.GetEnv("X_TOKEN_URL", ""),

		DexScreenerURL: config.GetEnv("DEXSCREENER_API_URL", "https://api.dexscreener.com"),

		DatabaseURL:  config.GetEnv("DATABASE_URL", ""),
		RedisURL:     config.GetEnv("REDIS_URL", ""),
		KafkaBrokers: config.GetEnvList("KAFKA_BROKERS"),
		EventsTopic:  config.GetEnv("BOSUN_EVENTS_TOPIC", "bosun_events"),
	}
}

// NeedsX reports whether any enabled feature talks to the X API.
func (c Config) NeedsX() bool {
	return c.AutoResponder || (c.AutoPoster && !c.DevMode)
}

// Validate returns every problem that would keep an enabled feature from
// running. The process refuses to start on any of them.
func (c Config) Validate() error {
	var errs []error
	if c.ThreadMode == "" {
		errs = append(errs, errors.New("BOSUN_THREAD_MODE must be chain or flat"))
	}
	if c.PostsPerMonth < 0 || c.PostsPerDay < 0 {
		errs = append(errs, errors.New("post caps must not be negative"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("BOSUN_MAX_PIPELINE_ATTEMPTS must be at least 1"))
	}
	if c.AutoResponder && c.ResponderInterval <= 0 {
		errs = append(errs, errors.New("BOSUN_RESPONDER_INTERVAL_MINUTES must be positive"))
	}
	switch c.RosterMode {
	case "llm", "static":
	default:
		errs = append(errs, fmt.Errorf("BOSUN_ROSTER must be llm or static, got %q", c.RosterMode))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.NeedsX() {
		if c.XAccessToken == "" && c.XRefreshToken == "" {
			errs = append(errs, errors.New("X_ACCESS_TOKEN or X_REFRESH_TOKEN is required when publishing"))
		}
		if c.XRefreshToken != "" && c.XClientID == "" {
			errs = append(errs, errors.New("X_CLIENT_ID is required to refresh X tokens"))
		}
	}
	if c.AutoResponder && c.XUserID == "" {
		errs = append(errs, errors.New("X_USER_ID is required for the auto responder"))
	}
	return errors.Join(errs...)
}
