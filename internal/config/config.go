// Package config loads the Brain service configuration.
//
// Resolution order: built-in defaults, then an optional YAML file
// (BRAIN_CONFIG), then environment variable overrides. The resulting
// Config is immutable for the life of the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds one AI backend's settings.
type ProviderConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
	TimeoutMillis int     `yaml:"timeout_millis"`
}

// Timeout returns the per-call deadline for the provider.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutMillis <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutMillis) * time.Millisecond
}

// SecurityConfig holds the policy knobs.
type SecurityConfig struct {
	RequireAuth          bool     `yaml:"require_auth"`
	RateLimitEnabled     bool     `yaml:"rate_limit_enabled"`
	RateLimitPerMinute   int      `yaml:"rate_limit_per_minute"`
	RateLimitPerHour     int      `yaml:"rate_limit_per_hour"`
	ContentFilterEnabled bool     `yaml:"content_filter_enabled"`
	BlockedWords         []string `yaml:"blocked_words"`
	TraumaSafeMode       bool     `yaml:"trauma_safe_mode"`
}

// SessionConfig holds session lifecycle knobs.
type SessionConfig struct {
	MaxSessions    int `yaml:"max_concurrent_sessions"`
	TimeoutMinutes int `yaml:"session_timeout_minutes"`
}

// ContextConfig holds conversation context knobs.
type ContextConfig struct {
	MaxHistoryLength int `yaml:"max_history_length"`
	RetentionDays    int `yaml:"retention_days"`
}

// Config is the full service configuration tree.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	JWTSecret string `yaml:"jwt_secret"`

	Providers struct {
		Local     ProviderConfig `yaml:"local"`
		OpenAI    ProviderConfig `yaml:"openai"`
		Anthropic ProviderConfig `yaml:"anthropic"`
	} `yaml:"providers"`

	Security SecurityConfig `yaml:"security"`
	Session  SessionConfig  `yaml:"session"`
	Context  ContextConfig  `yaml:"context"`

	RedisURL         string            `yaml:"redis_url"`
	NATSURL          string            `yaml:"nats_url"`
	ConversationDB   string            `yaml:"conversation_db"`
	KnowledgeBaseDir string            `yaml:"knowledge_base_dir"`
	Roles            map[string]string `yaml:"roles"`
}

// Load builds the configuration from defaults, file, and environment.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("BRAIN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ConversationDB: "./data/conversations.db",
	}

	cfg.Providers.Local = ProviderConfig{
		Enabled:       true,
		Endpoint:      "http://localhost:8000",
		TimeoutMillis: 30000,
	}
	cfg.Providers.OpenAI = ProviderConfig{
		Model:         "gpt-4o-mini",
		MaxTokens:     2000,
		Temperature:   0.7,
		TimeoutMillis: 30000,
	}
	cfg.Providers.Anthropic = ProviderConfig{
		Model:         "claude-3-sonnet-20240229",
		MaxTokens:     2000,
		Temperature:   0.7,
		TimeoutMillis: 30000,
	}

	cfg.Security = SecurityConfig{
		RequireAuth:          true,
		RateLimitEnabled:     true,
		RateLimitPerMinute:   60,
		RateLimitPerHour:     1000,
		ContentFilterEnabled: true,
		TraumaSafeMode:       true,
	}

	cfg.Session = SessionConfig{
		MaxSessions:    10,
		TimeoutMinutes: 60,
	}

	cfg.Context = ContextConfig{
		MaxHistoryLength: 50,
		RetentionDays:    30,
	}

	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Host = getEnv("BRAIN_HOST", cfg.Host)
	cfg.Port = getEnvInt("BRAIN_PORT", cfg.Port)
	cfg.JWTSecret = getEnv("BRAIN_JWT_SECRET", cfg.JWTSecret)

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.ConversationDB = getEnv("CONVERSATION_DB", cfg.ConversationDB)
	cfg.KnowledgeBaseDir = getEnv("KNOWLEDGE_BASE_DIR", cfg.KnowledgeBaseDir)

	cfg.Providers.Local.Endpoint = getEnv("LOCAL_AI_ENDPOINT", cfg.Providers.Local.Endpoint)
	cfg.Providers.Local.APIKey = getEnv("LOCAL_AI_API_KEY", cfg.Providers.Local.APIKey)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers.OpenAI.APIKey = key
		cfg.Providers.OpenAI.Enabled = true
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Providers.Anthropic.APIKey = key
		cfg.Providers.Anthropic.Enabled = true
	}

	cfg.Security.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.Security.RateLimitPerMinute)
	cfg.Security.RateLimitPerHour = getEnvInt("RATE_LIMIT_PER_HOUR", cfg.Security.RateLimitPerHour)
	if words := os.Getenv("BLOCKED_WORDS"); words != "" {
		cfg.Security.BlockedWords = splitAndTrim(words)
	}
	cfg.Security.TraumaSafeMode = getEnvBool("TRAUMA_SAFE_MODE", cfg.Security.TraumaSafeMode)

	cfg.Session.MaxSessions = getEnvInt("MAX_CONCURRENT_SESSIONS", cfg.Session.MaxSessions)
	cfg.Session.TimeoutMinutes = getEnvInt("SESSION_TIMEOUT_MINUTES", cfg.Session.TimeoutMinutes)
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	if c.Providers.OpenAI.Enabled && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("openai provider enabled without api key")
	}
	if c.Providers.Anthropic.Enabled && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic provider enabled without api key")
	}
	if c.Providers.Local.Enabled && c.Providers.Local.Endpoint == "" {
		return fmt.Errorf("local provider enabled without endpoint")
	}
	if !c.Providers.Local.Enabled && !c.Providers.OpenAI.Enabled && !c.Providers.Anthropic.Enabled {
		return fmt.Errorf("no providers enabled")
	}
	if c.Security.RateLimitEnabled && c.Security.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive when rate limiting is enabled")
	}
	return nil
}

// SessionTimeout returns the idle timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	if c.Session.TimeoutMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
