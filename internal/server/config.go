// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the room chat service.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 8 * 1024 * 1024
	defaultRateBurst      = 20
)

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"gt=0"`
	RefillInterval time.Duration `validate:"gt=0"`
}

// HistoryConfig bounds the per-room message logs.
type HistoryConfig struct {
	Limit         int           `validate:"gt=0"`
	Replay        int           `validate:"gt=0"`
	Retention     time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string   `validate:"required"`
	AllowedOrigins  []string `validate:"dive,required"`
	MaxMessageSize  int64    `validate:"gt=0"`
	MaxFileSize     int64    `validate:"gt=0,ltfield=MaxMessageSize"`
	RateLimit       RateLimitConfig
	History         HistoryConfig
	AssistantName   string `validate:"required,max=30"`
	StaticDir       string
	LogLevel        string        `validate:"oneof=trace debug info warn error"`
	LogFormat       string        `validate:"oneof=json console"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: defaultMaxMessageSize,
		MaxFileSize:    chat.DefaultMaxFileSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: time.Second,
		},
		History: HistoryConfig{
			Limit:         chat.DefaultHistoryLimit,
			Replay:        chat.DefaultHistoryReplay,
			Retention:     chat.DefaultRetention,
			SweepInterval: chat.DefaultSweepInterval,
		},
		AssistantName:   chat.DefaultAssistantName,
		StaticDir:       "public",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig reads the configuration from environment variables and an
// optional .env file. Unset or unusable values keep their defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	return configFromViper(v)
}

func configFromViper(v *viper.Viper) (*Config, error) {
	cfg := NewConfig()

	if port := strings.TrimSpace(v.GetString("SERVER_PORT")); port != "" {
		cfg.Port = normalizePort(port)
	}
	if origins := v.GetString("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	cfg.MaxMessageSize = positiveInt64(v, "MAX_MESSAGE_SIZE", cfg.MaxMessageSize)
	cfg.MaxFileSize = positiveInt64(v, "MAX_FILE_SIZE", cfg.MaxFileSize)
	cfg.RateLimit.Burst = positiveInt(v, "RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.RefillInterval = seconds(v, "RATE_LIMIT_REFILL_INTERVAL", cfg.RateLimit.RefillInterval)
	cfg.History.Limit = positiveInt(v, "HISTORY_LIMIT", cfg.History.Limit)
	cfg.History.Replay = positiveInt(v, "HISTORY_REPLAY", cfg.History.Replay)
	cfg.History.Retention = duration(v, "HISTORY_RETENTION", cfg.History.Retention)
	cfg.History.SweepInterval = duration(v, "HISTORY_SWEEP_INTERVAL", cfg.History.SweepInterval)
	cfg.ShutdownTimeout = duration(v, "SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	if name := strings.TrimSpace(v.GetString("ASSISTANT_NAME")); name != "" {
		cfg.AssistantName = name
	}
	if v.IsSet("STATIC_DIR") {
		cfg.StaticDir = strings.TrimSpace(v.GetString("STATIC_DIR"))
	}
	if level := strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))); level != "" {
		cfg.LogLevel = level
	}
	if format := strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))); format != "" {
		cfg.LogFormat = format
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ChatConfig derives the session core limits from the server configuration.
func (c *Config) ChatConfig() chat.Config {
	return chat.Config{
		HistoryLimit:  c.History.Limit,
		HistoryReplay: c.History.Replay,
		Retention:     c.History.Retention,
		MaxFileSize:   c.MaxFileSize,
		AssistantName: c.AssistantName,
	}
}

func normalizePort(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func positiveInt(v *viper.Viper, key string, defaultValue int) int {
	if !v.IsSet(key) {
		return defaultValue
	}
	if parsed := v.GetInt(key); parsed > 0 {
		return parsed
	}
	return defaultValue
}

func positiveInt64(v *viper.Viper, key string, defaultValue int64) int64 {
	if !v.IsSet(key) {
		return defaultValue
	}
	if parsed := v.GetInt64(key); parsed > 0 {
		return parsed
	}
	return defaultValue
}

// seconds reads a whole number of seconds, the unit the rate limit has
// always been configured in.
func seconds(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if !v.IsSet(key) {
		return defaultValue
	}
	if parsed := v.GetInt(key); parsed > 0 {
		return time.Duration(parsed) * time.Second
	}
	return defaultValue
}

func duration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if !v.IsSet(key) {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}
