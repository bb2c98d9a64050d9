package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Storage
	DBDriver    string `validate:"oneof=sqlite postgres"`
	SQLitePath  string `validate:"required_if=DBDriver sqlite"`
	PostgresDSN string `validate:"required_if=DBDriver postgres"`
	// PostgresMigrate creates missing tables on startup.
	PostgresMigrate bool

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	HTTPAddr      string `validate:"required"`

	// Asset registry (YAML). Empty uses the built-in asset classes.
	AssetsFile string

	// Refresh
	LookbackRows    int    `validate:"gte=0"`
	RefreshSchedule string // cron spec with seconds; empty disables scheduled runs
	RefreshWorkers  int    `validate:"gte=1"`

	// 52-week stats; cron spec with seconds, empty disables scheduled runs
	StatsSchedule string

	// Notifications
	WebhookURL       string `validate:"omitempty,url"`
	TelegramBotToken string
	TelegramChatID   string `validate:"required_with=TelegramBotToken"`

	// Logging
	LogLevel  string
	LogFormat string `validate:"oneof=json console"`
}

// Load reads an optional .env file, then configuration from environment
// variables with sensible defaults.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	lookback, err := getEnvInt("LOOKBACK_ROWS", 250)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("REFRESH_WORKERS", 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "data/market.db"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		PostgresMigrate: strings.EqualFold(getEnv("POSTGRES_MIGRATE", "false"), "true"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8090"),

		AssetsFile: getEnv("ASSETS_FILE", ""),

		LookbackRows:    lookback,
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", ""),
		RefreshWorkers:  workers,

		StatsSchedule: getEnv("STATS_SCHEDULE", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// RedisEnabled reports whether latest-row publication is configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}
