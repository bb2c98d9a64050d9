package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "LOOKBACK_ROWS", "REFRESH_WORKERS", "LOG_FORMAT", "WEBHOOK_URL", "TELEGRAM_BOT_TOKEN"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 250, cfg.LookbackRows)
	assert.Equal(t, 1, cfg.RefreshWorkers)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("POSTGRES_DSN", "host=localhost dbname=market_data")
	t.Setenv("LOOKBACK_ROWS", "120")
	t.Setenv("REFRESH_WORKERS", "4")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 120, cfg.LookbackRows)
	assert.Equal(t, 4, cfg.RefreshWorkers)
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_BadInteger(t *testing.T) {
	t.Setenv("LOOKBACK_ROWS", "many")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOOKBACK_ROWS")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{DBDriver: "sqlite", SQLitePath: "x.db", HTTPAddr: ":8090", RefreshWorkers: 1, LogFormat: "json"}
	}

	ok := base()
	assert.NoError(t, ok.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "DBDriver"},
		{"postgres without dsn", func(c *Config) { c.DBDriver = "postgres" }, "PostgresDSN"},
		{"negative lookback", func(c *Config) { c.LookbackRows = -1 }, "LookbackRows"},
		{"zero workers", func(c *Config) { c.RefreshWorkers = 0 }, "RefreshWorkers"},
		{"bad webhook", func(c *Config) { c.WebhookURL = "not a url" }, "WebhookURL"},
		{"telegram without chat", func(c *Config) { c.TelegramBotToken = "tok" }, "TelegramChatID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
