// Package postgres implements the storage ports on PostgreSQL through gorm,
// against the per-asset-class table layout of the market data database.
package postgres

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PoolConfigFromEnv reads pool settings from DB_* environment variables,
// keeping the defaults for unset or invalid values.
func PoolConfigFromEnv() PoolConfig {
	cfg := PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    25,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
	if n := positiveEnv("DB_MAX_IDLE_CONNS"); n > 0 {
		cfg.MaxIdleConns = n
	}
	if n := positiveEnv("DB_MAX_OPEN_CONNS"); n > 0 {
		cfg.MaxOpenConns = n
	}
	if n := positiveEnv("DB_CONN_MAX_LIFETIME_MINUTES"); n > 0 {
		cfg.ConnMaxLifetime = time.Duration(n) * time.Minute
	}
	if n := positiveEnv("DB_CONN_MAX_IDLE_TIME_MINUTES"); n > 0 {
		cfg.ConnMaxIdleTime = time.Duration(n) * time.Minute
	}
	return cfg
}

func positiveEnv(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// Tables names the four tables of one asset class.
type Tables struct {
	Symbols    string
	Prices     string
	Indicators string
	Stats      string
}

// DB is a pooled PostgreSQL connection shared by every asset store.
type DB struct {
	gorm *gorm.DB
	log  zerolog.Logger
}

// Open connects to dsn and configures the pool.
func Open(dsn string, pool PoolConfig, log zerolog.Logger) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log = log.With().Str("component", "postgres").Logger()
	log.Info().Int("max_open_conns", pool.MaxOpenConns).Msg("connected")
	return &DB{gorm: db, log: log}, nil
}

// SQL returns the underlying pool for health checks.
func (d *DB) SQL() *sql.DB {
	sqlDB, _ := d.gorm.DB()
	return sqlDB
}

// Close closes the pool.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Store returns the asset store for t. With migrate set, missing tables are
// created; existing tables are left as they are.
func (d *DB) Store(t Tables, migrate bool) (*Store, error) {
	if migrate {
		for table, rec := range map[string]any{
			t.Symbols:    &symbolRecord{},
			t.Prices:     &barRecord{},
			t.Indicators: &indicatorRecord{},
			t.Stats:      &statsRecord{},
		} {
			if err := d.gorm.Table(table).AutoMigrate(rec); err != nil {
				return nil, fmt.Errorf("postgres migrate %s: %w", table, err)
			}
		}
	}
	return &Store{db: d.gorm, t: t}, nil
}

// Store serves one asset class. It implements model.SymbolSource,
// model.PriceSource, model.IndicatorSink and model.StatsSink.
type Store struct {
	db *gorm.DB
	t  Tables
}
