// Package store opens the configured storage backend and binds every asset
// class of the registry to its tables on it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"marketpanel/config"
	"marketpanel/internal/registry"
	"marketpanel/internal/store/postgres"
	"marketpanel/internal/store/sqlite"
)

// Backend is an open database shared by every asset class.
type Backend struct {
	Driver string
	sqlDB  *sql.DB
	open   registry.Opener
	close  func() error
}

// Open connects to the database selected by cfg.DBDriver.
func Open(cfg *config.Config, log zerolog.Logger) (*Backend, error) {
	switch cfg.DBDriver {
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver: cfg.DBDriver,
			sqlDB:  db.SQL(),
			close:  db.Close,
			open: func(spec registry.AssetSpec) (registry.Handles, error) {
				s, err := db.Store(sqlite.Tables{
					Symbols:    spec.SymbolsTable,
					Prices:     spec.PricesTable,
					Indicators: spec.IndicatorsTable,
					Stats:      spec.StatsTable,
				})
				if err != nil {
					return registry.Handles{}, err
				}
				return registry.Handles{Symbols: s, Prices: s, Indicators: s, Stats: s}, nil
			},
		}, nil

	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN, postgres.PoolConfigFromEnv(), log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver: cfg.DBDriver,
			sqlDB:  db.SQL(),
			close:  db.Close,
			open: func(spec registry.AssetSpec) (registry.Handles, error) {
				s, err := db.Store(postgres.Tables{
					Symbols:    spec.SymbolsTable,
					Prices:     spec.PricesTable,
					Indicators: spec.IndicatorsTable,
					Stats:      spec.StatsTable,
				}, cfg.PostgresMigrate)
				if err != nil {
					return registry.Handles{}, err
				}
				return registry.Handles{Symbols: s, Prices: s, Indicators: s, Stats: s}, nil
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
}

// Opener binds asset specs to stores on this backend.
func (b *Backend) Opener() registry.Opener { return b.open }

// SQL returns the connection pool for health checks.
func (b *Backend) SQL() *sql.DB { return b.sqlDB }

// Close closes the database.
func (b *Backend) Close() error { return b.close() }

// OpenRegistry loads the asset registry file named by cfg and opens every
// asset class on a new backend.
func OpenRegistry(cfg *config.Config, log zerolog.Logger) (*Backend, *registry.Registry, error) {
	file, err := registry.Load(cfg.AssetsFile)
	if err != nil {
		return nil, nil, err
	}
	b, err := Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.New(file, b.Opener())
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return b, reg, nil
}
