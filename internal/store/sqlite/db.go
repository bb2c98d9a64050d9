// Package sqlite implements the storage ports on a local SQLite database,
// one set of tables per asset class.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// dateLayout is how bar dates are stored; it sorts lexically.
const dateLayout = time.DateOnly

// Tables names the four tables of one asset class. Names must already be
// validated identifiers.
type Tables struct {
	Symbols    string
	Prices     string
	Indicators string
	Stats      string
}

// DB is a SQLite connection shared by every asset store.
type DB struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens the database at path with WAL mode and a single writer connection.
func Open(path string, log zerolog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; readers share the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	log = log.With().Str("component", "sqlite").Logger()
	log.Info().Str("path", path).Msg("opened database")
	return &DB{db: db, log: log}, nil
}

// SQL returns the underlying sql.DB for health checks.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Store returns the asset store for t, creating its tables when missing.
func (d *DB) Store(t Tables) (*Store, error) {
	if err := createSchema(d.db, t); err != nil {
		return nil, fmt.Errorf("sqlite schema %s: %w", t.Indicators, err)
	}
	return &Store{db: d.db, t: t}, nil
}

func createSchema(db *sql.DB, t Tables) error {
	_, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			symbol_id    INTEGER PRIMARY KEY,
			name         TEXT    NOT NULL,
			yahoo_symbol TEXT    NOT NULL UNIQUE,
			exchange     TEXT,
			is_active    INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			symbol_id INTEGER NOT NULL REFERENCES %[1]s(symbol_id),
			timeframe TEXT    NOT NULL,
			date      TEXT    NOT NULL,
			open      REAL,
			high      REAL,
			low       REAL,
			close     REAL,
			adj_close REAL,
			volume    REAL,
			delv_pct  REAL,
			PRIMARY KEY (symbol_id, timeframe, date)
		);

		CREATE TABLE IF NOT EXISTS %[3]s (
			symbol_id        INTEGER NOT NULL REFERENCES %[1]s(symbol_id),
			timeframe        TEXT    NOT NULL,
			date             TEXT    NOT NULL,
			sma_20           REAL,
			sma_50           REAL,
			sma_200          REAL,
			rsi_3            REAL,
			rsi_9            REAL,
			rsi_14           REAL,
			macd             REAL,
			macd_signal      REAL,
			bb_upper         REAL,
			bb_middle        REAL,
			bb_lower         REAL,
			atr_14           REAL,
			supertrend       REAL,
			supertrend_dir   INTEGER,
			ema_rsi_9_3      REAL,
			wma_rsi_9_21     REAL,
			pct_price_change REAL,
			PRIMARY KEY (symbol_id, timeframe, date)
		);

		CREATE TABLE IF NOT EXISTS %[4]s (
			symbol_id   INTEGER PRIMARY KEY REFERENCES %[1]s(symbol_id),
			week52_high REAL,
			week52_low  REAL,
			as_of_date  TEXT
		);
	`, t.Symbols, t.Prices, t.Indicators, t.Stats))
	return err
}

// Store serves one asset class. It implements model.SymbolSource,
// model.PriceSource, model.IndicatorSink and model.StatsSink.
type Store struct {
	db *sql.DB
	t  Tables
}

func formatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func parseDate(s string) (time.Time, error) {
	// MAX(date) and some drivers hand back full timestamps.
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite parse date %q: %w", s, err)
	}
	return t, nil
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func ptrInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
