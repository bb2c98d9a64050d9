package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the indicator engine from concrete storage
// implementations (SQLite, PostgreSQL). One asset class resolves to one
// implementation of each port, bound to that class's tables.

// SymbolSource lists instruments from a symbol registry. Read-only.
type SymbolSource interface {
	// ActiveInstruments returns every active instrument ordered by ID.
	ActiveInstruments(ctx context.Context) ([]Instrument, error)
}

// PriceSource reads price bars. Every method returns bars sorted ascending by date.
type PriceSource interface {
	// ReadBars returns bars with from <= date <= to. A zero from or to leaves
	// that side unbounded.
	ReadBars(ctx context.Context, instrumentID int64, tf Timeframe, from, to time.Time) ([]PriceBar, error)

	// ReadBarsUntil returns the last limit bars with date <= until.
	ReadBarsUntil(ctx context.Context, instrumentID int64, tf Timeframe, until time.Time, limit int) ([]PriceBar, error)

	// ReadBarsAfter returns every bar with date > after.
	ReadBarsAfter(ctx context.Context, instrumentID int64, tf Timeframe, after time.Time) ([]PriceBar, error)

	// LatestBarDates returns MAX(date) per timeframe across the price table.
	LatestBarDates(ctx context.Context) (map[Timeframe]time.Time, error)
}

// IndicatorSink persists and reads indicator rows.
type IndicatorSink interface {
	// Watermark returns the latest indicator date for the key, or nil when
	// no row exists yet.
	Watermark(ctx context.Context, instrumentID int64, tf Timeframe) (*time.Time, error)

	// UpsertIndicators writes rows keyed by (instrument, timeframe, date) in a
	// single transaction. Either every row is written or none is.
	UpsertIndicators(ctx context.Context, rows []IndicatorRow) (int, error)

	// ReadIndicators returns rows with from <= date <= to, ascending. Zero
	// bounds are unbounded.
	ReadIndicators(ctx context.Context, instrumentID int64, tf Timeframe, from, to time.Time) ([]IndicatorRow, error)

	// LatestIndicatorDates returns MAX(date) per timeframe across the indicator table.
	LatestIndicatorDates(ctx context.Context) (map[Timeframe]time.Time, error)
}

// StatsSink persists 52-week high/low statistics.
type StatsSink interface {
	// UpsertStats writes one row per instrument in a single transaction.
	UpsertStats(ctx context.Context, stats []Week52Stats) (int, error)
}
