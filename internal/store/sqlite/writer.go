package sqlite

import (
	"context"
	"fmt"

	"marketpanel/internal/model"
)

// UpsertIndicators writes rows in a single transaction with INSERT OR REPLACE.
// On any error the transaction is rolled back and nothing is written.
func (s *Store) UpsertIndicators(ctx context.Context, rows []model.IndicatorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.t.Indicators, indicatorColumns))
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare %s: %w", s.t.Indicators, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, r.InstrumentID, string(r.Timeframe), formatDate(r.Date),
			nullable(r.SMA20), nullable(r.SMA50), nullable(r.SMA200),
			nullable(r.RSI3), nullable(r.RSI9), nullable(r.RSI14),
			nullable(r.MACD), nullable(r.MACDSignal),
			nullable(r.BBUpper), nullable(r.BBMiddle), nullable(r.BBLower),
			nullable(r.ATR14), nullable(r.Supertrend), nullableInt(r.SupertrendDir),
			nullable(r.EMARSI9_3), nullable(r.WMARSI9_21), nullable(r.PctPriceChange))
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite insert %s: %w", s.t.Indicators, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit %s: %w", s.t.Indicators, err)
	}
	return len(rows), nil
}

// UpsertStats writes 52-week stats, one row per instrument, in one transaction.
func (s *Store) UpsertStats(ctx context.Context, stats []model.Week52Stats) (int, error) {
	if len(stats) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol_id, week52_high, week52_low, as_of_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol_id) DO UPDATE SET
			week52_high = excluded.week52_high,
			week52_low  = excluded.week52_low,
			as_of_date  = excluded.as_of_date
	`, s.t.Stats))
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("sqlite prepare %s: %w", s.t.Stats, err)
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx, st.InstrumentID, st.High, st.Low, formatDate(st.AsOf)); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("sqlite upsert %s: %w", s.t.Stats, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit %s: %w", s.t.Stats, err)
	}
	return len(stats), nil
}

// PutInstrument inserts or replaces a symbol row. The indicator engine never
// writes symbols; this serves fixtures and local imports.
func (s *Store) PutInstrument(ctx context.Context, in model.Instrument) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (symbol_id, name, yahoo_symbol, exchange, is_active)
		VALUES (?, ?, ?, ?, ?)
	`, s.t.Symbols), in.ID, in.Name, in.Symbol, in.Exchange, in.Active)
	if err != nil {
		return fmt.Errorf("sqlite insert %s: %w", s.t.Symbols, err)
	}
	return nil
}

// PutBars inserts or replaces price bars in one transaction. Like
// PutInstrument it exists for fixtures and local imports.
func (s *Store) PutBars(ctx context.Context, bars []model.PriceBar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.t.Prices, barColumns))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare %s: %w", s.t.Prices, err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.InstrumentID, string(b.Timeframe), formatDate(b.Date),
			b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume, nullable(b.DeliveryPct)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %s: %w", s.t.Prices, err)
		}
	}
	return tx.Commit()
}
