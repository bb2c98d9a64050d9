package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"marketpanel/internal/model"
)

const barColumns = `symbol_id, timeframe, date, open, high, low, close, adj_close, volume, delv_pct`

const indicatorColumns = `symbol_id, timeframe, date, sma_20, sma_50, sma_200, rsi_3, rsi_9, rsi_14,
	macd, macd_signal, bb_upper, bb_middle, bb_lower, atr_14, supertrend, supertrend_dir,
	ema_rsi_9_3, wma_rsi_9_21, pct_price_change`

// ActiveInstruments returns every active instrument ordered by ID.
func (s *Store) ActiveInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol_id, name, yahoo_symbol, COALESCE(exchange, ''), is_active
		FROM %s
		WHERE is_active = 1
		ORDER BY symbol_id ASC
	`, s.t.Symbols))
	if err != nil {
		return nil, fmt.Errorf("sqlite query %s: %w", s.t.Symbols, err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		if err := rows.Scan(&in.ID, &in.Name, &in.Symbol, &in.Exchange, &in.Active); err != nil {
			return nil, fmt.Errorf("sqlite scan %s: %w", s.t.Symbols, err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ReadBars returns bars with from <= date <= to, ascending.
func (s *Store) ReadBars(ctx context.Context, id int64, tf model.Timeframe, from, to time.Time) ([]model.PriceBar, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol_id = ? AND timeframe = ?`, barColumns, s.t.Prices)
	args := []any{id, string(tf)}
	if !from.IsZero() {
		q += ` AND date >= ?`
		args = append(args, formatDate(from))
	}
	if !to.IsZero() {
		q += ` AND date <= ?`
		args = append(args, formatDate(to))
	}
	q += ` ORDER BY date ASC`
	return s.queryBars(ctx, q, args...)
}

// ReadBarsUntil returns the last limit bars dated on or before until, ascending.
func (s *Store) ReadBarsUntil(ctx context.Context, id int64, tf model.Timeframe, until time.Time, limit int) ([]model.PriceBar, error) {
	bars, err := s.queryBars(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE symbol_id = ? AND timeframe = ? AND date <= ?
		ORDER BY date DESC
		LIMIT ?
	`, barColumns, s.t.Prices), id, string(tf), formatDate(until), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// ReadBarsAfter returns every bar dated after after, ascending.
func (s *Store) ReadBarsAfter(ctx context.Context, id int64, tf model.Timeframe, after time.Time) ([]model.PriceBar, error) {
	return s.queryBars(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE symbol_id = ? AND timeframe = ? AND date > ?
		ORDER BY date ASC
	`, barColumns, s.t.Prices), id, string(tf), formatDate(after))
}

func (s *Store) queryBars(ctx context.Context, q string, args ...any) ([]model.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query %s: %w", s.t.Prices, err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		var (
			b                                model.PriceBar
			tf, date                         string
			open, high, low, cl, adj, volume sql.NullFloat64
			delv                             sql.NullFloat64
		)
		if err := rows.Scan(&b.InstrumentID, &tf, &date, &open, &high, &low, &cl, &adj, &volume, &delv); err != nil {
			return nil, fmt.Errorf("sqlite scan %s: %w", s.t.Prices, err)
		}
		if b.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		b.Timeframe = model.Timeframe(tf)
		// NULL prices read as NaN so indicator math rejects them instead of
		// treating them as zero.
		b.Open, b.High, b.Low, b.Close = orNaN(open), orNaN(high), orNaN(low), orNaN(cl)
		b.AdjClose, b.Volume = adj.Float64, volume.Float64
		// Bars without an adjusted close fall back to the raw close.
		if !adj.Valid {
			b.AdjClose = b.Close
		}
		b.DeliveryPct = ptr(delv)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestBarDates returns MAX(date) per timeframe across the price table.
func (s *Store) LatestBarDates(ctx context.Context) (map[model.Timeframe]time.Time, error) {
	return s.latestDates(ctx, s.t.Prices)
}

// LatestIndicatorDates returns MAX(date) per timeframe across the indicator table.
func (s *Store) LatestIndicatorDates(ctx context.Context) (map[model.Timeframe]time.Time, error) {
	return s.latestDates(ctx, s.t.Indicators)
}

func (s *Store) latestDates(ctx context.Context, table string) (map[model.Timeframe]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT timeframe, MAX(date) FROM %s GROUP BY timeframe`, table))
	if err != nil {
		return nil, fmt.Errorf("sqlite query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[model.Timeframe]time.Time)
	for rows.Next() {
		var tf, date string
		if err := rows.Scan(&tf, &date); err != nil {
			return nil, fmt.Errorf("sqlite scan %s: %w", table, err)
		}
		d, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		out[model.Timeframe(tf)] = d
	}
	return out, rows.Err()
}

// Watermark returns the latest indicator date for the key, or nil when none exists.
func (s *Store) Watermark(ctx context.Context, id int64, tf model.Timeframe) (*time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT MAX(date) FROM %s WHERE symbol_id = ? AND timeframe = ?`, s.t.Indicators),
		id, string(tf),
	).Scan(&date)
	if err != nil {
		return nil, fmt.Errorf("sqlite watermark %s: %w", s.t.Indicators, err)
	}
	if !date.Valid {
		return nil, nil
	}
	d, err := parseDate(date.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadIndicators returns rows with from <= date <= to, ascending.
func (s *Store) ReadIndicators(ctx context.Context, id int64, tf model.Timeframe, from, to time.Time) ([]model.IndicatorRow, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE symbol_id = ? AND timeframe = ?`, indicatorColumns, s.t.Indicators)
	args := []any{id, string(tf)}
	if !from.IsZero() {
		q += ` AND date >= ?`
		args = append(args, formatDate(from))
	}
	if !to.IsZero() {
		q += ` AND date <= ?`
		args = append(args, formatDate(to))
	}
	q += ` ORDER BY date ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query %s: %w", s.t.Indicators, err)
	}
	defer rows.Close()

	var out []model.IndicatorRow
	for rows.Next() {
		var (
			r        model.IndicatorRow
			tfs, day string
			v        [16]sql.NullFloat64
			dir      sql.NullInt64
		)
		if err := rows.Scan(&r.InstrumentID, &tfs, &day,
			&v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6], &v[7], &v[8], &v[9], &v[10], &v[11], &v[12],
			&dir, &v[13], &v[14], &v[15]); err != nil {
			return nil, fmt.Errorf("sqlite scan %s: %w", s.t.Indicators, err)
		}
		if r.Date, err = parseDate(day); err != nil {
			return nil, err
		}
		r.Timeframe = model.Timeframe(tfs)
		r.SMA20, r.SMA50, r.SMA200 = ptr(v[0]), ptr(v[1]), ptr(v[2])
		r.RSI3, r.RSI9, r.RSI14 = ptr(v[3]), ptr(v[4]), ptr(v[5])
		r.MACD, r.MACDSignal = ptr(v[6]), ptr(v[7])
		r.BBUpper, r.BBMiddle, r.BBLower = ptr(v[8]), ptr(v[9]), ptr(v[10])
		r.ATR14, r.Supertrend, r.SupertrendDir = ptr(v[11]), ptr(v[12]), ptrInt(dir)
		r.EMARSI9_3, r.WMARSI9_21, r.PctPriceChange = ptr(v[13]), ptr(v[14]), ptr(v[15])
		out = append(out, r)
	}
	return out, rows.Err()
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
