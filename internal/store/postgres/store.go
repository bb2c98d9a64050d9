package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketpanel/internal/model"
)

const upsertBatch = 500

// ActiveInstruments returns every active instrument ordered by ID.
func (s *Store) ActiveInstruments(ctx context.Context) ([]model.Instrument, error) {
	var recs []symbolRecord
	err := s.db.WithContext(ctx).Table(s.t.Symbols).
		Where("is_active = ?", true).
		Order("symbol_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", s.t.Symbols, err)
	}
	out := make([]model.Instrument, len(recs))
	for i, r := range recs {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) bars(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.t.Prices)
}

func collectBars(recs []barRecord) []model.PriceBar {
	out := make([]model.PriceBar, len(recs))
	for i, r := range recs {
		out[i] = r.toModel()
	}
	return out
}

// ReadBars returns bars with from <= date <= to, ascending.
func (s *Store) ReadBars(ctx context.Context, id int64, tf model.Timeframe, from, to time.Time) ([]model.PriceBar, error) {
	q := bounded(s.bars(ctx).Where("symbol_id = ? AND timeframe = ?", id, string(tf)), from, to)
	var recs []barRecord
	if err := q.Order("date ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", s.t.Prices, err)
	}
	return collectBars(recs), nil
}

// ReadBarsUntil returns the last limit bars dated on or before until, ascending.
func (s *Store) ReadBarsUntil(ctx context.Context, id int64, tf model.Timeframe, until time.Time, limit int) ([]model.PriceBar, error) {
	var recs []barRecord
	err := s.bars(ctx).
		Where("symbol_id = ? AND timeframe = ? AND date <= ?", id, string(tf), model.DateOnly(until)).
		Order("date DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", s.t.Prices, err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return collectBars(recs), nil
}

// ReadBarsAfter returns every bar dated after after, ascending.
func (s *Store) ReadBarsAfter(ctx context.Context, id int64, tf model.Timeframe, after time.Time) ([]model.PriceBar, error) {
	var recs []barRecord
	err := s.bars(ctx).
		Where("symbol_id = ? AND timeframe = ? AND date > ?", id, string(tf), model.DateOnly(after)).
		Order("date ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", s.t.Prices, err)
	}
	return collectBars(recs), nil
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
	var recs []struct {
		Timeframe string
		Latest    time.Time
	}
	err := s.db.WithContext(ctx).Table(table).
		Select("timeframe, MAX(date) AS latest").
		Group("timeframe").
		Scan(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", table, err)
	}
	out := make(map[model.Timeframe]time.Time, len(recs))
	for _, r := range recs {
		out[model.Timeframe(r.Timeframe)] = model.DateOnly(r.Latest)
	}
	return out, nil
}

// Watermark returns the latest indicator date for the key, or nil when none exists.
func (s *Store) Watermark(ctx context.Context, id int64, tf model.Timeframe) (*time.Time, error) {
	var latest sql.NullTime
	err := s.db.WithContext(ctx).Table(s.t.Indicators).
		Select("MAX(date)").
		Where("symbol_id = ? AND timeframe = ?", id, string(tf)).
		Row().Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("postgres watermark %s: %w", s.t.Indicators, err)
	}
	if !latest.Valid {
		return nil, nil
	}
	d := model.DateOnly(latest.Time)
	return &d, nil
}

// UpsertIndicators writes rows in one transaction, updating every column on
// key conflict.
func (s *Store) UpsertIndicators(ctx context.Context, rows []model.IndicatorRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	recs := make([]indicatorRecord, len(rows))
	for i, r := range rows {
		recs[i] = fromIndicator(r)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(s.t.Indicators).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol_id"}, {Name: "timeframe"}, {Name: "date"}},
				UpdateAll: true,
			}).
			CreateInBatches(recs, upsertBatch).Error
	})
	if err != nil {
		return 0, fmt.Errorf("postgres upsert %s: %w", s.t.Indicators, err)
	}
	return len(rows), nil
}

// ReadIndicators returns rows with from <= date <= to, ascending.
func (s *Store) ReadIndicators(ctx context.Context, id int64, tf model.Timeframe, from, to time.Time) ([]model.IndicatorRow, error) {
	q := bounded(s.db.WithContext(ctx).Table(s.t.Indicators).
		Where("symbol_id = ? AND timeframe = ?", id, string(tf)), from, to)
	var recs []indicatorRecord
	if err := q.Order("date ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", s.t.Indicators, err)
	}
	out := make([]model.IndicatorRow, len(recs))
	for i, r := range recs {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpsertStats writes one stats row per instrument in one transaction.
func (s *Store) UpsertStats(ctx context.Context, stats []model.Week52Stats) (int, error) {
	if len(stats) == 0 {
		return 0, nil
	}
	recs := make([]statsRecord, len(stats))
	for i, st := range stats {
		recs[i] = statsRecord{SymbolID: st.InstrumentID, Week52High: st.High, Week52Low: st.Low, AsOfDate: model.DateOnly(st.AsOf)}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(s.t.Stats).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"week52_high", "week52_low", "as_of_date"}),
			}).
			CreateInBatches(recs, upsertBatch).Error
	})
	if err != nil {
		return 0, fmt.Errorf("postgres upsert %s: %w", s.t.Stats, err)
	}
	return len(stats), nil
}

func bounded(q *gorm.DB, from, to time.Time) *gorm.DB {
	if !from.IsZero() {
		q = q.Where("date >= ?", model.DateOnly(from))
	}
	if !to.IsZero() {
		q = q.Where("date <= ?", model.DateOnly(to))
	}
	return q
}
