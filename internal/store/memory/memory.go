// Package memory is an in-process implementation of the storage ports. It
// backs tests and dry runs; every method is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketpanel/internal/model"
)

type seriesKey struct {
	id int64
	tf model.Timeframe
}

// Store holds instruments, bars, indicator rows and 52-week stats for one
// asset class.
type Store struct {
	mu          sync.RWMutex
	instruments []model.Instrument
	bars        map[seriesKey][]model.PriceBar
	rows        map[seriesKey]map[time.Time]model.IndicatorRow
	stats       map[int64]model.Week52Stats

	// FailUpsert, when set, is consulted before each UpsertIndicators call.
	// A non-nil error aborts the call with nothing written.
	FailUpsert func(rows []model.IndicatorRow) error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		bars:  make(map[seriesKey][]model.PriceBar),
		rows:  make(map[seriesKey]map[time.Time]model.IndicatorRow),
		stats: make(map[int64]model.Week52Stats),
	}
}

// AddInstrument registers an instrument.
func (s *Store) AddInstrument(in model.Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments = append(s.instruments, in)
	sort.Slice(s.instruments, func(i, j int) bool { return s.instruments[i].ID < s.instruments[j].ID })
}

// AddBars inserts or replaces bars, keeping each series sorted by date.
func (s *Store) AddBars(bars ...model.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		k := seriesKey{b.InstrumentID, b.Timeframe}
		series := s.bars[k]
		i := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(b.Date) })
		if i < len(series) && series[i].Date.Equal(b.Date) {
			series[i] = b
			continue
		}
		series = append(series, model.PriceBar{})
		copy(series[i+1:], series[i:])
		series[i] = b
		s.bars[k] = series
	}
}

// ActiveInstruments implements model.SymbolSource.
func (s *Store) ActiveInstruments(_ context.Context) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Instrument, 0, len(s.instruments))
	for _, in := range s.instruments {
		if in.Active {
			out = append(out, in)
		}
	}
	return out, nil
}

// ReadBars implements model.PriceSource.
func (s *Store) ReadBars(_ context.Context, id int64, tf model.Timeframe, from, to time.Time) ([]model.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PriceBar
	for _, b := range s.bars[seriesKey{id, tf}] {
		if inRange(b.Date, from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ReadBarsUntil implements model.PriceSource.
func (s *Store) ReadBarsUntil(_ context.Context, id int64, tf model.Timeframe, until time.Time, limit int) ([]model.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.bars[seriesKey{id, tf}]
	end := sort.Search(len(series), func(i int) bool { return series[i].Date.After(until) })
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]model.PriceBar(nil), series[start:end]...), nil
}

// ReadBarsAfter implements model.PriceSource.
func (s *Store) ReadBarsAfter(_ context.Context, id int64, tf model.Timeframe, after time.Time) ([]model.PriceBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.bars[seriesKey{id, tf}]
	start := sort.Search(len(series), func(i int) bool { return series[i].Date.After(after) })
	return append([]model.PriceBar(nil), series[start:]...), nil
}

// LatestBarDates implements model.PriceSource.
func (s *Store) LatestBarDates(_ context.Context) (map[model.Timeframe]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Timeframe]time.Time)
	for k, series := range s.bars {
		if n := len(series); n > 0 && series[n-1].Date.After(out[k.tf]) {
			out[k.tf] = series[n-1].Date
		}
	}
	return out, nil
}

// Watermark implements model.IndicatorSink.
func (s *Store) Watermark(_ context.Context, id int64, tf model.Timeframe) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *time.Time
	for d := range s.rows[seriesKey{id, tf}] {
		if latest == nil || d.After(*latest) {
			d := d
			latest = &d
		}
	}
	return latest, nil
}

// UpsertIndicators implements model.IndicatorSink. The write is all or nothing.
func (s *Store) UpsertIndicators(_ context.Context, rows []model.IndicatorRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpsert != nil {
		if err := s.FailUpsert(rows); err != nil {
			return 0, err
		}
	}
	for _, r := range rows {
		k := seriesKey{r.InstrumentID, r.Timeframe}
		if s.rows[k] == nil {
			s.rows[k] = make(map[time.Time]model.IndicatorRow)
		}
		s.rows[k][r.Date] = r
	}
	return len(rows), nil
}

// ReadIndicators implements model.IndicatorSink.
func (s *Store) ReadIndicators(_ context.Context, id int64, tf model.Timeframe, from, to time.Time) ([]model.IndicatorRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.IndicatorRow
	for d, r := range s.rows[seriesKey{id, tf}] {
		if inRange(d, from, to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// LatestIndicatorDates implements model.IndicatorSink.
func (s *Store) LatestIndicatorDates(_ context.Context) (map[model.Timeframe]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Timeframe]time.Time)
	for k, rows := range s.rows {
		for d := range rows {
			if d.After(out[k.tf]) {
				out[k.tf] = d
			}
		}
	}
	return out, nil
}

// RowCount returns the number of stored indicator rows for the key.
func (s *Store) RowCount(id int64, tf model.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[seriesKey{id, tf}])
}

// UpsertStats implements model.StatsSink.
func (s *Store) UpsertStats(_ context.Context, stats []model.Week52Stats) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stats {
		s.stats[st.InstrumentID] = st
	}
	return len(stats), nil
}

// Stats returns the stored 52-week stats for an instrument.
func (s *Store) Stats(id int64) (model.Week52Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stats[id]
	return st, ok
}

func inRange(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}
