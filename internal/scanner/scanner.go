// Package scanner runs rule-based screens over the aligned panel.
//
// A Scanner looks at one panel row at a time, together with the previous
// row of the same instrument, and decides whether it is a signal. The
// Engine routes every row to every registered scanner and collects the
// matches.
package scanner

import (
	"math"
	"sort"
	"time"

	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
)

// Action is the direction of a signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Signal is one panel row that matched a scanner.
type Signal struct {
	Scanner      string    `json:"scanner"`
	Action       Action    `json:"action"`
	InstrumentID int64     `json:"instrument_id"`
	Symbol       string    `json:"symbol"`
	Exchange     string    `json:"exchange"`
	Date         time.Time `json:"date"`
	Close        float64   `json:"close"`
	AdjClose     float64   `json:"adj_close"`
	Reason       string    `json:"reason"`
}

// Scanner is a screening rule.
type Scanner interface {
	// Name returns the unique name of the scanner.
	Name() string

	// Match reports whether row is a signal. prev is the previous panel row
	// of the same instrument, or nil for its first row.
	Match(prev *model.AlignedPanelRow, row model.AlignedPanelRow) (Action, string, bool)
}

// Engine holds registered scanners.
type Engine struct {
	scanners []Scanner
	metrics  *metrics.Metrics
}

// NewEngine returns an Engine with the given scanners. m may be nil.
func NewEngine(m *metrics.Metrics, scanners ...Scanner) *Engine {
	return &Engine{scanners: scanners, metrics: m}
}

// Register adds a scanner.
func (e *Engine) Register(s Scanner) {
	e.scanners = append(e.scanners, s)
}

// Names lists the registered scanners.
func (e *Engine) Names() []string {
	out := make([]string, len(e.scanners))
	for i, s := range e.scanners {
		out[i] = s.Name()
	}
	return out
}

// Select returns an Engine restricted to the named scanners. Unknown names
// yield a *model.ConfigError. No names selects every scanner.
func (e *Engine) Select(names ...string) (*Engine, error) {
	if len(names) == 0 {
		return e, nil
	}
	out := &Engine{metrics: e.metrics}
	for _, n := range names {
		found := false
		for _, s := range e.scanners {
			if s.Name() == n {
				out.scanners = append(out.scanners, s)
				found = true
				break
			}
		}
		if !found {
			return nil, &model.ConfigError{Kind: "scanner", Key: n}
		}
	}
	return out, nil
}

// Run scans panel, which must be grouped by instrument and ascending by date
// within each instrument, as align.Builder.Panel returns it. Signals are
// ordered by date descending, then symbol, then scanner.
func (e *Engine) Run(panel []model.AlignedPanelRow) []Signal {
	var out []Signal
	for i, row := range panel {
		// A bar without a price cannot trigger a signal.
		if math.IsNaN(row.Bar.Close) || math.IsNaN(row.Bar.AdjClose) {
			continue
		}
		var prev *model.AlignedPanelRow
		if i > 0 && panel[i-1].Instrument.ID == row.Instrument.ID {
			prev = &panel[i-1]
		}
		for _, s := range e.scanners {
			action, reason, ok := s.Match(prev, row)
			if !ok {
				continue
			}
			out = append(out, Signal{
				Scanner:      s.Name(),
				Action:       action,
				InstrumentID: row.Instrument.ID,
				Symbol:       row.Instrument.Symbol,
				Exchange:     row.Instrument.Exchange,
				Date:         row.Bar.Date,
				Close:        row.Bar.Close,
				AdjClose:     row.Bar.AdjClose,
				Reason:       reason,
			})
			if e.metrics != nil {
				e.metrics.ScanSignals.WithLabelValues(s.Name()).Inc()
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Scanner < b.Scanner
	})
	return out
}

// Default returns an Engine with every built-in scanner.
func Default(m *metrics.Metrics) *Engine {
	return NewEngine(m, NewHilegaMilega(), NewMomentum(), &SMACrossover{RSIFilter: true})
}
