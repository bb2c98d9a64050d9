package model

import "strconv"

// Instrument represents a tradeable instrument as registered in a symbol table.
// It is owned by the symbol registry and never mutated by the indicator engine.
type Instrument struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"` // external provider code, e.g. "RELIANCE.NS"
	Exchange string `json:"exchange"`
	Active   bool   `json:"active"`
}

// Key returns a unique key for this instrument: "exchange:symbol".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol
}

// Label is used in logs and failure reports: "symbol#id".
func (i *Instrument) Label() string {
	return i.Symbol + "#" + strconv.FormatInt(i.ID, 10)
}
