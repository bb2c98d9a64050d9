package model

import (
	"fmt"
	"strconv"
)

// Timeframe is the aggregation granularity of a price bar.
// Values match the keys stored in the timeframe column.
type Timeframe string

const (
	Daily   Timeframe = "1d"
	Weekly  Timeframe = "1wk"
	Monthly Timeframe = "1mo"
)

// AllTimeframes lists every supported timeframe, finest first.
var AllTimeframes = []Timeframe{Daily, Weekly, Monthly}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (tf Timeframe) String() string { return string(tf) }

// ParseTimeframe converts a timeframe key into a Timeframe.
// Unknown keys yield a *ConfigError.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", &ConfigError{Kind: "timeframe", Key: s}
	}
	return tf, nil
}

// ParseTimeframes parses a list of keys, failing on the first unknown one.
// An empty list means every timeframe.
func ParseTimeframes(keys []string) ([]Timeframe, error) {
	if len(keys) == 0 {
		return AllTimeframes, nil
	}
	out := make([]Timeframe, 0, len(keys))
	for _, k := range keys {
		tf, err := ParseTimeframe(k)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// ConfigError reports an unknown asset class or timeframe key, or an
// out-of-range request parameter. It is fatal for the call that received it
// and is never retried.
type ConfigError struct {
	Kind   string // "asset", "timeframe", "scanner", "lookback_rows"
	Key    string
	Reason string // set for invalid values; empty means the key is unknown
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Key, e.Reason)
	}
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Key)
}

// NegativeLookback is the ConfigError for a lookback row count below zero.
func NegativeLookback(n int) *ConfigError {
	return &ConfigError{Kind: "lookback_rows", Key: strconv.Itoa(n), Reason: "must not be negative"}
}
