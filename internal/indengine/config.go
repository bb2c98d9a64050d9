package indengine

import (
	"time"

	"marketpanel/config"
)

// Config holds the service settings taken from the application config.
type Config struct {
	HTTPAddr        string
	RefreshSchedule string // empty disables scheduled refreshes
	StatsSchedule   string // empty disables scheduled 52-week stats
	LookbackRows    int

	// PanelDays is the default panel length when a request gives no from date.
	PanelDays int

	ShutdownTimeout time.Duration
}

// ConfigFrom derives the service config from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		HTTPAddr:        c.HTTPAddr,
		RefreshSchedule: c.RefreshSchedule,
		StatsSchedule:   c.StatsSchedule,
		LookbackRows:    c.LookbackRows,
	}
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8090"
	}
	if c.PanelDays <= 0 {
		c.PanelDays = 60
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}
