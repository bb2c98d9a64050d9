// Package notification delivers alerts about refresh runs to external
// channels (webhooks, Telegram) or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	// Run is set on refresh alerts so channels can render the failures
	// structurally instead of parsing Message.
	Run *RunSummary `json:"run,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log. It is the fallback when no external
// channel is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	ev := n.log.Info()
	switch alert.Level {
	case AlertWarning:
		ev = n.log.Warn()
	case AlertCritical:
		ev = n.log.Error()
	}
	for k, v := range alert.Fields {
		ev = ev.Str(k, v)
	}
	ev.Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi sends every alert to each notifier in turn and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config selects the notification channels.
type Config struct {
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// New builds a notifier for every configured channel, falling back to the
// log when none is set.
func New(cfg Config, log zerolog.Logger) Notifier {
	var m Multi
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhookNotifier(cfg.WebhookURL, log))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		m = append(m, NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log))
	}
	if len(m) == 0 {
		return NewLogNotifier(log)
	}
	return m
}

// RunFailure describes one failed refresh unit for RefreshAlert.
type RunFailure struct {
	Unit   string `json:"unit"`
	Reason string `json:"reason"`
}

// RunSummary is the structured body of a refresh alert.
type RunSummary struct {
	RunID     string       `json:"run_id"`
	Processed int          `json:"processed"`
	Inserted  int          `json:"inserted"`
	Failures  []RunFailure `json:"failures"`
}

// maxListed bounds how many failures are spelled out in one alert.
const maxListed = 10

// RefreshAlert summarises a refresh run that had failed units.
func RefreshAlert(runID string, processed, inserted int, failures []RunFailure) Alert {
	level := AlertWarning
	if processed == 0 {
		level = AlertCritical
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d units failed, %d succeeded, %d rows inserted.", len(failures), processed, inserted)
	for i, f := range failures {
		if i == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", len(failures)-maxListed)
			break
		}
		fmt.Fprintf(&b, "\n%s: %s", f.Unit, f.Reason)
	}
	return Alert{
		Level:   level,
		Title:   "Indicator refresh had failures",
		Message: b.String(),
		Fields:  map[string]string{"run_id": runID},
		Run:     &RunSummary{RunID: runID, Processed: processed, Inserted: inserted, Failures: failures},
	}
}
