package notification

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramNotifier sends alerts through the Telegram Bot API as MarkdownV2.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
	baseURL  string
	log      zerolog.Logger
}

func NewTelegramNotifier(botToken, chatID string, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.With().Str("component", "telegram").Logger(),
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	err := postJSON(ctx, t.client, url, map[string]string{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	t.log.Debug().Str("title", alert.Title).Msg("sent alert")
	return nil
}

// telegramText renders alert as MarkdownV2. Refresh alerts list their
// failed units one per line, up to maxListed.
func telegramText(alert Alert) string {
	icon := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		icon = "⚠️"
	case AlertCritical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", icon, escapeMarkdown(alert.Title))
	run := alert.Run
	if run == nil {
		b.WriteString(escapeMarkdown(alert.Message))
		return b.String()
	}

	fmt.Fprintf(&b, "run `%s`\n", escapeCode(run.RunID))
	b.WriteString(escapeMarkdown(fmt.Sprintf("%d ok, %d failed, %d rows inserted", run.Processed, len(run.Failures), run.Inserted)))
	for i, f := range run.Failures {
		if i == maxListed {
			b.WriteString(escapeMarkdown(fmt.Sprintf("\n... and %d more", len(run.Failures)-maxListed)))
			break
		}
		fmt.Fprintf(&b, "\n• `%s` %s", escapeCode(f.Unit), escapeMarkdown(f.Reason))
	}
	return b.String()
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes the two characters MarkdownV2 reserves inside code spans.
func escapeCode(s string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(s)
}
