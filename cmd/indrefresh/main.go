// cmd/indrefresh runs one indicator refresh against the configured store and
// exits. It is the batch counterpart of the indengine scheduler.
//
// Usage:
//
//	go run ./cmd/indrefresh --assets=usa_equity,crypto --timeframes=1d --lookback=250
//	go run ./cmd/indrefresh --latest
//	go run ./cmd/indrefresh --stats --as-of=2024-06-28
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"marketpanel/config"
	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/notification"
	"marketpanel/internal/refresh"
	"marketpanel/internal/registry"
	"marketpanel/internal/stats"
	"marketpanel/internal/store"
)

func main() {
	assets := flag.String("assets", "", "Comma-separated asset classes (empty=all)")
	tfs := flag.String("timeframes", "", "Comma-separated timeframes: 1d,1wk,1mo (empty=all)")
	lookback := flag.Int("lookback", 0, "Rows re-read before the watermark (0=config default)")
	workers := flag.Int("workers", 0, "Concurrent instruments per asset class (0=config default)")
	latest := flag.Bool("latest", false, "Print latest bar and indicator dates per asset and exit")
	withStats := flag.Bool("stats", false, "Refresh 52-week stats after the indicator run")
	asOf := flag.String("as-of", "", "As-of date for --stats (YYYY-MM-DD, default today)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.Init("indrefresh", cfg.LogLevel, cfg.LogFormat)

	backend, reg, err := store.OpenRegistry(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys := splitList(*assets)
	if *latest {
		if err := printLatest(ctx, reg, keys); err != nil {
			log.Fatal().Err(err).Msg("watermark report failed")
		}
		return
	}

	n := cfg.RefreshWorkers
	if *workers > 0 {
		n = *workers
	}
	rows := cfg.LookbackRows
	if *lookback != 0 {
		// Negative values reach Refresh and come back as a config error.
		rows = *lookback
	}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	ctrl := refresh.New(reg, log,
		refresh.WithWorkers(n),
		refresh.WithMetrics(m),
		refresh.WithNotifier(notification.New(notification.Config{
			WebhookURL:       cfg.WebhookURL,
			TelegramBotToken: cfg.TelegramBotToken,
			TelegramChatID:   cfg.TelegramChatID,
		}, log)),
	)

	rep, err := ctrl.Refresh(ctx, refresh.Request{Assets: keys, Timeframes: splitList(*tfs), LookbackRows: rows})
	if registry.IsConfigError(err) {
		log.Error().Err(err).Msg("bad request")
		os.Exit(2)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
	if err != nil {
		log.Error().Err(err).Msg("refresh interrupted")
		os.Exit(1)
	}

	if *withStats {
		if err := runStats(ctx, reg, stats.NewRefresher(reg, m, log), keys, *asOf, log); err != nil {
			log.Error().Err(err).Msg("stats refresh failed")
			os.Exit(1)
		}
	}
	if !rep.OK() {
		os.Exit(1)
	}
}

func runStats(ctx context.Context, reg *registry.Registry, r *stats.Refresher, keys []string, asOf string, log zerolog.Logger) error {
	day := time.Now().UTC()
	if asOf != "" {
		d, err := time.Parse(time.DateOnly, asOf)
		if err != nil {
			return fmt.Errorf("parse --as-of: %w", err)
		}
		day = d
	}
	if len(keys) == 0 {
		keys = reg.Keys()
	}
	for _, k := range keys {
		n, err := r.Refresh(ctx, k, day)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		log.Info().Str("asset", k).Int("instruments", n).Msg("52-week stats refreshed")
	}
	return nil
}

// printLatest writes one line per asset and timeframe with the newest bar
// date and the newest indicator date. A gap between them is pending work.
func printLatest(ctx context.Context, reg *registry.Registry, keys []string) error {
	if len(keys) == 0 {
		keys = reg.Keys()
	}
	hs, err := reg.ResolveAll(keys)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tTIMEFRAME\tLATEST BAR\tLATEST INDICATOR")
	for _, h := range hs {
		bars, err := h.Prices.LatestBarDates(ctx)
		if err != nil {
			return fmt.Errorf("%s bars: %w", h.Asset, err)
		}
		ind, err := h.Indicators.LatestIndicatorDates(ctx)
		if err != nil {
			return fmt.Errorf("%s indicators: %w", h.Asset, err)
		}
		for _, tf := range reg.Timeframes() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Asset, tf, dateOrDash(bars, tf), dateOrDash(ind, tf))
		}
	}
	return tw.Flush()
}

func dateOrDash[K comparable](m map[K]time.Time, k K) string {
	d, ok := m[k]
	if !ok || d.IsZero() {
		return "-"
	}
	return d.Format(time.DateOnly)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
