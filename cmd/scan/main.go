// cmd/scan runs the registered scanners over an asset's aligned panel and
// writes the signals as JSON or CSV.
//
// Usage:
//
//	go run ./cmd/scan --asset=india_equity --days=30 --scanner=hilega_milega --format=csv
//	go run ./cmd/scan --asset=india_equity --follow
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"marketpanel/config"
	"marketpanel/internal/align"
	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/scanner"
	"marketpanel/internal/store"
	redisstore "marketpanel/internal/store/redis"
)

type options struct {
	asset    string
	from, to time.Time
	days     int
	format   string
}

func main() {
	asset := flag.String("asset", "", "Asset class to scan (required)")
	fromStr := flag.String("from", "", "First bar date YYYY-MM-DD (default: --days before --to)")
	toStr := flag.String("to", "", "Last bar date YYYY-MM-DD (default today)")
	days := flag.Int("days", 60, "Window length when --from is empty")
	names := flag.String("scanner", "", "Comma-separated scanner names (empty=all)")
	format := flag.String("format", "json", "Output format: json or csv")
	follow := flag.Bool("follow", false, "Rescan after every published refresh run (needs REDIS_ADDR)")
	flag.Parse()

	if *asset == "" || (*format != "json" && *format != "csv") {
		flag.Usage()
		os.Exit(2)
	}
	opts := options{asset: *asset, days: *days, format: *format}
	var err error
	if opts.from, err = parseDate(*fromStr); err == nil {
		opts.to, err = parseDate(*toStr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.Init("scan", cfg.LogLevel, cfg.LogFormat)

	backend, reg, err := store.OpenRegistry(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}
	defer backend.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	var selected []string
	if *names != "" {
		selected = strings.Split(*names, ",")
	}
	eng, err := scanner.Default(m).Select(selected...)
	if err != nil {
		log.Fatal().Err(err).Msg("select scanners")
	}
	panels := align.NewBuilder(reg, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := scan(ctx, panels, eng, opts, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("scan failed")
	}
	if !*follow {
		return
	}
	if !cfg.RedisEnabled() {
		log.Fatal().Msg("--follow needs REDIS_ADDR")
	}
	if err := followRuns(ctx, cfg, panels, eng, opts, log); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("follow failed")
	}
}

// followRuns rescans each time a refresh run summary arrives on the run
// channel. The window slides to end on the current day.
func followRuns(ctx context.Context, cfg *config.Config, panels *align.Builder, eng *scanner.Engine, opts options, log zerolog.Logger) error {
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer client.Close()

	runs, err := redisstore.NewReader(client).SubscribeRuns(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("channel", redisstore.RunChannel).Msg("following refresh runs")
	for payload := range runs {
		var summary struct {
			RunID string `json:"run_id"`
		}
		_ = json.Unmarshal(payload, &summary)
		log.Info().Str("run_id", summary.RunID).Msg("refresh run published, rescanning")

		o := opts
		o.from, o.to = time.Time{}, time.Time{}
		if err := scan(ctx, panels, eng, o, os.Stdout); err != nil {
			log.Error().Err(err).Msg("rescan failed")
		}
	}
	return ctx.Err()
}

func scan(ctx context.Context, panels *align.Builder, eng *scanner.Engine, o options, out io.Writer) error {
	to := o.to
	if to.IsZero() {
		to = time.Now().UTC().Truncate(24 * time.Hour)
	}
	from := o.from
	if from.IsZero() {
		from = to.AddDate(0, 0, -o.days)
	}
	panel, err := panels.Panel(ctx, o.asset, from, to)
	if err != nil {
		return err
	}
	signals := eng.Run(panel)
	if o.format == "csv" {
		return writeCSV(out, signals)
	}
	if signals == nil {
		signals = []scanner.Signal{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(signals)
}

func writeCSV(out io.Writer, signals []scanner.Signal) error {
	w := csv.NewWriter(out)
	_ = w.Write([]string{"date", "scanner", "action", "symbol", "exchange", "close", "adj_close", "reason"})
	for _, s := range signals {
		_ = w.Write([]string{
			s.Date.Format(time.DateOnly),
			s.Scanner,
			string(s.Action),
			s.Symbol,
			s.Exchange,
			strconv.FormatFloat(s.Close, 'f', -1, 64),
			strconv.FormatFloat(s.AdjClose, 'f', -1, 64),
			s.Reason,
		})
	}
	w.Flush()
	return w.Error()
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return d, nil
}
