// Command indengine runs the indicator service: scheduled indicator and
// 52-week stats refreshes plus the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"marketpanel/config"
	"marketpanel/internal/align"
	"marketpanel/internal/indengine"
	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/notification"
	"marketpanel/internal/refresh"
	"marketpanel/internal/scanner"
	"marketpanel/internal/stats"
	"marketpanel/internal/store"
	redisstore "marketpanel/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.Init("indengine", cfg.LogLevel, cfg.LogFormat)

	backend, reg, err := store.OpenRegistry(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}
	defer backend.Close()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	opts := []refresh.Option{
		refresh.WithWorkers(cfg.RefreshWorkers),
		refresh.WithMetrics(m),
		refresh.WithNotifier(notification.New(notification.Config{
			WebhookURL:       cfg.WebhookURL,
			TelegramBotToken: cfg.TelegramBotToken,
			TelegramChatID:   cfg.TelegramChatID,
		}, log)),
	}

	var rdb *goredis.Client
	if cfg.RedisEnabled() {
		pub, err := redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, latest-row publication disabled")
		} else {
			defer pub.Close()
			pub.SetMetrics(m)
			opts = append(opts, refresh.WithPublisher(pub))
			rdb = pub.Client()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := metrics.NewHealthStatus(reg.Keys(), cfg.RedisEnabled())
	health.StartLivenessChecker(ctx, rdb, backend.SQL(), 15*time.Second)

	svc, err := indengine.New(indengine.ConfigFrom(cfg), indengine.Deps{
		Registry: reg,
		Refresh:  refresh.New(reg, log, opts...),
		Panels:   align.NewBuilder(reg, m, log),
		Stats:    stats.NewRefresher(reg, m, log),
		Scanners: scanner.Default(m),
		Health:   health,
		Gatherer: prometheus.DefaultGatherer,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
