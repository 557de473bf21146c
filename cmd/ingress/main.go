// Command ingress runs the ingress router: it consumes the ingress
// queue, persists event records, and fans events out to the
// per-channel priority queues.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/bus/redisbus"
	"github.com/notifyd/notifyd/config"
	"github.com/notifyd/notifyd/ingress"
	"github.com/notifyd/notifyd/observability"
	"github.com/notifyd/notifyd/store/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg config.IngressConfig
	config.MustLoad(&cfg)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	st := redis.New(rdb)
	defer st.Close()

	b := redisbus.New(rdb, redisbus.Config{Visibility: cfg.Bus.Visibility})

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	tracer := observability.NewTracer()
	go serveMetrics(cfg.MetricsAddr, reg, logger)

	router := ingress.New(b, st.Events(), st.Preferences(), ingress.Config{
		BatchSize: cfg.BatchSize,
		Wait:      cfg.PollTimeout,
	}, logger, metrics, tracer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ingress router starting", "redis", cfg.Redis.Addr)
	if err := router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingress router stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("ingress router stopped")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
