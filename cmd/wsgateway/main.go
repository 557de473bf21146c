// Command wsgateway serves the WebSocket endpoint and runs the push
// channel's priority dispatcher in the same process, so the push
// delivery worker writes to the live sockets it registers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/bus/redisbus"
	"github.com/notifyd/notifyd/config"
	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/dispatcher"
	"github.com/notifyd/notifyd/dlq"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/observability"
	"github.com/notifyd/notifyd/store/redis"
	"github.com/notifyd/notifyd/transport"
	"github.com/notifyd/notifyd/wsgateway"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg config.GatewayConfig
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

	gateway := wsgateway.New(st.Connections(), logger)
	defer gateway.Close()

	sender := &delivery.PushSender{
		Registry: st.Connections(),
		Web:      gateway,
		IOS: transport.NewAPNs(transport.APNsConfig{
			URL:     cfg.Transport.APNsURL,
			Token:   cfg.Transport.APNsToken,
			Topic:   cfg.Transport.APNsTopic,
			Timeout: cfg.Transport.APNsTimeout,
		}),
		Logger: logger,
	}

	dlqSvc := dlq.NewService(b, st.DLQ(), st.Events(), logger)
	worker := delivery.NewWorker(event.ChannelPush, sender, st.Events(), dlqSvc, delivery.WorkerConfig{}, logger)

	queues := delivery.QueuesFor(event.ChannelPush)
	disp := dispatcher.New(b, worker, dispatcher.Config{
		Channel:          event.ChannelPush,
		CriticalQueue:    queues.Critical,
		NonCriticalQueue: queues.NonCritical,
		BatchSize:        cfg.BatchSize,
		Wait:             cfg.PollTimeout,
		IdleSleep:        cfg.IdleSleep,
		Concurrency:      cfg.Concurrency,
	}, logger, metrics, tracer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle(wsgateway.PathPrefix, gateway)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Info("websocket gateway listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server stopped", "error", err)
		}
	}()

	logger.Info("push dispatcher starting", "redis", cfg.Redis.Addr)
	if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("push dispatcher stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("gateway stopped")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
