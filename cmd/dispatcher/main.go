// Command dispatcher runs the priority dispatcher and delivery worker
// for one channel, selected by the CHANNEL environment variable (sms
// or email). Push delivery lives in the wsgateway process, colocated
// with the live sockets it writes to.
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
	"github.com/notifyd/notifyd/delivery"
	"github.com/notifyd/notifyd/dispatcher"
	"github.com/notifyd/notifyd/dlq"
	"github.com/notifyd/notifyd/event"
	"github.com/notifyd/notifyd/observability"
	"github.com/notifyd/notifyd/store/redis"
	"github.com/notifyd/notifyd/transport"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var cfg config.DispatcherConfig
	config.MustLoad(&cfg)

	ch := event.Channel(cfg.Channel)
	sender := buildSender(ch, cfg.Transport, logger)

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

	dlqSvc := dlq.NewService(b, st.DLQ(), st.Events(), logger)
	worker := delivery.NewWorker(ch, sender, st.Events(), dlqSvc, delivery.WorkerConfig{}, logger)

	queues := delivery.QueuesFor(ch)
	disp := dispatcher.New(b, worker, dispatcher.Config{
		Channel:          ch,
		CriticalQueue:    queues.Critical,
		NonCriticalQueue: queues.NonCritical,
		BatchSize:        cfg.BatchSize,
		Wait:             cfg.PollTimeout,
		IdleSleep:        cfg.IdleSleep,
		Concurrency:      cfg.Concurrency,
	}, logger, metrics, tracer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dispatcher starting", "channel", ch, "redis", cfg.Redis.Addr)
	if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", "channel", ch, "error", err)
		os.Exit(1)
	}
	logger.Info("dispatcher stopped", "channel", ch)
}

func buildSender(ch event.Channel, cfg config.TransportConfig, logger *slog.Logger) delivery.Sender {
	switch ch {
	case event.ChannelSMS:
		return &delivery.SMSSender{Client: transport.NewSMS(transport.SMSConfig{
			URL:        cfg.SMSURL,
			AccountSID: cfg.SMSAccountSID,
			AuthToken:  cfg.SMSAuthToken,
			From:       cfg.SMSFrom,
			Timeout:    cfg.SMSTimeout,
		})}
	case event.ChannelEmail:
		return &delivery.EmailSender{Client: transport.NewEmail(transport.EmailConfig{
			URL:     cfg.EmailURL,
			Token:   cfg.EmailToken,
			Sender:  cfg.EmailSender,
			Timeout: cfg.EmailTimeout,
		})}
	default:
		logger.Error("unsupported channel, use sms or email", "channel", ch)
		os.Exit(2)
		return nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
