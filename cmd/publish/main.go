// Command publish reads a JSON array of event payloads from stdin (or
// a file given as the first argument) and publishes them on the
// ingress topic through the fan-out publisher. Useful for seeding and
// smoke-testing a running pipeline.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyd/notifyd/bus/redisbus"
	"github.com/notifyd/notifyd/config"
	"github.com/notifyd/notifyd/fanout"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var cfg struct {
		Redis config.RedisConfig
		Bus   config.BusConfig
	}
	config.MustLoad(&cfg)

	in := io.Reader(os.Stdin)
	if len(os.Args) > 1 {
		f, err := os.Open(os.Args[1])
		if err != nil {
			logger.Error("open input", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	var payloads []json.RawMessage
	if err := json.NewDecoder(in).Decode(&payloads); err != nil {
		logger.Error("decode input, expected a JSON array of payloads", "error", err)
		os.Exit(1)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	b := redisbus.New(rdb, redisbus.Config{Visibility: cfg.Bus.Visibility})
	pub := fanout.New(b, fanout.Config{}, logger, nil)

	accepted := pub.PublishBatch(context.Background(), payloads)
	pub.Flush()
	logger.Info("published", "accepted", accepted)
}
