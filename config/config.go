package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// loadDotenv loads a .env file from the working directory, if one exists.
// Missing files are silently ignored; malformed ones are not.
func loadDotenv() error {
	var loadErr error
	dotenvOnce.Do(func() {
		if _, err := os.Stat(".env"); err != nil {
			return
		}
		loadErr = godotenv.Load()
	})
	return loadErr
}

// Load parses environment variables into cfg using their `env` struct tags.
// It loads a local .env file (once per process) before parsing.
func Load(cfg any) error {
	if err := loadDotenv(); err != nil {
		return fmt.Errorf("config: load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	return nil
}

// MustLoad is like Load but panics on error. Intended for use at process
// startup in cmd/* mains, where a misconfigured environment is fatal.
func MustLoad(cfg any) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// RedisConfig holds connection settings shared by every component backed
// by Redis (the message bus and the composite store).
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}
