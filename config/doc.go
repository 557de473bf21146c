// Package config provides type-safe environment variable loading,
// built on github.com/caarlos0/env/v11.
//
// A .env file, if present in the working directory, is loaded exactly once
// via github.com/joho/godotenv before the first Load call reads the
// environment.
//
// Basic usage:
//
//	type IngressConfig struct {
//		Redis        RedisConfig
//		BatchSize    int           `env:"INGRESS_BATCH_SIZE" envDefault:"10"`
//		PollTimeout  time.Duration `env:"INGRESS_POLL_TIMEOUT" envDefault:"20s"`
//	}
//
//	var cfg IngressConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
package config
