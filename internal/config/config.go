// Package config содержит логику чтения конфигурации шлюза агромаркета.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации шлюза агромаркета.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	BackendAddress string        `env:"BACKEND_ADDRESS"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	PollInterval   time.Duration `env:"POLL_INTERVAL"`
	ToastTTL       time.Duration `env:"TOAST_TTL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBackendAddress := cfg.BackendAddress
	envAuthSecret := cfg.AuthSecret
	envPollInterval := cfg.PollInterval
	envToastTTL := cfg.ToastTTL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BackendAddress, "b", "", "marketplace backend address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.DurationVar(&cfg.PollInterval, "p", 8*time.Second, "dealer requests poll interval")
	flag.DurationVar(&cfg.ToastTTL, "t", 3500*time.Millisecond, "toast auto-dismiss duration")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBackendAddress != "" {
		cfg.BackendAddress = envBackendAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envPollInterval != 0 {
		cfg.PollInterval = envPollInterval
	}
	if envToastTTL != 0 {
		cfg.ToastTTL = envToastTTL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 8 * time.Second
	}
	if cfg.ToastTTL <= 0 {
		cfg.ToastTTL = 3500 * time.Millisecond
	}

	return cfg, nil
}
