// Package config содержит логику чтения конфигурации сервиса genquota.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress               = "localhost:8080"
	defaultAuthenticatedConcurrency = 2
	defaultDailyRedemptionLimit     = 5
	defaultRequestsPerSecond        = 5
	defaultRequestBurst             = 10
	defaultReportTimezone           = "Asia/Shanghai"
	defaultMetricsSnapshotSpec      = "@every 30s"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	JWTSecret   string `env:"JWT_SECRET"`

	// AuthenticatedConcurrency задаёт лимит одновременных генераций с одного IP для авторизованных пользователей.
	AuthenticatedConcurrency int `env:"AUTHENTICATED_CONCURRENCY"`
	// DailyRedemptionLimit задаёт число попыток активации CDK в сутки (UTC).
	DailyRedemptionLimit int `env:"DAILY_REDEMPTION_LIMIT"`

	RedisAddress      string  `env:"REDIS_ADDRESS"`
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND"`
	RequestBurst      int     `env:"REQUEST_BURST"`

	ReportTimezone      string `env:"REPORT_TIMEZONE"`
	MetricsSnapshotSpec string `env:"METRICS_SNAPSHOT_SPEC"`

	Debug bool `env:"DEBUG"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret for HS256 bearer tokens")
	flag.IntVar(&cfg.AuthenticatedConcurrency, "c", defaultAuthenticatedConcurrency, "concurrent generations per origin for authenticated callers")
	flag.IntVar(&cfg.DailyRedemptionLimit, "l", defaultDailyRedemptionLimit, "daily redemption attempts per user")
	flag.StringVar(&cfg.RedisAddress, "redis", "", "redis address for the shared request limiter")
	flag.Float64Var(&cfg.RequestsPerSecond, "rps", defaultRequestsPerSecond, "requests per second per origin on guarded endpoints")
	flag.IntVar(&cfg.RequestBurst, "burst", defaultRequestBurst, "request burst per origin on guarded endpoints")
	flag.StringVar(&cfg.ReportTimezone, "tz", defaultReportTimezone, "timezone for redemption reports")
	flag.StringVar(&cfg.MetricsSnapshotSpec, "metrics-spec", defaultMetricsSnapshotSpec, "cron spec for metrics snapshots")
	flag.BoolVar(&cfg.Debug, "debug", false, "development logging")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.JWTSecret, envCfg.JWTSecret)
	overrideString(&cfg.RedisAddress, envCfg.RedisAddress)
	overrideString(&cfg.ReportTimezone, envCfg.ReportTimezone)
	overrideString(&cfg.MetricsSnapshotSpec, envCfg.MetricsSnapshotSpec)

	if envCfg.AuthenticatedConcurrency != 0 {
		cfg.AuthenticatedConcurrency = envCfg.AuthenticatedConcurrency
	}
	if envCfg.DailyRedemptionLimit != 0 {
		cfg.DailyRedemptionLimit = envCfg.DailyRedemptionLimit
	}
	if envCfg.RequestsPerSecond != 0 {
		cfg.RequestsPerSecond = envCfg.RequestsPerSecond
	}
	if envCfg.RequestBurst != 0 {
		cfg.RequestBurst = envCfg.RequestBurst
	}
	if envCfg.Debug {
		cfg.Debug = true
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if c.AuthenticatedConcurrency < 1 {
		return errors.New("authenticated concurrency must be at least 1")
	}
	if c.DailyRedemptionLimit < 1 {
		return errors.New("daily redemption limit must be at least 1")
	}
	if c.RequestsPerSecond <= 0 || c.RequestBurst < 1 {
		return errors.New("request rate and burst must be positive")
	}
	if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
		return fmt.Errorf("load report timezone: %w", err)
	}
	return nil
}

// ReportLocation возвращает часовой пояс для отчётов.
func (c *Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func overrideString(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
