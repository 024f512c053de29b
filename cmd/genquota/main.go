// Package main запускает HTTP-сервер сервиса genquota.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/genquota/internal/config"
	"github.com/mmeshcher/genquota/internal/handler"
	"github.com/mmeshcher/genquota/internal/metrics"
	"github.com/mmeshcher/genquota/internal/middleware"
	"github.com/mmeshcher/genquota/internal/ratelimit"
	"github.com/mmeshcher/genquota/internal/repository"
	"github.com/mmeshcher/genquota/internal/service"
)

const (
	limiterPruneInterval = time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	sugar := logger.Sugar()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		sugar.Warn("JWT_SECRET is not set, only anonymous requests will be accepted")
	}

	quota := service.NewQuotaTracker(repo, cfg.DailyRedemptionLimit)
	admission := service.NewAdmissionController(repo, cfg.AuthenticatedConcurrency, logger)
	ledger := service.NewLedger(repo, logger)
	redemption := service.NewRedemptionEngine(repo, quota, logger)

	local := ratelimit.NewLocalLimiter(cfg.RequestsPerSecond, cfg.RequestBurst)
	var limiter ratelimit.Limiter = local
	if cfg.RedisAddress != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisAddress)
		if err != nil {
			sugar.Warnw("redis unavailable, using local rate limiter", "error", err.Error())
		} else {
			defer client.Close()
			limiter = ratelimit.NewFallback(
				ratelimit.NewRedisLimiter(client, cfg.RequestBurst, time.Second),
				local,
				logger,
			)
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		sugar.Fatalw("metrics registration error", "error", err.Error())
	}
	snapshotter, err := metrics.NewSnapshotter(cfg.MetricsSnapshotSpec, repo, logger)
	if err != nil {
		sugar.Fatalw("metrics initialization error", "error", err.Error())
	}

	h := handler.NewHandler(handler.Dependencies{
		Admission:      admission,
		Redemption:     redemption,
		Quota:          quota,
		Ledger:         ledger,
		Storage:        repo,
		Limiter:        limiter,
		ReportLocation: cfg.ReportLocation(),
	}, logger, middleware.NewAuthMiddleware(secret))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Периодический снимок занятости слотов и пула соединений
	g.Go(func() error {
		snapshotter.Run(ctx)
		return nil
	})

	g.Go(func() error {
		local.Run(ctx, limiterPruneInterval, limiterIdleTimeout)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting genquota server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
