package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"dividi/internal/cache"
	"dividi/internal/cli"
	apphttp "dividi/internal/http"
	applog "dividi/internal/log"
	"dividi/internal/metrics"
	"dividi/internal/middleware/ratelimit"
	"dividi/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	metrics.Init()

	result := cli.InitBackend(context.Background(), logger, cfg)

	names := cache.NewLRUCache[string](cfg.NameCacheSize, cfg.NameCacheTTL)
	caches := cache.NewManager()
	caches.Register(names)
	caches.StartCleanup(cfg.CacheCleanupInterval)

	svc := services.NewBalanceService(result.Store, services.Options{
		Publisher:       result.Publisher,
		Names:           names,
		ListConcurrency: cfg.ListConcurrency,
	})

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:      logger,
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		Ready: cli.ReadyCheck(result.Store),
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, trusting the " + apphttp.DevUserHeader + " header")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		caches.Stop()
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close balance service", applog.FieldError, err)
		}
	})

	logger.Info("Starting dividi server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp", result.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
