package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nicorelay/internal/auth"
	"nicorelay/internal/config"
	"nicorelay/internal/metrics"
	"nicorelay/internal/ratelimit"
	"nicorelay/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("backend_url", cfg.BackendURL).
		Str("auth_mode", cfg.Auth.Mode).
		Str("secret", auth.Redact(cfg.Auth.Secret)).
		Msg("starting nicorelay")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	strategy, err := auth.Build(auth.BuildOptions{
		Mode:         cfg.Auth.Mode,
		Secret:       cfg.Auth.Secret,
		SecretHeader: cfg.Auth.SecretHeader,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build auth strategy")
	}

	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.Rate.PerMinute)
		log.Info().Int64("per_minute", cfg.Rate.PerMinute).Msg("rate limiting enabled")
	}

	srv := relay.New(relay.Config{
		BackendURL: cfg.BackendURL,
		Strategy:   strategy,
		HTTPClient: &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		Limiter:    limiter,
		Logger:     log.Logger,
		Metrics:    metrics.Global(),
		HealthPath: cfg.HealthPath,
	})

	mux := http.NewServeMux()
	srv.Register(mux)
	mux.Handle(cfg.MetricsPath, promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
