package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/api"
	"github.com/eldtechnologies/rankvote/internal/api/middleware"
	"github.com/eldtechnologies/rankvote/internal/config"
	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/gateway"
	"github.com/eldtechnologies/rankvote/internal/polls"
	"github.com/eldtechnologies/rankvote/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Poll store: Redis when configured, otherwise in-process
	var (
		pollStore   store.PollStore
		storeName   string
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		pollStore, storeName, redisClient = redisStore, "redis", redisStore.Client()
		logger.Info().Msg("connected to Redis")
	} else {
		pollStore, storeName = store.NewMemoryStore(time.Minute), "memory"
		logger.Warn().Msg("REDIS_URL not set, polls are kept in memory")
	}
	defer pollStore.Close()

	authority, err := crypto.NewAuthority(cfg.JWTSecret, cfg.PollDuration)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid JWT_SECRET")
	}

	service := polls.NewService(pollStore, cfg.PollDuration, logger)
	gw := gateway.New(service, authority, logger, gateway.Options{AllowedOrigins: cfg.ClientOrigins})

	// Create router
	router := api.NewRouter(logger, api.Deps{
		Polls:     service,
		Authority: authority,
		Store:     pollStore,
		StoreName: storeName,
		Gateway:   gw,
		Redis:     redisClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AllowedOrigins: cfg.ClientOrigins,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", storeName).
			Dur("poll_duration", cfg.PollDuration).
			Msg("starting rankvote server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Websocket connections are hijacked and not tracked by Shutdown
	gw.Close()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
