package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/internal/api"
	"github.com/MaxwellShipley/OS-zoom-app/internal/config"
	"github.com/MaxwellShipley/OS-zoom-app/internal/gateway"
	"github.com/MaxwellShipley/OS-zoom-app/internal/handlers"
	"github.com/MaxwellShipley/OS-zoom-app/internal/registry"
	"github.com/MaxwellShipley/OS-zoom-app/internal/relay"
	"github.com/MaxwellShipley/OS-zoom-app/internal/room"
	"github.com/MaxwellShipley/OS-zoom-app/internal/store"
	"github.com/MaxwellShipley/OS-zoom-app/internal/ws"
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

	// Credential store: PostgreSQL when configured, SQLite otherwise
	var accounts store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		accounts = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		accounts = sqliteStore
		logger.Info().Msg("opened SQLite credential store")
	}
	defer accounts.Close()

	// Optional Redis for HTTP rate limiting
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Relay state: all of it lives here for the process lifetime and is
	// injected down into the dispatcher.
	reg := registry.New()
	rooms := room.NewStore()
	dispatcher := relay.NewDispatcher(logger, gateway.New(accounts), reg, rooms, relay.NewThrottle())
	wsHandler := ws.NewHandler(dispatcher, logger)

	// Create router
	h := handlers.NewHandler(cfg.Env, accounts, rooms, wsHandler.Live)
	router := api.NewRouter(logger, h, wsHandler, redisStore, cfg.RateLimitWhitelist)

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
			Msg("starting relay server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
