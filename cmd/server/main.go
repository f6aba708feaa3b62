// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/arena/internal/auth"
	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/handlers"
	"github.com/jason-s-yu/arena/internal/matchmaking"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/jason-s-yu/arena/internal/session"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if !verifier.Configured() {
		logger.Warn("JWT_SECRET not set; every connection will be a guest")
	}

	var initializer session.PlayerInitializer
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Fatalf("database: %v", err)
		}
		initializer = database.NewProfileStore(pool)
		logger.Info("Player persistence enabled")
	}

	srv := handlers.NewServer(logger, verifier, initializer, matchmaking.FIFOStrategy{Size: cfg.MatchGroupSize}, handlers.Options{
		RoomMaxPlayers: cfg.RoomMaxPlayers,
		MatchTick:      cfg.MatchTick,
		MatchTimeout:   cfg.MatchTimeout,
	})

	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		srv.SetRecorder(cache.NewRoomEventPublisher(rdb, cfg.RoomEventsQueue))
		logger.WithField("queue", cfg.RoomEventsQueue).Info("Room event recording enabled")
	}

	limiter := middleware.NewRateLimiter(logger, cfg.RateLimitMax, cfg.RateLimitWindow)
	limiter.StartCleanupInterval(cfg.RateLimitSweep)
	defer limiter.Stop()

	srv.Start()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(logger, srv, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
}
