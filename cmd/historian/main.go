// cmd/historian/main.go is an asynchronous historian service that pops room
// events from a Redis queue and persists them to a PostgreSQL database.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/arena/internal/cache"
	"github.com/jason-s-yu/arena/internal/config"
	"github.com/jason-s-yu/arena/internal/database"
	"github.com/jason-s-yu/arena/internal/historian"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		logger.Fatal("historian requires DATABASE_URL and REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatalf("database: %v", err)
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.NewService(
		logger,
		cache.NewRoomEventQueue(rdb, cfg.RoomEventsQueue),
		database.NewRoomEventStore(pool),
		historian.Options{
			BatchSize:  cfg.HistorianBatchSize,
			FlushDelay: cfg.HistorianFlush,
		},
	)
	svc.Run(ctx)
	logger.Info("Historian shutdown complete.")
}
