package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vietbot/chatbridge-backend/internal/clients/redis"
	"github.com/vietbot/chatbridge-backend/internal/config"
	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/services"
)

// One-shot sweeper for stale conversation locks. Intended to run from cron
// next to the API instances.
func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	rdb, err := redis.NewClient(log)
	if err != nil {
		log.Fatal("Redis unavailable, nothing to sweep", "error", err)
	}
	defer rdb.Close()

	backend := services.NewFailoverLockBackend(log, services.NewRedisLockBackend(rdb), services.NewMemoryLockBackend())
	locks := services.NewLockManager(log, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	maxAge := time.Duration(cfg.MaxConversationAgeHours) * time.Hour
	removed := locks.CleanupStale(ctx, maxAge)
	log.Info("Stale lock sweep finished", "removed", removed, "max_age_hours", cfg.MaxConversationAgeHours)
}
