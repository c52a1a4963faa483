package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/utils"
)

// NewClient connects to the shared store. REDIS_URL takes precedence over
// REDIS_ADDR/REDIS_PASSWORD/REDIS_DB. The connection is verified with a ping so
// callers learn about an unreachable store at startup rather than on first use;
// callers may still choose to continue without it (the lock manager falls back
// to its in-memory backend).
func NewClient(log *logger.Logger) (*goredis.Client, error) {
	clientLog := log.With("service", "RedisClient")

	var opts *goredis.Options
	if rawURL := strings.TrimSpace(utils.GetEnv("REDIS_URL", "", log)); rawURL != "" {
		parsed, err := goredis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{
			Addr:     utils.GetEnv("REDIS_ADDR", "localhost:6379", log),
			Password: utils.GetEnv("REDIS_PASSWORD", "", log),
			DB:       utils.GetEnvAsInt("REDIS_DB", 0, log),
		}
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	clientLog.Info("Connected to Redis", "addr", opts.Addr)
	return rdb, nil
}
