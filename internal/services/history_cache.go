package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vietbot/chatbridge-backend/internal/logger"
)

const (
	processedHistoryKeyPrefix = "processed_history:"
	processedHistoryTTL       = time.Hour
)

type processedHistoryEntry struct {
	History        string    `json:"history"`
	ProcessedAt    time.Time `json:"processed_at"`
	ConversationID string    `json:"conversation_id"`
}

// HistoryCache remembers the last fully processed history per conversation so
// the differ can hand the AI only the new suffix. Misses are normal; the
// caller falls back to the conversation row.
type HistoryCache interface {
	Get(ctx context.Context, convID string) (string, bool)
	Set(ctx context.Context, convID, history string)
}

type historyCache struct {
	log *logger.Logger
	rdb *goredis.Client

	mu       sync.Mutex
	mem      map[string]processedHistoryEntry
	degraded bool
}

func NewHistoryCache(baseLog *logger.Logger, rdb *goredis.Client) HistoryCache {
	return &historyCache{
		log: baseLog.With("service", "HistoryCache"),
		rdb: rdb,
		mem: map[string]processedHistoryEntry{},
	}
}

func (c *historyCache) Get(ctx context.Context, convID string) (string, bool) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, processedHistoryKeyPrefix+convID).Result()
		if err == nil {
			var e processedHistoryEntry
			if uerr := json.Unmarshal([]byte(raw), &e); uerr == nil {
				return e.History, true
			}
			return "", false
		}
		if errors.Is(err, goredis.Nil) {
			return "", false
		}
		c.warnDegraded(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.mem[convID]
	if !ok || time.Since(e.ProcessedAt) > processedHistoryTTL {
		delete(c.mem, convID)
		return "", false
	}
	return e.History, true
}

func (c *historyCache) Set(ctx context.Context, convID, history string) {
	entry := processedHistoryEntry{
		History:        history,
		ProcessedAt:    time.Now(),
		ConversationID: convID,
	}
	if c.rdb != nil {
		raw, err := json.Marshal(entry)
		if err == nil {
			if serr := c.rdb.Set(ctx, processedHistoryKeyPrefix+convID, raw, processedHistoryTTL).Err(); serr == nil {
				c.mu.Lock()
				c.degraded = false
				c.mu.Unlock()
				return
			} else {
				c.warnDegraded(serr)
			}
		}
	}
	c.mu.Lock()
	c.mem[convID] = entry
	c.mu.Unlock()
}

func (c *historyCache) warnDegraded(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		c.degraded = true
		c.log.Warn("Shared store unreachable, caching processed history in memory", "error", err)
	}
}
