package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vietbot/chatbridge-backend/internal/logger"
)

const lockKeyPrefix = "msg_lock:"

// LockRecord is the per-conversation lock held in the shared store. At most
// one exists per conversation; it names the AI job currently allowed to
// dispatch.
type LockRecord struct {
	ConversationID    string    `json:"conversation_id"`
	LockID            string    `json:"lock_id"`
	HistoryHash       string    `json:"history_hash"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	AIJobID           string    `json:"ai_job_id,omitempty"`
	PreviousAIJobID   string    `json:"previous_ai_job_id,omitempty"`
	ConsolidatedCount int       `json:"consolidated_count"`
}

// LockBackend stores lock records keyed by conversation id. Get returns nil
// when no record exists.
type LockBackend interface {
	Name() string
	Get(ctx context.Context, convID string) (*LockRecord, error)
	PutIfAbsent(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration) (bool, error)
	Put(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration, keepTTL bool) error
	Delete(ctx context.Context, convID string) (bool, error)
	Conversations(ctx context.Context) ([]string, error)
}

type redisLockBackend struct {
	rdb *goredis.Client
}

func NewRedisLockBackend(rdb *goredis.Client) LockBackend {
	return &redisLockBackend{rdb: rdb}
}

func (b *redisLockBackend) Name() string { return "redis" }

func (b *redisLockBackend) Get(ctx context.Context, convID string) (*LockRecord, error) {
	raw, err := b.rdb.Get(ctx, lockKeyPrefix+convID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec LockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *redisLockBackend) PutIfAbsent(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	return b.rdb.SetNX(ctx, lockKeyPrefix+convID, raw, ttl).Result()
}

func (b *redisLockBackend) Put(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration, keepTTL bool) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	expiration := ttl
	if keepTTL {
		expiration = goredis.KeepTTL
	}
	return b.rdb.Set(ctx, lockKeyPrefix+convID, raw, expiration).Err()
}

func (b *redisLockBackend) Delete(ctx context.Context, convID string) (bool, error) {
	n, err := b.rdb.Del(ctx, lockKeyPrefix+convID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *redisLockBackend) Conversations(ctx context.Context) ([]string, error) {
	var out []string
	iter := b.rdb.Scan(ctx, 0, lockKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), lockKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type memoryLockEntry struct {
	rec       LockRecord
	expiresAt time.Time
}

// memoryLockBackend holds locks in-process. It only guards a single instance;
// it exists so the pipeline keeps making forward progress when the shared
// store is unreachable.
type memoryLockBackend struct {
	mu      sync.Mutex
	entries map[string]memoryLockEntry
}

func NewMemoryLockBackend() LockBackend {
	return &memoryLockBackend{entries: map[string]memoryLockEntry{}}
}

func (b *memoryLockBackend) Name() string { return "memory" }

func (b *memoryLockBackend) Get(ctx context.Context, convID string) (*LockRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[convID]
	if !ok || time.Now().After(e.expiresAt) {
		delete(b.entries, convID)
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}

func (b *memoryLockBackend) PutIfAbsent(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[convID]; ok && time.Now().Before(e.expiresAt) {
		return false, nil
	}
	b.entries[convID] = memoryLockEntry{rec: *rec, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (b *memoryLockBackend) Put(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration, keepTTL bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiresAt := time.Now().Add(ttl)
	if keepTTL {
		if e, ok := b.entries[convID]; ok && time.Now().Before(e.expiresAt) {
			expiresAt = e.expiresAt
		}
	}
	b.entries[convID] = memoryLockEntry{rec: *rec, expiresAt: expiresAt}
	return nil
}

func (b *memoryLockBackend) Delete(ctx context.Context, convID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[convID]
	delete(b.entries, convID)
	return ok, nil
}

func (b *memoryLockBackend) Conversations(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(b.entries))
	for id, e := range b.entries {
		if now.After(e.expiresAt) {
			delete(b.entries, id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// failoverLockBackend prefers the distributed backend and falls back to the
// in-process one when it errors. While degraded, lock exclusivity only holds
// within this instance.
type failoverLockBackend struct {
	log      *logger.Logger
	primary  LockBackend
	fallback LockBackend
	degraded atomic.Bool
}

func NewFailoverLockBackend(baseLog *logger.Logger, primary, fallback LockBackend) *failoverLockBackend {
	return &failoverLockBackend{
		log:      baseLog.With("service", "LockBackend"),
		primary:  primary,
		fallback: fallback,
	}
}

func (b *failoverLockBackend) Name() string { return "failover" }

// Degraded reports whether the most recent operation had to use the
// in-process fallback.
func (b *failoverLockBackend) Degraded() bool { return b.degraded.Load() }

func (b *failoverLockBackend) failed(op string, err error) {
	if b.degraded.CompareAndSwap(false, true) {
		b.log.Warn("Shared store unreachable, using in-memory lock fallback", "op", op, "error", err)
	}
}

func (b *failoverLockBackend) recovered() {
	if b.degraded.CompareAndSwap(true, false) {
		b.log.Info("Shared store reachable again, leaving in-memory lock fallback")
	}
}

func (b *failoverLockBackend) Get(ctx context.Context, convID string) (*LockRecord, error) {
	if b.primary != nil {
		rec, err := b.primary.Get(ctx, convID)
		if err == nil {
			b.recovered()
			return rec, nil
		}
		b.failed("get", err)
	}
	return b.fallback.Get(ctx, convID)
}

func (b *failoverLockBackend) PutIfAbsent(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration) (bool, error) {
	if b.primary != nil {
		ok, err := b.primary.PutIfAbsent(ctx, convID, rec, ttl)
		if err == nil {
			b.recovered()
			return ok, nil
		}
		b.failed("put_if_absent", err)
	}
	return b.fallback.PutIfAbsent(ctx, convID, rec, ttl)
}

func (b *failoverLockBackend) Put(ctx context.Context, convID string, rec *LockRecord, ttl time.Duration, keepTTL bool) error {
	if b.primary != nil {
		if err := b.primary.Put(ctx, convID, rec, ttl, keepTTL); err == nil {
			b.recovered()
			return nil
		} else {
			b.failed("put", err)
		}
	}
	return b.fallback.Put(ctx, convID, rec, ttl, keepTTL)
}

func (b *failoverLockBackend) Delete(ctx context.Context, convID string) (bool, error) {
	if b.primary != nil {
		ok, err := b.primary.Delete(ctx, convID)
		if err == nil {
			b.recovered()
			// also clear any fallback residue from a degraded window
			_, _ = b.fallback.Delete(ctx, convID)
			return ok, nil
		}
		b.failed("delete", err)
	}
	return b.fallback.Delete(ctx, convID)
}

func (b *failoverLockBackend) Conversations(ctx context.Context) ([]string, error) {
	if b.primary != nil {
		ids, err := b.primary.Conversations(ctx)
		if err == nil {
			b.recovered()
			return ids, nil
		}
		b.failed("scan", err)
	}
	return b.fallback.Conversations(ctx)
}
