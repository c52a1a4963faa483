package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vietbot/chatbridge-backend/internal/logger"
)

const (
	ActionChat        = "CHAT"
	ActionCreateOrder = "CREATE_ORDER"
	ActionNotify      = "NOTIFY"
)

const (
	platformCallTimeout = 30 * time.Second
	rateWindow          = time.Minute
	rateKeyPrefix       = "platform_rate:"
)

const (
	DispatchStatusDispatched  = "dispatched"
	DispatchStatusSuperseded  = "superseded"
	DispatchStatusRateLimited = "rate_limited"
	DispatchStatusFailed      = "failed"
)

type DispatchResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type PlatformDispatcher interface {
	Dispatch(ctx context.Context, cfg PlatformConfig, convID, jobID, action string, data map[string]any) *DispatchResult
}

type platformDispatcher struct {
	log     *logger.Logger
	locks   LockManager
	limiter *slidingRateLimiter
	client  *http.Client
}

func NewPlatformDispatcher(baseLog *logger.Logger, locks LockManager, rdb *goredis.Client) PlatformDispatcher {
	return &platformDispatcher{
		log:     baseLog.With("service", "PlatformDispatcher"),
		locks:   locks,
		limiter: newSlidingRateLimiter(baseLog, rdb),
		client:  &http.Client{Timeout: platformCallTimeout},
	}
}

// Dispatch routes the AI action to the platform. Before any HTTP call it
// re-reads the conversation lock: a job that is no longer the lock's accepted
// job dispatches nothing.
func (d *platformDispatcher) Dispatch(ctx context.Context, cfg PlatformConfig, convID, jobID, action string, data map[string]any) *DispatchResult {
	log := d.log.With("conversation_id", convID, "job_id", jobID, "platform", cfg.Name)

	if lock, err := d.locks.GetInfo(ctx, convID); err == nil && lock != nil && lock.AIJobID != "" && lock.AIJobID != jobID {
		log.Info("Dispatch suppressed, job superseded", "lock_id", lock.LockID, "current_job_id", lock.AIJobID)
		return &DispatchResult{Success: false, Status: DispatchStatusSuperseded}
	}

	if data == nil {
		data = map[string]any{}
	}

	switch action {
	case ActionChat:
		return d.sendChat(ctx, cfg, convID, data, log)
	case ActionCreateOrder:
		// The chat reply goes out first; the order is created regardless of
		// whether the chat call succeeded.
		chatRes := d.sendChat(ctx, cfg, convID, data, log)
		orderRes := d.createOrder(ctx, cfg, convID, data, log)
		if !orderRes.Success {
			return orderRes
		}
		if !chatRes.Success {
			return chatRes
		}
		return orderRes
	case ActionNotify:
		return d.notify(ctx, cfg, convID, data, log)
	default:
		log.Warn("Unknown AI action", "action", action)
		return &DispatchResult{
			Success: false,
			Status:  DispatchStatusFailed,
			Error:   fmt.Sprintf("Unknown action type: %s", action),
		}
	}
}

func (d *platformDispatcher) sendChat(ctx context.Context, cfg PlatformConfig, convID string, data map[string]any, log *logger.Logger) *DispatchResult {
	body := map[string]any{
		"conversation_id": convID,
		"response": map[string]any{
			"answers":     toStringSlice(data["answers"]),
			"images":      toStringSlice(data["images"]),
			"sub_answers": toStringSlice(data["sub_answers"]),
		},
	}
	return d.post(ctx, cfg, "/send-message", body, log)
}

func (d *platformDispatcher) createOrder(ctx context.Context, cfg PlatformConfig, convID string, data map[string]any, log *logger.Logger) *DispatchResult {
	products := data["products"]
	if products == nil {
		products = []any{}
	}
	body := map[string]any{
		"conversation_id":  convID,
		"customer_name":    toString(data["customer_name"]),
		"customer_phone":   toString(data["customer_phone"]),
		"customer_address": toString(data["customer_address"]),
		"products":         products,
		"shipping_fee":     toNumber(data["shipping_fee"]),
		"traffic_source":   toString(data["traffic_source"]),
		"note":             toString(data["note"]),
	}
	return d.post(ctx, cfg, "/create-order", body, log)
}

func (d *platformDispatcher) notify(ctx context.Context, cfg PlatformConfig, convID string, data map[string]any, log *logger.Logger) *DispatchResult {
	body := map[string]any{
		"conversation_id": convID,
		"phone":           toString(data["phone"]),
		"intent":          toString(data["intent"]),
	}
	return d.post(ctx, cfg, "/notify", body, log)
}

func (d *platformDispatcher) post(ctx context.Context, cfg PlatformConfig, path string, body map[string]any, log *logger.Logger) *DispatchResult {
	limit := cfg.RateLimitPerMinute
	if limit < 1 {
		limit = DefaultRatePerMinute
	}
	rateKey := cfg.ID.String()
	if !d.limiter.Allow(ctx, rateKey, limit) {
		log.Warn("Platform rate limit reached", "limit_per_minute", limit, "path", path)
		return &DispatchResult{Success: false, Status: DispatchStatusRateLimited, Error: "Rate limit exceeded"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return &DispatchResult{Success: false, Status: DispatchStatusFailed, Error: "failed to encode platform request: " + err.Error()}
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return &DispatchResult{Success: false, Status: DispatchStatusFailed, Error: "failed to build platform request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthRequired && cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("Platform call failed", "path", path, "error", err)
		return &DispatchResult{Success: false, Status: DispatchStatusFailed, Error: "platform unreachable: " + err.Error()}
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("Platform returned error status", "path", path, "status", resp.StatusCode)
		return &DispatchResult{
			Success: false,
			Status:  DispatchStatusFailed,
			Error:   fmt.Sprintf("platform returned %d: %s", resp.StatusCode, truncate(string(snippet), 100)),
		}
	}

	d.limiter.Record(ctx, rateKey)
	log.Debug("Platform call succeeded", "path", path, "status", resp.StatusCode)
	return &DispatchResult{Success: true, Status: DispatchStatusDispatched}
}

// slidingRateLimiter keeps one 60-second window of call timestamps per
// platform. It lives in the shared store (ZSET) so replicas share the budget,
// with a per-process window when the store is unreachable.
type slidingRateLimiter struct {
	log *logger.Logger
	rdb *goredis.Client

	mu       sync.Mutex
	windows  map[string][]time.Time
	degraded bool
}

func newSlidingRateLimiter(baseLog *logger.Logger, rdb *goredis.Client) *slidingRateLimiter {
	return &slidingRateLimiter{
		log:     baseLog.With("service", "PlatformRateLimiter"),
		rdb:     rdb,
		windows: map[string][]time.Time{},
	}
}

func (l *slidingRateLimiter) Allow(ctx context.Context, key string, limit int) bool {
	now := time.Now()
	if l.rdb != nil {
		redisKey := rateKeyPrefix + key
		cutoff := strconv.FormatInt(now.Add(-rateWindow).UnixMilli(), 10)
		if err := l.rdb.ZRemRangeByScore(ctx, redisKey, "0", cutoff).Err(); err == nil {
			n, cerr := l.rdb.ZCard(ctx, redisKey).Result()
			if cerr == nil {
				l.setDegraded(false, nil)
				return n < int64(limit)
			}
			l.setDegraded(true, cerr)
		} else {
			l.setDegraded(true, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.pruneLocked(key, now)
	return len(w) < limit
}

func (l *slidingRateLimiter) Record(ctx context.Context, key string) {
	now := time.Now()
	if l.rdb != nil {
		redisKey := rateKeyPrefix + key
		member := goredis.Z{Score: float64(now.UnixMilli()), Member: strconv.FormatInt(now.UnixNano(), 10)}
		if err := l.rdb.ZAdd(ctx, redisKey, member).Err(); err == nil {
			_ = l.rdb.Expire(ctx, redisKey, rateWindow*2).Err()
			return
		} else {
			l.setDegraded(true, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[key] = append(l.pruneLocked(key, now), now)
}

func (l *slidingRateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	w := l.windows[key]
	kept := w[:0]
	for _, t := range w {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.windows[key] = kept
	return kept
}

func (l *slidingRateLimiter) setDegraded(v bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v && !l.degraded {
		l.log.Warn("Shared store unreachable, rate limiting per process", "error", err)
	}
	l.degraded = v
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case nil:
		return []string{}
	case []string:
		return s
	case string:
		if s == "" {
			return []string{}
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str := toString(item); str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		if str := toString(v); str != "" {
			return []string{str}
		}
		return []string{}
	}
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
