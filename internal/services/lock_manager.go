package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/vietbot/chatbridge-backend/internal/logger"
)

// MessageLockTTL is the shared-store TTL of a conversation lock; a crashed
// worker self-heals when it expires.
const MessageLockTTL = time.Hour

// LockDecision is the outcome of CheckAndAcquire for one arrival.
type LockDecision struct {
	Acquired          bool   `json:"acquired"`
	Superseded        bool   `json:"superseded"`
	LockID            string `json:"lock_id"`
	PreviousAIJobID   string `json:"previous_ai_job_id,omitempty"`
	ConsolidatedCount int    `json:"consolidated_count"`
	Fallback          bool   `json:"fallback,omitempty"`
}

type LockManager interface {
	CheckAndAcquire(ctx context.Context, convID, history string) LockDecision
	AttachJob(ctx context.Context, convID, jobID string) error
	Release(ctx context.Context, convID string) bool
	GetInfo(ctx context.Context, convID string) (*LockRecord, error)
	CleanupStale(ctx context.Context, maxAge time.Duration) int
}

type lockManager struct {
	log     *logger.Logger
	backend *failoverLockBackend
}

func NewLockManager(baseLog *logger.Logger, backend *failoverLockBackend) LockManager {
	return &lockManager{
		log:     baseLog.With("service", "LockManager"),
		backend: backend,
	}
}

func hashHistory(h string) string {
	sum := sha256.Sum256([]byte(h))
	return hex.EncodeToString(sum[:8])
}

func newLockID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// CheckAndAcquire decides whether this arrival starts a fresh lock or
// supersedes the in-flight job of an existing one. It always returns a usable
// decision; when even the conditional write is contested twice the caller
// still proceeds under a fresh lock id so no arrival is dropped.
func (m *lockManager) CheckAndAcquire(ctx context.Context, convID, history string) LockDecision {
	now := time.Now()

	existing, err := m.backend.Get(ctx, convID)
	if err != nil {
		m.log.Warn("Lock read failed, proceeding as unlocked", "conversation_id", convID, "error", err)
		existing = nil
	}

	if existing == nil {
		rec := &LockRecord{
			ConversationID:    convID,
			LockID:            newLockID(),
			HistoryHash:       hashHistory(history),
			CreatedAt:         now,
			UpdatedAt:         now,
			ConsolidatedCount: 1,
		}
		ok, err := m.backend.PutIfAbsent(ctx, convID, rec, MessageLockTTL)
		if err == nil && ok {
			return LockDecision{
				Acquired:          true,
				LockID:            rec.LockID,
				ConsolidatedCount: 1,
				Fallback:          m.backend.Degraded(),
			}
		}

		// Lost the conditional write: someone acquired between read and CAS.
		contested, rerr := m.backend.Get(ctx, convID)
		if rerr == nil && contested != nil {
			return m.supersede(ctx, convID, history, contested)
		}

		// Still contested or unreadable. Forward progress beats strict
		// exclusivity here; supersession de-duplicates downstream.
		fallbackID := newLockID()
		m.log.Warn("Lock CAS contested twice, proceeding with fallback lock id",
			"conversation_id", convID, "lock_id", fallbackID)
		rec.LockID = fallbackID
		rec.UpdatedAt = time.Now()
		if perr := m.backend.Put(ctx, convID, rec, MessageLockTTL, false); perr != nil {
			m.log.Warn("Fallback lock write failed", "conversation_id", convID, "error", perr)
		}
		return LockDecision{
			Acquired:          true,
			LockID:            fallbackID,
			ConsolidatedCount: 1,
			Fallback:          true,
		}
	}

	return m.supersede(ctx, convID, history, existing)
}

func (m *lockManager) supersede(ctx context.Context, convID, history string, existing *LockRecord) LockDecision {
	updated := *existing
	updated.PreviousAIJobID = existing.AIJobID
	updated.AIJobID = ""
	updated.HistoryHash = hashHistory(history)
	updated.ConsolidatedCount = existing.ConsolidatedCount + 1
	updated.UpdatedAt = time.Now()

	if err := m.backend.Put(ctx, convID, &updated, MessageLockTTL, true); err != nil {
		m.log.Warn("Lock supersede write failed", "conversation_id", convID, "lock_id", existing.LockID, "error", err)
	}
	return LockDecision{
		Superseded:        true,
		LockID:            updated.LockID,
		PreviousAIJobID:   updated.PreviousAIJobID,
		ConsolidatedCount: updated.ConsolidatedCount,
		Fallback:          m.backend.Degraded(),
	}
}

// AttachJob records the accepted job on the lock. Re-attaching the same job id
// is a no-op.
func (m *lockManager) AttachJob(ctx context.Context, convID, jobID string) error {
	rec, err := m.backend.Get(ctx, convID)
	if err != nil {
		return err
	}
	if rec == nil || rec.AIJobID == jobID {
		return nil
	}
	rec.AIJobID = jobID
	rec.UpdatedAt = time.Now()
	return m.backend.Put(ctx, convID, rec, MessageLockTTL, true)
}

func (m *lockManager) Release(ctx context.Context, convID string) bool {
	ok, err := m.backend.Delete(ctx, convID)
	if err != nil {
		m.log.Warn("Lock release failed", "conversation_id", convID, "error", err)
		return false
	}
	return ok
}

func (m *lockManager) GetInfo(ctx context.Context, convID string) (*LockRecord, error) {
	return m.backend.Get(ctx, convID)
}

func (m *lockManager) CleanupStale(ctx context.Context, maxAge time.Duration) int {
	ids, err := m.backend.Conversations(ctx)
	if err != nil {
		m.log.Warn("Lock scan failed during cleanup", "error", err)
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, id := range ids {
		rec, err := m.backend.Get(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			if ok, _ := m.backend.Delete(ctx, id); ok {
				removed++
				m.log.Info("Removed stale lock", "conversation_id", id, "lock_id", rec.LockID, "created_at", rec.CreatedAt)
			}
		}
	}
	return removed
}
