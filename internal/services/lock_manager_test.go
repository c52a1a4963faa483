package services

import (
	"context"
	"testing"
	"time"
)

func newTestLockManager(t *testing.T) LockManager {
	t.Helper()
	backend := NewFailoverLockBackend(testLogger(t), nil, NewMemoryLockBackend())
	return NewLockManager(testLogger(t), backend)
}

func TestCheckAndAcquireFreshLock(t *testing.T) {
	ctx := context.Background()
	locks := newTestLockManager(t)

	d := locks.CheckAndAcquire(ctx, "conv-1", "<USER>hi</USER>")
	if !d.Acquired || d.Superseded {
		t.Fatalf("first arrival should acquire: %+v", d)
	}
	if d.LockID == "" {
		t.Fatalf("acquired decision must carry a lock id")
	}
	if d.ConsolidatedCount != 1 {
		t.Fatalf("consolidated count = %d, want 1", d.ConsolidatedCount)
	}

	rec, err := locks.GetInfo(ctx, "conv-1")
	if err != nil || rec == nil {
		t.Fatalf("lock should exist after acquire: rec=%v err=%v", rec, err)
	}
	if rec.LockID != d.LockID {
		t.Fatalf("stored lock id %q != decision lock id %q", rec.LockID, d.LockID)
	}
}

func TestCheckAndAcquireSupersedes(t *testing.T) {
	ctx := context.Background()
	locks := newTestLockManager(t)

	first := locks.CheckAndAcquire(ctx, "conv-2", "<USER>hi</USER>")
	if err := locks.AttachJob(ctx, "conv-2", "job-1"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	second := locks.CheckAndAcquire(ctx, "conv-2", "<USER>hi</USER><br><USER>more</USER>")
	if second.Acquired || !second.Superseded {
		t.Fatalf("second arrival should supersede: %+v", second)
	}
	if second.LockID != first.LockID {
		t.Fatalf("supersession must keep the lock id, got %q want %q", second.LockID, first.LockID)
	}
	if second.PreviousAIJobID != "job-1" {
		t.Fatalf("previous job id = %q, want job-1", second.PreviousAIJobID)
	}
	if second.ConsolidatedCount != 2 {
		t.Fatalf("consolidated count = %d, want 2", second.ConsolidatedCount)
	}

	// The in-flight job reference is cleared until the new job attaches.
	rec, err := locks.GetInfo(ctx, "conv-2")
	if err != nil || rec == nil {
		t.Fatalf("lock should still exist: rec=%v err=%v", rec, err)
	}
	if rec.AIJobID != "" {
		t.Fatalf("superseded lock should have no attached job, got %q", rec.AIJobID)
	}
}

func TestAttachJobIsIdempotent(t *testing.T) {
	ctx := context.Background()
	locks := newTestLockManager(t)

	locks.CheckAndAcquire(ctx, "conv-3", "h")
	if err := locks.AttachJob(ctx, "conv-3", "job-9"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := locks.AttachJob(ctx, "conv-3", "job-9"); err != nil {
		t.Fatalf("re-attach failed: %v", err)
	}
	rec, _ := locks.GetInfo(ctx, "conv-3")
	if rec == nil || rec.AIJobID != "job-9" {
		t.Fatalf("unexpected lock state: %+v", rec)
	}
}

func TestReleaseRemovesLock(t *testing.T) {
	ctx := context.Background()
	locks := newTestLockManager(t)

	locks.CheckAndAcquire(ctx, "conv-4", "h")
	if !locks.Release(ctx, "conv-4") {
		t.Fatalf("release should report true for an existing lock")
	}
	if locks.Release(ctx, "conv-4") {
		t.Fatalf("second release should report false")
	}
	rec, err := locks.GetInfo(ctx, "conv-4")
	if err != nil {
		t.Fatalf("get after release errored: %v", err)
	}
	if rec != nil {
		t.Fatalf("lock should be gone, got %+v", rec)
	}

	// Released conversation starts a fresh lock on the next arrival.
	d := locks.CheckAndAcquire(ctx, "conv-4", "h2")
	if !d.Acquired {
		t.Fatalf("post-release arrival should acquire: %+v", d)
	}
}

func TestCleanupStale(t *testing.T) {
	ctx := context.Background()
	backend := NewFailoverLockBackend(testLogger(t), nil, NewMemoryLockBackend())
	locks := NewLockManager(testLogger(t), backend)

	locks.CheckAndAcquire(ctx, "fresh", "h")

	old := &LockRecord{
		ConversationID: "ancient",
		LockID:         "1",
		CreatedAt:      time.Now().Add(-3 * time.Hour),
		UpdatedAt:      time.Now().Add(-3 * time.Hour),
	}
	if err := backend.Put(ctx, "ancient", old, MessageLockTTL, false); err != nil {
		t.Fatalf("seeding stale lock failed: %v", err)
	}

	removed := locks.CleanupStale(ctx, time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if rec, _ := locks.GetInfo(ctx, "ancient"); rec != nil {
		t.Fatalf("stale lock survived cleanup")
	}
	if rec, _ := locks.GetInfo(ctx, "fresh"); rec == nil {
		t.Fatalf("fresh lock was swept")
	}
}

func TestMemoryBackendPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryLockBackend()

	rec := &LockRecord{ConversationID: "c", LockID: "1", CreatedAt: time.Now()}
	ok, err := b.PutIfAbsent(ctx, "c", rec, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent: ok=%v err=%v", ok, err)
	}
	ok, err = b.PutIfAbsent(ctx, "c", rec, time.Minute)
	if err != nil || ok {
		t.Fatalf("second PutIfAbsent should lose: ok=%v err=%v", ok, err)
	}

	// Expired entries behave as absent.
	expired := &LockRecord{ConversationID: "e", LockID: "2", CreatedAt: time.Now()}
	if _, err := b.PutIfAbsent(ctx, "e", expired, -time.Second); err != nil {
		t.Fatalf("seed expired: %v", err)
	}
	got, err := b.Get(ctx, "e")
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if got != nil {
		t.Fatalf("expired entry should read as nil, got %+v", got)
	}
}
