package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/services"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

type fakeAI struct {
	mu     sync.Mutex
	calls  int
	result *services.AIResult
}

func (f *fakeAI) Process(ctx context.Context, cfg services.AIConfig, convID string, messages []services.ParsedMessage, resources map[string]any, lockID string) *services.AIResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  int
	result *services.DispatchResult
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, cfg services.PlatformConfig, convID, jobID, action string, data map[string]any) *services.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type stubConvRepo struct {
	mu       sync.Mutex
	advanced map[uuid.UUID]string
}

func newStubConvRepo() *stubConvRepo {
	return &stubConvRepo{advanced: map[uuid.UUID]string{}}
}

func (r *stubConvRepo) Create(ctx context.Context, tx *gorm.DB, c *types.Conversation) (*types.Conversation, error) {
	return c, nil
}

func (r *stubConvRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Conversation, error) {
	return nil, nil
}

func (r *stubConvRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, conversationID string) (*types.Conversation, error) {
	return nil, nil
}

func (r *stubConvRepo) List(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Conversation, error) {
	return nil, nil
}

func (r *stubConvRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *stubConvRepo) AdvanceHistory(ctx context.Context, tx *gorm.DB, id uuid.UUID, history string, addedMessages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced[id] = history
	return nil
}

func (r *stubConvRepo) CountByBot(ctx context.Context, tx *gorm.DB, botID uuid.UUID) (int64, error) {
	return 0, nil
}

type workerFixture struct {
	worker     *Worker
	jobs       services.JobRegistry
	locks      services.LockManager
	cache      services.HistoryCache
	ai         *fakeAI
	dispatcher *fakeDispatcher
	convs      *stubConvRepo
}

func newWorkerFixture(t *testing.T, aiResult *services.AIResult, dispatchResult *services.DispatchResult) *workerFixture {
	t.Helper()
	log := testLogger(t)
	jobs := services.NewJobRegistry(log, nil)
	locks := services.NewLockManager(log, services.NewFailoverLockBackend(log, nil, services.NewMemoryLockBackend()))
	cache := services.NewHistoryCache(log, nil)
	ai := &fakeAI{result: aiResult}
	dispatcher := &fakeDispatcher{result: dispatchResult}
	convs := newStubConvRepo()
	w := New(log, jobs, ai, dispatcher, locks, cache, convs)
	return &workerFixture{worker: w, jobs: jobs, locks: locks, cache: cache, ai: ai, dispatcher: dispatcher, convs: convs}
}

func scheduleJob(t *testing.T, f *workerFixture, convID string, payload services.JobPayload) string {
	t.Helper()
	ctx := context.Background()
	payload.ConversationID = convID
	f.locks.CheckAndAcquire(ctx, convID, payload.FullHistory)
	jobID, err := f.jobs.CreateJob(ctx, payload)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := f.locks.AttachJob(ctx, convID, jobID); err != nil {
		t.Fatalf("AttachJob failed: %v", err)
	}
	// Drain the queue; these tests drive process directly.
	<-f.jobs.Queue()
	return jobID
}

func TestProcessCompletesJob(t *testing.T) {
	ctx := context.Background()
	ref := uuid.New()
	f := newWorkerFixture(t,
		&services.AIResult{Success: true, Action: services.ActionChat, ProcessingTimeMs: 42},
		&services.DispatchResult{Success: true, Status: services.DispatchStatusDispatched},
	)
	jobID := scheduleJob(t, f, "conv-1", services.JobPayload{
		ConversationRef: ref,
		FullHistory:     "<USER>hi</USER>",
		Messages:        []services.ParsedMessage{{Role: "user", Content: "hi"}},
	})

	f.worker.process(ctx, 1, jobID)

	rec, _ := f.jobs.GetStatus(ctx, jobID)
	if rec == nil || rec.Status != services.JobStatusCompleted {
		t.Fatalf("job should complete: %+v", rec)
	}
	if rec.Result["action"] != services.ActionChat {
		t.Fatalf("result missing action: %+v", rec.Result)
	}
	if rec.ProcessingTimeMs != 42 {
		t.Fatalf("processing time = %d, want 42", rec.ProcessingTimeMs)
	}
	if f.dispatcher.calls != 1 {
		t.Fatalf("dispatcher calls = %d, want 1", f.dispatcher.calls)
	}

	if lock, _ := f.locks.GetInfo(ctx, "conv-1"); lock != nil {
		t.Fatalf("lock should be released after completion: %+v", lock)
	}
	if got, ok := f.cache.Get(ctx, "conv-1"); !ok || got != "<USER>hi</USER>" {
		t.Fatalf("processed history not cached: %q ok=%v", got, ok)
	}
	if f.convs.advanced[ref] != "<USER>hi</USER>" {
		t.Fatalf("conversation history not advanced: %+v", f.convs.advanced)
	}
}

func TestProcessSkipsCancelledJob(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t,
		&services.AIResult{Success: true, Action: services.ActionChat},
		&services.DispatchResult{Success: true, Status: services.DispatchStatusDispatched},
	)
	jobID := scheduleJob(t, f, "conv-2", services.JobPayload{FullHistory: "h"})
	if !f.jobs.CancelJob(ctx, jobID) {
		t.Fatalf("cancel failed")
	}

	f.worker.process(ctx, 1, jobID)

	if f.ai.calls != 0 {
		t.Fatalf("cancelled job must not reach the AI, calls=%d", f.ai.calls)
	}
	rec, _ := f.jobs.GetStatus(ctx, jobID)
	if rec.Status != services.JobStatusCancelled {
		t.Fatalf("status flipped to %q", rec.Status)
	}
}

func TestProcessDiscardsSupersededResult(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t,
		&services.AIResult{Success: true, Action: services.ActionChat, ProcessingTimeMs: 10},
		&services.DispatchResult{Success: true, Status: services.DispatchStatusDispatched},
	)
	jobID := scheduleJob(t, f, "conv-3", services.JobPayload{FullHistory: "h"})

	// A newer arrival took over the lock while this job would be in flight.
	if err := f.locks.AttachJob(ctx, "conv-3", "job-newer"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	f.worker.process(ctx, 1, jobID)

	if f.dispatcher.calls != 0 {
		t.Fatalf("superseded job must not dispatch, calls=%d", f.dispatcher.calls)
	}
	rec, _ := f.jobs.GetStatus(ctx, jobID)
	if rec.Status != services.JobStatusFailed || rec.Reason != "superseded" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// The newer job still owns the lock.
	lock, _ := f.locks.GetInfo(ctx, "conv-3")
	if lock == nil || lock.AIJobID != "job-newer" {
		t.Fatalf("lock ownership changed: %+v", lock)
	}
}

func TestProcessAIFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t,
		&services.AIResult{Success: false, Error: "AI service timeout after 30s", ProcessingTimeMs: 30000},
		&services.DispatchResult{Success: true, Status: services.DispatchStatusDispatched},
	)
	jobID := scheduleJob(t, f, "conv-4", services.JobPayload{FullHistory: "h"})

	f.worker.process(ctx, 1, jobID)

	rec, _ := f.jobs.GetStatus(ctx, jobID)
	if rec.Status != services.JobStatusFailed || rec.Error != "AI service timeout after 30s" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if f.dispatcher.calls != 0 {
		t.Fatalf("failed AI call must not dispatch")
	}
	if lock, _ := f.locks.GetInfo(ctx, "conv-4"); lock != nil {
		t.Fatalf("lock should be released after AI failure: %+v", lock)
	}
}

func TestProcessDispatchSupersededDoesNotRelease(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t,
		&services.AIResult{Success: true, Action: services.ActionChat},
		&services.DispatchResult{Success: false, Status: services.DispatchStatusSuperseded},
	)
	jobID := scheduleJob(t, f, "conv-5", services.JobPayload{FullHistory: "h"})

	f.worker.process(ctx, 1, jobID)

	rec, _ := f.jobs.GetStatus(ctx, jobID)
	if rec.Status != services.JobStatusFailed || rec.Reason != "superseded" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	// The lock belongs to the newer job; this worker must not delete it.
	if lock, _ := f.locks.GetInfo(ctx, "conv-5"); lock == nil {
		t.Fatalf("lock should survive a suppressed dispatch")
	}
}
