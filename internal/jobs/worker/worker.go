package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/repos"
	"github.com/vietbot/chatbridge-backend/internal/services"
)

// Worker consumes scheduled AI jobs: run the AI call, guard against
// supersession, dispatch the action, then release the conversation lock and
// advance the processed history.
type Worker struct {
	log        *logger.Logger
	jobs       services.JobRegistry
	ai         services.AIClient
	dispatcher services.PlatformDispatcher
	locks      services.LockManager
	cache      services.HistoryCache
	convs      repos.ConversationRepo
}

func New(
	baseLog *logger.Logger,
	jobs services.JobRegistry,
	ai services.AIClient,
	dispatcher services.PlatformDispatcher,
	locks services.LockManager,
	cache services.HistoryCache,
	convs repos.ConversationRepo,
) *Worker {
	return &Worker{
		log:        baseLog.With("component", "AIJobWorker"),
		jobs:       jobs,
		ai:         ai,
		dispatcher: dispatcher,
		locks:      locks,
		cache:      cache,
		convs:      convs,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting AI job worker pool", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case jobID, ok := <-w.jobs.Queue():
			if !ok {
				return
			}
			w.safeProcess(ctx, workerID, jobID)
		}
	}
}

func (w *Worker) safeProcess(ctx context.Context, workerID int, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "worker_id", workerID, "job_id", jobID, "panic", r)
			_ = w.jobs.UpdateStatus(ctx, jobID, services.JobStatusFailed, map[string]any{
				"error": fmt.Sprintf("panic: %v", r),
			})
		}
	}()
	w.process(ctx, workerID, jobID)
}

func (w *Worker) process(ctx context.Context, workerID int, jobID string) {
	rec, err := w.jobs.GetStatus(ctx, jobID)
	if err != nil || rec == nil {
		w.log.Warn("Scheduled job not found", "worker_id", workerID, "job_id", jobID, "error", err)
		return
	}
	log := w.log.With("worker_id", workerID, "job_id", jobID, "conversation_id", rec.ConversationID, "lock_id", rec.LockID)

	// Cancelled before we even started: the lock belongs to a newer job now.
	if rec.Status == services.JobStatusCancelled {
		log.Info("Skipping cancelled job")
		return
	}
	if rec.Status != services.JobStatusPending {
		log.Warn("Job in unexpected state, skipping", "status", rec.Status)
		return
	}

	if err := w.jobs.UpdateStatus(ctx, jobID, services.JobStatusProcessing, nil); err != nil {
		log.Warn("Failed to mark job processing", "error", err)
	}

	payload := rec.Payload
	result := w.ai.Process(ctx, payload.AIConfig, payload.ConversationID, payload.Messages, payload.Resources, payload.LockID)

	// Supersession guard: only the job currently attached to the lock may
	// dispatch. A missing lock means the lock expired or was released; the
	// cheapest safe move is to treat this job as superseded too.
	if w.superseded(ctx, jobID, payload.ConversationID) {
		log.Info("Job superseded after AI call, discarding result")
		_ = w.jobs.UpdateStatus(ctx, jobID, services.JobStatusFailed, map[string]any{
			"reason":             "superseded",
			"processing_time_ms": result.ProcessingTimeMs,
		})
		return
	}

	if !result.Success {
		log.Warn("AI call failed", "error", result.Error)
		_ = w.jobs.UpdateStatus(ctx, jobID, services.JobStatusFailed, map[string]any{
			"error":              result.Error,
			"processing_time_ms": result.ProcessingTimeMs,
		})
		w.locks.Release(ctx, payload.ConversationID)
		return
	}

	dispatch := w.dispatcher.Dispatch(ctx, payload.PlatformConfig, payload.ConversationID, jobID, result.Action, result.Data)
	if dispatch.Status == services.DispatchStatusSuperseded {
		log.Info("Dispatch suppressed by newer job")
		_ = w.jobs.UpdateStatus(ctx, jobID, services.JobStatusFailed, map[string]any{
			"reason":             "superseded",
			"processing_time_ms": result.ProcessingTimeMs,
		})
		return
	}

	fields := map[string]any{
		"result": map[string]any{
			"action":          result.Action,
			"dispatch_status": dispatch.Status,
		},
		"processing_time_ms": result.ProcessingTimeMs,
	}
	if dispatch.Error != "" {
		// Dispatch failures do not fail the job; the AI work is done and the
		// error travels on the record.
		fields["error"] = dispatch.Error
	}
	if err := w.jobs.UpdateStatus(ctx, jobID, services.JobStatusCompleted, fields); err != nil {
		log.Warn("Failed to mark job completed", "error", err)
	}

	w.locks.Release(ctx, payload.ConversationID)
	w.cache.Set(ctx, payload.ConversationID, payload.FullHistory)
	if payload.ConversationRef != uuid.Nil {
		if err := w.convs.AdvanceHistory(ctx, nil, payload.ConversationRef, payload.FullHistory, len(payload.Messages)); err != nil {
			log.Warn("Failed to advance conversation history", "error", err)
		}
	}
	log.Info("AI job finished", "action", result.Action, "dispatch_status", dispatch.Status, "elapsed_ms", result.ProcessingTimeMs)
}

func (w *Worker) superseded(ctx context.Context, jobID, convID string) bool {
	rec, err := w.jobs.GetStatus(ctx, jobID)
	if err == nil && rec != nil && rec.Status == services.JobStatusCancelled {
		return true
	}
	lock, err := w.locks.GetInfo(ctx, convID)
	if err != nil {
		return false
	}
	if lock == nil {
		return true
	}
	return lock.AIJobID != "" && lock.AIJobID != jobID
}
