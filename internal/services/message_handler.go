package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/repos"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

type HandleRequest struct {
	ConversationID string         `json:"conversation_id"`
	History        string         `json:"history" binding:"required"`
	Resources      map[string]any `json:"resources"`
	BotID          string         `json:"bot_id"`
}

type HandleResponse struct {
	Success              bool   `json:"success"`
	Status               string `json:"status"`
	AIJobID              string `json:"ai_job_id,omitempty"`
	LockID               string `json:"lock_id"`
	ConversationID       string `json:"conversation_id"`
	ConsolidatedMessages int    `json:"consolidated_messages"`
	ConsolidatedCount    int    `json:"consolidated_count"`
	BotName              string `json:"bot_name"`
	Message              string `json:"message"`
	CancelledPreviousJob string `json:"cancelled_previous_job,omitempty"`
	Reprocessing         bool   `json:"reprocessing,omitempty"`
	Fallback             bool   `json:"fallback,omitempty"`
	Error                string `json:"error,omitempty"`
}

const (
	HandleStatusStarted      = "ai_processing_started"
	HandleStatusReprocessing = "reprocessing"
	HandleStatusFailed       = "failed"
)

// MessageHandler is the inbound pipeline: diff the history, resolve configs,
// take a lock decision, schedule the AI job and acknowledge the caller. All
// slow work happens on the background worker afterwards.
type MessageHandler interface {
	Handle(ctx context.Context, req HandleRequest) *HandleResponse
}

type messageHandler struct {
	log     *logger.Logger
	history HistoryService
	cache   HistoryCache
	configs ConfigStore
	locks   LockManager
	jobs    JobRegistry
	convs   repos.ConversationRepo
	msgs    repos.MessageRepo
}

func NewMessageHandler(
	baseLog *logger.Logger,
	history HistoryService,
	cache HistoryCache,
	configs ConfigStore,
	locks LockManager,
	jobs JobRegistry,
	convs repos.ConversationRepo,
	msgs repos.MessageRepo,
) MessageHandler {
	return &messageHandler{
		log:     baseLog.With("service", "MessageHandler"),
		history: history,
		cache:   cache,
		configs: configs,
		locks:   locks,
		jobs:    jobs,
		convs:   convs,
		msgs:    msgs,
	}
}

func (h *messageHandler) Handle(ctx context.Context, req HandleRequest) *HandleResponse {
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	log := h.log.With("conversation_id", convID)

	var botID uuid.UUID
	if req.BotID != "" {
		parsed, err := uuid.Parse(req.BotID)
		if err == nil {
			botID = parsed
		} else {
			log.Debug("Ignoring malformed bot_id", "bot_id", req.BotID)
		}
	}

	// 1. Last processed history: cache first, conversation row second.
	processed, ok := h.cache.Get(ctx, convID)
	conv, convErr := h.convs.GetByExternalID(ctx, nil, convID)
	if convErr != nil {
		log.Warn("Conversation lookup failed, continuing without row", "error", convErr)
	}
	if !ok && conv != nil {
		processed = conv.History
	}

	// 2. Diff and parse.
	delta := h.history.ExtractNewHistory(req.History, processed)
	messages := h.history.ParseHistory(delta)

	// 3. Config snapshots (never error; defaults on miss).
	botCfg := h.configs.GetBot(ctx, convID, botID)
	aiCfg := h.configs.GetCoreAI(ctx, botCfg.CoreAIID)
	platformCfg := h.configs.GetPlatform(ctx, botCfg.PlatformID)

	// 4. Lock decision.
	decision := h.locks.CheckAndAcquire(ctx, convID, delta)
	log.Info("Lock decision",
		"lock_id", decision.LockID,
		"acquired", decision.Acquired,
		"superseded", decision.Superseded,
		"consolidated_count", decision.ConsolidatedCount,
		"fallback", decision.Fallback,
	)

	// 5. Supersede the in-flight job, if any.
	cancelledJob := ""
	if decision.Superseded && decision.PreviousAIJobID != "" {
		if h.jobs.CancelJob(ctx, decision.PreviousAIJobID) {
			cancelledJob = decision.PreviousAIJobID
		}
	}

	// Conversation row upkeep (best effort; the pipeline proceeds without it).
	convRef := h.ensureConversation(ctx, conv, convID, botCfg, log)
	if convRef != uuid.Nil && len(messages) > 0 {
		rows := make([]*types.Message, 0, len(messages))
		for _, m := range messages {
			rows = append(rows, &types.Message{
				ConversationRef: convRef,
				Role:            m.Role,
				Content:         m.Content,
			})
		}
		if _, err := h.msgs.Create(ctx, nil, rows); err != nil {
			log.Warn("Failed to persist parsed messages", "error", err)
		}
	}

	// 6. Create and attach the job.
	payload := JobPayload{
		ConversationID:  convID,
		ConversationRef: convRef,
		LockID:          decision.LockID,
		Messages:        messages,
		BotConfig:       botCfg,
		AIConfig:        aiCfg,
		PlatformConfig:  platformCfg,
		Resources:       req.Resources,
		FullHistory:     req.History,
		Reprocessing:    decision.Superseded,
	}
	jobID, err := h.jobs.CreateJob(ctx, payload)
	if err != nil {
		log.Error("Job creation failed", "lock_id", decision.LockID, "error", err)
		h.locks.Release(ctx, convID)
		return &HandleResponse{
			Success:        false,
			Status:         HandleStatusFailed,
			ConversationID: convID,
			LockID:         decision.LockID,
			BotName:        botCfg.Name,
			Error:          fmt.Sprintf("failed to create AI job: %v", err),
		}
	}
	if err := h.locks.AttachJob(ctx, convID, jobID); err != nil {
		log.Warn("Failed to attach job to lock", "job_id", jobID, "error", err)
	}

	// 7. Cache the full history now; every message in it is covered either by
	// this job or by the supersession chain.
	h.cache.Set(ctx, convID, req.History)

	status := HandleStatusStarted
	message := "AI processing started"
	if decision.Superseded {
		status = HandleStatusReprocessing
		message = fmt.Sprintf("Reprocessing with %d consolidated arrivals", decision.ConsolidatedCount)
	}
	return &HandleResponse{
		Success:              true,
		Status:               status,
		AIJobID:              jobID,
		LockID:               decision.LockID,
		ConversationID:       convID,
		ConsolidatedMessages: len(messages),
		ConsolidatedCount:    decision.ConsolidatedCount,
		BotName:              botCfg.Name,
		Message:              message,
		CancelledPreviousJob: cancelledJob,
		Reprocessing:         decision.Superseded,
		Fallback:             decision.Fallback,
	}
}

func (h *messageHandler) ensureConversation(ctx context.Context, conv *types.Conversation, convID string, botCfg BotConfig, log *logger.Logger) uuid.UUID {
	if conv != nil {
		return conv.ID
	}
	created, err := h.convs.Create(ctx, nil, &types.Conversation{
		ConversationID: convID,
		BotID:          botCfg.ID,
		Status:         types.ConversationStatusActive,
	})
	if err != nil {
		// Possibly lost a race with a concurrent arrival; re-read once.
		existing, gerr := h.convs.GetByExternalID(ctx, nil, convID)
		if gerr == nil && existing != nil {
			return existing.ID
		}
		log.Warn("Conversation auto-create failed", "error", err)
		return uuid.Nil
	}
	return created.ID
}
