package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/repos"
	"github.com/vietbot/chatbridge-backend/internal/services"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

type ConversationHandler struct {
	log   *logger.Logger
	convs repos.ConversationRepo
	msgs  repos.MessageRepo
	locks services.LockManager
}

func NewConversationHandler(baseLog *logger.Logger, convs repos.ConversationRepo, msgs repos.MessageRepo, locks services.LockManager) *ConversationHandler {
	return &ConversationHandler{
		log:   baseLog.With("handler", "ConversationHandler"),
		convs: convs,
		msgs:  msgs,
		locks: locks,
	}
}

// GET /api/v1/admin/conversation
func (h *ConversationHandler) List(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !types.ValidConversationStatus(status) {
		RespondError(c, http.StatusBadRequest, "invalid_status", errors.New("unknown conversation status: "+status))
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	out, err := h.convs.List(c.Request.Context(), nil, status, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"conversations": out, "count": len(out)})
}

// GET /api/v1/admin/conversation/:id
//
// The id is the external conversation id, the same one webhook callers use.
func (h *ConversationHandler) Get(c *gin.Context) {
	convID := c.Param("id")
	conv, err := h.convs.GetByExternalID(c.Request.Context(), nil, convID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if conv == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("conversation not found"))
		return
	}

	lock, err := h.locks.GetInfo(c.Request.Context(), convID)
	if err != nil {
		h.log.Warn("Lock lookup failed", "conversation_id", convID, "error", err)
	}
	RespondOK(c, gin.H{"conversation": conv, "lock": lock})
}

// GET /api/v1/admin/conversation/:id/messages
func (h *ConversationHandler) Messages(c *gin.Context) {
	convID := c.Param("id")
	conv, err := h.convs.GetByExternalID(c.Request.Context(), nil, convID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if conv == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("conversation not found"))
		return
	}
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	out, err := h.msgs.ListByConversation(c.Request.Context(), nil, conv.ID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"messages": out, "count": len(out)})
}

type updateConversationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// PUT /api/v1/admin/conversation/:id/status
func (h *ConversationHandler) UpdateStatus(c *gin.Context) {
	convID := c.Param("id")
	var req updateConversationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if !types.ValidConversationStatus(req.Status) {
		RespondError(c, http.StatusBadRequest, "invalid_status", errors.New("unknown conversation status: "+req.Status))
		return
	}
	conv, err := h.convs.GetByExternalID(c.Request.Context(), nil, convID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if conv == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("conversation not found"))
		return
	}
	if err := h.convs.UpdateFields(c.Request.Context(), nil, conv.ID, map[string]interface{}{"status": req.Status}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	RespondOK(c, gin.H{"updated": true, "id": convID, "status": req.Status})
}

// DELETE /api/v1/admin/conversation/:id/lock
//
// Force-releases a stuck lock. The next arrival starts fresh.
func (h *ConversationHandler) ReleaseLock(c *gin.Context) {
	convID := c.Param("id")
	released := h.locks.Release(c.Request.Context(), convID)
	RespondOK(c, gin.H{"released": released, "conversation_id": convID})
}

// POST /api/v1/admin/locks/cleanup
func (h *ConversationHandler) CleanupLocks(c *gin.Context) {
	maxAge := time.Hour
	if raw := c.Query("max_age_seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_max_age", errors.New("max_age_seconds must be a positive integer"))
			return
		}
		maxAge = time.Duration(n) * time.Second
	}
	removed := h.locks.CleanupStale(c.Request.Context(), maxAge)
	RespondOK(c, gin.H{"removed": removed, "max_age_seconds": int(maxAge.Seconds())})
}
