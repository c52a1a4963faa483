package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/services"
)

type ChatHandler struct {
	log     *logger.Logger
	handler services.MessageHandler
	jobs    services.JobRegistry
	locks   services.LockManager
	db      *gorm.DB
	rdb     *goredis.Client
}

func NewChatHandler(baseLog *logger.Logger, handler services.MessageHandler, jobs services.JobRegistry, locks services.LockManager, db *gorm.DB, rdb *goredis.Client) *ChatHandler {
	return &ChatHandler{
		log:     baseLog.With("handler", "ChatHandler"),
		handler: handler,
		jobs:    jobs,
		locks:   locks,
		db:      db,
		rdb:     rdb,
	}
}

// POST /api/v1/chat/message
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req services.HandleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	resp := h.handler.Handle(c.Request.Context(), req)
	if !resp.Success {
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	RespondOK(c, resp)
}

// GET /api/v1/chat/job/:id
func (h *ChatHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")
	rec, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	if rec == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", nil)
		return
	}
	RespondOK(c, gin.H{"job": rec})
}

// GET /api/v1/chat/lock/:conversation_id
func (h *ChatHandler) GetLock(c *gin.Context) {
	convID := c.Param("conversation_id")
	rec, err := h.locks.GetInfo(c.Request.Context(), convID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lock_lookup_failed", err)
		return
	}
	if rec == nil {
		RespondError(c, http.StatusNotFound, "lock_not_found", nil)
		return
	}
	RespondOK(c, gin.H{"lock": rec})
}

// GET /api/v1/chat/health
func (h *ChatHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbState := "ok"
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil {
			dbState = "error: " + err.Error()
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbState = "error: " + err.Error()
		}
	} else {
		dbState = "not configured"
	}

	redisState := "ok"
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			redisState = "error: " + err.Error()
		}
	} else {
		redisState = "not configured"
	}

	RespondOK(c, gin.H{
		"status":   "ok",
		"database": dbState,
		"redis":    redisState,
	})
}
