package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/repos"
	"github.com/vietbot/chatbridge-backend/internal/services"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

type BotHandler struct {
	log       *logger.Logger
	bots      repos.BotRepo
	coreAIs   repos.CoreAIRepo
	platforms repos.PlatformRepo
	convs     repos.ConversationRepo
	configs   services.ConfigStore
}

func NewBotHandler(baseLog *logger.Logger, bots repos.BotRepo, coreAIs repos.CoreAIRepo, platforms repos.PlatformRepo, convs repos.ConversationRepo, configs services.ConfigStore) *BotHandler {
	return &BotHandler{
		log:       baseLog.With("handler", "BotHandler"),
		bots:      bots,
		coreAIs:   coreAIs,
		platforms: platforms,
		convs:     convs,
		configs:   configs,
	}
}

type createBotRequest struct {
	Name       string `json:"name" binding:"required"`
	Language   string `json:"language"`
	CoreAIID   string `json:"core_ai_id" binding:"required"`
	PlatformID string `json:"platform_id" binding:"required"`
	IsActive   *bool  `json:"is_active"`
}

// POST /api/v1/admin/bot
func (h *BotHandler) Create(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	coreAIID, err := uuid.Parse(req.CoreAIID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("core_ai_id must be a UUID"))
		return
	}
	platformID, err := uuid.Parse(req.PlatformID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("platform_id must be a UUID"))
		return
	}

	existing, err := h.bots.GetByName(c.Request.Context(), nil, req.Name)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if existing != nil {
		RespondError(c, http.StatusConflict, "name_taken", errors.New("bot name already exists: "+req.Name))
		return
	}

	// Both referenced configs must exist and be active at creation time.
	ai, err := h.coreAIs.GetByID(c.Request.Context(), nil, coreAIID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if ai == nil || !ai.IsActive {
		RespondError(c, http.StatusBadRequest, "invalid_reference", errors.New("core AI not found or inactive"))
		return
	}
	platform, err := h.platforms.GetByID(c.Request.Context(), nil, platformID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if platform == nil || !platform.IsActive {
		RespondError(c, http.StatusBadRequest, "invalid_reference", errors.New("platform not found or inactive"))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	b := &types.Bot{
		Name:       req.Name,
		Language:   req.Language,
		CoreAIID:   coreAIID,
		PlatformID: platformID,
		IsActive:   active,
	}
	created, err := h.bots.Create(c.Request.Context(), nil, b)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondCreated(c, gin.H{"bot": created})
}

// GET /api/v1/admin/bot
func (h *BotHandler) List(c *gin.Context) {
	out, err := h.bots.List(c.Request.Context(), nil, c.Query("active") == "true")
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"bots": out, "count": len(out)})
}

// GET /api/v1/admin/bot/:id
func (h *BotHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	b, err := h.bots.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if b == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("bot not found"))
		return
	}
	RespondOK(c, gin.H{"bot": b, "ready": b.Ready()})
}

type updateBotRequest struct {
	Name       *string `json:"name"`
	Language   *string `json:"language"`
	CoreAIID   *string `json:"core_ai_id"`
	PlatformID *string `json:"platform_id"`
	IsActive   *bool   `json:"is_active"`
}

// PUT /api/v1/admin/bot/:id
func (h *BotHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	b, err := h.bots.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if b == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("bot not found"))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != b.Name {
		dup, err := h.bots.GetByName(c.Request.Context(), nil, *req.Name)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
			return
		}
		if dup != nil {
			RespondError(c, http.StatusConflict, "name_taken", errors.New("bot name already exists: "+*req.Name))
			return
		}
		updates["name"] = *req.Name
	}
	if req.Language != nil {
		updates["language"] = *req.Language
	}
	if req.CoreAIID != nil {
		coreAIID, err := uuid.Parse(*req.CoreAIID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("core_ai_id must be a UUID"))
			return
		}
		ai, err := h.coreAIs.GetByID(c.Request.Context(), nil, coreAIID)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
			return
		}
		if ai == nil || !ai.IsActive {
			RespondError(c, http.StatusBadRequest, "invalid_reference", errors.New("core AI not found or inactive"))
			return
		}
		updates["core_ai_id"] = coreAIID
	}
	if req.PlatformID != nil {
		platformID, err := uuid.Parse(*req.PlatformID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("platform_id must be a UUID"))
			return
		}
		platform, err := h.platforms.GetByID(c.Request.Context(), nil, platformID)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
			return
		}
		if platform == nil || !platform.IsActive {
			RespondError(c, http.StatusBadRequest, "invalid_reference", errors.New("platform not found or inactive"))
			return
		}
		updates["platform_id"] = platformID
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		RespondOK(c, gin.H{"bot": b})
		return
	}

	if err := h.bots.UpdateFields(c.Request.Context(), nil, id, updates); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	h.configs.ClearCache()
	updated, err := h.bots.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"bot": updated})
}

// POST /api/v1/admin/bot/:id/deactivate
func (h *BotHandler) Deactivate(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	b, err := h.bots.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if b == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("bot not found"))
		return
	}
	if err := h.bots.UpdateFields(c.Request.Context(), nil, id, map[string]interface{}{"is_active": false}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	h.configs.ClearCache()
	RespondOK(c, gin.H{"deactivated": true, "id": id})
}

// DELETE /api/v1/admin/bot/:id
func (h *BotHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	n, err := h.convs.CountByBot(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if n > 0 {
		RespondError(c, http.StatusConflict, "in_use", errors.New("bot has existing conversations"))
		return
	}
	if err := h.bots.Delete(c.Request.Context(), nil, id); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	h.configs.ClearCache()
	RespondOK(c, gin.H{"deleted": true, "id": id})
}
