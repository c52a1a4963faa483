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

type CoreAIHandler struct {
	log     *logger.Logger
	coreAIs repos.CoreAIRepo
	bots    repos.BotRepo
	configs services.ConfigStore
}

func NewCoreAIHandler(baseLog *logger.Logger, coreAIs repos.CoreAIRepo, bots repos.BotRepo, configs services.ConfigStore) *CoreAIHandler {
	return &CoreAIHandler{
		log:     baseLog.With("handler", "CoreAIHandler"),
		coreAIs: coreAIs,
		bots:    bots,
		configs: configs,
	}
}

type createCoreAIRequest struct {
	Name           string `json:"name" binding:"required"`
	APIEndpoint    string `json:"api_endpoint" binding:"required"`
	AuthRequired   bool   `json:"auth_required"`
	AuthToken      string `json:"auth_token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	IsActive       *bool  `json:"is_active"`
}

// POST /api/v1/admin/core-ai
func (h *CoreAIHandler) Create(c *gin.Context) {
	var req createCoreAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.TimeoutSeconds < 0 {
		RespondError(c, http.StatusBadRequest, "invalid_timeout", errors.New("timeout_seconds must be positive"))
		return
	}

	existing, err := h.coreAIs.GetByName(c.Request.Context(), nil, req.Name)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if existing != nil {
		RespondError(c, http.StatusConflict, "name_taken", errors.New("core AI name already exists: "+req.Name))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	ai := &types.CoreAI{
		Name:           req.Name,
		APIEndpoint:    req.APIEndpoint,
		AuthRequired:   req.AuthRequired,
		AuthToken:      req.AuthToken,
		TimeoutSeconds: req.TimeoutSeconds,
		IsActive:       active,
	}
	created, err := h.coreAIs.Create(c.Request.Context(), nil, ai)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondCreated(c, gin.H{"core_ai": created})
}

// GET /api/v1/admin/core-ai
func (h *CoreAIHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	out, err := h.coreAIs.List(c.Request.Context(), nil, activeOnly)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"core_ais": out, "count": len(out)})
}

// GET /api/v1/admin/core-ai/:id
func (h *CoreAIHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	ai, err := h.coreAIs.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if ai == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("core AI not found"))
		return
	}
	RespondOK(c, gin.H{"core_ai": ai})
}

type updateCoreAIRequest struct {
	Name           *string `json:"name"`
	APIEndpoint    *string `json:"api_endpoint"`
	AuthRequired   *bool   `json:"auth_required"`
	AuthToken      *string `json:"auth_token"`
	TimeoutSeconds *int    `json:"timeout_seconds"`
	IsActive       *bool   `json:"is_active"`
}

// PUT /api/v1/admin/core-ai/:id
func (h *CoreAIHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updateCoreAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	ai, err := h.coreAIs.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if ai == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("core AI not found"))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != ai.Name {
		dup, err := h.coreAIs.GetByName(c.Request.Context(), nil, *req.Name)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
			return
		}
		if dup != nil {
			RespondError(c, http.StatusConflict, "name_taken", errors.New("core AI name already exists: "+*req.Name))
			return
		}
		updates["name"] = *req.Name
	}
	if req.APIEndpoint != nil {
		updates["api_endpoint"] = *req.APIEndpoint
	}
	if req.AuthRequired != nil {
		updates["auth_required"] = *req.AuthRequired
	}
	if req.AuthToken != nil {
		updates["auth_token"] = *req.AuthToken
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_timeout", errors.New("timeout_seconds must be positive"))
			return
		}
		updates["timeout_seconds"] = *req.TimeoutSeconds
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		RespondOK(c, gin.H{"core_ai": ai})
		return
	}

	if err := h.coreAIs.UpdateFields(c.Request.Context(), nil, id, updates); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	h.configs.ClearCache()
	updated, err := h.coreAIs.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"core_ai": updated})
}

// POST /api/v1/admin/core-ai/:id/deactivate
func (h *CoreAIHandler) Deactivate(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	ai, err := h.coreAIs.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if ai == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("core AI not found"))
		return
	}
	if err := h.coreAIs.UpdateFields(c.Request.Context(), nil, id, map[string]interface{}{"is_active": false}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	h.configs.ClearCache()
	RespondOK(c, gin.H{"deactivated": true, "id": id})
}

// DELETE /api/v1/admin/core-ai/:id
func (h *CoreAIHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	n, err := h.bots.CountByCoreAI(c.Request.Context(), nil, id, false)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if n > 0 {
		RespondError(c, http.StatusConflict, "in_use", errors.New("core AI is referenced by existing bots"))
		return
	}
	if err := h.coreAIs.Delete(c.Request.Context(), nil, id); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	h.configs.ClearCache()
	RespondOK(c, gin.H{"deleted": true, "id": id})
}

func parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
