package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/repos"
	"github.com/vietbot/chatbridge-backend/internal/services"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

type PlatformHandler struct {
	log       *logger.Logger
	platforms repos.PlatformRepo
	actions   repos.PlatformActionRepo
	bots      repos.BotRepo
	configs   services.ConfigStore
}

func NewPlatformHandler(baseLog *logger.Logger, platforms repos.PlatformRepo, actions repos.PlatformActionRepo, bots repos.BotRepo, configs services.ConfigStore) *PlatformHandler {
	return &PlatformHandler{
		log:       baseLog.With("handler", "PlatformHandler"),
		platforms: platforms,
		actions:   actions,
		bots:      bots,
		configs:   configs,
	}
}

type createPlatformRequest struct {
	Name               string `json:"name" binding:"required"`
	BaseURL            string `json:"base_url" binding:"required"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	AuthRequired       bool   `json:"auth_required"`
	AuthToken          string `json:"auth_token"`
	IsActive           *bool  `json:"is_active"`
}

// POST /api/v1/admin/platform
func (h *PlatformHandler) Create(c *gin.Context) {
	var req createPlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.RateLimitPerMinute < 0 {
		RespondError(c, http.StatusBadRequest, "invalid_rate_limit", errors.New("rate_limit_per_minute must be positive"))
		return
	}

	existing, err := h.platforms.GetByName(c.Request.Context(), nil, req.Name)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if existing != nil {
		RespondError(c, http.StatusConflict, "name_taken", errors.New("platform name already exists: "+req.Name))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	p := &types.Platform{
		Name:               req.Name,
		BaseURL:            strings.TrimRight(req.BaseURL, "/"),
		RateLimitPerMinute: req.RateLimitPerMinute,
		AuthRequired:       req.AuthRequired,
		AuthToken:          req.AuthToken,
		IsActive:           active,
	}
	created, err := h.platforms.Create(c.Request.Context(), nil, p)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondCreated(c, gin.H{"platform": created})
}

// GET /api/v1/admin/platform
func (h *PlatformHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	out, err := h.platforms.List(c.Request.Context(), nil, activeOnly)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"platforms": out, "count": len(out)})
}

// GET /api/v1/admin/platform/:id
func (h *PlatformHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	p, err := h.platforms.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if p == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("platform not found"))
		return
	}
	RespondOK(c, gin.H{"platform": p})
}

type updatePlatformRequest struct {
	Name               *string `json:"name"`
	BaseURL            *string `json:"base_url"`
	RateLimitPerMinute *int    `json:"rate_limit_per_minute"`
	AuthRequired       *bool   `json:"auth_required"`
	AuthToken          *string `json:"auth_token"`
	IsActive           *bool   `json:"is_active"`
}

// PUT /api/v1/admin/platform/:id
func (h *PlatformHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updatePlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	p, err := h.platforms.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if p == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("platform not found"))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && *req.Name != p.Name {
		dup, err := h.platforms.GetByName(c.Request.Context(), nil, *req.Name)
		if err != nil {
			RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
			return
		}
		if dup != nil {
			RespondError(c, http.StatusConflict, "name_taken", errors.New("platform name already exists: "+*req.Name))
			return
		}
		updates["name"] = *req.Name
	}
	if req.BaseURL != nil {
		updates["base_url"] = strings.TrimRight(*req.BaseURL, "/")
	}
	if req.RateLimitPerMinute != nil {
		if *req.RateLimitPerMinute < 1 {
			RespondError(c, http.StatusBadRequest, "invalid_rate_limit", errors.New("rate_limit_per_minute must be positive"))
			return
		}
		updates["rate_limit_per_minute"] = *req.RateLimitPerMinute
	}
	if req.AuthRequired != nil {
		updates["auth_required"] = *req.AuthRequired
	}
	if req.AuthToken != nil {
		updates["auth_token"] = *req.AuthToken
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		RespondOK(c, gin.H{"platform": p})
		return
	}

	if err := h.platforms.UpdateFields(c.Request.Context(), nil, id, updates); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	h.configs.ClearCache()
	updated, err := h.platforms.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"platform": updated})
}

// POST /api/v1/admin/platform/:id/deactivate
func (h *PlatformHandler) Deactivate(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	p, err := h.platforms.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if p == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("platform not found"))
		return
	}
	if err := h.platforms.UpdateFields(c.Request.Context(), nil, id, map[string]interface{}{"is_active": false}); err != nil {
		RespondError(c, http.StatusInternalServerError, "update_failed", err)
		return
	}
	h.configs.ClearCache()
	RespondOK(c, gin.H{"deactivated": true, "id": id})
}

// DELETE /api/v1/admin/platform/:id
func (h *PlatformHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	n, err := h.bots.CountByPlatform(c.Request.Context(), nil, id, false)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if n > 0 {
		RespondError(c, http.StatusConflict, "in_use", errors.New("platform is referenced by existing bots"))
		return
	}
	if err := h.platforms.Delete(c.Request.Context(), nil, id); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	h.configs.ClearCache()
	RespondOK(c, gin.H{"deleted": true, "id": id})
}

type createPlatformActionRequest struct {
	Name     string `json:"name" binding:"required"`
	Method   string `json:"method"`
	Path     string `json:"path" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

// POST /api/v1/admin/platform/:id/actions
func (h *PlatformHandler) CreateAction(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req createPlatformActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	p, err := h.platforms.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	if p == nil {
		RespondError(c, http.StatusNotFound, "not_found", errors.New("platform not found"))
		return
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		RespondError(c, http.StatusBadRequest, "invalid_method", errors.New("unsupported HTTP method: "+method))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	action := &types.PlatformAction{
		PlatformID: id,
		Name:       req.Name,
		Method:     method,
		Path:       req.Path,
		IsActive:   active,
	}
	created, err := h.actions.Create(c.Request.Context(), nil, action)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "create_failed", err)
		return
	}
	RespondCreated(c, gin.H{"action": created})
}

// GET /api/v1/admin/platform/:id/actions
func (h *PlatformHandler) ListActions(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	out, err := h.actions.ListByPlatform(c.Request.Context(), nil, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	if c.Query("active") == "true" {
		filtered := out[:0]
		for _, a := range out {
			if a.IsActive {
				filtered = append(filtered, a)
			}
		}
		out = filtered
	}
	RespondOK(c, gin.H{"actions": out, "count": len(out)})
}

// DELETE /api/v1/admin/platform/:id/actions/:action_id
func (h *PlatformHandler) DeleteAction(c *gin.Context) {
	if _, ok := parseIDParam(c); !ok {
		return
	}
	actionID, err := uuid.Parse(c.Param("action_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("action_id must be a UUID"))
		return
	}
	if err := h.actions.Delete(c.Request.Context(), nil, actionID); err != nil {
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": true, "id": actionID})
}
