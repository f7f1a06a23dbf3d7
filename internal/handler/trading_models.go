package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/registry"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

type ModelHandler struct {
	Repo     repository.Repository
	Registry *registry.Registry
}

func (h *ModelHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/models")
	group.GET("", h.list)
	group.POST("", h.upsert)
	group.POST("/:model_id/activate", h.activate)
}

// @Summary List trading models
// @Tags models
// @Param status query string false "status filter"
// @Success 200 {object} apiResponse
// @Router /api/v1/models [get]
func (h *ModelHandler) list(c *gin.Context) {
	if h.Registry == nil {
		Error(c, http.StatusInternalServerError, "registry unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Registry.List(c.Request.Context(), repository.ListModelsParams{
		Limit:  limit,
		Offset: offset,
		Status: strQueryPtr(c, "status"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type upsertModelRequest struct {
	ModelID    string         `json:"model_id" binding:"required"`
	Name       string         `json:"name" binding:"required"`
	Strategy   string         `json:"strategy"`
	Instrument string         `json:"instrument"`
	Params     datatypes.JSON `json:"params"`
	Metrics    datatypes.JSON `json:"metrics"`
}

// @Summary Register or update a trading model
// @Tags models
// @Accept json
// @Param request body upsertModelRequest true "model"
// @Success 200 {object} apiResponse
// @Router /api/v1/models [post]
func (h *ModelHandler) upsert(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req upsertModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.TradingModel{
		ModelID:    strings.TrimSpace(req.ModelID),
		Name:       strings.TrimSpace(req.Name),
		Strategy:   strings.TrimSpace(req.Strategy),
		Instrument: strings.TrimSpace(req.Instrument),
		Params:     req.Params,
		Metrics:    req.Metrics,
	}
	if err := h.Repo.UpsertTradingModel(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Activate a trading model
// @Tags models
// @Param model_id path string true "model id"
// @Success 200 {object} apiResponse
// @Router /api/v1/models/{model_id}/activate [post]
func (h *ModelHandler) activate(c *gin.Context) {
	if h.Registry == nil {
		Error(c, http.StatusInternalServerError, "registry unavailable", nil)
		return
	}
	modelID := strings.TrimSpace(c.Param("model_id"))
	if modelID == "" {
		Error(c, http.StatusBadRequest, "invalid model_id", nil)
		return
	}
	if err := h.Registry.Activate(c.Request.Context(), modelID); err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			Error(c, http.StatusNotFound, "model not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"model_id": modelID, "status": models.ModelStatusActive}, nil)
}
