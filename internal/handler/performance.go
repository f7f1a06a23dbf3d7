package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/e-mzungu/okx-bot/internal/performance"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

type PerformanceHandler struct {
	Repo       repository.Repository
	Aggregator *performance.Aggregator
}

func (h *PerformanceHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/performance")
	group.GET("", h.list)
	group.POST("/recompute", h.recompute)
}

// @Summary List performance summaries
// @Tags performance
// @Param model_id query string false "model filter"
// @Param period_type query string false "daily, weekly, monthly or all_time"
// @Success 200 {object} apiResponse
// @Router /api/v1/performance [get]
func (h *PerformanceHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)

	items, err := h.Repo.ListPerformanceSummaries(c.Request.Context(), repository.ListSummariesParams{
		Limit:      limit,
		Offset:     offset,
		ModelID:    strQueryPtr(c, "model_id"),
		PeriodType: strQueryPtr(c, "period_type"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type recomputeRequest struct {
	ModelID string `json:"model_id"`
}

// @Summary Recompute performance summaries
// @Tags performance
// @Accept json
// @Param request body recomputeRequest false "scope"
// @Success 200 {object} apiResponse
// @Router /api/v1/performance/recompute [post]
func (h *PerformanceHandler) recompute(c *gin.Context) {
	if h.Aggregator == nil {
		Error(c, http.StatusInternalServerError, "aggregator unavailable", nil)
		return
	}
	var req recomputeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}
	modelID := strings.TrimSpace(req.ModelID)
	var err error
	if modelID != "" {
		err = h.Aggregator.RecomputeModel(c.Request.Context(), modelID)
	} else {
		err = h.Aggregator.RecomputeAll(c.Request.Context())
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"model_id": modelID}, nil)
}
