package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e-mzungu/okx-bot/internal/repository"
)

type PositionHandler struct {
	Repo repository.Repository
}

func (h *PositionHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/positions", h.list)
}

// @Summary List positions
// @Tags positions
// @Param model_id query string false "model filter"
// @Param instrument query string false "instrument filter"
// @Param status query string false "open or closed"
// @Success 200 {object} apiResponse
// @Router /api/v1/positions [get]
func (h *PositionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	params := repository.ListPositionsParams{
		Limit:      limit,
		Offset:     offset,
		ModelID:    strQueryPtr(c, "model_id"),
		Instrument: strQueryPtr(c, "instrument"),
		Status:     strQueryPtr(c, "status"),
		OrderBy:    "opened_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
