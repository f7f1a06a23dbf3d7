package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e-mzungu/okx-bot/internal/repository"
)

type TradeHandler struct {
	Repo repository.Repository
}

func (h *TradeHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/trades", h.list)
}

// @Summary List closed trades
// @Tags trades
// @Param model_id query string false "model filter"
// @Param instrument query string false "instrument filter"
// @Param mode query string false "mode filter"
// @Success 200 {object} apiResponse
// @Router /api/v1/trades [get]
func (h *TradeHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	params := repository.ListTradesParams{
		Limit:      limit,
		Offset:     offset,
		ModelID:    strQueryPtr(c, "model_id"),
		Instrument: strQueryPtr(c, "instrument"),
		Mode:       strQueryPtr(c, "mode"),
		OrderBy:    "closed_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
