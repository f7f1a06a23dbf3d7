package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e-mzungu/okx-bot/internal/repository"
)

type OrderHandler struct {
	Repo repository.Repository
}

func (h *OrderHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/orders", h.list)
}

// @Summary List orders
// @Tags orders
// @Param model_id query string false "model filter"
// @Param instrument query string false "instrument filter"
// @Param status query string false "status filter"
// @Param mode query string false "mode filter"
// @Success 200 {object} apiResponse
// @Router /api/v1/orders [get]
func (h *OrderHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	params := repository.ListOrdersParams{
		Limit:      limit,
		Offset:     offset,
		ModelID:    strQueryPtr(c, "model_id"),
		Instrument: strQueryPtr(c, "instrument"),
		Status:     strQueryPtr(c, "status"),
		Mode:       strQueryPtr(c, "mode"),
		SignalID:   strQueryPtr(c, "signal_id"),
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
