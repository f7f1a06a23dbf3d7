package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/e-mzungu/okx-bot/internal/ledger"
)

type PriceHandler struct {
	Ledger *ledger.Ledger
}

func (h *PriceHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/prices", h.mark)
}

type markPriceRequest struct {
	Instrument string          `json:"instrument" binding:"required"`
	Price      decimal.Decimal `json:"price"`
}

// @Summary Mark open positions at a new price
// @Tags prices
// @Accept json
// @Param request body markPriceRequest true "mark"
// @Success 200 {object} apiResponse
// @Router /api/v1/prices [post]
func (h *PriceHandler) mark(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusInternalServerError, "ledger unavailable", nil)
		return
	}
	var req markPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Price.Sign() <= 0 {
		Error(c, http.StatusBadRequest, "price must be positive", nil)
		return
	}
	instrument := strings.TrimSpace(req.Instrument)
	if err := h.Ledger.MarkPrice(c.Request.Context(), instrument, req.Price); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"instrument": instrument, "price": req.Price}, nil)
}
