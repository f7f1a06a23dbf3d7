package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/e-mzungu/okx-bot/internal/feed"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

type SignalHandler struct {
	Repo repository.Repository
	Feed *feed.Service
}

func (h *SignalHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/signals")
	group.POST("", h.ingest)
	group.GET("", h.list)
	group.GET("/:signal_id", h.get)
}

type ingestSignalRequest struct {
	SignalID   string          `json:"signal_id"`
	ModelID    string          `json:"model_id" binding:"required"`
	Instrument string          `json:"instrument" binding:"required"`
	Direction  string          `json:"direction" binding:"required"`
	Strength   float64         `json:"strength"`
	Price      decimal.Decimal `json:"price"`
	Features   datatypes.JSON  `json:"features"`
	ExpiresAt  *time.Time      `json:"expires_at"`
}

// @Summary Ingest a trading signal
// @Tags signals
// @Accept json
// @Param request body ingestSignalRequest true "signal"
// @Success 202 {object} apiResponse
// @Router /api/v1/signals [post]
func (h *SignalHandler) ingest(c *gin.Context) {
	if h.Feed == nil {
		Error(c, http.StatusInternalServerError, "feed unavailable", nil)
		return
	}
	var req ingestSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	direction := strings.ToUpper(strings.TrimSpace(req.Direction))
	switch direction {
	case models.DirectionBuy, models.DirectionSell, models.DirectionHold:
	default:
		Error(c, http.StatusBadRequest, "invalid direction", nil)
		return
	}
	if req.Price.Sign() <= 0 {
		Error(c, http.StatusBadRequest, "price must be positive", nil)
		return
	}

	sig := &models.Signal{
		SignalID:   strings.TrimSpace(req.SignalID),
		ModelID:    strings.TrimSpace(req.ModelID),
		Instrument: strings.TrimSpace(req.Instrument),
		Direction:  direction,
		Strength:   req.Strength,
		Price:      req.Price,
		Features:   req.Features,
		ExpiresAt:  req.ExpiresAt,
	}
	fresh, err := h.Feed.Ingest(c.Request.Context(), sig)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	c.JSON(http.StatusAccepted, apiResponse{
		Code:    0,
		Message: "ok",
		Data: gin.H{
			"signal_id": sig.SignalID,
			"duplicate": !fresh,
		},
	})
}

// @Summary List signals
// @Tags signals
// @Param model_id query string false "model filter"
// @Param instrument query string false "instrument filter"
// @Param status query string false "status filter"
// @Param since query string false "RFC3339 lower bound"
// @Success 200 {object} apiResponse
// @Router /api/v1/signals [get]
func (h *SignalHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	var sinceTime *time.Time
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		parsed, err := time.Parse(time.RFC3339, since)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid since", nil)
			return
		}
		parsed = parsed.UTC()
		sinceTime = &parsed
	}

	params := repository.ListSignalsParams{
		Limit:      limit,
		Offset:     offset,
		ModelID:    strQueryPtr(c, "model_id"),
		Instrument: strQueryPtr(c, "instrument"),
		Status:     strQueryPtr(c, "status"),
		Since:      sinceTime,
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListSignals(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSignals(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get a signal by its external id
// @Tags signals
// @Param signal_id path string true "signal id"
// @Success 200 {object} apiResponse
// @Router /api/v1/signals/{signal_id} [get]
func (h *SignalHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	signalID := strings.TrimSpace(c.Param("signal_id"))
	if signalID == "" {
		Error(c, http.StatusBadRequest, "invalid signal_id", nil)
		return
	}
	item, err := h.Repo.GetSignalBySignalID(c.Request.Context(), signalID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	Ok(c, item, nil)
}
