package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/e-mzungu/okx-bot/internal/state"
)

type StateHandler struct {
	State *state.Store
}

func (h *StateHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/state")
	group.GET("", h.get)
	group.POST("/kill-switch", h.killSwitch)
	group.POST("/circuit-breaker/reset", h.resetBreaker)
}

// @Summary Read the current system state
// @Tags state
// @Success 200 {object} apiResponse
// @Router /api/v1/state [get]
func (h *StateHandler) get(c *gin.Context) {
	if h.State == nil {
		Error(c, http.StatusInternalServerError, "state unavailable", nil)
		return
	}
	item, err := h.State.Get(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type killSwitchRequest struct {
	Active   bool   `json:"active"`
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

// @Summary Engage or clear the kill switch
// @Tags state
// @Accept json
// @Param request body killSwitchRequest true "transition"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/state/kill-switch [post]
func (h *StateHandler) killSwitch(c *gin.Context) {
	if h.State == nil {
		Error(c, http.StatusInternalServerError, "state unavailable", nil)
		return
	}
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var err error
	if req.Active {
		err = h.State.EngageKillSwitch(c.Request.Context(), req.Reason, req.Operator)
	} else {
		err = h.State.ClearKillSwitch(c.Request.Context(), req.Reason, req.Operator)
	}
	if err != nil {
		writeStateError(c, err)
		return
	}
	item, err := h.State.Get(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type breakerResetRequest struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

// @Summary Reset the circuit breaker
// @Tags state
// @Accept json
// @Param request body breakerResetRequest true "transition"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/state/circuit-breaker/reset [post]
func (h *StateHandler) resetBreaker(c *gin.Context) {
	if h.State == nil {
		Error(c, http.StatusInternalServerError, "state unavailable", nil)
		return
	}
	var req breakerResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.State.ResetBreaker(c.Request.Context(), req.Reason, req.Operator); err != nil {
		writeStateError(c, err)
		return
	}
	item, err := h.State.Get(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func writeStateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, state.ErrReasonRequired):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, state.ErrConflict):
		Error(c, http.StatusConflict, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
