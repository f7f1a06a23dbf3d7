package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
	"github.com/e-mzungu/okx-bot/internal/state"
)

const (
	BreakerReasonDailyLoss = "daily_loss_limit"
	BreakerReasonStreak    = "consecutive_losses"
)

// Closer turns a position whose quantity reached zero into a Trade row and
// folds the result into the system state, all inside the caller's
// transaction: the trade, the counters, and any breaker trip commit
// together or not at all.
type Closer struct {
	Risk   config.RiskConfig
	Repo   repository.Repository
	State  *state.Store
	Logger *zap.Logger
}

func (c *Closer) Close(tx *gorm.DB, pos *models.Position, f Fill) (*models.Trade, error) {
	if c == nil || c.Repo == nil || c.State == nil {
		return nil, fmt.Errorf("ledger: closer not configured")
	}
	if !pos.Quantity.IsZero() {
		return nil, fmt.Errorf("%w: close on non-zero quantity %s", ErrIntegrity, pos.Quantity)
	}

	closedAt := f.At
	exitPrice := pos.ExitCost.Div(pos.ExitQuantity)
	quantity := pos.ExitQuantity
	entryNotional := pos.EntryPrice.Mul(quantity)

	pnl := exitPrice.Sub(pos.EntryPrice).Mul(quantity).Mul(directionSign(pos.Side)).Sub(pos.TotalFee)
	pnlPct := decimal.Zero
	if entryNotional.IsPositive() {
		pnlPct = pnl.Div(entryNotional)
	}
	duration := int64(closedAt.Sub(pos.OpenedAt) / time.Minute)

	pos.Status = models.PositionStatusClosed
	pos.ClosedAt = &closedAt
	pos.UnrealizedPnL = decimal.Zero
	pos.UnrealizedPnLPct = decimal.Zero
	if err := c.Repo.SavePositionTx(tx, pos); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		PositionID:      pos.ID,
		ModelID:         pos.ModelID,
		Instrument:      pos.Instrument,
		Side:            pos.Side,
		Quantity:        quantity,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		EntryOrderID:    pos.EntryOrderID,
		ExitOrderID:     pos.ExitOrderID,
		EntrySignalID:   pos.EntrySignalID,
		ExitSignalID:    pos.ExitSignalID,
		PnLUSDT:         pnl,
		PnLPct:          pnlPct,
		TotalFee:        pos.TotalFee,
		DurationMinutes: duration,
		Mode:            pos.Mode,
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        closedAt,
	}
	if err := c.Repo.InsertTradeTx(tx, trade); err != nil {
		return nil, err
	}

	if _, err := c.State.MutateTx(tx, func(st *models.SystemState) error {
		st.DailyPnLUSDT = st.DailyPnLUSDT.Add(pnl)
		if pnl.IsNegative() {
			st.ConsecutiveLosses++
		} else {
			st.ConsecutiveLosses = 0
		}
		c.maybeTrip(st, closedAt)
		return nil
	}); err != nil {
		return nil, err
	}

	if c.Logger != nil {
		c.Logger.Info("trade closed",
			zap.String("model_id", trade.ModelID),
			zap.String("instrument", trade.Instrument),
			zap.String("side", trade.Side),
			zap.String("pnl_usdt", pnl.String()),
			zap.Int64("duration_minutes", duration),
		)
	}
	return trade, nil
}

// maybeTrip sets the circuit breaker when a loss threshold is crossed. It
// is called with the post-update counters; the state store's CAS makes
// sure exactly one writer records the trip.
func (c *Closer) maybeTrip(st *models.SystemState, now time.Time) {
	if st.CircuitBreakerActive {
		return
	}
	maxLoss := decimal.NewFromFloat(c.Risk.MaxDailyLossUSDT)
	if maxLoss.IsPositive() && st.DailyPnLUSDT.LessThanOrEqual(maxLoss.Neg()) {
		st.CircuitBreakerActive = true
		st.CircuitBreakerReason = BreakerReasonDailyLoss
		st.CircuitBreakerAt = &now
		if c.Logger != nil {
			c.Logger.Warn("circuit breaker tripped",
				zap.String("reason", BreakerReasonDailyLoss),
				zap.String("daily_pnl_usdt", st.DailyPnLUSDT.String()),
			)
		}
		return
	}
	if c.Risk.MaxConsecutiveLosses > 0 && st.ConsecutiveLosses >= c.Risk.MaxConsecutiveLosses {
		st.CircuitBreakerActive = true
		st.CircuitBreakerReason = BreakerReasonStreak
		st.CircuitBreakerAt = &now
		if c.Logger != nil {
			c.Logger.Warn("circuit breaker tripped",
				zap.String("reason", BreakerReasonStreak),
				zap.Int("consecutive_losses", st.ConsecutiveLosses),
			)
		}
	}
}
