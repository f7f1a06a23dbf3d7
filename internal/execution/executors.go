package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/models"
)

// --- paper ---------------------------------------------------------------

// paperExecutor fills the order synchronously as a pure function of the
// requested price, the slippage model, and the fee schedule. No network.
type paperExecutor struct {
	engine      *Engine
	feePct      decimal.Decimal
	slippagePct decimal.Decimal
}

func (p *paperExecutor) Execute(ctx context.Context, ord *models.Order) error {
	now := time.Now().UTC()
	// Derived from the client id so synthesized ids stay unique.
	ord.OrderID = "PAPER_" + ord.ClientOrderID
	ord.Status = models.OrderStatusSubmitted
	ord.SubmittedAt = &now
	if ord.Kind == models.OrderKindMarket {
		ord.SlippagePct = p.slippagePct
	}
	if err := p.engine.Repo.SaveOrder(ctx, ord); err != nil {
		return err
	}

	price, fee := PaperFill(ord.Kind, ord.Side, ord.Price, ord.Quantity, p.slippagePct, p.feePct)
	return p.engine.ApplyFill(ctx, FillReport{
		ClientOrderID:  ord.ClientOrderID,
		VenueOrderID:   ord.OrderID,
		FilledQuantity: ord.Quantity,
		FilledPrice:    price,
		Fee:            fee,
		At:             now,
	})
}

// PaperFill computes the simulated execution: market orders pay slippage
// in the direction of the trade, limit orders fill at the requested price.
// fee = filled_price × quantity × fee_pct.
func PaperFill(kind, side string, price, quantity, slippagePct, feePct decimal.Decimal) (filledPrice, fee decimal.Decimal) {
	filledPrice = price
	if kind == models.OrderKindMarket {
		slip := price.Mul(slippagePct)
		if side == models.OrderSideBuy {
			filledPrice = price.Add(slip)
		} else {
			filledPrice = price.Sub(slip)
		}
	}
	fee = filledPrice.Mul(quantity).Mul(feePct)
	return filledPrice, fee
}

// --- shadow --------------------------------------------------------------

// shadowExecutor records the order for signal and risk audit without ever
// executing it; no fill is produced and the ledger never sees it.
type shadowExecutor struct {
	engine *Engine
}

func (s *shadowExecutor) Execute(ctx context.Context, ord *models.Order) error {
	now := time.Now().UTC()
	ord.OrderID = "SHADOW_" + ord.ClientOrderID
	ord.Status = models.OrderStatusSubmitted
	ord.SubmittedAt = &now
	if err := s.engine.Repo.SaveOrder(ctx, ord); err != nil {
		return err
	}
	if s.engine.Logger != nil {
		s.engine.Logger.Info("shadow order recorded, not executed",
			zap.String("client_order_id", ord.ClientOrderID),
			zap.String("instrument", ord.Instrument),
			zap.String("side", ord.Side),
			zap.String("quantity", ord.Quantity.String()),
		)
	}
	return nil
}

// --- live ----------------------------------------------------------------

// liveExecutor submits through the venue with the order's idempotency id.
// After any ambiguous failure it queries by that id before considering a
// resubmission; a retry is only allowed once the venue confirms no
// matching order exists.
type liveExecutor struct {
	engine     *Engine
	venue      VenueClient
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

func (l *liveExecutor) Execute(ctx context.Context, ord *models.Order) error {
	req := SubmitRequest{
		ClientOrderID: ord.ClientOrderID,
		Instrument:    ord.Instrument,
		Side:          ord.Side,
		Kind:          ord.Kind,
		Price:         ord.Price,
		Quantity:      ord.Quantity,
	}

	retries := l.maxRetries
	if retries < 0 {
		retries = 0
	}
	backoff := l.backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// The previous attempt ended ambiguously: the order may have
			// landed. Ask first; only a confirmed absence permits resubmission.
			vo, err := l.venue.Query(ctx, ord.Instrument, ord.ClientOrderID)
			if err == nil {
				return l.adopt(ctx, ord, vo)
			}
			if !errors.Is(err, ErrNotFound) {
				lastErr = err
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				backoff *= 2
				continue
			}
		}

		submitCtx := ctx
		var cancel context.CancelFunc
		if l.timeout > 0 {
			submitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		}
		ack, err := l.venue.Submit(submitCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			now := time.Now().UTC()
			ord.OrderID = ack.VenueOrderID
			ord.Status = models.OrderStatusSubmitted
			ord.SubmittedAt = &now
			return l.engine.Repo.SaveOrder(ctx, ord)
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if l.engine.Logger != nil {
			l.engine.Logger.Warn("order submission attempt failed",
				zap.String("client_order_id", ord.ClientOrderID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}

	// Retry budget exhausted. One final reconciliation query decides
	// between a late landing and a terminal timeout.
	vo, err := l.venue.Query(ctx, ord.Instrument, ord.ClientOrderID)
	if err == nil {
		return l.adopt(ctx, ord, vo)
	}
	if l.engine.Logger != nil {
		l.engine.Logger.Error("order submission timed out",
			zap.String("client_order_id", ord.ClientOrderID),
			zap.NamedError("last_error", lastErr),
		)
	}
	return l.engine.rejectOrder(ctx, ord, "submission_timeout")
}

// adopt records an order the venue already knows about; any fills it has
// accumulated merge through the normal path.
func (l *liveExecutor) adopt(ctx context.Context, ord *models.Order, vo VenueOrder) error {
	now := time.Now().UTC()
	ord.OrderID = vo.VenueOrderID
	ord.Status = models.OrderStatusSubmitted
	ord.SubmittedAt = &now
	if err := l.engine.Repo.SaveOrder(ctx, ord); err != nil {
		return err
	}
	if vo.FilledQuantity.IsPositive() {
		return l.engine.ApplyFill(ctx, FillReport{
			ClientOrderID:  ord.ClientOrderID,
			VenueOrderID:   vo.VenueOrderID,
			FilledQuantity: vo.FilledQuantity,
			FilledPrice:    vo.FilledPrice,
			Fee:            vo.Fee,
			At:             now,
		})
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
