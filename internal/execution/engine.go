package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/events"
	"github.com/e-mzungu/okx-bot/internal/ledger"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
	"github.com/e-mzungu/okx-bot/internal/state"
)

var ErrUnknownMode = errors.New("execution: unknown trading mode")

// executor is the per-mode behavior behind one order: paper simulates the
// fill, shadow records without executing, live submits and reconciles.
type executor interface {
	Execute(ctx context.Context, ord *models.Order) error
}

// Engine drives orders through their lifecycle. Every fill, whatever its
// source (paper synchronous, websocket push, reconciliation poll), enters
// through ApplyFill and merges idempotently.
type Engine struct {
	Trading  config.TradingConfig
	Repo     repository.Repository
	Ledger   *ledger.Ledger
	Bus      *events.Bus
	Settings *state.SettingsService
	Logger   *zap.Logger

	executors map[string]executor

	mu         sync.Mutex
	orderLocks map[string]*sync.Mutex
}

// orderLock returns the mutex serializing fill merges for one order. The
// push stream and the reconciliation poll deliver reports for the same
// client order id concurrently; the cumulative merge stays monotonic only
// when read, compare, and save run under one lock.
func (e *Engine) orderLock(clientOrderID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.orderLocks == nil {
		e.orderLocks = map[string]*sync.Mutex{}
	}
	m, ok := e.orderLocks[clientOrderID]
	if !ok {
		m = &sync.Mutex{}
		e.orderLocks[clientOrderID] = m
	}
	return m
}

func New(trading config.TradingConfig, repo repository.Repository, led *ledger.Ledger, bus *events.Bus, settings *state.SettingsService, venue VenueClient, logger *zap.Logger) *Engine {
	e := &Engine{
		Trading:  trading,
		Repo:     repo,
		Ledger:   led,
		Bus:      bus,
		Settings: settings,
		Logger:   logger,
	}
	e.executors = map[string]executor{
		models.ModePaper: &paperExecutor{
			engine:      e,
			feePct:      decimal.NewFromFloat(trading.FeePct),
			slippagePct: decimal.NewFromFloat(trading.SlippagePct),
		},
		models.ModeShadow: &shadowExecutor{engine: e},
	}
	if venue != nil {
		e.executors[models.ModeLive] = &liveExecutor{
			engine:     e,
			venue:      venue,
			maxRetries: trading.SubmitRetries,
			backoff:    trading.SubmitBackoff,
			timeout:    trading.SubmitTimeout,
		}
	}
	return e
}

// Mode resolves the execution mode: the trading.mode system setting can
// override the configured default at runtime.
func (e *Engine) Mode(ctx context.Context) string {
	mode := e.Trading.Mode
	if e.Settings != nil {
		mode = e.Settings.String(ctx, state.SettingTradingMode, mode)
	}
	return mode
}

// Execute creates the order for an admitted signal and dispatches it to
// the mode's executor.
func (e *Engine) Execute(ctx context.Context, sig *models.Signal, quantity decimal.Decimal) (*models.Order, error) {
	if e == nil || e.Repo == nil || sig == nil {
		return nil, errors.New("execution: engine not configured")
	}
	mode := e.Mode(ctx)
	exec, ok := e.executors[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	kind := models.OrderKindMarket
	side := models.OrderSideBuy
	if sig.Direction == models.DirectionSell {
		side = models.OrderSideSell
	}

	ord := &models.Order{
		ClientOrderID: NewClientOrderID(),
		SignalID:      sig.SignalID,
		ModelID:       sig.ModelID,
		Instrument:    sig.Instrument,
		Side:          side,
		Kind:          kind,
		Price:         sig.Price,
		Quantity:      quantity,
		Status:        models.OrderStatusPending,
		Mode:          mode,
	}
	if err := e.Repo.InsertOrder(ctx, ord); err != nil {
		return nil, err
	}
	e.publish(events.OrderCreated, ord)

	now := time.Now().UTC()
	if err := e.Repo.UpdateSignalStatus(ctx, sig.SignalID, models.SignalStatusSent, "", &now); err != nil {
		return nil, err
	}

	if err := exec.Execute(ctx, ord); err != nil {
		if errors.Is(err, ErrRejected) {
			return ord, e.rejectOrder(ctx, ord, err.Error())
		}
		return ord, err
	}
	return ord, nil
}

// FillReport carries the cumulative fill figures from any source.
type FillReport struct {
	ClientOrderID  string
	VenueOrderID   string
	FilledQuantity decimal.Decimal
	FilledPrice    decimal.Decimal
	Fee            decimal.Decimal
	At             time.Time
}

// ApplyFill merges one fill report into the order. The merge is monotonic
// on filled quantity: a report attributing less than already recorded is
// discarded as stale, one attributing the same is a duplicate no-op, and
// only the delta above the recorded quantity reaches the ledger.
func (e *Engine) ApplyFill(ctx context.Context, rep FillReport) error {
	if e == nil || e.Repo == nil {
		return errors.New("execution: engine not configured")
	}
	km := e.orderLock(rep.ClientOrderID)
	km.Lock()
	defer km.Unlock()

	ord, err := e.Repo.GetOrderByClientOrderID(ctx, rep.ClientOrderID)
	if err != nil {
		return err
	}
	if ord == nil {
		return fmt.Errorf("execution: no order for client id %s", rep.ClientOrderID)
	}
	if ord.Mode == models.ModeShadow {
		// Shadow orders are observed, never executed; a fill for one is noise.
		return nil
	}
	if rep.FilledQuantity.GreaterThan(ord.Quantity) {
		return fmt.Errorf("%w: reported quantity %s exceeds order quantity %s",
			ledger.ErrIntegrity, rep.FilledQuantity, ord.Quantity)
	}

	switch rep.FilledQuantity.Cmp(ord.FilledQuantity) {
	case -1:
		if e.Logger != nil {
			e.Logger.Debug("stale fill report discarded",
				zap.String("client_order_id", rep.ClientOrderID),
				zap.String("reported", rep.FilledQuantity.String()),
				zap.String("recorded", ord.FilledQuantity.String()),
			)
		}
		return nil
	case 0:
		return nil
	}

	delta := rep.FilledQuantity.Sub(ord.FilledQuantity)
	feeDelta := rep.Fee.Sub(ord.Fee)
	if feeDelta.IsNegative() {
		feeDelta = decimal.Zero
	}
	at := rep.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ord.FilledQuantity = rep.FilledQuantity
	if rep.FilledPrice.IsPositive() {
		ord.FilledPrice = rep.FilledPrice
	}
	if rep.Fee.IsPositive() {
		ord.Fee = rep.Fee
	}
	if ord.OrderID == "" && rep.VenueOrderID != "" {
		ord.OrderID = rep.VenueOrderID
	}
	complete := ord.FilledQuantity.Equal(ord.Quantity)
	if complete {
		ord.Status = models.OrderStatusFilled
		ord.FilledAt = &at
	} else {
		ord.Status = models.OrderStatusPartiallyFilled
	}
	if err := e.Repo.SaveOrder(ctx, ord); err != nil {
		return err
	}
	e.publish(events.OrderUpdated, ord)

	if e.Ledger != nil {
		fill := ledger.Fill{
			ModelID:    ord.ModelID,
			Instrument: ord.Instrument,
			Side:       ord.Side,
			Mode:       ord.Mode,
			Quantity:   delta,
			Price:      ord.FilledPrice,
			Fee:        feeDelta,
			OrderID:    ord.ClientOrderID,
			SignalID:   ord.SignalID,
			At:         at,
		}
		if err := e.Ledger.Apply(ctx, fill); err != nil {
			return err
		}
	}

	if complete {
		e.publish(events.OrderFilled, ord)
		if ord.SignalID != "" {
			if err := e.Repo.UpdateSignalStatus(ctx, ord.SignalID, models.SignalStatusFilled, "", &at); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reconcile re-queries every live order that is still working and merges
// whatever the venue reports. It is the poll half of fill delivery and the
// recovery path after lost websocket updates.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e == nil || e.Repo == nil {
		return nil
	}
	venue := e.venue()
	if venue == nil {
		return nil
	}
	orders, err := e.Repo.ListOpenLiveOrders(ctx, 200)
	if err != nil {
		return err
	}
	for i := range orders {
		ord := &orders[i]
		vo, err := venue.Query(ctx, ord.Instrument, ord.ClientOrderID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			if e.Logger != nil {
				e.Logger.Warn("order reconciliation query failed",
					zap.String("client_order_id", ord.ClientOrderID), zap.Error(err))
			}
			continue
		}
		if vo.Status == models.OrderStatusCancelled {
			if err := e.markCancelled(ctx, ord, vo); err != nil && e.Logger != nil {
				e.Logger.Warn("order reconciliation cancel failed",
					zap.String("client_order_id", ord.ClientOrderID), zap.Error(err))
			}
			continue
		}
		if vo.FilledQuantity.IsPositive() {
			rep := FillReport{
				ClientOrderID:  ord.ClientOrderID,
				VenueOrderID:   vo.VenueOrderID,
				FilledQuantity: vo.FilledQuantity,
				FilledPrice:    vo.FilledPrice,
				Fee:            vo.Fee,
			}
			// One bad order must not starve the rest of the poll.
			if err := e.ApplyFill(ctx, rep); err != nil && e.Logger != nil {
				e.Logger.Warn("order reconciliation apply failed",
					zap.String("client_order_id", ord.ClientOrderID), zap.Error(err))
			}
		}
	}
	return nil
}

// RunFillStream consumes the venue's push channel until the context ends,
// reopening the stream with backoff when it closes.
func (e *Engine) RunFillStream(ctx context.Context) error {
	venue := e.venue()
	if venue == nil {
		return nil
	}
	backoff := time.Second
	for {
		ch, err := venue.Fills(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.Logger != nil {
				e.Logger.Warn("fill stream connect failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		for ev := range ch {
			rep := FillReport{
				ClientOrderID:  ev.ClientOrderID,
				VenueOrderID:   ev.VenueOrderID,
				FilledQuantity: ev.FilledQuantity,
				FilledPrice:    ev.FilledPrice,
				Fee:            ev.Fee,
				At:             ev.At,
			}
			if err := e.ApplyFill(ctx, rep); err != nil && e.Logger != nil {
				e.Logger.Warn("push fill apply failed",
					zap.String("client_order_id", ev.ClientOrderID), zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (e *Engine) markCancelled(ctx context.Context, stale *models.Order, vo VenueOrder) error {
	km := e.orderLock(stale.ClientOrderID)
	km.Lock()
	defer km.Unlock()

	// The caller's struct predates the lock; re-read so a fill merged in
	// the meantime is not clobbered.
	ord, err := e.Repo.GetOrderByClientOrderID(ctx, stale.ClientOrderID)
	if err != nil {
		return err
	}
	if ord == nil || ord.Status == models.OrderStatusCancelled {
		return nil
	}
	now := time.Now().UTC()
	ord.Status = models.OrderStatusCancelled
	ord.CancelledAt = &now
	if ord.OrderID == "" && vo.VenueOrderID != "" {
		ord.OrderID = vo.VenueOrderID
	}
	if err := e.Repo.SaveOrder(ctx, ord); err != nil {
		return err
	}
	e.publish(events.OrderUpdated, ord)
	if ord.SignalID != "" && ord.FilledQuantity.IsZero() {
		return e.Repo.UpdateSignalStatus(ctx, ord.SignalID, models.SignalStatusRejected, "order_cancelled", &now)
	}
	return nil
}

func (e *Engine) rejectOrder(ctx context.Context, ord *models.Order, reason string) error {
	now := time.Now().UTC()
	ord.Status = models.OrderStatusRejected
	ord.FailureReason = reason
	if err := e.Repo.SaveOrder(ctx, ord); err != nil {
		return err
	}
	e.publish(events.OrderUpdated, ord)
	if e.Logger != nil {
		e.Logger.Warn("order rejected",
			zap.String("client_order_id", ord.ClientOrderID),
			zap.String("reason", reason),
		)
	}
	if ord.SignalID != "" {
		return e.Repo.UpdateSignalStatus(ctx, ord.SignalID, models.SignalStatusRejected, reason, &now)
	}
	return nil
}

func (e *Engine) venue() VenueClient {
	if live, ok := e.executors[models.ModeLive].(*liveExecutor); ok {
		return live.venue
	}
	return nil
}

func (e *Engine) publish(name string, payload any) {
	if e.Bus != nil {
		e.Bus.Publish(name, payload)
	}
}

// NewClientOrderID builds the idempotency id attached to one submission.
// Dashes are stripped so the same id is legal on the OKX wire (alphanumeric,
// max 32 characters).
func NewClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
