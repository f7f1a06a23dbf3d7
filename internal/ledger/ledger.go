package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/e-mzungu/okx-bot/internal/events"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
	"github.com/e-mzungu/okx-bot/internal/state"
)

var (
	// ErrIntegrity marks a fill that would corrupt the ledger: a
	// non-positive quantity, a mismatched mode, or a second open position
	// for the same key. The operation is blocked, nothing is overwritten.
	ErrIntegrity = errors.New("ledger: data integrity conflict")
)

const closeRetries = 3

// Fill is one executed quantity delta routed to the ledger. Quantity and
// Fee are deltas, not cumulative order totals.
type Fill struct {
	ModelID    string
	Instrument string
	Side       string
	Mode       string

	Quantity decimal.Decimal
	Price    decimal.Decimal
	Fee      decimal.Decimal

	OrderID  string
	SignalID string
	At       time.Time
}

type pendingEvent struct {
	name    string
	payload any
}

// Ledger applies fills to the unique open position per (model, instrument)
// key. A per-key mutex serializes read-modify-write cycles for the same
// key while distinct keys proceed concurrently; each application runs in
// one transaction together with any close it triggers.
type Ledger struct {
	Repo   repository.Repository
	Closer *Closer
	Bus    *events.Bus
	Logger *zap.Logger

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func (l *Ledger) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys == nil {
		l.keys = map[string]*sync.Mutex{}
	}
	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	return m
}

func (l *Ledger) Apply(ctx context.Context, f Fill) error {
	if l == nil || l.Repo == nil {
		return errors.New("ledger: not configured")
	}
	if !f.Quantity.IsPositive() {
		return fmt.Errorf("%w: fill quantity %s is not positive", ErrIntegrity, f.Quantity)
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}

	km := l.keyLock(f.ModelID + "|" + f.Instrument)
	km.Lock()
	defer km.Unlock()

	// A close updates the system state inside the transaction; losing the
	// version race rolls everything back, so retry the whole application.
	var fired []pendingEvent
	for attempt := 0; ; attempt++ {
		fired = fired[:0]
		err := l.Repo.InTx(ctx, func(tx *gorm.DB) error {
			return l.applyTx(tx, f, &fired)
		})
		if err == nil {
			break
		}
		if errors.Is(err, state.ErrVersionConflict) && attempt < closeRetries {
			continue
		}
		return err
	}

	for _, ev := range fired {
		l.publish(ev.name, ev.payload)
	}
	return nil
}

func (l *Ledger) applyTx(tx *gorm.DB, f Fill, fired *[]pendingEvent) error {
	pos, err := l.Repo.GetOpenPositionTx(tx, f.ModelID, f.Instrument)
	if err != nil {
		return err
	}

	if pos == nil {
		opened, err := l.openTx(tx, f, f.Quantity, f.Fee)
		if err != nil {
			return err
		}
		*fired = append(*fired, pendingEvent{events.PositionOpened, opened})
		return nil
	}

	if pos.Mode != f.Mode {
		return fmt.Errorf("%w: fill mode %s against %s position", ErrIntegrity, f.Mode, pos.Mode)
	}

	if sameDirection(pos.Side, f.Side) {
		return l.increaseTx(tx, pos, f, fired)
	}
	return l.reduceTx(tx, pos, f, fired)
}

// openTx creates the position for a key that has none. quantity/fee are
// passed separately so an overfill split can open the flipped remainder
// with its share of the fill's fee.
func (l *Ledger) openTx(tx *gorm.DB, f Fill, quantity, fee decimal.Decimal) (*models.Position, error) {
	// The key mutex makes a concurrent duplicate impossible in-process;
	// the recheck catches an out-of-band writer.
	if existing, err := l.Repo.GetOpenPositionTx(tx, f.ModelID, f.Instrument); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: open position already exists for %s/%s", ErrIntegrity, f.ModelID, f.Instrument)
	}

	pos := &models.Position{
		ModelID:       f.ModelID,
		Instrument:    f.Instrument,
		Side:          sideFromFill(f.Side),
		Quantity:      quantity,
		EntryPrice:    f.Price,
		CurrentPrice:  f.Price,
		TotalFee:      fee,
		EntryOrderID:  f.OrderID,
		EntrySignalID: f.SignalID,
		Mode:          f.Mode,
		Status:        models.PositionStatusOpen,
		OpenedAt:      f.At,
	}
	if err := l.Repo.InsertPositionTx(tx, pos); err != nil {
		return nil, err
	}
	if l.Logger != nil {
		l.Logger.Info("position opened",
			zap.String("model_id", f.ModelID),
			zap.String("instrument", f.Instrument),
			zap.String("side", pos.Side),
			zap.String("quantity", quantity.String()),
			zap.String("entry_price", f.Price.String()),
		)
	}
	return pos, nil
}

func (l *Ledger) increaseTx(tx *gorm.DB, pos *models.Position, f Fill, fired *[]pendingEvent) error {
	newQuantity := pos.Quantity.Add(f.Quantity)
	// Quantity-weighted average entry.
	cost := pos.EntryPrice.Mul(pos.Quantity).Add(f.Price.Mul(f.Quantity))
	pos.EntryPrice = cost.Div(newQuantity)
	pos.Quantity = newQuantity
	pos.TotalFee = pos.TotalFee.Add(f.Fee)
	pos.CurrentPrice = f.Price
	refreshUnrealized(pos)
	if err := l.Repo.SavePositionTx(tx, pos); err != nil {
		return err
	}
	*fired = append(*fired, pendingEvent{events.PositionUpdated, pos})
	return nil
}

func (l *Ledger) reduceTx(tx *gorm.DB, pos *models.Position, f Fill, fired *[]pendingEvent) error {
	switch f.Quantity.Cmp(pos.Quantity) {
	case -1:
		applyReduction(pos, f, f.Quantity, f.Fee)
		refreshUnrealized(pos)
		if err := l.Repo.SavePositionTx(tx, pos); err != nil {
			return err
		}
		*fired = append(*fired, pendingEvent{events.PositionUpdated, pos})
		return nil

	case 0:
		applyReduction(pos, f, f.Quantity, f.Fee)
		trade, err := l.Closer.Close(tx, pos, f)
		if err != nil {
			return err
		}
		*fired = append(*fired,
			pendingEvent{events.PositionClosed, pos},
			pendingEvent{events.TradeClosed, trade},
		)
		return nil

	default:
		// Overfill: close the full remainder, then open the flipped side
		// with the excess, recorded as if they were two independent fills.
		closeQuantity := pos.Quantity
		openQuantity := f.Quantity.Sub(closeQuantity)
		closeFee := f.Fee.Mul(closeQuantity).Div(f.Quantity)
		openFee := f.Fee.Sub(closeFee)

		applyReduction(pos, f, closeQuantity, closeFee)
		trade, err := l.Closer.Close(tx, pos, f)
		if err != nil {
			return err
		}
		opened, err := l.openTx(tx, f, openQuantity, openFee)
		if err != nil {
			return err
		}
		*fired = append(*fired,
			pendingEvent{events.PositionClosed, pos},
			pendingEvent{events.TradeClosed, trade},
			pendingEvent{events.PositionOpened, opened},
		)
		return nil
	}
}

// MarkPrice refreshes the mark and unrealized PnL on every open position
// for the instrument.
func (l *Ledger) MarkPrice(ctx context.Context, instrument string, price decimal.Decimal) error {
	if l == nil || l.Repo == nil || !price.IsPositive() {
		return nil
	}
	positions, err := l.Repo.ListOpenPositionsByInstrument(ctx, instrument)
	if err != nil {
		return err
	}
	for i := range positions {
		// The listing ran outside the key lock, so the loaded struct may be
		// behind a fill or close that committed since. Re-read under the
		// lock and write back only the row as it is now; a position closed
		// in the gap is skipped, not resurrected.
		km := l.keyLock(positions[i].ModelID + "|" + positions[i].Instrument)
		km.Lock()
		pos, err := l.Repo.GetOpenPosition(ctx, positions[i].ModelID, positions[i].Instrument)
		if err != nil {
			km.Unlock()
			return err
		}
		if pos == nil {
			km.Unlock()
			continue
		}
		pos.CurrentPrice = price
		refreshUnrealized(pos)
		err = l.Repo.SavePosition(ctx, pos)
		km.Unlock()
		if err != nil {
			return err
		}
		l.publish(events.PositionUpdated, pos)
	}
	return nil
}

func (l *Ledger) publish(name string, payload any) {
	if l.Bus != nil {
		l.Bus.Publish(name, payload)
	}
}

// applyReduction books a reducing fill of the given quantity against the
// position: exit accumulators, realized PnL net of this fill's fee share.
func applyReduction(pos *models.Position, f Fill, quantity, fee decimal.Decimal) {
	realized := f.Price.Sub(pos.EntryPrice).Mul(quantity).Mul(directionSign(pos.Side)).Sub(fee)
	pos.Quantity = pos.Quantity.Sub(quantity)
	pos.ExitQuantity = pos.ExitQuantity.Add(quantity)
	pos.ExitCost = pos.ExitCost.Add(f.Price.Mul(quantity))
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.TotalFee = pos.TotalFee.Add(fee)
	pos.CurrentPrice = f.Price
	pos.ExitOrderID = f.OrderID
	pos.ExitSignalID = f.SignalID
}

func refreshUnrealized(pos *models.Position) {
	if pos.Quantity.IsZero() || pos.EntryPrice.IsZero() {
		pos.UnrealizedPnL = decimal.Zero
		pos.UnrealizedPnLPct = decimal.Zero
		return
	}
	pnl := pos.CurrentPrice.Sub(pos.EntryPrice).Mul(pos.Quantity).Mul(directionSign(pos.Side))
	pos.UnrealizedPnL = pnl
	pos.UnrealizedPnLPct = pnl.Div(pos.EntryPrice.Mul(pos.Quantity))
}

func directionSign(side string) decimal.Decimal {
	if side == models.PositionSideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func sideFromFill(orderSide string) string {
	if orderSide == models.OrderSideSell {
		return models.PositionSideShort
	}
	return models.PositionSideLong
}

func sameDirection(positionSide, orderSide string) bool {
	return sideFromFill(orderSide) == positionSide
}
