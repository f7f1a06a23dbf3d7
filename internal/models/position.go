package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionSideLong  = "long"
	PositionSideShort = "short"

	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position is the net holding for a (model, instrument) pair. At most one
// row per pair may have closed_at unset; the ledger enforces this.
type Position struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	ModelID    string `gorm:"type:varchar(100);not null;index:idx_positions_key"`
	Instrument string `gorm:"type:varchar(50);not null;index:idx_positions_key"`

	Side string `gorm:"type:varchar(10);not null"`

	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CurrentPrice     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	UnrealizedPnL    decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	UnrealizedPnLPct decimal.Decimal `gorm:"column:unrealized_pnl_pct;type:numeric(20,10);not null;default:0"`

	// Reduce-side accumulators feeding the trade on close: exit average is
	// exit_cost / exit_quantity.
	ExitQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	ExitCost     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RealizedPnL  decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`
	TotalFee     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	EntryOrderID  string `gorm:"type:varchar(100)"`
	EntrySignalID string `gorm:"type:varchar(100)"`
	ExitOrderID   string `gorm:"type:varchar(100)"`
	ExitSignalID  string `gorm:"type:varchar(100)"`

	Mode   string `gorm:"type:varchar(10);not null"`
	Status string `gorm:"type:varchar(20);not null;default:'open';index"`

	OpenedAt time.Time `gorm:"not null"`
	ClosedAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
