package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one closed round trip. Written exactly once when a position's
// quantity reaches zero; immutable afterwards.
type Trade struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	PositionID uint64 `gorm:"not null;index"`

	ModelID    string `gorm:"type:varchar(100);not null;index"`
	Instrument string `gorm:"type:varchar(50);not null;index"`
	Side       string `gorm:"type:varchar(10);not null"`

	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	EntryOrderID  string `gorm:"type:varchar(100)"`
	ExitOrderID   string `gorm:"type:varchar(100)"`
	EntrySignalID string `gorm:"type:varchar(100)"`
	ExitSignalID  string `gorm:"type:varchar(100)"`

	PnLUSDT  decimal.Decimal `gorm:"column:pnl_usdt;type:numeric(30,10);not null"`
	PnLPct   decimal.Decimal `gorm:"column:pnl_pct;type:numeric(20,10);not null"`
	TotalFee decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	DurationMinutes int64  `gorm:"not null"`
	Mode            string `gorm:"type:varchar(10);not null;index"`

	OpenedAt time.Time `gorm:"not null"`
	ClosedAt time.Time `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Trade) TableName() string {
	return "trades"
}
