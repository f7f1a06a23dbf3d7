package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderKindMarket = "market"
	OrderKindLimit  = "limit"

	OrderStatusPending         = "pending"
	OrderStatusSubmitted       = "submitted"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"

	ModePaper  = "paper"
	ModeShadow = "shadow"
	ModeLive   = "live"
)

type Order struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	// OrderID is assigned by the venue (or synthesized as PAPER_/SHADOW_)
	// and is unique once assigned; ClientOrderID is the idempotency key
	// attached to every submission.
	OrderID       string `gorm:"type:varchar(100);index:idx_orders_order_id,unique,where:order_id <> ''"`
	ClientOrderID string `gorm:"type:varchar(100);not null;uniqueIndex"`

	SignalID string `gorm:"type:varchar(100);index"`
	ModelID  string `gorm:"type:varchar(100);not null;index"`

	Instrument string `gorm:"type:varchar(50);not null;index"`
	Side       string `gorm:"type:varchar(10);not null"`
	Kind       string `gorm:"type:varchar(20);not null;default:'market'"`

	Price          decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Quantity       decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	FilledPrice    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Fee            decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	SlippagePct    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	Status        string `gorm:"type:varchar(20);not null;default:'pending';index"`
	FailureReason string `gorm:"type:text"`
	Mode          string `gorm:"type:varchar(10);not null;index"`

	SubmittedAt *time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Order) TableName() string {
	return "orders"
}
