package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
	DirectionHold = "HOLD"

	SignalStatusPending  = "pending"
	SignalStatusSent     = "sent"
	SignalStatusFilled   = "filled"
	SignalStatusRejected = "rejected"
	SignalStatusExpired  = "expired"
)

// Signal is a directional recommendation produced by a model. Terminal
// statuses (filled/rejected/expired) are never overwritten.
type Signal struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	SignalID string `gorm:"type:varchar(100);not null;uniqueIndex"`
	ModelID  string `gorm:"type:varchar(100);not null;index"`

	Instrument string `gorm:"type:varchar(50);not null;index"`
	Direction  string `gorm:"type:varchar(10);not null"`

	Strength float64         `gorm:"not null"`
	Price    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Features datatypes.JSON  `gorm:"type:jsonb"`

	Status string `gorm:"type:varchar(20);not null;default:'pending';index"`
	Reason string `gorm:"type:text"`

	ExpiresAt   *time.Time `gorm:"index"`
	ProcessedAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Signal) TableName() string {
	return "signals"
}

func (s *Signal) Terminal() bool {
	switch s.Status {
	case SignalStatusFilled, SignalStatusRejected, SignalStatusExpired:
		return true
	}
	return false
}
