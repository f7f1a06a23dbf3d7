package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemState is the single global safety row (id=1): kill switch, circuit
// breaker, and daily counters. Every writer goes through a compare-and-set
// on Version; a plain save would lose concurrent trips.
type SystemState struct {
	ID      uint64 `gorm:"primaryKey"`
	Version uint64 `gorm:"not null;default:0"`

	KillSwitchActive bool   `gorm:"not null;default:false"`
	KillSwitchReason string `gorm:"type:text"`
	KillSwitchAt     *time.Time

	CircuitBreakerActive bool   `gorm:"not null;default:false"`
	CircuitBreakerReason string `gorm:"type:text"`
	CircuitBreakerAt     *time.Time

	// CountersDate is the UTC day (YYYY-MM-DD) the daily counters belong to.
	CountersDate      string          `gorm:"type:varchar(10);not null;default:''"`
	DailyPnLUSDT      decimal.Decimal `gorm:"column:daily_pnl_usdt;type:numeric(30,10);not null;default:0"`
	DailyTradesCount  int             `gorm:"not null;default:0"`
	ConsecutiveLosses int             `gorm:"not null;default:0"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SystemState) TableName() string {
	return "system_states"
}
