package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "all_time"
)

// PerformanceSummary is a rollup over the trades closed within
// [period_start, period_end). Recomputed by upsert; rerunning against the
// same trade set reproduces the row unchanged.
type PerformanceSummary struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	ModelID     string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_perf_key"`
	PeriodType  string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_perf_key"`
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_perf_key"`
	PeriodEnd   time.Time `gorm:"not null;uniqueIndex:idx_perf_key"`

	TotalTrades   int `gorm:"not null;default:0"`
	WinningTrades int `gorm:"not null;default:0"`
	LosingTrades  int `gorm:"not null;default:0"`

	WinRate        decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TotalPnLUSDT   decimal.Decimal `gorm:"column:total_pnl_usdt;type:numeric(30,10);not null;default:0"`
	TotalReturnPct decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	AvgWin         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AvgLoss        decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	// ProfitFactor is null when the period has no losing trades;
	// SharpeRatio is null under two distinct trade days.
	ProfitFactor *decimal.Decimal `gorm:"type:numeric(20,10)"`
	SharpeRatio  *decimal.Decimal `gorm:"type:numeric(20,10)"`

	MaxDrawdownPct          decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	MaxDrawdownDurationDays int             `gorm:"not null;default:0"`

	ComputedAt time.Time `gorm:"not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PerformanceSummary) TableName() string {
	return "performance_summaries"
}
