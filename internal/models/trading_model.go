package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ModelStatusDraft    = "draft"
	ModelStatusTesting  = "testing"
	ModelStatusApproved = "approved"
	ModelStatusActive   = "active"
	ModelStatusArchived = "archived"
)

// TradingModel is the registry entry for a signal producer. The active
// model is the newest row with status "active".
type TradingModel struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	ModelID string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name    string `gorm:"type:varchar(200);not null"`

	Strategy   string `gorm:"type:varchar(50);index"`
	Instrument string `gorm:"type:varchar(50);index"`

	Params  datatypes.JSON `gorm:"type:jsonb"`
	Metrics datatypes.JSON `gorm:"type:jsonb"`

	Status      string `gorm:"type:varchar(20);not null;default:'draft';index"`
	ActivatedAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index"`
}

func (TradingModel) TableName() string {
	return "trading_models"
}
