package db

import (
	"github.com/e-mzungu/okx-bot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.TradingModel{},
		&models.Signal{},
		&models.Order{},
		&models.Position{},
		&models.Trade{},
		&models.PerformanceSummary{},
		&models.SystemState{},
		&models.SystemSetting{},
	)
}
