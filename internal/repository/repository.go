package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/e-mzungu/okx-bot/internal/models"
)

type ListSignalsParams struct {
	Limit      int
	Offset     int
	ModelID    *string
	Instrument *string
	Status     *string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListOrdersParams struct {
	Limit      int
	Offset     int
	ModelID    *string
	Instrument *string
	Status     *string
	Mode       *string
	SignalID   *string
	OrderBy    string
	Asc        *bool
}

type ListPositionsParams struct {
	Limit      int
	Offset     int
	ModelID    *string
	Instrument *string
	Status     *string
	OrderBy    string
	Asc        *bool
}

type ListTradesParams struct {
	Limit      int
	Offset     int
	ModelID    *string
	Instrument *string
	Mode       *string
	OrderBy    string
	Asc        *bool
}

type ListSummariesParams struct {
	Limit      int
	Offset     int
	ModelID    *string
	PeriodType *string
}

type ListModelsParams struct {
	Limit  int
	Offset int
	Status *string
}

// Repository is the persistence boundary for the execution engine. One gorm
// implementation backs it in production (postgres) and in storage tests
// (sqlite).
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Signals. InsertSignalIgnoreDup is the at-least-once dedup point:
	// a second insert with the same signal_id is a no-op and reports false.
	InsertSignalIgnoreDup(ctx context.Context, item *models.Signal) (bool, error)
	GetSignalBySignalID(ctx context.Context, signalID string) (*models.Signal, error)
	UpdateSignalStatus(ctx context.Context, signalID string, status string, reason string, processedAt *time.Time) error
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)
	CountSignals(ctx context.Context, params ListSignalsParams) (int64, error)
	ExpireDueSignals(ctx context.Context, now time.Time) (int64, error)
	CountSignalsSince(ctx context.Context, modelID string, since time.Time) (int64, error)

	// Orders.
	InsertOrder(ctx context.Context, item *models.Order) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*models.Order, error)
	SaveOrder(ctx context.Context, item *models.Order) error
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.Order, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)
	ListOpenLiveOrders(ctx context.Context, limit int) ([]models.Order, error)

	// Positions. The *_Tx variants run inside a ledger transaction so a
	// close commits together with its trade and state update.
	GetOpenPosition(ctx context.Context, modelID, instrument string) (*models.Position, error)
	GetOpenPositionTx(tx *gorm.DB, modelID, instrument string) (*models.Position, error)
	InsertPositionTx(tx *gorm.DB, item *models.Position) error
	SavePositionTx(tx *gorm.DB, item *models.Position) error
	ListOpenPositionsByInstrument(ctx context.Context, instrument string) ([]models.Position, error)
	SavePosition(ctx context.Context, item *models.Position) error
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	CountPositions(ctx context.Context, params ListPositionsParams) (int64, error)

	// Trades.
	InsertTradeTx(tx *gorm.DB, item *models.Trade) error
	ListTrades(ctx context.Context, params ListTradesParams) ([]models.Trade, error)
	CountTrades(ctx context.Context, params ListTradesParams) (int64, error)
	ListTradesClosedBetween(ctx context.Context, modelID string, from, to time.Time) ([]models.Trade, error)
	ListModelIDsWithTrades(ctx context.Context) ([]string, error)

	// Performance summaries.
	UpsertPerformanceSummary(ctx context.Context, item *models.PerformanceSummary) error
	ListPerformanceSummaries(ctx context.Context, params ListSummariesParams) ([]models.PerformanceSummary, error)

	// System state: singleton row, optimistic concurrency on version.
	// UpdateSystemStateCAS reports false when expectedVersion lost the race.
	GetSystemState(ctx context.Context) (*models.SystemState, error)
	GetSystemStateTx(tx *gorm.DB) (*models.SystemState, error)
	UpdateSystemStateCAS(ctx context.Context, item *models.SystemState, expectedVersion uint64) (bool, error)
	UpdateSystemStateCASTx(tx *gorm.DB, item *models.SystemState, expectedVersion uint64) (bool, error)

	// Trading models.
	UpsertTradingModel(ctx context.Context, item *models.TradingModel) error
	GetTradingModelByModelID(ctx context.Context, modelID string) (*models.TradingModel, error)
	GetActiveTradingModel(ctx context.Context) (*models.TradingModel, error)
	SetTradingModelStatus(ctx context.Context, modelID string, status string, activatedAt *time.Time) error
	ListTradingModels(ctx context.Context, params ListModelsParams) ([]models.TradingModel, error)

	// System settings.
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}
