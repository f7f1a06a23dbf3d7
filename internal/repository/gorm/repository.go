package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- signals -----------------------------------------------------------------

func (s *Store) InsertSignalIgnoreDup(ctx context.Context, item *models.Signal) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetSignalBySignalID(ctx context.Context, signalID string) (*models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Signal
	err := s.db.WithContext(ctx).Where("signal_id = ?", signalID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateSignalStatus(ctx context.Context, signalID string, status string, reason string, processedAt *time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if reason != "" {
		updates["reason"] = reason
	}
	if processedAt != nil {
		updates["processed_at"] = *processedAt
	}
	// Terminal statuses are final: the guard keeps a late writer from
	// resurrecting a filled/rejected/expired signal.
	return s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("signal_id = ?", signalID).
		Where("status NOT IN ?", []string{
			models.SignalStatusFilled,
			models.SignalStatusRejected,
			models.SignalStatusExpired,
		}).
		Updates(updates).Error
}

func applySignalFilters(query *gorm.DB, params repository.ListSignalsParams) *gorm.DB {
	if params.ModelID != nil && strings.TrimSpace(*params.ModelID) != "" {
		query = query.Where("model_id = ?", strings.TrimSpace(*params.ModelID))
	}
	if params.Instrument != nil && strings.TrimSpace(*params.Instrument) != "" {
		query = query.Where("instrument = ?", strings.TrimSpace(*params.Instrument))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applySignalFilters(s.db.WithContext(ctx).Model(&models.Signal{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Signal
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSignals(ctx context.Context, params repository.ListSignalsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := applySignalFilters(s.db.WithContext(ctx).Model(&models.Signal{}), params).Count(&total).Error
	return total, err
}

func (s *Store) ExpireDueSignals(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("status = ?", models.SignalStatusPending).
		Where("expires_at IS NOT NULL").
		Where("expires_at < ?", now).
		Updates(map[string]any{
			"status":     models.SignalStatusExpired,
			"reason":     "expired",
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) CountSignalsSince(ctx context.Context, modelID string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("model_id = ?", modelID).
		Where("status NOT IN ?", []string{models.SignalStatusRejected, models.SignalStatusExpired}).
		Where("created_at >= ?", since).
		Count(&total).Error
	return total, err
}

// --- orders ------------------------------------------------------------------

func (s *Store) InsertOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Order
	err := s.db.WithContext(ctx).Where("client_order_id = ?", clientOrderID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveOrder(ctx context.Context, item *models.Order) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(item).Error
}

func applyOrderFilters(query *gorm.DB, params repository.ListOrdersParams) *gorm.DB {
	if params.ModelID != nil && strings.TrimSpace(*params.ModelID) != "" {
		query = query.Where("model_id = ?", strings.TrimSpace(*params.ModelID))
	}
	if params.Instrument != nil && strings.TrimSpace(*params.Instrument) != "" {
		query = query.Where("instrument = ?", strings.TrimSpace(*params.Instrument))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Mode != nil && strings.TrimSpace(*params.Mode) != "" {
		query = query.Where("mode = ?", strings.TrimSpace(*params.Mode))
	}
	if params.SignalID != nil && strings.TrimSpace(*params.SignalID) != "" {
		query = query.Where("signal_id = ?", strings.TrimSpace(*params.SignalID))
	}
	return query
}

func (s *Store) ListOrders(ctx context.Context, params repository.ListOrdersParams) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Order
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOrders(ctx context.Context, params repository.ListOrdersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := applyOrderFilters(s.db.WithContext(ctx).Model(&models.Order{}), params).Count(&total).Error
	return total, err
}

func (s *Store) ListOpenLiveOrders(ctx context.Context, limit int) ([]models.Order, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Order
	err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("mode = ?", models.ModeLive).
		Where("status IN ?", []string{models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled}).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- positions ---------------------------------------------------------------

func (s *Store) GetOpenPosition(ctx context.Context, modelID, instrument string) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return s.GetOpenPositionTx(s.db.WithContext(ctx), modelID, instrument)
}

func (s *Store) GetOpenPositionTx(tx *gorm.DB, modelID, instrument string) (*models.Position, error) {
	if tx == nil {
		return nil, nil
	}
	var item models.Position
	err := tx.
		Where("model_id = ?", modelID).
		Where("instrument = ?", instrument).
		Where("closed_at IS NULL").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) InsertPositionTx(tx *gorm.DB, item *models.Position) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.Create(item).Error
}

func (s *Store) SavePositionTx(tx *gorm.DB, item *models.Position) error {
	if tx == nil || item == nil {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return tx.Save(item).Error
}

func (s *Store) SavePosition(ctx context.Context, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.SavePositionTx(s.db.WithContext(ctx), item)
}

func (s *Store) ListOpenPositionsByInstrument(ctx context.Context, instrument string) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("instrument = ?", instrument).
		Where("closed_at IS NULL").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func applyPositionFilters(query *gorm.DB, params repository.ListPositionsParams) *gorm.DB {
	if params.ModelID != nil && strings.TrimSpace(*params.ModelID) != "" {
		query = query.Where("model_id = ?", strings.TrimSpace(*params.ModelID))
	}
	if params.Instrument != nil && strings.TrimSpace(*params.Instrument) != "" {
		query = query.Where("instrument = ?", strings.TrimSpace(*params.Instrument))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyPositionFilters(s.db.WithContext(ctx).Model(&models.Position{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "opened_at")
	var items []models.Position
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := applyPositionFilters(s.db.WithContext(ctx).Model(&models.Position{}), params).Count(&total).Error
	return total, err
}

// --- trades ------------------------------------------------------------------

func (s *Store) InsertTradeTx(tx *gorm.DB, item *models.Trade) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.Create(item).Error
}

func applyTradeFilters(query *gorm.DB, params repository.ListTradesParams) *gorm.DB {
	if params.ModelID != nil && strings.TrimSpace(*params.ModelID) != "" {
		query = query.Where("model_id = ?", strings.TrimSpace(*params.ModelID))
	}
	if params.Instrument != nil && strings.TrimSpace(*params.Instrument) != "" {
		query = query.Where("instrument = ?", strings.TrimSpace(*params.Instrument))
	}
	if params.Mode != nil && strings.TrimSpace(*params.Mode) != "" {
		query = query.Where("mode = ?", strings.TrimSpace(*params.Mode))
	}
	return query
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyTradeFilters(s.db.WithContext(ctx).Model(&models.Trade{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "closed_at")
	var items []models.Trade
	if err := query.Limit(normalizeLimit(params.Limit, 200)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTrades(ctx context.Context, params repository.ListTradesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := applyTradeFilters(s.db.WithContext(ctx).Model(&models.Trade{}), params).Count(&total).Error
	return total, err
}

func (s *Store) ListTradesClosedBetween(ctx context.Context, modelID string, from, to time.Time) ([]models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Trade
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("model_id = ?", modelID).
		Where("closed_at >= ?", from).
		Where("closed_at < ?", to).
		Order("closed_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListModelIDsWithTrades(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Distinct("model_id").
		Order("model_id asc").
		Pluck("model_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- performance summaries -----------------------------------------------------

func (s *Store) UpsertPerformanceSummary(ctx context.Context, item *models.PerformanceSummary) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "model_id"},
			{Name: "period_type"},
			{Name: "period_start"},
			{Name: "period_end"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_trades",
			"winning_trades",
			"losing_trades",
			"win_rate",
			"total_pnl_usdt",
			"total_return_pct",
			"avg_win",
			"avg_loss",
			"profit_factor",
			"sharpe_ratio",
			"max_drawdown_pct",
			"max_drawdown_duration_days",
			"computed_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListPerformanceSummaries(ctx context.Context, params repository.ListSummariesParams) ([]models.PerformanceSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PerformanceSummary{})
	if params.ModelID != nil && strings.TrimSpace(*params.ModelID) != "" {
		query = query.Where("model_id = ?", strings.TrimSpace(*params.ModelID))
	}
	if params.PeriodType != nil && strings.TrimSpace(*params.PeriodType) != "" {
		query = query.Where("period_type = ?", strings.TrimSpace(*params.PeriodType))
	}
	var items []models.PerformanceSummary
	err := query.
		Order("period_start desc, period_type asc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- system state --------------------------------------------------------------

const systemStateID = 1

func (s *Store) GetSystemState(ctx context.Context) (*models.SystemState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return s.GetSystemStateTx(s.db.WithContext(ctx))
}

func (s *Store) GetSystemStateTx(tx *gorm.DB) (*models.SystemState, error) {
	if tx == nil {
		return nil, nil
	}
	var item models.SystemState
	err := tx.Where(models.SystemState{ID: systemStateID}).FirstOrCreate(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateSystemStateCAS(ctx context.Context, item *models.SystemState, expectedVersion uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	return s.UpdateSystemStateCASTx(s.db.WithContext(ctx), item, expectedVersion)
}

func (s *Store) UpdateSystemStateCASTx(tx *gorm.DB, item *models.SystemState, expectedVersion uint64) (bool, error) {
	if tx == nil || item == nil {
		return false, nil
	}
	item.ID = systemStateID
	item.UpdatedAt = time.Now().UTC()
	// Explicit column map: struct updates would skip zero values, and a
	// breaker reset is exactly a write of zero values.
	res := tx.
		Model(&models.SystemState{}).
		Where("id = ?", systemStateID).
		Where("version = ?", expectedVersion).
		Updates(map[string]any{
			"version":                item.Version,
			"kill_switch_active":     item.KillSwitchActive,
			"kill_switch_reason":     item.KillSwitchReason,
			"kill_switch_at":         item.KillSwitchAt,
			"circuit_breaker_active": item.CircuitBreakerActive,
			"circuit_breaker_reason": item.CircuitBreakerReason,
			"circuit_breaker_at":     item.CircuitBreakerAt,
			"counters_date":          item.CountersDate,
			"daily_pnl_usdt":         item.DailyPnLUSDT,
			"daily_trades_count":     item.DailyTradesCount,
			"consecutive_losses":     item.ConsecutiveLosses,
			"updated_at":             item.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// --- trading models --------------------------------------------------------------

func (s *Store) UpsertTradingModel(ctx context.Context, item *models.TradingModel) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name",
			"strategy",
			"instrument",
			"params",
			"metrics",
			"status",
			"activated_at",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetTradingModelByModelID(ctx context.Context, modelID string) (*models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradingModel
	err := s.db.WithContext(ctx).Where("model_id = ?", modelID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetActiveTradingModel(ctx context.Context) (*models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradingModel
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ModelStatusActive).
		Order("updated_at desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SetTradingModelStatus(ctx context.Context, modelID string, status string, activatedAt *time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if activatedAt != nil {
		updates["activated_at"] = *activatedAt
	}
	return s.db.WithContext(ctx).
		Model(&models.TradingModel{}).
		Where("model_id = ?", modelID).
		Updates(updates).Error
}

func (s *Store) ListTradingModels(ctx context.Context, params repository.ListModelsParams) ([]models.TradingModel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradingModel{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	var items []models.TradingModel
	err := query.
		Order("updated_at desc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings ---------------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ------------------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
