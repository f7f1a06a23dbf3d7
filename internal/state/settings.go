package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

const (
	SettingExecutorEnabled   = "executor.enabled"
	SettingReconcilerEnabled = "reconciler.enabled"
	SettingAggregatorEnabled = "aggregator.enabled"
	SettingBreakerOverride   = "risk.breaker_override"
	SettingTradingMode       = "trading.mode"
)

func defaultSwitches() map[string]bool {
	return map[string]bool{
		SettingExecutorEnabled:   true,
		SettingReconcilerEnabled: true,
		SettingAggregatorEnabled: true,
		SettingBreakerOverride:   false,
	}
}

// SettingsService reads and writes DB-backed runtime switches. Seeding is
// upgrade-only: an existing OFF switch whose default turned ON is raised,
// an ON switch is never lowered.
type SettingsService struct {
	Repo repository.Repository
}

func (s *SettingsService) EnsureDefaults(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range defaultSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			if enabled {
				var current bool
				if err := json.Unmarshal(existing.Value, &current); err == nil && !current {
					raw, _ := json.Marshal(true)
					existing.Value = datatypes.JSON(raw)
					existing.UpdatedAt = now
					if err := s.Repo.UpsertSystemSetting(ctx, existing); err != nil {
						return err
					}
				}
			}
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	now := time.Now().UTC()
	return s.Repo.UpsertSystemSetting(ctx, &models.SystemSetting{
		Key:         strings.TrimSpace(key),
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// String reads a string-valued setting, e.g. the trading mode override.
func (s *SettingsService) String(ctx context.Context, key string, fallback string) string {
	if s == nil || s.Repo == nil {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, strings.TrimSpace(key))
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var value string
	if err := json.Unmarshal(item.Value, &value); err != nil || strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
