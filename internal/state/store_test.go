package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
	gormrepository "github.com/e-mzungu/okx-bot/internal/repository/gorm"
)

func openTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.SystemState{}, &models.SystemSetting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormrepository.New(gdb)
}

func TestGetInitializesState(t *testing.T) {
	store := &Store{Repo: openTestRepo(t)}
	st, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.ID != 1 {
		t.Fatalf("id=%d want=1", st.ID)
	}
	if st.KillSwitchActive || st.CircuitBreakerActive {
		t.Fatalf("fresh state must have no flags set: %+v", st)
	}
}

func TestMutateBumpsVersion(t *testing.T) {
	store := &Store{Repo: openTestRepo(t)}
	ctx := context.Background()

	before, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	after, err := store.Mutate(ctx, func(st *models.SystemState) error {
		st.DailyTradesCount++
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if after.Version != before.Version+1 {
		t.Fatalf("version=%d want=%d", after.Version, before.Version+1)
	}
	if after.DailyTradesCount != 1 {
		t.Fatalf("daily_trades_count=%d want=1", after.DailyTradesCount)
	}
}

func TestCASLosesAgainstStaleVersion(t *testing.T) {
	repo := openTestRepo(t)
	store := &Store{Repo: repo}
	ctx := context.Background()

	cur, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Advance the row behind the stale reader's back.
	if _, err := store.Mutate(ctx, func(st *models.SystemState) error { return nil }); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	next := *cur
	next.Version = cur.Version + 1
	ok, err := repo.UpdateSystemStateCAS(ctx, &next, cur.Version)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if ok {
		t.Fatalf("cas with stale version must not win")
	}
}

func TestKillSwitchTransitions(t *testing.T) {
	store := &Store{Repo: openTestRepo(t)}
	ctx := context.Background()

	if err := store.EngageKillSwitch(ctx, "", "ops"); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("err=%v want=ErrReasonRequired", err)
	}
	if err := store.EngageKillSwitch(ctx, "manual halt", "ops"); err != nil {
		t.Fatalf("engage: %v", err)
	}
	if err := store.EngageKillSwitch(ctx, "again", "ops"); !errors.Is(err, ErrConflict) {
		t.Fatalf("double engage err=%v want=ErrConflict", err)
	}

	st, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !st.KillSwitchActive || st.KillSwitchAt == nil {
		t.Fatalf("kill switch not recorded: %+v", st)
	}

	if err := store.ClearKillSwitch(ctx, "resolved", "ops"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.ClearKillSwitch(ctx, "resolved", "ops"); !errors.Is(err, ErrConflict) {
		t.Fatalf("double clear err=%v want=ErrConflict", err)
	}
}

func TestResetBreakerRules(t *testing.T) {
	store := &Store{Repo: openTestRepo(t)}
	ctx := context.Background()

	if err := store.ResetBreaker(ctx, "untripped", "ops"); !errors.Is(err, ErrConflict) {
		t.Fatalf("reset untripped err=%v want=ErrConflict", err)
	}

	now := time.Now().UTC()
	if _, err := store.Mutate(ctx, func(st *models.SystemState) error {
		st.CircuitBreakerActive = true
		st.CircuitBreakerReason = "daily_loss_limit"
		st.CircuitBreakerAt = &now
		st.ConsecutiveLosses = 3
		return nil
	}); err != nil {
		t.Fatalf("trip: %v", err)
	}

	if err := store.EngageKillSwitch(ctx, "halt", "ops"); err != nil {
		t.Fatalf("engage: %v", err)
	}
	if err := store.ResetBreaker(ctx, "checked", "ops"); !errors.Is(err, ErrConflict) {
		t.Fatalf("reset under kill switch err=%v want=ErrConflict", err)
	}
	if err := store.ClearKillSwitch(ctx, "resolved", "ops"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if err := store.ResetBreaker(ctx, "checked", "ops"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.CircuitBreakerActive {
		t.Fatalf("breaker still active after reset")
	}
	if st.ConsecutiveLosses != 0 {
		t.Fatalf("consecutive_losses=%d want=0 after manual reset", st.ConsecutiveLosses)
	}
}

func TestRolloverResetsDailyCountersOnly(t *testing.T) {
	store := &Store{Repo: openTestRepo(t)}
	ctx := context.Background()

	if _, err := store.Mutate(ctx, func(st *models.SystemState) error {
		st.DailyPnLUSDT = decimal.NewFromInt(-50)
		st.DailyTradesCount = 7
		st.ConsecutiveLosses = 2
		st.CountersDate = "2020-01-01"
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !st.DailyPnLUSDT.IsZero() || st.DailyTradesCount != 0 {
		t.Fatalf("daily counters not reset: pnl=%s trades=%d", st.DailyPnLUSDT, st.DailyTradesCount)
	}
	if st.ConsecutiveLosses != 2 {
		t.Fatalf("consecutive_losses=%d want=2, rollover must not touch the streak", st.ConsecutiveLosses)
	}
	if st.CountersDate != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("counters_date=%s want today", st.CountersDate)
	}
}

func TestSettingsDefaultsAndOverride(t *testing.T) {
	repo := openTestRepo(t)
	svc := &SettingsService{Repo: repo}
	ctx := context.Background()

	if err := svc.EnsureDefaults(ctx); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	if !svc.IsEnabled(ctx, SettingExecutorEnabled, false) {
		t.Fatalf("executor switch must default to enabled")
	}
	if svc.IsEnabled(ctx, SettingBreakerOverride, false) {
		t.Fatalf("breaker override must default to disabled")
	}

	if err := svc.SetEnabled(ctx, SettingExecutorEnabled, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if svc.IsEnabled(ctx, SettingExecutorEnabled, true) {
		t.Fatalf("executor switch must read back disabled")
	}

	// A second EnsureDefaults must not clobber operator overrides.
	if err := svc.EnsureDefaults(ctx); err != nil {
		t.Fatalf("ensure defaults again: %v", err)
	}
	if svc.IsEnabled(ctx, SettingExecutorEnabled, true) {
		t.Fatalf("defaults must not overwrite an existing switch")
	}
}
