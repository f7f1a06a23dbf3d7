package risk

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/registry"
	"github.com/e-mzungu/okx-bot/internal/repository"
	gormrepository "github.com/e-mzungu/okx-bot/internal/repository/gorm"
	"github.com/e-mzungu/okx-bot/internal/state"
)

func openTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = gdb.AutoMigrate(
		&models.Signal{},
		&models.TradingModel{},
		&models.SystemState{},
		&models.SystemSetting{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormrepository.New(gdb)
}

func newTestGate(t *testing.T, repo repository.Repository) *Gate {
	t.Helper()
	stateStore := &state.Store{Repo: repo}
	return &Gate{
		Trading: config.TradingConfig{
			PositionSizeUSDT: 1000,
		},
		Risk: config.RiskConfig{
			MaxPositionSizeUSDT:  1000,
			MaxDailyLossUSDT:     200,
			MaxConsecutiveLosses: 3,
			MaxSignalsPerMinute:  5,
		},
		Repo:     repo,
		State:    stateStore,
		Settings: &state.SettingsService{Repo: repo},
		Registry: &registry.Registry{Repo: repo},
	}
}

func activateModel(t *testing.T, repo repository.Repository, modelID string) {
	t.Helper()
	ctx := context.Background()
	err := repo.UpsertTradingModel(ctx, &models.TradingModel{
		ModelID: modelID,
		Name:    modelID,
		Status:  models.ModelStatusApproved,
	})
	if err != nil {
		t.Fatalf("upsert model: %v", err)
	}
	reg := &registry.Registry{Repo: repo}
	if err := reg.Activate(ctx, modelID); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func testSignal(modelID string) *models.Signal {
	exp := time.Now().UTC().Add(5 * time.Minute)
	return &models.Signal{
		SignalID:   "sig-1",
		ModelID:    modelID,
		Instrument: "BTC-USDT",
		Direction:  models.DirectionBuy,
		Price:      decimal.NewFromInt(50000),
		Status:     models.SignalStatusPending,
		ExpiresAt:  &exp,
	}
}

func TestEvaluateAllowsAndCounts(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	activateModel(t, repo, "m1")
	ctx := context.Background()

	dec, err := gate.Evaluate(ctx, testSignal("m1"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("allowed=false reason=%s want allowed", dec.Reason)
	}
	if dec.Quantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("quantity=%s want=0.02", dec.Quantity)
	}
	if dec.Notional.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("notional=%s want=1000", dec.Notional)
	}

	st, err := gate.State.Get(ctx)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.DailyTradesCount != 1 {
		t.Fatalf("daily_trades_count=%d want=1", st.DailyTradesCount)
	}
}

func TestEvaluateKillSwitchFirst(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	activateModel(t, repo, "m1")
	ctx := context.Background()

	if err := gate.State.EngageKillSwitch(ctx, "halt", "ops"); err != nil {
		t.Fatalf("engage: %v", err)
	}
	dec, err := gate.Evaluate(ctx, testSignal("m1"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonKillSwitch {
		t.Fatalf("reason=%s want=%s", dec.Reason, ReasonKillSwitch)
	}
}

func TestEvaluateCircuitBreakerAndOverride(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	activateModel(t, repo, "m1")
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := gate.State.Mutate(ctx, func(st *models.SystemState) error {
		st.CircuitBreakerActive = true
		st.CircuitBreakerReason = "daily_loss_limit"
		st.CircuitBreakerAt = &now
		return nil
	}); err != nil {
		t.Fatalf("trip: %v", err)
	}

	dec, err := gate.Evaluate(ctx, testSignal("m1"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonCircuitBreaker {
		t.Fatalf("reason=%s want=%s", dec.Reason, ReasonCircuitBreaker)
	}

	if err := gate.Settings.SetEnabled(ctx, state.SettingBreakerOverride, true); err != nil {
		t.Fatalf("set override: %v", err)
	}
	dec, err = gate.Evaluate(ctx, testSignal("m1"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("override set, got reason=%s want allowed", dec.Reason)
	}
}

func TestEvaluateExpired(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	activateModel(t, repo, "m1")

	sig := testSignal("m1")
	past := time.Now().UTC().Add(-time.Second)
	sig.ExpiresAt = &past

	dec, err := gate.Evaluate(context.Background(), sig)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonExpired {
		t.Fatalf("reason=%s want=%s", dec.Reason, ReasonExpired)
	}
}

func TestEvaluateModelInactive(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	activateModel(t, repo, "m1")

	dec, err := gate.Evaluate(context.Background(), testSignal("m2"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonModelInactive {
		t.Fatalf("reason=%s want=%s", dec.Reason, ReasonModelInactive)
	}
}

func TestEvaluatePositionLimit(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	gate.Trading.PositionSizeUSDT = 2000
	activateModel(t, repo, "m1")

	dec, err := gate.Evaluate(context.Background(), testSignal("m1"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonPositionLimit {
		t.Fatalf("reason=%s want=%s", dec.Reason, ReasonPositionLimit)
	}
}

func TestEvaluateRateLimited(t *testing.T) {
	repo := openTestRepo(t)
	gate := newTestGate(t, repo)
	gate.Risk.MaxSignalsPerMinute = 2
	activateModel(t, repo, "m1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sig := testSignal("m1")
		sig.SignalID = sig.SignalID + string(rune('a'+i))
		if _, err := repo.InsertSignalIgnoreDup(ctx, sig); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	dec, err := gate.Evaluate(ctx, testSignal("m1"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonRateLimited {
		t.Fatalf("reason=%s want=%s", dec.Reason, ReasonRateLimited)
	}
}

func TestSizeOrderTruncates(t *testing.T) {
	quantity, notional := SizeOrder(1000, decimal.NewFromInt(50000))
	if quantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("quantity=%s want=0.02", quantity)
	}
	if notional.Cmp(decimal.NewFromInt(1000)) != 0 {
		t.Fatalf("notional=%s want=1000", notional)
	}

	quantity, _ = SizeOrder(100, decimal.NewFromInt(3))
	if quantity.Cmp(decimal.RequireFromString("33.33333333")) != 0 {
		t.Fatalf("quantity=%s want=33.33333333", quantity)
	}

	quantity, notional = SizeOrder(0, decimal.NewFromInt(3))
	if !quantity.IsZero() || !notional.IsZero() {
		t.Fatalf("zero stake must size to zero, got %s/%s", quantity, notional)
	}
}
