package execution

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/ledger"
	"github.com/e-mzungu/okx-bot/internal/models"
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
	// sqlite allows one writer; a single pooled connection serializes
	// concurrent callers instead of surfacing busy errors.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = gdb.AutoMigrate(
		&models.Signal{},
		&models.Order{},
		&models.Position{},
		&models.Trade{},
		&models.SystemState{},
		&models.SystemSetting{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormrepository.New(gdb)
}

func newTestEngine(t *testing.T, repo repository.Repository, mode string, venue VenueClient) *Engine {
	t.Helper()
	stateStore := &state.Store{Repo: repo}
	led := &ledger.Ledger{
		Repo: repo,
		Closer: &ledger.Closer{
			Risk:  config.RiskConfig{MaxDailyLossUSDT: 200, MaxConsecutiveLosses: 3},
			Repo:  repo,
			State: stateStore,
		},
	}
	trading := config.TradingConfig{
		Mode:          mode,
		FeePct:        0.001,
		SlippagePct:   0.0005,
		SubmitRetries: 2,
		SubmitBackoff: time.Millisecond,
		SubmitTimeout: 50 * time.Millisecond,
	}
	return New(trading, repo, led, nil, nil, venue, nil)
}

func seedSignal(t *testing.T, repo repository.Repository, direction string) *models.Signal {
	t.Helper()
	exp := time.Now().UTC().Add(5 * time.Minute)
	sig := &models.Signal{
		SignalID:   "sig-" + NewClientOrderID()[:8],
		ModelID:    "m1",
		Instrument: "BTC-USDT",
		Direction:  direction,
		Price:      decimal.NewFromInt(50000),
		Status:     models.SignalStatusPending,
		ExpiresAt:  &exp,
	}
	if _, err := repo.InsertSignalIgnoreDup(context.Background(), sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	return sig
}

func TestPaperFillMath(t *testing.T) {
	price := decimal.NewFromInt(50000)
	quantity := decimal.RequireFromString("0.02")
	slippage := decimal.RequireFromString("0.0005")
	feePct := decimal.RequireFromString("0.001")

	filled, fee := PaperFill(models.OrderKindMarket, models.OrderSideBuy, price, quantity, slippage, feePct)
	if filled.Cmp(decimal.NewFromInt(50025)) != 0 {
		t.Fatalf("buy filled=%s want=50025", filled)
	}
	if fee.Cmp(decimal.RequireFromString("1.0005")) != 0 {
		t.Fatalf("fee=%s want=1.0005", fee)
	}

	filled, _ = PaperFill(models.OrderKindMarket, models.OrderSideSell, price, quantity, slippage, feePct)
	if filled.Cmp(decimal.NewFromInt(49975)) != 0 {
		t.Fatalf("sell filled=%s want=49975", filled)
	}

	filled, _ = PaperFill(models.OrderKindLimit, models.OrderSideBuy, price, quantity, slippage, feePct)
	if filled.Cmp(price) != 0 {
		t.Fatalf("limit filled=%s want=%s", filled, price)
	}
}

func TestPaperExecuteFillsAndOpensPosition(t *testing.T) {
	repo := openTestRepo(t)
	eng := newTestEngine(t, repo, models.ModePaper, nil)
	ctx := context.Background()
	sig := seedSignal(t, repo, models.DirectionBuy)

	ord, err := eng.Execute(ctx, sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ord.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled", ord.Status)
	}
	if ord.FilledPrice.Cmp(decimal.NewFromInt(50025)) != 0 {
		t.Fatalf("filled_price=%s want=50025", ord.FilledPrice)
	}
	if ord.Fee.Cmp(decimal.RequireFromString("1.0005")) != 0 {
		t.Fatalf("fee=%s want=1.0005", ord.Fee)
	}

	pos, err := repo.GetOpenPosition(ctx, "m1", "BTC-USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || pos.Quantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("position=%+v want open with 0.02", pos)
	}

	got, err := repo.GetSignalBySignalID(ctx, sig.SignalID)
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if got.Status != models.SignalStatusFilled {
		t.Fatalf("signal status=%s want=filled", got.Status)
	}
}

func TestShadowExecuteProducesNoFill(t *testing.T) {
	repo := openTestRepo(t)
	eng := newTestEngine(t, repo, models.ModeShadow, nil)
	ctx := context.Background()
	sig := seedSignal(t, repo, models.DirectionBuy)

	ord, err := eng.Execute(ctx, sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ord.Status != models.OrderStatusSubmitted {
		t.Fatalf("status=%s want=submitted", ord.Status)
	}
	if !ord.FilledQuantity.IsZero() {
		t.Fatalf("filled=%s want=0", ord.FilledQuantity)
	}

	pos, err := repo.GetOpenPosition(ctx, "m1", "BTC-USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos != nil {
		t.Fatalf("shadow order must not open a position")
	}
}

func TestExecuteUnknownMode(t *testing.T) {
	repo := openTestRepo(t)
	eng := newTestEngine(t, repo, "simulated", nil)
	sig := seedSignal(t, repo, models.DirectionBuy)

	_, err := eng.Execute(context.Background(), sig, decimal.RequireFromString("0.02"))
	if !errors.Is(err, ErrUnknownMode) {
		t.Fatalf("err=%v want=ErrUnknownMode", err)
	}
}

func TestApplyFillMergeMonotonic(t *testing.T) {
	repo := openTestRepo(t)
	eng := newTestEngine(t, repo, models.ModePaper, nil)
	ctx := context.Background()

	ord := &models.Order{
		ClientOrderID: NewClientOrderID(),
		ModelID:       "m1",
		Instrument:    "BTC-USDT",
		Side:          models.OrderSideBuy,
		Kind:          models.OrderKindMarket,
		Price:         decimal.NewFromInt(50000),
		Quantity:      decimal.RequireFromString("0.02"),
		Status:        models.OrderStatusSubmitted,
		Mode:          models.ModePaper,
	}
	if err := repo.InsertOrder(ctx, ord); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	half := FillReport{
		ClientOrderID:  ord.ClientOrderID,
		FilledQuantity: decimal.RequireFromString("0.01"),
		FilledPrice:    decimal.NewFromInt(50000),
		Fee:            decimal.RequireFromString("0.5"),
	}
	if err := eng.ApplyFill(ctx, half); err != nil {
		t.Fatalf("half fill: %v", err)
	}

	got, err := repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != models.OrderStatusPartiallyFilled {
		t.Fatalf("status=%s want=partially_filled", got.Status)
	}

	// A stale report below the recorded quantity is discarded.
	stale := half
	stale.FilledQuantity = decimal.RequireFromString("0.005")
	if err := eng.ApplyFill(ctx, stale); err != nil {
		t.Fatalf("stale fill: %v", err)
	}
	got, _ = repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if got.FilledQuantity.Cmp(decimal.RequireFromString("0.01")) != 0 {
		t.Fatalf("filled=%s want=0.01 after stale report", got.FilledQuantity)
	}

	// The same report again is a no-op.
	if err := eng.ApplyFill(ctx, half); err != nil {
		t.Fatalf("duplicate fill: %v", err)
	}
	pos, err := repo.GetOpenPosition(ctx, "m1", "BTC-USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Quantity.Cmp(decimal.RequireFromString("0.01")) != 0 {
		t.Fatalf("position quantity=%s want=0.01, duplicate must not double-book", pos.Quantity)
	}

	full := half
	full.FilledQuantity = decimal.RequireFromString("0.02")
	full.Fee = decimal.NewFromInt(1)
	if err := eng.ApplyFill(ctx, full); err != nil {
		t.Fatalf("full fill: %v", err)
	}
	got, _ = repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if got.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled", got.Status)
	}
	pos, _ = repo.GetOpenPosition(ctx, "m1", "BTC-USDT")
	if pos.Quantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("position quantity=%s want=0.02", pos.Quantity)
	}
	if pos.TotalFee.Cmp(decimal.NewFromInt(1)) != 0 {
		t.Fatalf("total fee=%s want=1", pos.TotalFee)
	}
}

func TestApplyFillConcurrentDuplicateReports(t *testing.T) {
	repo := openTestRepo(t)
	eng := newTestEngine(t, repo, models.ModePaper, nil)
	ctx := context.Background()

	ord := &models.Order{
		ClientOrderID: NewClientOrderID(),
		ModelID:       "m1",
		Instrument:    "BTC-USDT",
		Side:          models.OrderSideBuy,
		Kind:          models.OrderKindMarket,
		Price:         decimal.NewFromInt(50000),
		Quantity:      decimal.RequireFromString("0.02"),
		Status:        models.OrderStatusSubmitted,
		Mode:          models.ModePaper,
	}
	if err := repo.InsertOrder(ctx, ord); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	// The push stream and the reconciliation poll can deliver the same
	// cumulative report at the same time; only one may book the delta.
	rep := FillReport{
		ClientOrderID:  ord.ClientOrderID,
		FilledQuantity: decimal.RequireFromString("0.02"),
		FilledPrice:    decimal.NewFromInt(50000),
		Fee:            decimal.NewFromInt(1),
	}
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- eng.ApplyFill(ctx, rep)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("apply fill: %v", err)
		}
	}

	got, err := repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.FilledQuantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("filled=%s want=0.02", got.FilledQuantity)
	}
	pos, err := repo.GetOpenPosition(ctx, "m1", "BTC-USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || pos.Quantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("position=%+v want 0.02, concurrent duplicates must book once", pos)
	}
	if pos.TotalFee.Cmp(decimal.NewFromInt(1)) != 0 {
		t.Fatalf("total fee=%s want=1", pos.TotalFee)
	}
}

func TestApplyFillRejectsOverQuantity(t *testing.T) {
	repo := openTestRepo(t)
	eng := newTestEngine(t, repo, models.ModePaper, nil)
	ctx := context.Background()

	ord := &models.Order{
		ClientOrderID: NewClientOrderID(),
		ModelID:       "m1",
		Instrument:    "BTC-USDT",
		Side:          models.OrderSideBuy,
		Kind:          models.OrderKindMarket,
		Price:         decimal.NewFromInt(50000),
		Quantity:      decimal.RequireFromString("0.02"),
		Status:        models.OrderStatusSubmitted,
		Mode:          models.ModePaper,
	}
	if err := repo.InsertOrder(ctx, ord); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	err := eng.ApplyFill(ctx, FillReport{
		ClientOrderID:  ord.ClientOrderID,
		FilledQuantity: decimal.RequireFromString("0.03"),
		FilledPrice:    decimal.NewFromInt(50000),
	})
	if !errors.Is(err, ledger.ErrIntegrity) {
		t.Fatalf("err=%v want=ErrIntegrity", err)
	}
}

// --- live path -------------------------------------------------------------

// fakeVenue replays scripted submit and query outcomes in order, repeating
// the last entry once a script runs out.
type fakeVenue struct {
	submits []func(SubmitRequest) (SubmitAck, error)
	queries []func() (VenueOrder, error)

	submitCalls int
	queryCalls  int
}

func (f *fakeVenue) Submit(ctx context.Context, req SubmitRequest) (SubmitAck, error) {
	i := f.submitCalls
	f.submitCalls++
	if i >= len(f.submits) {
		i = len(f.submits) - 1
	}
	return f.submits[i](req)
}

func (f *fakeVenue) Query(ctx context.Context, instrument, clientOrderID string) (VenueOrder, error) {
	i := f.queryCalls
	f.queryCalls++
	if i >= len(f.queries) {
		i = len(f.queries) - 1
	}
	return f.queries[i]()
}

func (f *fakeVenue) Cancel(ctx context.Context, instrument, venueOrderID string) error {
	return nil
}

func (f *fakeVenue) Fills(ctx context.Context) (<-chan FillEvent, error) {
	ch := make(chan FillEvent)
	close(ch)
	return ch, nil
}

func TestLiveSubmitHappyPath(t *testing.T) {
	repo := openTestRepo(t)
	venue := &fakeVenue{
		submits: []func(SubmitRequest) (SubmitAck, error){
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{VenueOrderID: "V1"}, nil },
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)
	sig := seedSignal(t, repo, models.DirectionBuy)

	ord, err := eng.Execute(context.Background(), sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ord.Status != models.OrderStatusSubmitted {
		t.Fatalf("status=%s want=submitted", ord.Status)
	}
	if ord.OrderID != "V1" {
		t.Fatalf("order_id=%s want=V1", ord.OrderID)
	}
	if venue.submitCalls != 1 {
		t.Fatalf("submit calls=%d want=1", venue.submitCalls)
	}
}

func TestLiveQueryBeforeResubmit(t *testing.T) {
	repo := openTestRepo(t)
	ambiguous := errors.New("connection reset")
	venue := &fakeVenue{
		submits: []func(SubmitRequest) (SubmitAck, error){
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{}, ambiguous },
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{VenueOrderID: "V2"}, nil },
		},
		queries: []func() (VenueOrder, error){
			func() (VenueOrder, error) { return VenueOrder{}, ErrNotFound },
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)
	sig := seedSignal(t, repo, models.DirectionBuy)

	ord, err := eng.Execute(context.Background(), sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ord.OrderID != "V2" {
		t.Fatalf("order_id=%s want=V2", ord.OrderID)
	}
	if venue.queryCalls != 1 {
		t.Fatalf("query calls=%d want=1, resubmission requires a confirmed absence", venue.queryCalls)
	}
	if venue.submitCalls != 2 {
		t.Fatalf("submit calls=%d want=2", venue.submitCalls)
	}
}

func TestLiveAdoptsOrderFoundOnQuery(t *testing.T) {
	repo := openTestRepo(t)
	ambiguous := errors.New("timeout awaiting ack")
	venue := &fakeVenue{
		submits: []func(SubmitRequest) (SubmitAck, error){
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{}, ambiguous },
		},
		queries: []func() (VenueOrder, error){
			func() (VenueOrder, error) {
				return VenueOrder{
					VenueOrderID:   "V3",
					Status:         models.OrderStatusFilled,
					FilledQuantity: decimal.RequireFromString("0.02"),
					FilledPrice:    decimal.NewFromInt(50010),
					Fee:            decimal.RequireFromString("1.0002"),
				}, nil
			},
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)
	sig := seedSignal(t, repo, models.DirectionBuy)
	ctx := context.Background()

	ord, err := eng.Execute(ctx, sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if venue.submitCalls != 1 {
		t.Fatalf("submit calls=%d want=1, the landed order must be adopted", venue.submitCalls)
	}

	got, err := repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled", got.Status)
	}
	if got.OrderID != "V3" {
		t.Fatalf("order_id=%s want=V3", got.OrderID)
	}

	pos, err := repo.GetOpenPosition(ctx, "m1", "BTC-USDT")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil || pos.Quantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("position=%+v want open with 0.02", pos)
	}
}

func TestLiveRejectionIsTerminal(t *testing.T) {
	repo := openTestRepo(t)
	venue := &fakeVenue{
		submits: []func(SubmitRequest) (SubmitAck, error){
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{}, ErrRejected },
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)
	sig := seedSignal(t, repo, models.DirectionBuy)
	ctx := context.Background()

	ord, err := eng.Execute(ctx, sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if venue.submitCalls != 1 {
		t.Fatalf("submit calls=%d want=1, rejections are never retried", venue.submitCalls)
	}

	got, err := repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != models.OrderStatusRejected {
		t.Fatalf("status=%s want=rejected", got.Status)
	}

	sigRow, _ := repo.GetSignalBySignalID(ctx, sig.SignalID)
	if sigRow.Status != models.SignalStatusRejected {
		t.Fatalf("signal status=%s want=rejected", sigRow.Status)
	}
}

func TestLiveSubmissionTimeout(t *testing.T) {
	repo := openTestRepo(t)
	ambiguous := errors.New("gateway unreachable")
	venue := &fakeVenue{
		submits: []func(SubmitRequest) (SubmitAck, error){
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{}, ambiguous },
		},
		queries: []func() (VenueOrder, error){
			func() (VenueOrder, error) { return VenueOrder{}, ErrNotFound },
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)
	sig := seedSignal(t, repo, models.DirectionBuy)
	ctx := context.Background()

	ord, err := eng.Execute(ctx, sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	got, err := repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != models.OrderStatusRejected {
		t.Fatalf("status=%s want=rejected", got.Status)
	}
	if got.FailureReason != "submission_timeout" {
		t.Fatalf("failure_reason=%s want=submission_timeout", got.FailureReason)
	}
}

func TestReconcileMergesVenueFills(t *testing.T) {
	repo := openTestRepo(t)
	venue := &fakeVenue{
		submits: []func(SubmitRequest) (SubmitAck, error){
			func(SubmitRequest) (SubmitAck, error) { return SubmitAck{VenueOrderID: "V9"}, nil },
		},
		queries: []func() (VenueOrder, error){
			func() (VenueOrder, error) {
				return VenueOrder{
					VenueOrderID:   "V9",
					Status:         models.OrderStatusFilled,
					FilledQuantity: decimal.RequireFromString("0.02"),
					FilledPrice:    decimal.NewFromInt(50010),
					Fee:            decimal.RequireFromString("1.0002"),
				}, nil
			},
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)
	sig := seedSignal(t, repo, models.DirectionBuy)
	ctx := context.Background()

	ord, err := eng.Execute(ctx, sig, decimal.RequireFromString("0.02"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := eng.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := repo.GetOrderByClientOrderID(ctx, ord.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled", got.Status)
	}
	if got.FilledQuantity.Cmp(decimal.RequireFromString("0.02")) != 0 {
		t.Fatalf("filled=%s want=0.02", got.FilledQuantity)
	}
}

func TestReconcileContinuesPastBadOrder(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	bad := &models.Order{
		ClientOrderID: NewClientOrderID(),
		ModelID:       "m1",
		Instrument:    "BTC-USDT",
		Side:          models.OrderSideBuy,
		Kind:          models.OrderKindMarket,
		Price:         decimal.NewFromInt(50000),
		Quantity:      decimal.RequireFromString("0.02"),
		Status:        models.OrderStatusSubmitted,
		Mode:          models.ModeLive,
		CreatedAt:     now.Add(-time.Second),
	}
	good := &models.Order{
		ClientOrderID: NewClientOrderID(),
		ModelID:       "m1",
		Instrument:    "BTC-USDT",
		Side:          models.OrderSideBuy,
		Kind:          models.OrderKindMarket,
		Price:         decimal.NewFromInt(50000),
		Quantity:      decimal.RequireFromString("0.02"),
		Status:        models.OrderStatusSubmitted,
		Mode:          models.ModeLive,
		CreatedAt:     now,
	}
	for _, ord := range []*models.Order{bad, good} {
		if err := repo.InsertOrder(ctx, ord); err != nil {
			t.Fatalf("insert order: %v", err)
		}
	}

	venue := &fakeVenue{
		queries: []func() (VenueOrder, error){
			// The first order reports more than it asked for; the merge
			// refuses it and the poll moves on.
			func() (VenueOrder, error) {
				return VenueOrder{
					VenueOrderID:   "V5",
					Status:         models.OrderStatusPartiallyFilled,
					FilledQuantity: decimal.RequireFromString("0.05"),
					FilledPrice:    decimal.NewFromInt(50010),
				}, nil
			},
			func() (VenueOrder, error) {
				return VenueOrder{
					VenueOrderID:   "V6",
					Status:         models.OrderStatusFilled,
					FilledQuantity: decimal.RequireFromString("0.02"),
					FilledPrice:    decimal.NewFromInt(50010),
					Fee:            decimal.RequireFromString("1.0002"),
				}, nil
			},
		},
	}
	eng := newTestEngine(t, repo, models.ModeLive, venue)

	if err := eng.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	gotGood, err := repo.GetOrderByClientOrderID(ctx, good.ClientOrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if gotGood.Status != models.OrderStatusFilled {
		t.Fatalf("status=%s want=filled, one bad order must not starve the poll", gotGood.Status)
	}
	gotBad, _ := repo.GetOrderByClientOrderID(ctx, bad.ClientOrderID)
	if !gotBad.FilledQuantity.IsZero() {
		t.Fatalf("bad order filled=%s want=0", gotBad.FilledQuantity)
	}
}

func TestNewClientOrderIDWireSafe(t *testing.T) {
	id := NewClientOrderID()
	if len(id) != 32 {
		t.Fatalf("len=%d want=32", len(id))
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("id %q contains non-hex rune %q", id, r)
		}
	}
}
