package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/config"
	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/registry"
	"github.com/e-mzungu/okx-bot/internal/repository"
	"github.com/e-mzungu/okx-bot/internal/state"
)

const (
	ReasonKillSwitch     = "kill_switch"
	ReasonCircuitBreaker = "circuit_breaker"
	ReasonExpired        = "expired"
	ReasonModelInactive  = "model_inactive"
	ReasonPositionLimit  = "position_limit"
	ReasonRateLimited    = "rate_limited"
)

// Decision is the gate's verdict on one signal. Quantity and Notional are
// populated only on Allowed.
type Decision struct {
	Allowed  bool
	Reason   string
	Quantity decimal.Decimal
	Notional decimal.Decimal
}

// Gate admits or rejects signals against the system state and configured
// limits. It only reads the breaker and kill switch; tripping them is the
// trade closer's job.
type Gate struct {
	Trading  config.TradingConfig
	Risk     config.RiskConfig
	Repo     repository.Repository
	State    *state.Store
	Settings *state.SettingsService
	Registry *registry.Registry
	Logger   *zap.Logger
}

// Evaluate runs the checks in order, short-circuiting on the first hit.
// On allow it atomically increments the daily trade counter.
func (g *Gate) Evaluate(ctx context.Context, sig *models.Signal) (Decision, error) {
	if g == nil || g.State == nil || sig == nil {
		return Decision{}, nil
	}
	now := time.Now().UTC()

	st, err := g.State.Get(ctx)
	if err != nil {
		return Decision{}, err
	}
	if st.KillSwitchActive {
		return g.reject(sig, ReasonKillSwitch), nil
	}
	if st.CircuitBreakerActive && !g.breakerOverridden(ctx) {
		return g.reject(sig, ReasonCircuitBreaker), nil
	}
	if sig.ExpiresAt != nil && !sig.ExpiresAt.After(now) {
		return g.reject(sig, ReasonExpired), nil
	}
	if active, err := g.Registry.Active(ctx); err != nil {
		return Decision{}, err
	} else if active == nil || active.ModelID != sig.ModelID {
		return g.reject(sig, ReasonModelInactive), nil
	}

	quantity, notional := SizeOrder(g.Trading.PositionSizeUSDT, sig.Price)
	maxNotional := decimal.NewFromFloat(g.Risk.MaxPositionSizeUSDT)
	if maxNotional.IsPositive() && notional.GreaterThan(maxNotional) {
		return g.reject(sig, ReasonPositionLimit), nil
	}

	if g.Risk.MaxSignalsPerMinute > 0 && g.Repo != nil {
		recent, err := g.Repo.CountSignalsSince(ctx, sig.ModelID, now.Add(-time.Minute))
		if err != nil {
			return Decision{}, err
		}
		// The signal under evaluation is already persisted and counted.
		if recent > int64(g.Risk.MaxSignalsPerMinute) {
			return g.reject(sig, ReasonRateLimited), nil
		}
	}

	if _, err := g.State.Mutate(ctx, func(st *models.SystemState) error {
		st.DailyTradesCount++
		return nil
	}); err != nil {
		return Decision{}, err
	}

	return Decision{Allowed: true, Quantity: quantity, Notional: notional}, nil
}

func (g *Gate) reject(sig *models.Signal, reason string) Decision {
	if g.Logger != nil {
		g.Logger.Info("signal blocked",
			zap.String("signal_id", sig.SignalID),
			zap.String("model_id", sig.ModelID),
			zap.String("reason", reason),
		)
	}
	return Decision{Allowed: false, Reason: reason}
}

func (g *Gate) breakerOverridden(ctx context.Context) bool {
	if g.Settings == nil {
		return false
	}
	return g.Settings.IsEnabled(ctx, state.SettingBreakerOverride, false)
}

// SizeOrder converts the configured stake into an instrument quantity at
// the signal's reference price, truncated to 8 decimal places.
func SizeOrder(positionSizeUSDT float64, price decimal.Decimal) (quantity, notional decimal.Decimal) {
	if price.IsZero() || positionSizeUSDT <= 0 {
		return decimal.Zero, decimal.Zero
	}
	size := decimal.NewFromFloat(positionSizeUSDT)
	quantity = size.Div(price).Truncate(8)
	return quantity, quantity.Mul(price)
}
