package performance

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/e-mzungu/okx-bot/internal/models"
	"github.com/e-mzungu/okx-bot/internal/repository"
)

// annualization factor for daily returns.
var sqrt252 = math.Sqrt(252)

// Aggregator recomputes performance summaries from closed trades. The
// computation is a pure function of the trade set, so rerunning it against
// unchanged trades upserts identical rows.
type Aggregator struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// RecomputeAll walks every model that has trades.
func (a *Aggregator) RecomputeAll(ctx context.Context) error {
	if a == nil || a.Repo == nil {
		return nil
	}
	modelIDs, err := a.Repo.ListModelIDsWithTrades(ctx)
	if err != nil {
		return err
	}
	for _, modelID := range modelIDs {
		if err := a.RecomputeModel(ctx, modelID); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeModel rebuilds every period window that contains at least one
// of the model's trades, for all four period types.
func (a *Aggregator) RecomputeModel(ctx context.Context, modelID string) error {
	if a == nil || a.Repo == nil {
		return nil
	}
	trades, err := a.Repo.ListTradesClosedBetween(ctx, modelID, time.Unix(0, 0).UTC(), time.Now().UTC())
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}
	computedAt := time.Now().UTC()

	for _, periodType := range []string{models.PeriodDaily, models.PeriodWeekly, models.PeriodMonthly, models.PeriodAllTime} {
		for _, window := range windowsFor(periodType, trades) {
			inside := tradesWithin(trades, window.start, window.end)
			if len(inside) == 0 {
				continue
			}
			summary := Compute(modelID, periodType, window.start, window.end, inside)
			summary.ComputedAt = computedAt
			if err := a.Repo.UpsertPerformanceSummary(ctx, &summary); err != nil {
				return err
			}
		}
	}
	if a.Logger != nil {
		a.Logger.Debug("performance recomputed", zap.String("model_id", modelID), zap.Int("trades", len(trades)))
	}
	return nil
}

type window struct {
	start time.Time
	end   time.Time
}

func windowsFor(periodType string, trades []models.Trade) []window {
	if periodType == models.PeriodAllTime {
		return []window{{start: time.Unix(0, 0).UTC(), end: maxTime()}}
	}
	seen := map[time.Time]window{}
	for _, t := range trades {
		w := periodWindow(periodType, t.ClosedAt)
		seen[w.start] = w
	}
	out := make([]window, 0, len(seen))
	for _, w := range seen {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// periodWindow maps a close time onto its containing window: UTC day, ISO
// week from Monday, or calendar month.
func periodWindow(periodType string, at time.Time) window {
	at = at.UTC()
	switch periodType {
	case models.PeriodWeekly:
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return window{start: start, end: start.AddDate(0, 0, 7)}
	case models.PeriodMonthly:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return window{start: start, end: start.AddDate(0, 1, 0)}
	default:
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		return window{start: start, end: start.AddDate(0, 0, 1)}
	}
}

func maxTime() time.Time {
	return time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
}

func tradesWithin(trades []models.Trade, start, end time.Time) []models.Trade {
	out := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		closed := t.ClosedAt.UTC()
		if !closed.Before(start) && closed.Before(end) {
			out = append(out, t)
		}
	}
	return out
}

// Compute builds one summary from trades already ordered by closed_at, id.
func Compute(modelID, periodType string, start, end time.Time, trades []models.Trade) models.PerformanceSummary {
	summary := models.PerformanceSummary{
		ModelID:     modelID,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
		TotalTrades: len(trades),
	}

	totalPnL := decimal.Zero
	grossWins := decimal.Zero
	grossLosses := decimal.Zero
	entryNotional := decimal.Zero
	for _, t := range trades {
		totalPnL = totalPnL.Add(t.PnLUSDT)
		entryNotional = entryNotional.Add(t.EntryPrice.Mul(t.Quantity))
		if t.PnLUSDT.IsNegative() {
			summary.LosingTrades++
			grossLosses = grossLosses.Add(t.PnLUSDT)
		} else {
			summary.WinningTrades++
			grossWins = grossWins.Add(t.PnLUSDT)
		}
	}

	total := decimal.NewFromInt(int64(len(trades)))
	summary.TotalPnLUSDT = totalPnL
	summary.WinRate = decimal.NewFromInt(int64(summary.WinningTrades)).Div(total).Round(8)
	if entryNotional.IsPositive() {
		summary.TotalReturnPct = totalPnL.Div(entryNotional).Round(8)
	}
	if summary.WinningTrades > 0 {
		summary.AvgWin = grossWins.Div(decimal.NewFromInt(int64(summary.WinningTrades))).Round(8)
	}
	if summary.LosingTrades > 0 {
		summary.AvgLoss = grossLosses.Div(decimal.NewFromInt(int64(summary.LosingTrades))).Round(8)
		pf := grossWins.Div(grossLosses.Abs()).Round(8)
		summary.ProfitFactor = &pf
	}

	if sharpe, ok := sharpeRatio(trades); ok {
		d := decimal.NewFromFloat(sharpe).Round(8)
		summary.SharpeRatio = &d
	}

	ddPct, ddDays := maxDrawdown(trades)
	summary.MaxDrawdownPct = ddPct
	summary.MaxDrawdownDurationDays = ddDays
	return summary
}

// sharpeRatio works on the daily PnL series: mean over sample stdev,
// scaled by sqrt(252). Undefined (ok=false) below two distinct trade days
// or when the stdev is zero.
func sharpeRatio(trades []models.Trade) (float64, bool) {
	byDay := map[string]decimal.Decimal{}
	days := make([]string, 0)
	for _, t := range trades {
		day := t.ClosedAt.UTC().Format("2006-01-02")
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = byDay[day].Add(t.PnLUSDT)
	}
	if len(days) < 2 {
		return 0, false
	}
	sort.Strings(days)

	series := make([]float64, len(days))
	mean := 0.0
	for i, day := range days {
		series[i] = byDay[day].InexactFloat64()
		mean += series[i]
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(series) - 1)
	if variance == 0 {
		return 0, false
	}
	return mean / math.Sqrt(variance) * sqrt252, true
}

// maxDrawdown walks the cumulative-equity curve in closed_at order and
// returns the deepest peak-to-trough decline as a fraction of the peak,
// with its duration in whole days.
func maxDrawdown(trades []models.Trade) (decimal.Decimal, int) {
	equity := decimal.Zero
	peak := decimal.Zero
	peakAt := time.Time{}
	maxPct := decimal.Zero
	maxDays := 0

	for _, t := range trades {
		equity = equity.Add(t.PnLUSDT)
		if equity.GreaterThan(peak) {
			peak = equity
			peakAt = t.ClosedAt
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		pct := peak.Sub(equity).Div(peak).Round(8)
		if pct.GreaterThan(maxPct) {
			maxPct = pct
			maxDays = int(t.ClosedAt.Sub(peakAt).Hours() / 24)
		}
	}
	return maxPct, maxDays
}
