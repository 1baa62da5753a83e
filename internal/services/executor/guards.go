package executor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/exchange"
)

const twapInterval = "1m"

// GuardConfig carries the pre-trade guard thresholds.
type GuardConfig struct {
	MaxSpreadPct decimal.Decimal

	DepthEnabled         bool
	DepthMinNotionalUSDT decimal.Decimal
	DepthBandPct         decimal.Decimal
	DepthLevel           int

	TWAPEnabled         bool
	TWAPWindowMinutes   int
	TWAPMaxDeviationPct decimal.Decimal
}

// DefaultGuardConfig returns the production guard thresholds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxSpreadPct:         decimal.RequireFromString("0.60"),
		DepthEnabled:         true,
		DepthMinNotionalUSDT: decimal.NewFromInt(1000000),
		DepthBandPct:         decimal.NewFromInt(1),
		DepthLevel:           40,
		TWAPEnabled:          true,
		TWAPWindowMinutes:    15,
		TWAPMaxDeviationPct:  decimal.RequireFromString("1.5"),
	}
}

// GuardResult is a pass/block verdict with the metrics behind it. Blocks are
// values, not errors: a blocked order is a skip, never a failure.
type GuardResult struct {
	OK     bool
	Reason string
	Detail map[string]any
}

func guardPass(reason string) GuardResult {
	res := GuardResult{OK: true}
	if reason != "" {
		res.Detail = map[string]any{"reason": reason}
	}
	return res
}

func guardBlock(reason string, detail map[string]any) GuardResult {
	return GuardResult{Reason: reason, Detail: detail}
}

// Guards evaluates the pre-trade market-quality checks.
type Guards struct {
	cfg    GuardConfig
	dryRun bool
}

// NewGuards creates a guard set. Dry-run mode bypasses the notional cap so
// rehearsals can exercise the full pipeline.
func NewGuards(cfg GuardConfig, dryRun bool) *Guards {
	return &Guards{cfg: cfg, dryRun: dryRun}
}

// CheckSpread blocks when the top-of-book spread exceeds the threshold. A
// venue without top-of-book data passes.
func (g *Guards) CheckSpread(ctx context.Context, a exchange.Adapter) GuardResult {
	tob, err := a.GetTopOfBook(ctx)
	if errors.Is(err, exchange.ErrNotSupported) {
		return guardPass("not_supported")
	}
	if err != nil {
		return guardBlock(domain.ReasonLiquidityError, map[string]any{"error": err.Error()})
	}
	if tob.Bid.LessThanOrEqual(decimal.Zero) || tob.Ask.LessThanOrEqual(decimal.Zero) {
		return guardBlock(domain.ReasonInvalidTopOfBook, nil)
	}

	mid := tob.Bid.Add(tob.Ask).Div(decimal.NewFromInt(2))
	spreadPct := tob.Ask.Sub(tob.Bid).Div(mid).Mul(decimal.NewFromInt(100))
	detail := map[string]any{
		"spread_pct":    spreadPct,
		"threshold_pct": g.cfg.MaxSpreadPct,
		"bid":           tob.Bid,
		"ask":           tob.Ask,
	}
	if spreadPct.GreaterThan(g.cfg.MaxSpreadPct) {
		return guardBlock(domain.ReasonSpreadHigh, detail)
	}
	return GuardResult{OK: true, Detail: detail}
}

// CheckDepth blocks when order book depth within the price band falls below
// the minimum notional. A venue without depth data passes.
func (g *Guards) CheckDepth(ctx context.Context, a exchange.Adapter, price decimal.Decimal) GuardResult {
	if !g.cfg.DepthEnabled || price.LessThanOrEqual(decimal.Zero) {
		return guardPass("")
	}

	snapshot, err := a.GetDepthSnapshot(ctx, g.cfg.DepthLevel)
	if errors.Is(err, exchange.ErrNotSupported) {
		return guardPass(domain.ReasonDepthNotSupported)
	}
	if err != nil {
		return guardBlock(domain.ReasonDepthError, map[string]any{"error": err.Error()})
	}

	band := g.cfg.DepthBandPct.Div(decimal.NewFromInt(100))
	lower := price.Mul(decimal.NewFromInt(1).Sub(band))
	upper := price.Mul(decimal.NewFromInt(1).Add(band))

	bidNotional := decimal.Zero
	for _, lvl := range snapshot.Bids {
		if lvl.Price.GreaterThanOrEqual(lower) {
			bidNotional = bidNotional.Add(lvl.Price.Mul(lvl.Qty))
		}
	}
	askNotional := decimal.Zero
	for _, lvl := range snapshot.Asks {
		if lvl.Price.LessThanOrEqual(upper) {
			askNotional = askNotional.Add(lvl.Price.Mul(lvl.Qty))
		}
	}

	detail := map[string]any{
		"bid_notional": bidNotional,
		"ask_notional": askNotional,
		"threshold":    g.cfg.DepthMinNotionalUSDT,
		"band_pct":     g.cfg.DepthBandPct,
	}
	if decimal.Min(bidNotional, askNotional).LessThan(g.cfg.DepthMinNotionalUSDT) {
		detail["min_notional"] = decimal.Min(bidNotional, askNotional)
		return guardBlock(domain.ReasonDepthInsufficient, detail)
	}
	return GuardResult{OK: true, Detail: detail}
}

// CheckTWAP blocks when the current price deviates too far from the recent
// minute-candle TWAP. Missing or unusable data passes.
func (g *Guards) CheckTWAP(ctx context.Context, a exchange.Adapter, price decimal.Decimal) GuardResult {
	if !g.cfg.TWAPEnabled || price.LessThanOrEqual(decimal.Zero) || g.cfg.TWAPWindowMinutes <= 0 {
		return guardPass("")
	}

	candles, err := a.GetRecentCandles(ctx, twapInterval, g.cfg.TWAPWindowMinutes)
	if errors.Is(err, exchange.ErrNotSupported) {
		return guardPass(domain.ReasonTWAPNotSupported)
	}
	if err != nil {
		return guardBlock(domain.ReasonTWAPError, map[string]any{"error": err.Error()})
	}

	sum := decimal.Zero
	count := 0
	for _, c := range candles {
		if c.Close.GreaterThan(decimal.Zero) {
			sum = sum.Add(c.Close)
			count++
		}
	}
	if count == 0 {
		return guardPass(domain.ReasonTWAPNoData)
	}
	twap := sum.Div(decimal.NewFromInt(int64(count)))
	if twap.LessThanOrEqual(decimal.Zero) {
		return guardPass(domain.ReasonTWAPInvalid)
	}

	deviationPct := price.Sub(twap).Abs().Div(twap).Mul(decimal.NewFromInt(100))
	detail := map[string]any{
		"twap":           twap,
		"window_minutes": count,
		"deviation_pct":  deviationPct,
		"threshold_pct":  g.cfg.TWAPMaxDeviationPct,
	}
	if deviationPct.GreaterThan(g.cfg.TWAPMaxDeviationPct) {
		return guardBlock(domain.ReasonTWAPDeviation, detail)
	}
	return GuardResult{OK: true, Detail: detail}
}

// CheckNotionalCap blocks orders above the per-venue cap. Zero cap disables
// the check; dry-run always passes.
func (g *Guards) CheckNotionalCap(notional, cap decimal.Decimal) GuardResult {
	detail := map[string]any{"cap": cap, "attempt": notional}
	if g.dryRun {
		detail["reason"] = "dry_run"
		return GuardResult{OK: true, Detail: detail}
	}
	if cap.GreaterThan(decimal.Zero) && notional.GreaterThan(cap) {
		return guardBlock(domain.ReasonNotionalCap, detail)
	}
	return GuardResult{OK: true, Detail: detail}
}
