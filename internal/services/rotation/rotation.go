// Package rotation implements the BTC/gold-token rotation strategy: on a CDC
// flip the portfolio rotates between BTC and a gold token (XAUT on okx, PAXG
// on binance) toward the target allocation.
package rotation

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/exchange"
	"go.uber.org/zap"
)

// Ledger persists rotation audit rows alongside the trade ledgers.
type Ledger interface {
	RecordRotation(ctx context.Context, rec domain.RotationRecord) error
	RecordPurchase(ctx context.Context, rec domain.PurchaseRecord) error
	RecordSell(ctx context.Context, rec domain.SellRecord) error
}

// Notifier reports executed rotations.
type Notifier interface {
	Event(ctx context.Context, title string, fields map[string]any)
}

// Config controls the rotation strategy.
type Config struct {
	Enabled  bool
	Exchange domain.Exchange
	DryRun   bool
	// MinFlipUSDT suppresses dust rotations.
	MinFlipUSDT decimal.Decimal
	// TargetBTCPctUp / TargetBTCPctDown are the target BTC weights (0..1)
	// for the up and down signal.
	TargetBTCPctUp   decimal.Decimal
	TargetBTCPctDown decimal.Decimal
}

// DefaultConfig returns the rotation defaults: full flips on okx with a 500
// USDT minimum.
func DefaultConfig() Config {
	return Config{
		Exchange:         domain.ExchangeOKX,
		MinFlipUSDT:      decimal.NewFromInt(500),
		TargetBTCPctUp:   decimal.NewFromInt(1),
		TargetBTCPctDown: decimal.Zero,
	}
}

// GoldAssetFor returns the gold token traded on a venue.
func GoldAssetFor(ex domain.Exchange) string {
	if ex == domain.ExchangeOKX {
		return "XAUT"
	}
	return "PAXG"
}

// Plan describes one rotation leg.
type Plan struct {
	FromAsset   string
	ToAsset     string
	RotateUSDT  decimal.Decimal
	DeltaBTCPct decimal.Decimal
}

// PlanRotation computes the rotation needed to move the current BTC/gold
// split toward the target BTC weight. Returns false when there is nothing to
// rotate or the amount is below the minimum flip size.
func PlanRotation(btcUSD, goldUSD, targetBTCPct, minUSDT decimal.Decimal) (Plan, bool) {
	total := btcUSD.Add(goldUSD)
	if total.LessThanOrEqual(decimal.Zero) {
		return Plan{}, false
	}

	delta := total.Mul(targetBTCPct).Sub(btcUSD)
	var plan Plan
	if delta.GreaterThan(decimal.Zero) {
		plan = Plan{FromAsset: "GOLD", ToAsset: "BTC", RotateUSDT: decimal.Min(delta, goldUSD)}
	} else {
		plan = Plan{FromAsset: "BTC", ToAsset: "GOLD", RotateUSDT: decimal.Min(delta.Neg(), btcUSD)}
	}
	plan.DeltaBTCPct = delta.Div(total)

	if plan.RotateUSDT.LessThan(minUSDT) || plan.RotateUSDT.LessThanOrEqual(decimal.Zero) {
		return plan, false
	}
	return plan, true
}

// Service executes rotations on signal flips. It holds one adapter per leg:
// the BTC pair and the gold-token pair on the same venue.
type Service struct {
	cfg      Config
	btc      exchange.Adapter
	gold     exchange.Adapter
	ledger   Ledger
	notifier Notifier
	logger   *zap.Logger

	goldAsset  string
	lastSignal domain.Signal
}

// New creates a rotation service over the two per-leg adapters.
func New(cfg Config, btc, gold exchange.Adapter, ledger Ledger, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		cfg:        cfg,
		btc:        btc,
		gold:       gold,
		ledger:     ledger,
		notifier:   notifier,
		logger:     logger,
		goldAsset:  GoldAssetFor(cfg.Exchange),
		lastSignal: domain.SignalUnknown,
	}
}

// Tick observes the current signal and rotates on a flip. The first observed
// signal only seeds the baseline.
func (s *Service) Tick(ctx context.Context, signal domain.Signal) error {
	if !s.cfg.Enabled {
		return nil
	}

	prev := s.lastSignal
	s.lastSignal = signal
	if prev == domain.SignalUnknown || prev == signal {
		return nil
	}

	btcBal, err := s.btc.GetBalance(ctx, "BTC")
	if err != nil {
		return errors.Wrap(err, "btc balance")
	}
	goldBal, err := s.gold.GetBalance(ctx, s.goldAsset)
	if err != nil {
		return errors.Wrap(err, "gold balance")
	}
	btcPrice, err := s.btc.GetPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "btc price")
	}
	goldPrice, err := s.gold.GetPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "gold price")
	}

	btcUSD := btcBal.Free.Mul(btcPrice)
	goldUSD := goldBal.Free.Mul(goldPrice)

	targetPct := s.cfg.TargetBTCPctDown
	if signal == domain.SignalUp {
		targetPct = s.cfg.TargetBTCPctUp
	}

	plan, ok := PlanRotation(btcUSD, goldUSD, targetPct, s.cfg.MinFlipUSDT)
	if !ok {
		s.logger.Info("rotation suppressed",
			zap.String("reason", domain.ReasonBelowMinFlip),
			zap.String("rotate_usdt", plan.RotateUSDT.String()),
			zap.String("min_flip", s.cfg.MinFlipUSDT.String()))
		return nil
	}

	sellAdapter, buyAdapter := s.btc, s.gold
	priceFrom, availableUnits := btcPrice, btcBal.Free
	if plan.FromAsset == "GOLD" {
		sellAdapter, buyAdapter = s.gold, s.btc
		priceFrom, availableUnits = goldPrice, goldBal.Free
	}
	if priceFrom.LessThanOrEqual(decimal.Zero) || availableUnits.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	requestID := domain.NewRequestID("s4-rotation")
	sellUnits := decimal.Min(availableUnits, plan.RotateUSDT.Div(priceFrom))

	sellRes, err := sellAdapter.PlaceMarketSellQty(ctx, sellUnits)
	if err != nil {
		return errors.Wrap(err, "rotation sell")
	}
	realized := sellRes.CumQuoteQty
	buyRes, err := buyAdapter.PlaceMarketBuyQuote(ctx, realized)
	if err != nil {
		return errors.Wrap(err, "rotation buy")
	}

	sellRec := domain.SellRecord{
		Exchange:  s.cfg.Exchange,
		Symbol:    sellAdapter.Symbol(),
		Qty:       sellRes.ExecutedQty,
		Proceeds:  sellRes.CumQuoteQty,
		Price:     sellRes.AvgPrice,
		FeeAmount: sellRes.FeeAmount,
		FeeAsset:  sellRes.FeeAsset,
		OrderID:   sellRes.OrderID,
		RequestID: requestID,
	}
	if err := s.ledger.RecordSell(ctx, sellRec); err != nil {
		s.logger.Warn("rotation sell ledger write failed", zap.Error(err))
	}
	buyRec := domain.PurchaseRecord{
		Exchange:   s.cfg.Exchange,
		Symbol:     buyAdapter.Symbol(),
		Qty:        buyRes.ExecutedQty,
		QuoteSpent: buyRes.CumQuoteQty,
		Price:      buyRes.AvgPrice,
		FeeAmount:  buyRes.FeeAmount,
		FeeAsset:   buyRes.FeeAsset,
		OrderID:    buyRes.OrderID,
		RequestID:  requestID,
		Source:     "rotation",
	}
	if err := s.ledger.RecordPurchase(ctx, buyRec); err != nil {
		s.logger.Warn("rotation buy ledger write failed", zap.Error(err))
	}

	rec := domain.RotationRecord{
		Exchange:  s.cfg.Exchange,
		FromAsset: plan.FromAsset,
		ToAsset:   plan.ToAsset,
		Qty:       sellRes.ExecutedQty,
		Notional:  realized,
		DryRun:    s.cfg.DryRun,
		RequestID: requestID,
	}
	if err := s.ledger.RecordRotation(ctx, rec); err != nil {
		return errors.Wrap(err, "record rotation")
	}

	s.logger.Info("rotation executed",
		zap.String("exchange", s.cfg.Exchange.String()),
		zap.String("from", plan.FromAsset),
		zap.String("to", plan.ToAsset),
		zap.String("notional", realized.String()),
		zap.Bool("dry_run", s.cfg.DryRun))
	if s.notifier != nil {
		s.notifier.Event(ctx, "Portfolio rotation executed", map[string]any{
			"exchange":   s.cfg.Exchange.String(),
			"from":       plan.FromAsset,
			"to":         plan.ToAsset,
			"notional":   realized,
			"dry_run":    s.cfg.DryRun,
			"request_id": requestID,
		})
	}
	return nil
}
