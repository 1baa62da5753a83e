package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HalfSellPolicy selects which venues a half-sell hits on a bearish flip.
type HalfSellPolicy string

const (
	PolicyAutoProportional HalfSellPolicy = "auto_proportional"
	PolicyBinanceOnly      HalfSellPolicy = "binance_only"
	PolicyOKXOnly          HalfSellPolicy = "okx_only"
)

// StrategyState is the singleton mutable state of the strategy. It is only
// touched from the scheduler task; persistence is the store collaborator's
// concern.
type StrategyState struct {
	LastSignal     Signal
	CDCEnabled     bool
	ActiveExchange Exchange

	// ReserveUSDT is the global reserve; per-venue reserves live in
	// ReserveByExchange. All reserves are clamped at zero.
	ReserveUSDT       decimal.Decimal
	ReserveByExchange map[Exchange]decimal.Decimal

	SellPercent           decimal.Decimal
	SellPercentByExchange map[Exchange]decimal.Decimal
	HalfSellPolicy        HalfSellPolicy

	// MaxNotionalByExchange caps the quote size of a single order per venue.
	// Zero means uncapped.
	MaxNotionalByExchange map[Exchange]decimal.Decimal

	// RedEpochActive prevents repeated half-sells while the signal stays down.
	RedEpochActive   bool
	LastHalfSellAt   time.Time
	LastTransitionAt time.Time
}

// NewStrategyState returns a state with initialized maps and unknown signal.
func NewStrategyState() *StrategyState {
	return &StrategyState{
		LastSignal:            SignalUnknown,
		ActiveExchange:        ExchangeBinance,
		HalfSellPolicy:        PolicyAutoProportional,
		ReserveByExchange:     make(map[Exchange]decimal.Decimal),
		SellPercentByExchange: make(map[Exchange]decimal.Decimal),
		MaxNotionalByExchange: make(map[Exchange]decimal.Decimal),
	}
}

// IncrementReserve adds amount to the global reserve. Non-positive amounts
// are ignored.
func (s *StrategyState) IncrementReserve(amount decimal.Decimal) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	s.ReserveUSDT = s.ReserveUSDT.Add(amount)
}

// DecrementReserve subtracts amount from the global reserve, clamping at zero.
func (s *StrategyState) DecrementReserve(amount decimal.Decimal) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	s.ReserveUSDT = clampZero(s.ReserveUSDT.Sub(amount))
}

// IncrementExchangeReserve adds amount to one venue's reserve. Non-positive
// amounts are ignored.
func (s *StrategyState) IncrementExchangeReserve(ex Exchange, amount decimal.Decimal) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	s.ReserveByExchange[ex] = s.reserveFor(ex).Add(amount)
}

// DecrementExchangeReserve subtracts amount from one venue's reserve,
// clamping at zero.
func (s *StrategyState) DecrementExchangeReserve(ex Exchange, amount decimal.Decimal) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return
	}
	s.ReserveByExchange[ex] = clampZero(s.reserveFor(ex).Sub(amount))
}

// SellPercentFor resolves the half-sell percent for a venue, falling back to
// the global percent when no per-venue value is configured.
func (s *StrategyState) SellPercentFor(ex Exchange) decimal.Decimal {
	if pct, ok := s.SellPercentByExchange[ex]; ok && pct.GreaterThan(decimal.Zero) {
		return pct
	}
	return s.SellPercent
}

func (s *StrategyState) reserveFor(ex Exchange) decimal.Decimal {
	if v, ok := s.ReserveByExchange[ex]; ok {
		return v
	}
	return decimal.Zero
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return v
}
