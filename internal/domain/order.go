package domain

import "github.com/shopspring/decimal"

// OrderResult is the immutable fill summary for one placed market order.
// Dry-run adapters synthesize it from the current price with OrderID "-1".
type OrderResult struct {
	OrderID     string
	ExecutedQty decimal.Decimal
	// CumQuoteQty is the cumulative quote amount actually spent or received.
	CumQuoteQty decimal.Decimal
	AvgPrice    decimal.Decimal
	FeeAmount   decimal.Decimal
	FeeAsset    string
}

// Balance is the free/locked split of one asset on one venue.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Filters carries the exchange trading constraints for a symbol.
type Filters struct {
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// TopOfBook is the best bid/ask snapshot used by the spread guard.
type TopOfBook struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// DepthLevel is one price level of an order book snapshot.
type DepthLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// DepthSnapshot is an order book excerpt used by the depth guard.
type DepthSnapshot struct {
	Bids []DepthLevel
	Asks []DepthLevel
}

// FloorToStep rounds v toward zero to the largest multiple of step that does
// not exceed it. A non-positive step returns v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
