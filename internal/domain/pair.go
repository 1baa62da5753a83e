package domain

import "fmt"

// Pair is a trading pair of base and quote assets.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the underscore-separated representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation used by binance and
// bybit.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// DashSymbol returns the dash-separated instrument id used by okx.
func (p Pair) DashSymbol() string {
	return fmt.Sprintf("%s-%s", p.From, p.To)
}
