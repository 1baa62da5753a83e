// Package exchange provides a uniform trading interface over distinct
// exchange wire protocols.
package exchange

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// ErrNotSupported marks an optional adapter capability the venue cannot
// serve. Guards treat it as a pass, not a failure.
var ErrNotSupported = errors.New("capability not supported")

// DryRunOrderID marks synthesized fills that never reached a venue.
const DryRunOrderID = "-1"

// Adapter is the uniform trading surface implemented once per venue.
// Quantity alignment always floors to the venue step size; callers are
// responsible for min-quantity and min-notional checks before placing,
// though adapters may also reject defensively.
type Adapter interface {
	Exchange() domain.Exchange
	Symbol() string
	GetPrice(ctx context.Context) (decimal.Decimal, error)
	GetBalance(ctx context.Context, asset string) (domain.Balance, error)
	GetFilters(ctx context.Context) (domain.Filters, error)
	PlaceMarketBuyQuote(ctx context.Context, quoteAmount decimal.Decimal) (domain.OrderResult, error)
	PlaceMarketSellQty(ctx context.Context, baseQty decimal.Decimal) (domain.OrderResult, error)

	// Optional capabilities; return ErrNotSupported when the venue cannot
	// serve them.
	GetTopOfBook(ctx context.Context) (domain.TopOfBook, error)
	GetDepthSnapshot(ctx context.Context, limit int) (domain.DepthSnapshot, error)
	GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error)
}

// Options configures adapter construction.
type Options struct {
	Pair    domain.Pair
	DryRun  bool
	Testnet bool

	BinanceKey    string
	BinanceSecret string

	OKXKey        string
	OKXSecret     string
	OKXPassphrase string
	// OKXMaxUSDT caps the quote size of a single okx order; zero disables
	// the cap.
	OKXMaxUSDT decimal.Decimal
	// OKXSimulated targets okx demo trading via the x-simulated-trading
	// header.
	OKXSimulated bool
	// OKXLive must be set explicitly before real okx orders are placed;
	// otherwise the adapter behaves as dry-run for order placement.
	OKXLive bool

	BybitKey    string
	BybitSecret string
}

// synthOrder builds the dry-run OrderResult from current price and quantity.
func synthOrder(qty, price decimal.Decimal) domain.OrderResult {
	return domain.OrderResult{
		OrderID:     DryRunOrderID,
		ExecutedQty: qty,
		CumQuoteQty: qty.Mul(price),
		AvgPrice:    price,
	}
}
