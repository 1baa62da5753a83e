package exchange

import (
	"github.com/adshao/go-binance/v2"
	bybitv2 "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// ForExchange constructs the adapter for one venue. The switch is exhaustive
// over domain.Exchange so an unsupported venue fails loudly at the boundary.
func ForExchange(ex domain.Exchange, opts Options) (Adapter, error) {
	if opts.Pair.From == "" || opts.Pair.To == "" {
		opts.Pair = domain.Pair{From: "BTC", To: "USDT"}
	}

	switch ex {
	case domain.ExchangeBinance:
		binance.UseTestnet = opts.Testnet
		client := binance.NewClient(opts.BinanceKey, opts.BinanceSecret)
		return NewBinanceAdapter(client, opts.Pair, opts.DryRun), nil
	case domain.ExchangeOKX:
		return NewOKXAdapter(opts), nil
	case domain.ExchangeBybit:
		client := bybitv2.NewClient().WithAuth(opts.BybitKey, opts.BybitSecret)
		return NewBybitAdapter(client, opts.Pair, opts.DryRun), nil
	}
	return nil, errors.Errorf("unknown exchange %q", ex)
}
