package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// BybitAdapter trades bybit spot through the V5 API.
type BybitAdapter struct {
	client *bybit.Client
	pair   domain.Pair
	dryRun bool
}

// NewBybitAdapter creates the bybit adapter.
func NewBybitAdapter(client *bybit.Client, pair domain.Pair, dryRun bool) *BybitAdapter {
	return &BybitAdapter{client: client, pair: pair, dryRun: dryRun}
}

func (a *BybitAdapter) Exchange() domain.Exchange {
	return domain.ExchangeBybit
}

func (a *BybitAdapter) Symbol() string {
	return a.pair.Symbol()
}

func (a *BybitAdapter) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	symbol := bybit.SymbolV5(a.Symbol())
	result, err := a.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to fetch bybit ticker")
	}
	if len(result.Result.Spot.List) == 0 {
		return decimal.Decimal{}, errors.Errorf("bybit API returned empty prices for %s", a.Symbol())
	}
	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

func (a *BybitAdapter) GetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	res, err := a.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return domain.Balance{}, errors.Wrap(err, "failed to get bybit wallet balance")
	}
	if len(res.Result.List) == 0 {
		return domain.Balance{}, nil
	}

	for _, coin := range res.Result.List[0].Coin {
		if string(coin.Coin) != asset {
			continue
		}
		free := parseDecimalOrZero(coin.WalletBalance)
		locked := parseDecimalOrZero(coin.Locked)
		return domain.Balance{Free: free.Sub(locked), Locked: locked}, nil
	}
	return domain.Balance{Free: decimal.Zero, Locked: decimal.Zero}, nil
}

func (a *BybitAdapter) GetFilters(ctx context.Context) (domain.Filters, error) {
	symbol := bybit.SymbolV5(a.Symbol())
	res, err := a.client.V5().Market().GetInstrumentsInfo(bybit.V5GetInstrumentsInfoParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.Filters{}, errors.Wrap(err, "failed to get bybit instrument info")
	}
	if len(res.Result.Spot.List) == 0 {
		return domain.Filters{}, errors.Errorf("bybit returned no instrument for %s", a.Symbol())
	}

	inst := res.Result.Spot.List[0]
	step := parseDecimalOrZero(inst.LotSizeFilter.BasePrecision)
	if step.LessThanOrEqual(decimal.Zero) {
		step = decimal.RequireFromString("0.000001")
	}
	minQty := parseDecimalOrZero(inst.LotSizeFilter.MinOrderQty)
	if minQty.LessThanOrEqual(decimal.Zero) {
		minQty = step
	}
	tick := parseDecimalOrZero(inst.PriceFilter.TickSize)
	if tick.LessThanOrEqual(decimal.Zero) {
		tick = decimal.RequireFromString("0.01")
	}
	minNotional := parseDecimalOrZero(inst.LotSizeFilter.MinOrderAmt)
	if minNotional.LessThanOrEqual(decimal.Zero) {
		minNotional = decimal.NewFromInt(10)
	}

	return domain.Filters{StepSize: step, MinQty: minQty, TickSize: tick, MinNotional: minNotional}, nil
}

func (a *BybitAdapter) PlaceMarketBuyQuote(ctx context.Context, quoteAmount decimal.Decimal) (domain.OrderResult, error) {
	price, err := a.GetPrice(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	filters, err := a.GetFilters(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	qty := domain.FloorToStep(quoteAmount.Div(price), filters.StepSize)
	if qty.LessThan(filters.MinQty) {
		return domain.OrderResult{}, errors.Errorf("quantity %s below minOrderQty %s", qty, filters.MinQty)
	}

	if a.dryRun {
		return synthOrder(qty, price), nil
	}

	// Spot market buy sizes in quote currency.
	res, err := a.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  "spot",
		Symbol:    bybit.SymbolV5(a.Symbol()),
		Side:      bybit.SideBuy,
		OrderType: bybit.OrderTypeMarket,
		Qty:       quoteAmount.String(),
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to create bybit buy order")
	}

	// The create-order response carries no fill data; approximate fills with
	// the last traded price.
	order := synthOrder(qty, price)
	order.OrderID = res.Result.OrderID
	return order, nil
}

func (a *BybitAdapter) PlaceMarketSellQty(ctx context.Context, baseQty decimal.Decimal) (domain.OrderResult, error) {
	filters, err := a.GetFilters(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	qty := domain.FloorToStep(baseQty, filters.StepSize)
	if qty.LessThan(filters.MinQty) {
		return domain.OrderResult{}, errors.Errorf("quantity %s below minOrderQty %s", qty, filters.MinQty)
	}
	price, err := a.GetPrice(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}

	if a.dryRun {
		return synthOrder(qty, price), nil
	}

	res, err := a.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  "spot",
		Symbol:    bybit.SymbolV5(a.Symbol()),
		Side:      bybit.SideSell,
		OrderType: bybit.OrderTypeMarket,
		Qty:       qty.String(),
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to create bybit sell order")
	}

	order := synthOrder(qty, price)
	order.OrderID = res.Result.OrderID
	return order, nil
}

func (a *BybitAdapter) GetTopOfBook(ctx context.Context) (domain.TopOfBook, error) {
	symbol := bybit.SymbolV5(a.Symbol())
	result, err := a.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.TopOfBook{}, errors.Wrap(err, "failed to fetch bybit ticker")
	}
	if len(result.Result.Spot.List) == 0 {
		return domain.TopOfBook{}, errors.Errorf("bybit API returned empty prices for %s", a.Symbol())
	}

	item := result.Result.Spot.List[0]
	return domain.TopOfBook{
		Bid: parseDecimalOrZero(item.Bid1Price),
		Ask: parseDecimalOrZero(item.Ask1Price),
	}, nil
}

// GetDepthSnapshot is not wired for bybit; the depth guard passes for this
// venue.
func (a *BybitAdapter) GetDepthSnapshot(ctx context.Context, limit int) (domain.DepthSnapshot, error) {
	return domain.DepthSnapshot{}, ErrNotSupported
}

func (a *BybitAdapter) GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error) {
	bybitInterval, err := bybitIntervalFor(interval)
	if err != nil {
		return nil, err
	}

	result, err := a.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: "spot",
		Symbol:   bybit.SymbolV5(a.Symbol()),
		Interval: bybitInterval,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from bybit for %s", a.Symbol())
	}

	list := result.Result.List
	// bybit returns klines newest first; reverse to oldest first.
	candles := make([]domain.Candle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		k := list[i]
		ms, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			continue
		}
		openTime := time.UnixMilli(ms)
		candles = append(candles, domain.Candle{
			OpenTime:  openTime,
			CloseTime: openTime.Add(bybitIntervalDuration(bybitInterval)),
			Open:      parseDecimalOrZero(k.Open),
			High:      parseDecimalOrZero(k.High),
			Low:       parseDecimalOrZero(k.Low),
			Close:     parseDecimalOrZero(k.Close),
			Volume:    parseDecimalOrZero(k.Volume),
		})
	}
	return candles, nil
}

func bybitIntervalFor(interval string) (bybit.Interval, error) {
	switch interval {
	case "1m":
		return bybit.Interval("1"), nil
	case "1h":
		return bybit.Interval("60"), nil
	case "1d":
		return bybit.Interval("D"), nil
	}
	return "", errors.Errorf("unsupported bybit interval %q", interval)
}

func bybitIntervalDuration(interval bybit.Interval) time.Duration {
	switch interval {
	case "D":
		return 24 * time.Hour
	case "60":
		return time.Hour
	default:
		return time.Minute
	}
}
