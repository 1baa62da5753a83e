package exchange

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// BinanceAdapter trades spot via the official REST API.
type BinanceAdapter struct {
	client *binance.Client
	pair   domain.Pair
	dryRun bool
}

// NewBinanceAdapter creates the binance adapter. Testnet selection happens
// at client construction in the factory.
func NewBinanceAdapter(client *binance.Client, pair domain.Pair, dryRun bool) *BinanceAdapter {
	return &BinanceAdapter{client: client, pair: pair, dryRun: dryRun}
}

func (a *BinanceAdapter) Exchange() domain.Exchange {
	return domain.ExchangeBinance
}

func (a *BinanceAdapter) Symbol() string {
	return a.pair.Symbol()
}

func (a *BinanceAdapter) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	prices, err := a.client.NewListPricesService().Symbol(a.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to fetch binance price")
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, errors.Errorf("binance returned no price for %s", a.Symbol())
	}
	return decimal.NewFromString(prices[0].Price)
}

func (a *BinanceAdapter) GetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	account, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.Balance{}, errors.Wrap(err, "failed to get binance account")
	}

	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return domain.Balance{}, errors.Wrap(err, "failed to parse free balance")
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return domain.Balance{}, errors.Wrap(err, "failed to parse locked balance")
		}
		return domain.Balance{Free: free, Locked: locked}, nil
	}

	return domain.Balance{Free: decimal.Zero, Locked: decimal.Zero}, nil
}

func (a *BinanceAdapter) GetFilters(ctx context.Context) (domain.Filters, error) {
	info, err := a.client.NewExchangeInfoService().Symbol(a.Symbol()).Do(ctx)
	if err != nil {
		return domain.Filters{}, errors.Wrap(err, "failed to get binance exchange info")
	}

	for _, s := range info.Symbols {
		if s.Symbol != a.Symbol() {
			continue
		}
		return parseBinanceFilters(s.Filters), nil
	}

	return domain.Filters{}, errors.Errorf("binance exchange info has no symbol %s", a.Symbol())
}

// parseBinanceFilters reads the raw filter maps by filterType. Helper
// accessors on the SDK struct have drifted across versions, the raw maps
// have not.
func parseBinanceFilters(raw []map[string]interface{}) domain.Filters {
	f := domain.Filters{
		StepSize:    decimal.RequireFromString("0.000001"),
		MinQty:      decimal.RequireFromString("0.000001"),
		TickSize:    decimal.RequireFromString("0.01"),
		MinNotional: decimal.NewFromInt(10),
	}
	for _, m := range raw {
		switch m["filterType"] {
		case "LOT_SIZE":
			if v := filterDecimal(m, "stepSize"); v.GreaterThan(decimal.Zero) {
				f.StepSize = v
			}
			if v := filterDecimal(m, "minQty"); v.GreaterThan(decimal.Zero) {
				f.MinQty = v
			}
		case "PRICE_FILTER":
			if v := filterDecimal(m, "tickSize"); v.GreaterThan(decimal.Zero) {
				f.TickSize = v
			}
		case "NOTIONAL", "MIN_NOTIONAL":
			if v := filterDecimal(m, "minNotional"); v.GreaterThan(decimal.Zero) {
				f.MinNotional = v
			}
		}
	}
	return f
}

func filterDecimal(m map[string]interface{}, key string) decimal.Decimal {
	s, ok := m[key].(string)
	if !ok {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (a *BinanceAdapter) PlaceMarketBuyQuote(ctx context.Context, quoteAmount decimal.Decimal) (domain.OrderResult, error) {
	if a.dryRun {
		price, err := a.GetPrice(ctx)
		if err != nil {
			return domain.OrderResult{}, err
		}
		filters, err := a.GetFilters(ctx)
		if err != nil {
			return domain.OrderResult{}, err
		}
		qty := domain.FloorToStep(quoteAmount.Div(price), filters.StepSize)
		return synthOrder(qty, price), nil
	}

	order, err := a.client.NewCreateOrderService().Symbol(a.Symbol()).
		Side(binance.SideTypeBuy).Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteAmount.String()).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to place binance market buy")
	}

	return binanceOrderResult(order)
}

func (a *BinanceAdapter) PlaceMarketSellQty(ctx context.Context, baseQty decimal.Decimal) (domain.OrderResult, error) {
	filters, err := a.GetFilters(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	qty := domain.FloorToStep(baseQty, filters.StepSize)
	if qty.LessThan(filters.MinQty) {
		return domain.OrderResult{}, errors.Errorf("quantity %s below minQty %s", qty, filters.MinQty)
	}
	price, err := a.GetPrice(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if qty.Mul(price).LessThan(filters.MinNotional) {
		return domain.OrderResult{}, errors.Errorf("notional %s below minNotional %s", qty.Mul(price), filters.MinNotional)
	}

	if a.dryRun {
		return synthOrder(qty, price), nil
	}

	order, err := a.client.NewCreateOrderService().Symbol(a.Symbol()).
		Side(binance.SideTypeSell).Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to place binance market sell")
	}

	return binanceOrderResult(order)
}

func binanceOrderResult(order *binance.CreateOrderResponse) (domain.OrderResult, error) {
	executedQty, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	cqq, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to parse cumulative quote quantity")
	}

	avg := decimal.Zero
	if executedQty.GreaterThan(decimal.Zero) {
		avg = cqq.Div(executedQty)
	}

	fee := decimal.Zero
	feeAsset := ""
	for _, fill := range order.Fills {
		c, err := decimal.NewFromString(fill.Commission)
		if err != nil {
			continue
		}
		fee = fee.Add(c)
		if feeAsset == "" {
			feeAsset = fill.CommissionAsset
		}
	}

	return domain.OrderResult{
		OrderID:     decimal.NewFromInt(order.OrderID).String(),
		ExecutedQty: executedQty,
		CumQuoteQty: cqq,
		AvgPrice:    avg,
		FeeAmount:   fee,
		FeeAsset:    feeAsset,
	}, nil
}

func (a *BinanceAdapter) GetTopOfBook(ctx context.Context) (domain.TopOfBook, error) {
	tickers, err := a.client.NewListBookTickersService().Symbol(a.Symbol()).Do(ctx)
	if err != nil {
		return domain.TopOfBook{}, errors.Wrap(err, "failed to fetch binance book ticker")
	}
	if len(tickers) == 0 {
		return domain.TopOfBook{}, errors.Errorf("binance returned no book ticker for %s", a.Symbol())
	}

	bid, err := decimal.NewFromString(tickers[0].BidPrice)
	if err != nil {
		return domain.TopOfBook{}, errors.Wrap(err, "failed to parse bid price")
	}
	ask, err := decimal.NewFromString(tickers[0].AskPrice)
	if err != nil {
		return domain.TopOfBook{}, errors.Wrap(err, "failed to parse ask price")
	}
	return domain.TopOfBook{Bid: bid, Ask: ask}, nil
}

func (a *BinanceAdapter) GetDepthSnapshot(ctx context.Context, limit int) (domain.DepthSnapshot, error) {
	depth, err := a.client.NewDepthService().Symbol(a.Symbol()).Limit(limit).Do(ctx)
	if err != nil {
		return domain.DepthSnapshot{}, errors.Wrap(err, "failed to fetch binance depth")
	}

	snapshot := domain.DepthSnapshot{
		Bids: make([]domain.DepthLevel, 0, len(depth.Bids)),
		Asks: make([]domain.DepthLevel, 0, len(depth.Asks)),
	}
	for _, b := range depth.Bids {
		price, perr := decimal.NewFromString(b.Price)
		qty, qerr := decimal.NewFromString(b.Quantity)
		if perr != nil || qerr != nil {
			continue
		}
		snapshot.Bids = append(snapshot.Bids, domain.DepthLevel{Price: price, Qty: qty})
	}
	for _, ask := range depth.Asks {
		price, perr := decimal.NewFromString(ask.Price)
		qty, qerr := decimal.NewFromString(ask.Quantity)
		if perr != nil || qerr != nil {
			continue
		}
		snapshot.Asks = append(snapshot.Asks, domain.DepthLevel{Price: price, Qty: qty})
	}
	return snapshot, nil
}

func (a *BinanceAdapter) GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error) {
	klines, err := a.client.NewKlinesService().Symbol(a.Symbol()).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch binance klines")
	}

	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		open, oerr := decimal.NewFromString(k.Open)
		high, herr := decimal.NewFromString(k.High)
		low, lerr := decimal.NewFromString(k.Low)
		closePrice, cerr := decimal.NewFromString(k.Close)
		volume, verr := decimal.NewFromString(k.Volume)
		if oerr != nil || herr != nil || lerr != nil || cerr != nil || verr != nil {
			continue
		}
		candles = append(candles, domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime),
			CloseTime: time.UnixMilli(k.CloseTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return candles, nil
}
