package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

const (
	okxBaseURL     = "https://www.okx.com"
	okxHTTPTimeout = 10 * time.Second
	// okx does not publish a spot min-notional in instrument metadata; 10
	// USDT is the documented floor for market orders.
	okxMinNotionalUSDT = 10
)

// OKXAdapter trades okx spot through the signed v5 REST API.
type OKXAdapter struct {
	httpClient *http.Client
	baseURL    string
	pair       domain.Pair

	apiKey     string
	apiSecret  string
	passphrase string

	// maxUSDT caps single-order quote size; zero disables the cap.
	maxUSDT   decimal.Decimal
	dryRun    bool
	simulated bool
	// live must be explicitly enabled before real orders are sent; without
	// it order placement synthesizes fills like dry-run.
	live bool
}

// NewOKXAdapter creates the okx adapter.
func NewOKXAdapter(opts Options) *OKXAdapter {
	return &OKXAdapter{
		httpClient: &http.Client{Timeout: okxHTTPTimeout},
		baseURL:    okxBaseURL,
		pair:       opts.Pair,
		apiKey:     opts.OKXKey,
		apiSecret:  opts.OKXSecret,
		passphrase: opts.OKXPassphrase,
		maxUSDT:    opts.OKXMaxUSDT,
		dryRun:     opts.DryRun,
		simulated:  opts.OKXSimulated,
		live:       opts.OKXLive,
	}
}

func (a *OKXAdapter) Exchange() domain.Exchange {
	return domain.ExchangeOKX
}

func (a *OKXAdapter) Symbol() string {
	return a.pair.DashSymbol()
}

type okxEnvelope struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []json.RawMessage `json:"data"`
}

// sign builds the OK-ACCESS headers: HMAC-SHA256 over ts+method+path+body,
// base64 encoded. For GET requests path must include the query string.
func (a *OKXAdapter) sign(req *http.Request, method, pathWithQuery, body string) error {
	if a.apiKey == "" || a.apiSecret == "" || a.passphrase == "" {
		return errors.New("okx API credentials are not configured")
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(ts + method + pathWithQuery + body))
	req.Header.Set("OK-ACCESS-KEY", a.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", a.passphrase)
	req.Header.Set("Content-Type", "application/json")
	if a.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	return nil
}

// request performs one okx REST call. Private calls are signed; public ones
// (signed=false) skip credentials so price/filters work without keys.
func (a *OKXAdapter) request(ctx context.Context, method, path string, query url.Values, payload any, signed bool) (*okxEnvelope, error) {
	pathWithQuery := path
	if len(query) > 0 {
		pathWithQuery = path + "?" + query.Encode()
	}

	var body string
	var bodyReader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal okx payload")
		}
		body = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+pathWithQuery, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build okx request")
	}
	if signed {
		if err := a.sign(req, method, pathWithQuery, body); err != nil {
			return nil, err
		}
	} else if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "okx %s %s failed", method, path)
	}
	defer resp.Body.Close()

	var envelope okxEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, errors.Wrapf(err, "failed to decode okx %s response", path)
	}
	if resp.StatusCode != http.StatusOK || envelope.Code != "0" {
		return nil, errors.Errorf("okx %s error: status=%d code=%s msg=%s", path, resp.StatusCode, envelope.Code, envelope.Msg)
	}
	return &envelope, nil
}

func (a *OKXAdapter) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	query := url.Values{"instId": {a.Symbol()}}
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/market/ticker", query, nil, false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(envelope.Data) == 0 {
		return decimal.Decimal{}, errors.Errorf("okx returned no ticker for %s", a.Symbol())
	}

	var ticker struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(envelope.Data[0], &ticker); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "failed to decode okx ticker")
	}
	return decimal.NewFromString(ticker.Last)
}

func (a *OKXAdapter) GetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, true)
	if err != nil {
		return domain.Balance{}, err
	}
	if len(envelope.Data) == 0 {
		return domain.Balance{}, nil
	}

	var account struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailBal  string `json:"availBal"`
			CashBal   string `json:"cashBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(envelope.Data[0], &account); err != nil {
		return domain.Balance{}, errors.Wrap(err, "failed to decode okx balance")
	}

	for _, d := range account.Details {
		if d.Ccy != asset {
			continue
		}
		free := parseDecimalOrZero(d.AvailBal)
		if free.IsZero() {
			free = parseDecimalOrZero(d.CashBal)
		}
		return domain.Balance{Free: free, Locked: parseDecimalOrZero(d.FrozenBal)}, nil
	}
	return domain.Balance{Free: decimal.Zero, Locked: decimal.Zero}, nil
}

func (a *OKXAdapter) GetFilters(ctx context.Context) (domain.Filters, error) {
	query := url.Values{"instType": {"SPOT"}, "instId": {a.Symbol()}}
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/public/instruments", query, nil, false)
	if err != nil {
		return domain.Filters{}, err
	}
	if len(envelope.Data) == 0 {
		return domain.Filters{}, errors.Errorf("okx returned no instrument for %s", a.Symbol())
	}

	var inst struct {
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
		TickSz string `json:"tickSz"`
	}
	if err := json.Unmarshal(envelope.Data[0], &inst); err != nil {
		return domain.Filters{}, errors.Wrap(err, "failed to decode okx instrument")
	}

	lotSz := parseDecimalOrZero(inst.LotSz)
	if lotSz.LessThanOrEqual(decimal.Zero) {
		lotSz = decimal.RequireFromString("0.000001")
	}
	minSz := parseDecimalOrZero(inst.MinSz)
	if minSz.LessThanOrEqual(decimal.Zero) {
		minSz = lotSz
	}
	tickSz := parseDecimalOrZero(inst.TickSz)
	if tickSz.LessThanOrEqual(decimal.Zero) {
		tickSz = decimal.RequireFromString("0.01")
	}

	return domain.Filters{
		StepSize:    lotSz,
		MinQty:      minSz,
		TickSize:    tickSz,
		MinNotional: decimal.NewFromInt(okxMinNotionalUSDT),
	}, nil
}

func (a *OKXAdapter) PlaceMarketBuyQuote(ctx context.Context, quoteAmount decimal.Decimal) (domain.OrderResult, error) {
	spend := quoteAmount
	if a.maxUSDT.GreaterThan(decimal.Zero) && spend.GreaterThan(a.maxUSDT) {
		spend = a.maxUSDT
	}

	if a.dryRun || !a.live {
		return a.synthBuy(ctx, spend)
	}

	// Quote-sized market buy first; some instruments reject tgtCcy, fall
	// back to a base-sized order.
	payload := map[string]string{
		"instId":  a.Symbol(),
		"tdMode":  "cash",
		"side":    "buy",
		"ordType": "market",
		"tgtCcy":  "quote_ccy",
		"sz":      spend.String(),
	}
	envelope, err := a.request(ctx, http.MethodPost, "/api/v5/trade/order", nil, payload, true)
	if err != nil {
		filters, ferr := a.GetFilters(ctx)
		if ferr != nil {
			return domain.OrderResult{}, ferr
		}
		price, perr := a.GetPrice(ctx)
		if perr != nil {
			return domain.OrderResult{}, perr
		}
		qty := domain.FloorToStep(spend.Div(price), filters.StepSize)
		if qty.LessThan(filters.MinQty) {
			return domain.OrderResult{}, errors.Errorf("quantity %s below okx minSz %s", qty, filters.MinQty)
		}
		fallback := map[string]string{
			"instId":  a.Symbol(),
			"tdMode":  "cash",
			"side":    "buy",
			"ordType": "market",
			"sz":      qty.String(),
		}
		envelope, err = a.request(ctx, http.MethodPost, "/api/v5/trade/order", nil, fallback, true)
		if err != nil {
			return domain.OrderResult{}, err
		}
	}

	return a.fetchOrderFills(ctx, envelope)
}

func (a *OKXAdapter) PlaceMarketSellQty(ctx context.Context, baseQty decimal.Decimal) (domain.OrderResult, error) {
	filters, err := a.GetFilters(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	qty := domain.FloorToStep(baseQty, filters.StepSize)
	if qty.LessThan(filters.MinQty) {
		return domain.OrderResult{}, errors.Errorf("quantity %s below okx minSz %s", qty, filters.MinQty)
	}
	price, err := a.GetPrice(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}

	if a.dryRun || !a.live {
		return synthOrder(qty, price), nil
	}

	payload := map[string]string{
		"instId":  a.Symbol(),
		"tdMode":  "cash",
		"side":    "sell",
		"ordType": "market",
		"sz":      qty.String(),
	}
	envelope, err := a.request(ctx, http.MethodPost, "/api/v5/trade/order", nil, payload, true)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return a.fetchOrderFills(ctx, envelope)
}

func (a *OKXAdapter) synthBuy(ctx context.Context, spend decimal.Decimal) (domain.OrderResult, error) {
	price, err := a.GetPrice(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	filters, err := a.GetFilters(ctx)
	if err != nil {
		return domain.OrderResult{}, err
	}
	qty := domain.FloorToStep(spend.Div(price), filters.StepSize)
	if qty.LessThan(filters.MinQty) {
		return domain.OrderResult{}, errors.Errorf("quantity %s below okx minSz %s", qty, filters.MinQty)
	}
	return synthOrder(qty, price), nil
}

// fetchOrderFills reads the placed order id from the create response and
// queries order details for executed size and average price.
func (a *OKXAdapter) fetchOrderFills(ctx context.Context, created *okxEnvelope) (domain.OrderResult, error) {
	if len(created.Data) == 0 {
		return domain.OrderResult{}, errors.New("okx order response has no data")
	}
	var placed struct {
		OrdID string `json:"ordId"`
	}
	if err := json.Unmarshal(created.Data[0], &placed); err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to decode okx order id")
	}
	if placed.OrdID == "" {
		return domain.OrderResult{}, errors.New("okx order missing ordId")
	}

	query := url.Values{"instId": {a.Symbol()}, "ordId": {placed.OrdID}}
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/trade/order", query, nil, true)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if len(envelope.Data) == 0 {
		return domain.OrderResult{}, errors.Errorf("okx order %s not found after placement", placed.OrdID)
	}

	var detail struct {
		AvgPx     string `json:"avgPx"`
		AccFillSz string `json:"accFillSz"`
		Fee       string `json:"fee"`
		FeeCcy    string `json:"feeCcy"`
	}
	if err := json.Unmarshal(envelope.Data[0], &detail); err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "failed to decode okx order detail")
	}

	avgPx := parseDecimalOrZero(detail.AvgPx)
	fillSz := parseDecimalOrZero(detail.AccFillSz)
	if avgPx.LessThanOrEqual(decimal.Zero) || fillSz.LessThanOrEqual(decimal.Zero) {
		// Market order details can lag; fall back to the latest price.
		price, perr := a.GetPrice(ctx)
		if perr != nil {
			return domain.OrderResult{}, perr
		}
		avgPx = price
	}

	// okx reports fees as negative deltas.
	fee := parseDecimalOrZero(detail.Fee).Abs()

	return domain.OrderResult{
		OrderID:     placed.OrdID,
		ExecutedQty: fillSz,
		CumQuoteQty: fillSz.Mul(avgPx),
		AvgPrice:    avgPx,
		FeeAmount:   fee,
		FeeAsset:    detail.FeeCcy,
	}, nil
}

func (a *OKXAdapter) GetTopOfBook(ctx context.Context) (domain.TopOfBook, error) {
	query := url.Values{"instId": {a.Symbol()}}
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/market/ticker", query, nil, false)
	if err != nil {
		return domain.TopOfBook{}, err
	}
	if len(envelope.Data) == 0 {
		return domain.TopOfBook{}, errors.Errorf("okx returned no ticker for %s", a.Symbol())
	}

	var ticker struct {
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
	}
	if err := json.Unmarshal(envelope.Data[0], &ticker); err != nil {
		return domain.TopOfBook{}, errors.Wrap(err, "failed to decode okx ticker")
	}
	return domain.TopOfBook{Bid: parseDecimalOrZero(ticker.BidPx), Ask: parseDecimalOrZero(ticker.AskPx)}, nil
}

func (a *OKXAdapter) GetDepthSnapshot(ctx context.Context, limit int) (domain.DepthSnapshot, error) {
	query := url.Values{"instId": {a.Symbol()}, "sz": {strconv.Itoa(limit)}}
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/market/books", query, nil, false)
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	if len(envelope.Data) == 0 {
		return domain.DepthSnapshot{}, errors.Errorf("okx returned no order book for %s", a.Symbol())
	}

	var book struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(envelope.Data[0], &book); err != nil {
		return domain.DepthSnapshot{}, errors.Wrap(err, "failed to decode okx order book")
	}

	return domain.DepthSnapshot{Bids: okxDepthLevels(book.Bids), Asks: okxDepthLevels(book.Asks)}, nil
}

func okxDepthLevels(rows [][]string) []domain.DepthLevel {
	levels := make([]domain.DepthLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, perr := decimal.NewFromString(row[0])
		qty, qerr := decimal.NewFromString(row[1])
		if perr != nil || qerr != nil {
			continue
		}
		levels = append(levels, domain.DepthLevel{Price: price, Qty: qty})
	}
	return levels
}

func (a *OKXAdapter) GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error) {
	bar := okxBar(interval)
	query := url.Values{"instId": {a.Symbol()}, "bar": {bar}, "limit": {strconv.Itoa(limit)}}
	envelope, err := a.request(ctx, http.MethodGet, "/api/v5/market/candles", query, nil, false)
	if err != nil {
		return nil, err
	}

	// okx returns candles newest first; reverse to oldest first.
	candles := make([]domain.Candle, 0, len(envelope.Data))
	for i := len(envelope.Data) - 1; i >= 0; i-- {
		var row []string
		if err := json.Unmarshal(envelope.Data[i], &row); err != nil || len(row) < 6 {
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		openTime := time.UnixMilli(ms)
		candles = append(candles, domain.Candle{
			OpenTime:  openTime,
			CloseTime: openTime.Add(okxBarDuration(bar)),
			Open:      parseDecimalOrZero(row[1]),
			High:      parseDecimalOrZero(row[2]),
			Low:       parseDecimalOrZero(row[3]),
			Close:     parseDecimalOrZero(row[4]),
			Volume:    parseDecimalOrZero(row[5]),
		})
	}
	return candles, nil
}

// okxBar maps binance-style intervals onto okx bar names.
func okxBar(interval string) string {
	switch interval {
	case "1d":
		return "1D"
	case "1h":
		return "1H"
	default:
		return interval
	}
}

func okxBarDuration(bar string) time.Duration {
	switch bar {
	case "1D":
		return 24 * time.Hour
	case "1H":
		return time.Hour
	default:
		return time.Minute
	}
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
