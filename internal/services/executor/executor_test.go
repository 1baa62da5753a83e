package executor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/exchange"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	ex      domain.Exchange
	price   decimal.Decimal
	balance map[string]domain.Balance
	filters domain.Filters

	tob       domain.TopOfBook
	tobErr    error
	depth     domain.DepthSnapshot
	depthErr  error
	candles   []domain.Candle
	candleErr error

	buyResult  domain.OrderResult
	buyErr     error
	sellResult domain.OrderResult
	sellErr    error

	buys  []decimal.Decimal
	sells []decimal.Decimal
}

func newFakeAdapter(ex domain.Exchange) *fakeAdapter {
	return &fakeAdapter{
		ex:      ex,
		price:   decimal.NewFromInt(50000),
		balance: make(map[string]domain.Balance),
		filters: domain.Filters{
			StepSize:    decimal.RequireFromString("0.00001"),
			MinQty:      decimal.RequireFromString("0.00001"),
			TickSize:    decimal.RequireFromString("0.01"),
			MinNotional: decimal.NewFromInt(10),
		},
		// optional capabilities are absent unless a test provides data, so
		// the guards pass by default
		tobErr:    exchange.ErrNotSupported,
		depthErr:  exchange.ErrNotSupported,
		candleErr: exchange.ErrNotSupported,
	}
}

func (f *fakeAdapter) Exchange() domain.Exchange { return f.ex }
func (f *fakeAdapter) Symbol() string            { return "BTCUSDT" }

func (f *fakeAdapter) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeAdapter) GetBalance(ctx context.Context, asset string) (domain.Balance, error) {
	return f.balance[asset], nil
}

func (f *fakeAdapter) GetFilters(ctx context.Context) (domain.Filters, error) {
	return f.filters, nil
}

func (f *fakeAdapter) PlaceMarketBuyQuote(ctx context.Context, quoteAmount decimal.Decimal) (domain.OrderResult, error) {
	f.buys = append(f.buys, quoteAmount)
	if f.buyErr != nil {
		return domain.OrderResult{}, f.buyErr
	}
	if f.buyResult.OrderID != "" {
		return f.buyResult, nil
	}
	qty := quoteAmount.Div(f.price)
	return domain.OrderResult{OrderID: "order-1", ExecutedQty: qty, CumQuoteQty: quoteAmount, AvgPrice: f.price}, nil
}

func (f *fakeAdapter) PlaceMarketSellQty(ctx context.Context, baseQty decimal.Decimal) (domain.OrderResult, error) {
	f.sells = append(f.sells, baseQty)
	if f.sellErr != nil {
		return domain.OrderResult{}, f.sellErr
	}
	if f.sellResult.OrderID != "" {
		return f.sellResult, nil
	}
	return domain.OrderResult{OrderID: "order-2", ExecutedQty: baseQty, CumQuoteQty: baseQty.Mul(f.price), AvgPrice: f.price}, nil
}

func (f *fakeAdapter) GetTopOfBook(ctx context.Context) (domain.TopOfBook, error) {
	if f.tobErr != nil {
		return domain.TopOfBook{}, f.tobErr
	}
	return f.tob, nil
}

func (f *fakeAdapter) GetDepthSnapshot(ctx context.Context, limit int) (domain.DepthSnapshot, error) {
	if f.depthErr != nil {
		return domain.DepthSnapshot{}, f.depthErr
	}
	return f.depth, nil
}

func (f *fakeAdapter) GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error) {
	if f.candleErr != nil {
		return nil, f.candleErr
	}
	return f.candles, nil
}

type memStateStore struct {
	st *domain.StrategyState
}

func (m *memStateStore) Load(ctx context.Context) (*domain.StrategyState, error) {
	return m.st, nil
}

func (m *memStateStore) Save(ctx context.Context, st *domain.StrategyState) error {
	m.st = st
	return nil
}

type memLedger struct {
	purchases []domain.PurchaseRecord
	sells     []domain.SellRecord
	reserves  []domain.ReserveLedgerEntry
}

func (m *memLedger) RecordPurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	m.purchases = append(m.purchases, rec)
	return nil
}

func (m *memLedger) RecordSell(ctx context.Context, rec domain.SellRecord) error {
	m.sells = append(m.sells, rec)
	return nil
}

func (m *memLedger) RecordReserveChange(ctx context.Context, entry domain.ReserveLedgerEntry) error {
	m.reserves = append(m.reserves, entry)
	return nil
}

func (m *memLedger) ListPurchases(ctx context.Context, ex domain.Exchange) ([]domain.PurchaseRecord, error) {
	return m.purchases, nil
}

func (m *memLedger) ListSells(ctx context.Context, ex domain.Exchange) ([]domain.SellRecord, error) {
	return m.sells, nil
}

type memNotifier struct {
	events []string
	alerts []string
}

func (m *memNotifier) Event(ctx context.Context, title string, fields map[string]any) {
	m.events = append(m.events, title)
}

func (m *memNotifier) Alert(ctx context.Context, title string, fields map[string]any) {
	m.alerts = append(m.alerts, title)
}

type fixture struct {
	exec     *Executor
	adapter  *fakeAdapter
	state    *memStateStore
	ledger   *memLedger
	notifier *memNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	adapter := newFakeAdapter(domain.ExchangeBinance)
	state := &memStateStore{st: domain.NewStrategyState()}
	ledger := &memLedger{}
	notifier := &memNotifier{}
	guards := NewGuards(DefaultGuardConfig(), cfg.DryRun)
	provider := func(ex domain.Exchange) (exchange.Adapter, error) { return adapter, nil }

	exec := New(provider, state, ledger, notifier, guards, cfg, zap.NewNop())
	return &fixture{exec: exec, adapter: adapter, state: state, ledger: ledger, notifier: notifier}
}

func TestHandleDCABuyRecordsPurchase(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	res := f.exec.HandleDCABuy(context.Background(), domain.StrategyAction{
		Kind:       domain.ActionDCABuy,
		RequestID:  "req-1",
		Amount:     decimal.NewFromInt(100),
		ScheduleID: 1,
	})

	require.Equal(t, domain.StatusSuccess, res.Status)
	require.Len(t, f.ledger.purchases, 1)
	require.Equal(t, "weekly_dca", f.ledger.purchases[0].Source)
	require.True(t, f.ledger.purchases[0].QuoteSpent.Equal(decimal.NewFromInt(100)))
	require.Equal(t, "req-1", f.ledger.purchases[0].RequestID)
}

func TestHandleDCABuySkippedByDepthGuard(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	// thin book inside the band, far below the 1M USDT floor
	f.adapter.depthErr = nil
	f.adapter.depth = domain.DepthSnapshot{
		Bids: []domain.DepthLevel{{Price: decimal.NewFromInt(49900), Qty: decimal.NewFromInt(1)}},
		Asks: []domain.DepthLevel{{Price: decimal.NewFromInt(50100), Qty: decimal.NewFromInt(1)}},
	}

	res := f.exec.HandleDCABuy(context.Background(), domain.StrategyAction{
		Kind:   domain.ActionDCABuy,
		Amount: decimal.NewFromInt(100),
	})

	require.Equal(t, domain.StatusSkipped, res.Status)
	require.Equal(t, domain.ReasonDepthInsufficient, res.Detail)
	require.Empty(t, f.adapter.buys)
	require.Empty(t, f.ledger.purchases)
}

func TestHandleDCABuySkippedByNotionalCap(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.state.st.MaxNotionalByExchange[domain.ExchangeBinance] = decimal.NewFromInt(50)

	res := f.exec.HandleDCABuy(context.Background(), domain.StrategyAction{
		Kind:     domain.ActionDCABuy,
		Exchange: domain.ExchangeBinance,
		Amount:   decimal.NewFromInt(100),
	})

	require.Equal(t, domain.StatusSkipped, res.Status)
	require.Equal(t, domain.ReasonNotionalCap, res.Detail)
}

func TestHandleDCABuyNotionalCapBypassedInDryRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = true
	f := newFixture(t, cfg)
	f.state.st.MaxNotionalByExchange[domain.ExchangeBinance] = decimal.NewFromInt(50)

	res := f.exec.HandleDCABuy(context.Background(), domain.StrategyAction{
		Kind:     domain.ActionDCABuy,
		Exchange: domain.ExchangeBinance,
		Amount:   decimal.NewFromInt(100),
	})
	require.Equal(t, domain.StatusSuccess, res.Status)
}

func TestHandleDCABuyPlaceErrorFails(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.adapter.buyErr = errors.New("insufficient funds")

	res := f.exec.HandleDCABuy(context.Background(), domain.StrategyAction{
		Kind:   domain.ActionDCABuy,
		Amount: decimal.NewFromInt(100),
	})
	require.Equal(t, domain.StatusFailed, res.Status)
	require.Contains(t, res.Detail, "insufficient funds")
}

func TestHandleReserveMoveIncrementsGlobalReserve(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	res := f.exec.HandleReserveMove(context.Background(), domain.StrategyAction{
		Kind:   domain.ActionReserveMove,
		Amount: decimal.NewFromInt(100),
	})

	require.Equal(t, domain.StatusSuccess, res.Status)
	require.True(t, f.state.st.ReserveUSDT.Equal(decimal.NewFromInt(100)))
	require.Len(t, f.ledger.reserves, 1)
	require.Equal(t, "weekly_skip", f.ledger.reserves[0].Reason)
}

func TestHandleReserveMovePerExchange(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	res := f.exec.HandleReserveMove(context.Background(), domain.StrategyAction{
		Kind:     domain.ActionReserveMove,
		Exchange: domain.ExchangeOKX,
		Amount:   decimal.NewFromInt(40),
	})

	require.Equal(t, domain.StatusSuccess, res.Status)
	require.True(t, f.state.st.ReserveByExchange[domain.ExchangeOKX].Equal(decimal.NewFromInt(40)))
	require.True(t, f.state.st.ReserveUSDT.IsZero())
	require.Equal(t, "weekly_skip_okx", f.ledger.reserves[0].Reason)
}
