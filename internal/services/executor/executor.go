// Package executor implements the action handlers that move money: weekly
// DCA buys, reserve moves, half-sells and reserve deployments.
package executor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/exchange"
	"go.uber.org/zap"
)

// StateStore loads and persists the strategy state.
type StateStore interface {
	Load(ctx context.Context) (*domain.StrategyState, error)
	Save(ctx context.Context, st *domain.StrategyState) error
}

// LedgerStore persists trade and reserve audit rows and serves the history
// the FIFO accounting replays.
type LedgerStore interface {
	RecordPurchase(ctx context.Context, rec domain.PurchaseRecord) error
	RecordSell(ctx context.Context, rec domain.SellRecord) error
	RecordReserveChange(ctx context.Context, entry domain.ReserveLedgerEntry) error
	ListPurchases(ctx context.Context, ex domain.Exchange) ([]domain.PurchaseRecord, error)
	ListSells(ctx context.Context, ex domain.Exchange) ([]domain.SellRecord, error)
}

// Notifier delivers operator notifications. Implementations must not block
// the trading path on delivery failures.
type Notifier interface {
	Event(ctx context.Context, title string, fields map[string]any)
	Alert(ctx context.Context, title string, fields map[string]any)
}

// AdapterProvider resolves the trading adapter for a venue.
type AdapterProvider func(ex domain.Exchange) (exchange.Adapter, error)

// Config carries execution thresholds.
type Config struct {
	Pair   domain.Pair
	DryRun bool
	// AnomalyPnLThresholdUSDT triggers a security alert when a realized PnL
	// crosses it in either direction.
	AnomalyPnLThresholdUSDT decimal.Decimal
	// AnomalyNotionalThresholdUSDT triggers a security alert on unusually
	// large fills.
	AnomalyNotionalThresholdUSDT decimal.Decimal
}

// DefaultConfig returns production execution thresholds.
func DefaultConfig() Config {
	return Config{
		Pair:                         domain.Pair{From: "BTC", To: "USDT"},
		AnomalyPnLThresholdUSDT:      decimal.NewFromInt(50000),
		AnomalyNotionalThresholdUSDT: decimal.NewFromInt(250000),
	}
}

// Executor runs strategy actions against exchange adapters and the ledgers.
type Executor struct {
	adapters AdapterProvider
	state    StateStore
	ledger   LedgerStore
	notifier Notifier
	guards   *Guards
	logger   *zap.Logger
	cfg      Config

	now func() time.Time
}

// New creates an executor.
func New(adapters AdapterProvider, state StateStore, ledger LedgerStore, notifier Notifier, guards *Guards, cfg Config, logger *zap.Logger) *Executor {
	if cfg.Pair.From == "" {
		cfg.Pair = domain.Pair{From: "BTC", To: "USDT"}
	}
	return &Executor{
		adapters: adapters,
		state:    state,
		ledger:   ledger,
		notifier: notifier,
		guards:   guards,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (e *Executor) adapterFor(ex domain.Exchange) (exchange.Adapter, error) {
	if e.adapters == nil {
		return nil, errors.New("no adapter provider configured")
	}
	return e.adapters(ex)
}

// targetExchange resolves the venue an action runs on, falling back to the
// active exchange for global legs.
func targetExchange(action domain.StrategyAction, st *domain.StrategyState) domain.Exchange {
	if action.Exchange != "" {
		return action.Exchange
	}
	if st.ActiveExchange.Valid() {
		return st.ActiveExchange
	}
	return domain.ExchangeBinance
}

func capFor(st *domain.StrategyState, ex domain.Exchange) decimal.Decimal {
	if st == nil || st.MaxNotionalByExchange == nil {
		return decimal.Zero
	}
	return st.MaxNotionalByExchange[ex]
}

func (e *Executor) event(ctx context.Context, title string, fields map[string]any) {
	if e.notifier != nil {
		e.notifier.Event(ctx, title, fields)
	}
}

func (e *Executor) alert(ctx context.Context, title string, fields map[string]any) {
	if e.notifier != nil {
		e.notifier.Alert(ctx, title, fields)
	}
}

// notifyBlocked reports a guard block with the guard's own metrics attached.
func (e *Executor) notifyBlocked(ctx context.Context, kind string, action domain.StrategyAction, ex domain.Exchange, guard GuardResult) {
	fields := map[string]any{
		"exchange":   ex.String(),
		"reason":     guard.Reason,
		"request_id": action.RequestID,
	}
	for k, v := range guard.Detail {
		fields[k] = v
	}
	e.event(ctx, kind+" blocked by guard", fields)
}

func (e *Executor) anomalyNotionalCheck(ctx context.Context, ex domain.Exchange, notional decimal.Decimal, orderID string) {
	if e.cfg.AnomalyNotionalThresholdUSDT.GreaterThan(decimal.Zero) &&
		notional.GreaterThanOrEqual(e.cfg.AnomalyNotionalThresholdUSDT) {
		e.alert(ctx, "High notional fill", map[string]any{
			"exchange":  ex.String(),
			"notional":  notional.String(),
			"threshold": e.cfg.AnomalyNotionalThresholdUSDT.String(),
			"order_id":  orderID,
		})
	}
}

// openLots loads the FIFO lot history for a venue. Load failures degrade to
// an empty lot list so a broken ledger read cannot block a sell.
func (e *Executor) openLots(ctx context.Context, ex domain.Exchange) ([]domain.PurchaseRecord, []domain.SellRecord) {
	purchases, err := e.ledger.ListPurchases(ctx, ex)
	if err != nil {
		e.logger.Warn("FIFO purchase history load failed", zap.String("exchange", ex.String()), zap.Error(err))
		return nil, nil
	}
	sells, err := e.ledger.ListSells(ctx, ex)
	if err != nil {
		e.logger.Warn("FIFO sell history load failed", zap.String("exchange", ex.String()), zap.Error(err))
		return nil, nil
	}
	return purchases, sells
}
