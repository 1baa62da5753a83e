package executor

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"go.uber.org/zap"
)

// HandleReserveBuy deploys the banked reserve into a market buy on a bullish
// flip. A global action spends the global reserve on the active exchange;
// per-exchange actions spend that venue's own reserve.
func (e *Executor) HandleReserveBuy(ctx context.Context, action domain.StrategyAction) domain.ActionResult {
	st, err := e.state.Load(ctx)
	if err != nil {
		return domain.Failed(action, "load state: "+err.Error(), nil)
	}

	perExchange := action.Exchange != ""
	ex := targetExchange(action, st)

	reserve := st.ReserveUSDT
	if perExchange {
		reserve = st.ReserveByExchange[action.Exchange]
	}
	if reserve.LessThanOrEqual(decimal.Zero) {
		return domain.Skipped(action, domain.ReasonNoReserve, nil)
	}

	adapter, err := e.adapterFor(ex)
	if err != nil {
		return domain.Failed(action, "adapter: "+err.Error(), nil)
	}

	balance, err := adapter.GetBalance(ctx, e.cfg.Pair.To)
	if err != nil {
		return domain.Failed(action, "balance: "+err.Error(), nil)
	}
	spend := decimal.Min(balance.Free, reserve)

	filters, err := adapter.GetFilters(ctx)
	if err != nil {
		return domain.Failed(action, "filters: "+err.Error(), nil)
	}
	if spend.LessThan(filters.MinNotional) {
		e.event(ctx, "Reserve buy skipped", map[string]any{
			"exchange":     ex.String(),
			"reason":       domain.ReasonBelowMinNotional,
			"spend":        spend,
			"min_notional": filters.MinNotional,
			"reserve":      reserve,
		})
		return domain.Skipped(action, domain.ReasonBelowMinNotional, map[string]any{"spend": spend})
	}

	price, err := adapter.GetPrice(ctx)
	if err != nil {
		return domain.Failed(action, "price: "+err.Error(), nil)
	}

	if depth := e.guards.CheckDepth(ctx, adapter, price); !depth.OK {
		e.notifyBlocked(ctx, "Reserve buy", action, ex, depth)
		return domain.Skipped(action, depth.Reason, depth.Detail)
	}
	if twap := e.guards.CheckTWAP(ctx, adapter, price); !twap.OK {
		e.notifyBlocked(ctx, "Reserve buy", action, ex, twap)
		return domain.Skipped(action, twap.Reason, twap.Detail)
	}
	if cap := e.guards.CheckNotionalCap(spend, capFor(st, ex)); !cap.OK {
		e.notifyBlocked(ctx, "Reserve buy", action, ex, cap)
		return domain.Skipped(action, cap.Reason, cap.Detail)
	}
	if spread := e.guards.CheckSpread(ctx, adapter); !spread.OK {
		e.notifyBlocked(ctx, "Reserve buy", action, ex, spread)
		return domain.Skipped(action, spread.Reason, spread.Detail)
	}

	order, err := adapter.PlaceMarketBuyQuote(ctx, spend)
	if err != nil {
		return domain.Failed(action, "place buy: "+err.Error(), nil)
	}
	if order.ExecutedQty.LessThanOrEqual(decimal.Zero) || order.CumQuoteQty.LessThanOrEqual(decimal.Zero) {
		return domain.Failed(action, "reserve buy not filled", nil)
	}

	rec := domain.PurchaseRecord{
		Exchange:   ex,
		Symbol:     adapter.Symbol(),
		Qty:        order.ExecutedQty,
		QuoteSpent: order.CumQuoteQty,
		Price:      order.AvgPrice,
		FeeAmount:  order.FeeAmount,
		FeeAsset:   order.FeeAsset,
		OrderID:    order.OrderID,
		RequestID:  action.RequestID,
		Source:     "reserve_buy",
		CreatedAt:  e.now(),
	}
	if err := e.ledger.RecordPurchase(ctx, rec); err != nil {
		return domain.Failed(action, "record purchase: "+err.Error(), nil)
	}

	if perExchange {
		st.DecrementExchangeReserve(action.Exchange, order.CumQuoteQty)
	} else {
		st.DecrementReserve(order.CumQuoteQty)
	}
	if err := e.state.Save(ctx, st); err != nil {
		return domain.Failed(action, "save state: "+err.Error(), nil)
	}

	entry := domain.ReserveLedgerEntry{
		Exchange:  action.Exchange,
		Delta:     order.CumQuoteQty.Neg(),
		Reason:    "reserve_buy",
		RequestID: action.RequestID,
		CreatedAt: e.now(),
	}
	if err := e.ledger.RecordReserveChange(ctx, entry); err != nil {
		e.logger.Warn("reserve log write failed", zap.Error(err))
	}

	reserveAfter := st.ReserveUSDT
	if perExchange {
		reserveAfter = st.ReserveByExchange[action.Exchange]
	}
	e.logger.Info("reserve buy executed",
		zap.String("exchange", ex.String()),
		zap.String("spend", order.CumQuoteQty.String()),
		zap.String("reserve_after", reserveAfter.String()))
	e.event(ctx, "Reserve buy executed", map[string]any{
		"exchange":     ex.String(),
		"spend":        order.CumQuoteQty,
		"qty":          order.ExecutedQty,
		"price":        order.AvgPrice,
		"reserve_left": reserveAfter,
		"order_id":     order.OrderID,
		"request_id":   action.RequestID,
	})
	e.anomalyNotionalCheck(ctx, ex, order.CumQuoteQty, order.OrderID)

	return domain.Succeeded(action, map[string]any{
		"exchange":     ex.String(),
		"spend":        order.CumQuoteQty,
		"qty":          order.ExecutedQty,
		"price":        order.AvgPrice,
		"reserve_left": reserveAfter,
		"order_id":     order.OrderID,
	})
}
