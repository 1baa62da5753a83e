package executor

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"go.uber.org/zap"
)

// HandleDCABuy executes one weekly DCA buy leg: depth guard, TWAP guard,
// notional cap, market buy, purchase ledger.
func (e *Executor) HandleDCABuy(ctx context.Context, action domain.StrategyAction) domain.ActionResult {
	st, err := e.state.Load(ctx)
	if err != nil {
		return domain.Failed(action, "load state: "+err.Error(), nil)
	}
	ex := targetExchange(action, st)

	adapter, err := e.adapterFor(ex)
	if err != nil {
		return domain.Failed(action, "adapter: "+err.Error(), nil)
	}

	price, err := adapter.GetPrice(ctx)
	if err != nil {
		return domain.Failed(action, "price: "+err.Error(), nil)
	}

	if depth := e.guards.CheckDepth(ctx, adapter, price); !depth.OK {
		e.notifyBlocked(ctx, "DCA buy", action, ex, depth)
		return domain.Skipped(action, depth.Reason, depth.Detail)
	}
	if twap := e.guards.CheckTWAP(ctx, adapter, price); !twap.OK {
		e.notifyBlocked(ctx, "DCA buy", action, ex, twap)
		return domain.Skipped(action, twap.Reason, twap.Detail)
	}
	if cap := e.guards.CheckNotionalCap(action.Amount, capFor(st, ex)); !cap.OK {
		e.notifyBlocked(ctx, "DCA buy", action, ex, cap)
		return domain.Skipped(action, cap.Reason, cap.Detail)
	}

	order, err := adapter.PlaceMarketBuyQuote(ctx, action.Amount)
	if err != nil {
		return domain.Failed(action, "place buy: "+err.Error(), nil)
	}
	if order.ExecutedQty.LessThanOrEqual(decimal.Zero) || order.CumQuoteQty.LessThanOrEqual(decimal.Zero) {
		return domain.Failed(action, "buy order not filled", nil)
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
		Source:     "weekly_dca",
		CreatedAt:  e.now(),
	}
	if err := e.ledger.RecordPurchase(ctx, rec); err != nil {
		return domain.Failed(action, "record purchase: "+err.Error(), nil)
	}

	e.logger.Info("weekly DCA buy executed",
		zap.String("exchange", ex.String()),
		zap.String("qty", order.ExecutedQty.String()),
		zap.String("spent", order.CumQuoteQty.String()),
		zap.String("order_id", order.OrderID))
	e.event(ctx, "Weekly DCA buy executed", map[string]any{
		"exchange":    ex.String(),
		"qty":         order.ExecutedQty,
		"usdt":        order.CumQuoteQty,
		"price":       order.AvgPrice,
		"schedule_id": action.ScheduleID,
		"order_id":    order.OrderID,
		"request_id":  action.RequestID,
	})
	e.anomalyNotionalCheck(ctx, ex, order.CumQuoteQty, order.OrderID)

	return domain.Succeeded(action, map[string]any{
		"exchange": ex.String(),
		"qty":      order.ExecutedQty,
		"usdt":     order.CumQuoteQty,
		"price":    order.AvgPrice,
		"order_id": order.OrderID,
	})
}

// HandleReserveMove banks a skipped weekly DCA amount into the reserve
// instead of buying.
func (e *Executor) HandleReserveMove(ctx context.Context, action domain.StrategyAction) domain.ActionResult {
	st, err := e.state.Load(ctx)
	if err != nil {
		return domain.Failed(action, "load state: "+err.Error(), nil)
	}

	reason := "weekly_skip"
	if action.Exchange != "" {
		reason = "weekly_skip_" + action.Exchange.String()
		st.IncrementExchangeReserve(action.Exchange, action.Amount)
	} else {
		st.IncrementReserve(action.Amount)
	}
	if err := e.state.Save(ctx, st); err != nil {
		return domain.Failed(action, "save state: "+err.Error(), nil)
	}

	entry := domain.ReserveLedgerEntry{
		Exchange:  action.Exchange,
		Delta:     action.Amount,
		Reason:    reason,
		RequestID: action.RequestID,
		CreatedAt: e.now(),
	}
	if err := e.ledger.RecordReserveChange(ctx, entry); err != nil {
		// the reserve itself is already updated; the log row is best effort
		e.logger.Warn("reserve log write failed", zap.Error(err))
	}

	reserveAfter := st.ReserveUSDT
	if action.Exchange != "" {
		reserveAfter = st.ReserveByExchange[action.Exchange]
	}
	e.event(ctx, "Weekly DCA moved to reserve", map[string]any{
		"exchange":      action.Exchange.String(),
		"amount":        action.Amount,
		"reserve_after": reserveAfter,
		"request_id":    action.RequestID,
	})

	return domain.Succeeded(action, map[string]any{
		"amount":        action.Amount,
		"reserve_after": reserveAfter,
	})
}
