package executor

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/internal/services/accounting"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// HandleHalfSell sells a percentage of the free base balance on a bearish
// flip and books the FIFO realized PnL.
func (e *Executor) HandleHalfSell(ctx context.Context, action domain.StrategyAction) domain.ActionResult {
	st, err := e.state.Load(ctx)
	if err != nil {
		return domain.Failed(action, "load state: "+err.Error(), nil)
	}
	ex := targetExchange(action, st)

	if action.Percent.LessThanOrEqual(decimal.Zero) {
		e.event(ctx, "Half-sell skipped", map[string]any{
			"exchange": ex.String(), "reason": domain.ReasonSellPercentZero,
		})
		return domain.Skipped(action, domain.ReasonSellPercentZero, nil)
	}

	adapter, err := e.adapterFor(ex)
	if err != nil {
		return domain.Failed(action, "adapter: "+err.Error(), nil)
	}

	balance, err := adapter.GetBalance(ctx, e.cfg.Pair.From)
	if err != nil {
		return domain.Failed(action, "balance: "+err.Error(), nil)
	}
	if balance.Free.LessThanOrEqual(decimal.Zero) {
		e.event(ctx, "Half-sell skipped", map[string]any{
			"exchange": ex.String(), "reason": domain.ReasonNoBalance,
		})
		return domain.Skipped(action, domain.ReasonNoBalance, nil)
	}

	filters, err := adapter.GetFilters(ctx)
	if err != nil {
		return domain.Failed(action, "filters: "+err.Error(), nil)
	}

	target := balance.Free.Mul(action.Percent).Div(hundred)
	qty := domain.FloorToStep(target, filters.StepSize)
	if qty.LessThan(filters.MinQty) {
		e.event(ctx, "Half-sell skipped", map[string]any{
			"exchange": ex.String(),
			"reason":   domain.ReasonBelowMinQty,
			"free":     balance.Free,
			"step":     filters.StepSize,
		})
		return domain.Skipped(action, domain.ReasonBelowMinQty, nil)
	}

	price, err := adapter.GetPrice(ctx)
	if err != nil {
		return domain.Failed(action, "price: "+err.Error(), nil)
	}

	if depth := e.guards.CheckDepth(ctx, adapter, price); !depth.OK {
		e.notifyBlocked(ctx, "Half-sell", action, ex, depth)
		return domain.Skipped(action, depth.Reason, depth.Detail)
	}
	if twap := e.guards.CheckTWAP(ctx, adapter, price); !twap.OK {
		e.notifyBlocked(ctx, "Half-sell", action, ex, twap)
		return domain.Skipped(action, twap.Reason, twap.Detail)
	}

	notional := qty.Mul(price)
	if cap := e.guards.CheckNotionalCap(notional, capFor(st, ex)); !cap.OK {
		e.notifyBlocked(ctx, "Half-sell", action, ex, cap)
		return domain.Skipped(action, cap.Reason, cap.Detail)
	}
	if spread := e.guards.CheckSpread(ctx, adapter); !spread.OK {
		e.notifyBlocked(ctx, "Half-sell", action, ex, spread)
		return domain.Skipped(action, spread.Reason, spread.Detail)
	}
	if notional.LessThan(filters.MinNotional) {
		e.event(ctx, "Half-sell skipped", map[string]any{
			"exchange":     ex.String(),
			"reason":       domain.ReasonBelowMinNotional,
			"notional":     notional,
			"min_notional": filters.MinNotional,
		})
		return domain.Skipped(action, domain.ReasonBelowMinNotional, nil)
	}

	order, err := adapter.PlaceMarketSellQty(ctx, qty)
	if err != nil {
		return domain.Failed(action, "place sell: "+err.Error(), nil)
	}
	if order.ExecutedQty.LessThanOrEqual(decimal.Zero) || order.CumQuoteQty.LessThanOrEqual(decimal.Zero) {
		return domain.Failed(action, "sell order not filled", nil)
	}

	purchases, sells := e.openLots(ctx, ex)
	lots := accounting.OpenLots(purchases, sells)
	pnl, pnlDetail := accounting.RealizedPnL(lots, order.ExecutedQty, order.CumQuoteQty)
	feeTotals := accounting.FeeTotals(purchases, sells)

	rec := domain.SellRecord{
		Exchange:    ex,
		Symbol:      adapter.Symbol(),
		Qty:         order.ExecutedQty,
		Proceeds:    order.CumQuoteQty,
		Price:       order.AvgPrice,
		FeeAmount:   order.FeeAmount,
		FeeAsset:    order.FeeAsset,
		OrderID:     order.OrderID,
		RequestID:   action.RequestID,
		RealizedPnL: pnl,
		PnLDetail:   pnlDetail,
		CreatedAt:   e.now(),
	}
	if err := e.ledger.RecordSell(ctx, rec); err != nil {
		return domain.Failed(action, "record sell: "+err.Error(), nil)
	}

	st.LastHalfSellAt = e.now()
	if err := e.state.Save(ctx, st); err != nil {
		e.logger.Warn("state save failed after half-sell", zap.Error(err))
	}

	e.logger.Info("half-sell executed",
		zap.String("exchange", ex.String()),
		zap.String("qty", order.ExecutedQty.String()),
		zap.String("proceeds", order.CumQuoteQty.String()),
		zap.String("pnl", pnl.String()))
	e.event(ctx, "Half-sell executed", map[string]any{
		"exchange":   ex.String(),
		"qty":        order.ExecutedQty,
		"usdt":       order.CumQuoteQty,
		"price":      order.AvgPrice,
		"pct":        action.Percent,
		"pnl":        pnl,
		"fee_totals": feeTotals,
		"order_id":   order.OrderID,
		"request_id": action.RequestID,
	})
	if e.cfg.AnomalyPnLThresholdUSDT.GreaterThan(decimal.Zero) &&
		pnl.Abs().GreaterThanOrEqual(e.cfg.AnomalyPnLThresholdUSDT) {
		e.alert(ctx, "Realized PnL exceeded threshold", map[string]any{
			"exchange":  ex.String(),
			"pnl_usdt":  pnl.String(),
			"threshold": e.cfg.AnomalyPnLThresholdUSDT.String(),
			"order_id":  order.OrderID,
		})
	}

	return domain.Succeeded(action, map[string]any{
		"exchange": ex.String(),
		"qty":      order.ExecutedQty,
		"usdt":     order.CumQuoteQty,
		"price":    order.AvgPrice,
		"pnl":      pnl,
		"order_id": order.OrderID,
	})
}
