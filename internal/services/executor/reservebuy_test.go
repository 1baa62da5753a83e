package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/stacker/internal/domain"
)

func TestHandleReserveBuyNoReserveSkipped(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	res := f.exec.HandleReserveBuy(context.Background(), domain.StrategyAction{
		Kind: domain.ActionReserveBuy,
	})

	require.Equal(t, domain.StatusSkipped, res.Status)
	require.Equal(t, domain.ReasonNoReserve, res.Detail)
	require.Empty(t, f.adapter.buys)
}

func TestHandleReserveBuyBelowMinNotionalLeavesReserveIntact(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.state.st.ReserveUSDT = decimal.NewFromInt(5)
	f.adapter.balance["USDT"] = domain.Balance{Free: decimal.NewFromInt(1000)}

	res := f.exec.HandleReserveBuy(context.Background(), domain.StrategyAction{
		Kind: domain.ActionReserveBuy,
	})

	require.Equal(t, domain.StatusSkipped, res.Status)
	require.Equal(t, domain.ReasonBelowMinNotional, res.Detail)
	require.True(t, f.state.st.ReserveUSDT.Equal(decimal.NewFromInt(5)))
	require.Empty(t, f.adapter.buys)
	require.Empty(t, f.ledger.purchases)
}

func TestHandleReserveBuySpendsMinOfFreeAndReserve(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.state.st.ReserveUSDT = decimal.NewFromInt(500)
	f.adapter.balance["USDT"] = domain.Balance{Free: decimal.NewFromInt(300)}

	res := f.exec.HandleReserveBuy(context.Background(), domain.StrategyAction{
		Kind:      domain.ActionReserveBuy,
		RequestID: "req-rb",
	})

	require.Equal(t, domain.StatusSuccess, res.Status)
	require.Len(t, f.adapter.buys, 1)
	require.True(t, f.adapter.buys[0].Equal(decimal.NewFromInt(300)))

	// reserve decremented by the actual fill
	require.True(t, f.state.st.ReserveUSDT.Equal(decimal.NewFromInt(200)))
	require.Len(t, f.ledger.purchases, 1)
	require.Equal(t, "reserve_buy", f.ledger.purchases[0].Source)
	require.Len(t, f.ledger.reserves, 1)
	require.True(t, f.ledger.reserves[0].Delta.Equal(decimal.NewFromInt(-300)))
}

func TestHandleReserveBuyPerExchangeUsesVenueReserve(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.state.st.ReserveByExchange[domain.ExchangeBinance] = decimal.NewFromInt(100)
	f.adapter.balance["USDT"] = domain.Balance{Free: decimal.NewFromInt(1000)}

	res := f.exec.HandleReserveBuy(context.Background(), domain.StrategyAction{
		Kind:     domain.ActionReserveBuy,
		Exchange: domain.ExchangeBinance,
		Amount:   decimal.NewFromInt(100),
	})

	require.Equal(t, domain.StatusSuccess, res.Status)
	require.True(t, f.state.st.ReserveByExchange[domain.ExchangeBinance].IsZero())
	require.True(t, f.state.st.ReserveUSDT.IsZero())
}

func TestHandleReserveBuyReserveNeverGoesNegative(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.state.st.ReserveUSDT = decimal.NewFromInt(50)
	f.adapter.balance["USDT"] = domain.Balance{Free: decimal.NewFromInt(1000)}
	// fill reports slightly more quote spent than the reserve held
	f.adapter.buyResult = domain.OrderResult{
		OrderID:     "order-3",
		ExecutedQty: decimal.RequireFromString("0.0011"),
		CumQuoteQty: decimal.NewFromInt(55),
		AvgPrice:    decimal.NewFromInt(50000),
	}

	res := f.exec.HandleReserveBuy(context.Background(), domain.StrategyAction{
		Kind: domain.ActionReserveBuy,
	})

	require.Equal(t, domain.StatusSuccess, res.Status)
	require.True(t, f.state.st.ReserveUSDT.IsZero())
}
