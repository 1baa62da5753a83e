package executor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/stacker/internal/domain"
)

func TestCheckSpreadWithinThresholdPasses(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.tobErr = nil
	a.tob = domain.TopOfBook{Bid: decimal.NewFromInt(49990), Ask: decimal.NewFromInt(50010)}

	res := g.CheckSpread(context.Background(), a)
	require.True(t, res.OK)
}

func TestCheckSpreadTooWideBlocks(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.tobErr = nil
	a.tob = domain.TopOfBook{Bid: decimal.NewFromInt(49000), Ask: decimal.NewFromInt(51000)}

	res := g.CheckSpread(context.Background(), a)
	require.False(t, res.OK)
	require.Equal(t, domain.ReasonSpreadHigh, res.Reason)
}

func TestCheckSpreadInvalidTopOfBookBlocks(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.tobErr = nil
	a.tob = domain.TopOfBook{Bid: decimal.Zero, Ask: decimal.NewFromInt(50000)}

	res := g.CheckSpread(context.Background(), a)
	require.False(t, res.OK)
	require.Equal(t, domain.ReasonInvalidTopOfBook, res.Reason)
}

func TestCheckSpreadFetchErrorBlocks(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.tobErr = errors.New("rate limited")

	res := g.CheckSpread(context.Background(), a)
	require.False(t, res.OK)
	require.Equal(t, domain.ReasonLiquidityError, res.Reason)
}

func TestCheckSpreadNotSupportedPasses(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)

	res := g.CheckSpread(context.Background(), a)
	require.True(t, res.OK)
}

func TestCheckDepthCountsOnlyBandLevels(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.DepthMinNotionalUSDT = decimal.NewFromInt(100000)
	g := NewGuards(cfg, false)

	a := newFakeAdapter(domain.ExchangeBinance)
	a.depthErr = nil
	a.depth = domain.DepthSnapshot{
		Bids: []domain.DepthLevel{
			{Price: decimal.NewFromInt(49900), Qty: decimal.NewFromInt(3)},
			// 2% below mid, outside the 1% band, must be ignored
			{Price: decimal.NewFromInt(49000), Qty: decimal.NewFromInt(1000)},
		},
		Asks: []domain.DepthLevel{
			{Price: decimal.NewFromInt(50100), Qty: decimal.NewFromInt(3)},
		},
	}

	res := g.CheckDepth(context.Background(), a, decimal.NewFromInt(50000))
	require.True(t, res.OK)
	require.True(t, res.Detail["bid_notional"].(decimal.Decimal).Equal(decimal.NewFromInt(149700)))
}

func TestCheckDepthInsufficientBlocks(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.depthErr = nil
	a.depth = domain.DepthSnapshot{
		Bids: []domain.DepthLevel{{Price: decimal.NewFromInt(49900), Qty: decimal.NewFromInt(1)}},
		Asks: []domain.DepthLevel{{Price: decimal.NewFromInt(50100), Qty: decimal.NewFromInt(1)}},
	}

	res := g.CheckDepth(context.Background(), a, decimal.NewFromInt(50000))
	require.False(t, res.OK)
	require.Equal(t, domain.ReasonDepthInsufficient, res.Reason)
}

func TestCheckDepthDisabledPasses(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.DepthEnabled = false
	g := NewGuards(cfg, false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.depthErr = errors.New("should not be called")

	res := g.CheckDepth(context.Background(), a, decimal.NewFromInt(50000))
	require.True(t, res.OK)
}

func TestCheckTWAPDeviationBlocks(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.candleErr = nil
	for i := 0; i < 15; i++ {
		a.candles = append(a.candles, domain.Candle{Close: decimal.NewFromInt(50000)})
	}

	// 4% above TWAP against a 1.5% threshold
	res := g.CheckTWAP(context.Background(), a, decimal.NewFromInt(52000))
	require.False(t, res.OK)
	require.Equal(t, domain.ReasonTWAPDeviation, res.Reason)
}

func TestCheckTWAPWithinDeviationPasses(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.candleErr = nil
	for i := 0; i < 15; i++ {
		a.candles = append(a.candles, domain.Candle{Close: decimal.NewFromInt(50000)})
	}

	res := g.CheckTWAP(context.Background(), a, decimal.NewFromInt(50300))
	require.True(t, res.OK)
}

func TestCheckTWAPNoDataPasses(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)
	a := newFakeAdapter(domain.ExchangeBinance)
	a.candleErr = nil

	res := g.CheckTWAP(context.Background(), a, decimal.NewFromInt(50000))
	require.True(t, res.OK)
	require.Equal(t, domain.ReasonTWAPNoData, res.Detail["reason"])
}

func TestCheckNotionalCap(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), false)

	require.True(t, g.CheckNotionalCap(decimal.NewFromInt(100), decimal.Zero).OK, "zero cap disables the check")
	require.True(t, g.CheckNotionalCap(decimal.NewFromInt(100), decimal.NewFromInt(100)).OK)

	res := g.CheckNotionalCap(decimal.NewFromInt(101), decimal.NewFromInt(100))
	require.False(t, res.OK)
	require.Equal(t, domain.ReasonNotionalCap, res.Reason)
}

func TestCheckNotionalCapDryRunPasses(t *testing.T) {
	g := NewGuards(DefaultGuardConfig(), true)
	require.True(t, g.CheckNotionalCap(decimal.NewFromInt(1000), decimal.NewFromInt(1)).OK)
}
