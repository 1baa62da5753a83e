package signal

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/stacker/internal/domain"
	"go.uber.org/zap"
)

type fakeCandleSource struct {
	candles []domain.Candle
	err     error
	calls   int
}

func (f *fakeCandleSource) GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

func dailyCandles(closes []decimal.Decimal, lastClosed bool) []domain.Candle {
	now := time.Now()
	out := make([]domain.Candle, len(closes))
	for i := range closes {
		openTime := now.Add(time.Duration(i-len(closes)) * 24 * time.Hour)
		closeTime := openTime.Add(24 * time.Hour)
		out[i] = domain.Candle{OpenTime: openTime, CloseTime: closeTime, Close: closes[i]}
	}
	if !lastClosed {
		out[len(out)-1].CloseTime = now.Add(12 * time.Hour)
	}
	return out
}

func risingCloses(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromInt(int64(1000 + i*10))
	}
	return out
}

func fallingCloses(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromInt(int64(5000 - i*10))
	}
	return out
}

func TestComputeCDCUptrend(t *testing.T) {
	res, err := ComputeCDC(risingCloses(120))
	require.NoError(t, err)
	require.Equal(t, domain.SignalUp, res.Signal)
	require.Greater(t, res.FastEMA, res.SlowEMA)
}

func TestComputeCDCDowntrend(t *testing.T) {
	res, err := ComputeCDC(fallingCloses(120))
	require.NoError(t, err)
	require.Equal(t, domain.SignalDown, res.Signal)
}

func TestComputeCDCReversalToDown(t *testing.T) {
	// long uptrend followed by a sharp decline: the sell edge is the most
	// recent one
	closes := risingCloses(150)
	last, _ := closes[len(closes)-1].Float64()
	for i := 0; i < 60; i++ {
		closes = append(closes, decimal.NewFromFloat(last-float64(i+1)*40))
	}
	res, err := ComputeCDC(closes)
	require.NoError(t, err)
	require.Equal(t, domain.SignalDown, res.Signal)
}

func TestComputeCDCNotEnoughData(t *testing.T) {
	_, err := ComputeCDC(risingCloses(10))
	require.Error(t, err)
}

func TestEvaluateDegradesToDownOnFetchError(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	src := &fakeCandleSource{err: errors.New("boom")}

	res := engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	require.Equal(t, domain.SignalDown, res.Signal)
	require.Equal(t, "fetch_failed", res.Err)
}

func TestEvaluateDegradesToDownOnInsufficientData(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	src := &fakeCandleSource{candles: dailyCandles(risingCloses(20), true)}

	res := engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	require.Equal(t, domain.SignalDown, res.Signal)
	require.Equal(t, "insufficient_data", res.Err)
}

func TestEvaluateDropsUnclosedLastCandle(t *testing.T) {
	// exactly minPoints candles but the last one is still open, so the
	// usable series falls below the minimum
	engine := NewEngine(zap.NewNop())
	src := &fakeCandleSource{candles: dailyCandles(risingCloses(minPoints), false)}

	res := engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	require.Equal(t, domain.SignalDown, res.Signal)
	require.Equal(t, "insufficient_data", res.Err)
}

func TestEvaluateCachesPerExchange(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	src := &fakeCandleSource{candles: dailyCandles(risingCloses(120), true)}

	first := engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	second := engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	require.Equal(t, first, second)
	require.Equal(t, 1, src.calls, "second evaluation must be served from cache")

	engine.Evaluate(context.Background(), domain.ExchangeOKX, src)
	require.Equal(t, 2, src.calls, "cache is keyed per exchange")
}

func TestEvaluateCacheExpires(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	src := &fakeCandleSource{candles: dailyCandles(risingCloses(120), true)}

	current := time.Now()
	engine.now = func() time.Time { return current }

	engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	current = current.Add(cacheTTL + time.Second)
	engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	require.Equal(t, 2, src.calls)
}

func TestInvalidateDropsCache(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	src := &fakeCandleSource{candles: dailyCandles(risingCloses(120), true)}

	engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	engine.Invalidate(domain.ExchangeBinance)
	engine.Evaluate(context.Background(), domain.ExchangeBinance, src)
	require.Equal(t, 2, src.calls)
}
