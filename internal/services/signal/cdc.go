// Package signal computes the CDC Action Zone trend signal from daily
// candles.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
	"github.com/vadiminshakov/stacker/pkg/indicators"
	"go.uber.org/zap"
)

const (
	smoothPeriod = 1
	fastPeriod   = 12
	slowPeriod   = 26
	// minPoints is the minimum candle count for a trustworthy signal.
	minPoints  = 50
	fetchLimit = 300
	// cacheTTL bounds exchange API load during the 10s scheduler loop.
	cacheTTL = 60 * time.Second

	dailyInterval = "1d"
)

// CandleSource supplies recent candles for one venue. The exchange adapter
// satisfies it.
type CandleSource interface {
	GetRecentCandles(ctx context.Context, interval string, limit int) ([]domain.Candle, error)
}

type cachedSignal struct {
	result    domain.SignalResult
	expiresAt time.Time
}

// Engine evaluates and caches the CDC signal per venue. All state is held on
// the struct; there are no package-level caches.
type Engine struct {
	mu     sync.Mutex
	cache  map[domain.Exchange]cachedSignal
	logger *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine creates a signal engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		cache:  make(map[domain.Exchange]cachedSignal),
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate returns the current signal for a venue, serving from cache within
// the TTL. Any failure degrades to SignalDown with an error tag instead of
// returning an error: a broken feed must never halt the scheduler loop.
func (e *Engine) Evaluate(ctx context.Context, ex domain.Exchange, src CandleSource) domain.SignalResult {
	e.mu.Lock()
	if cached, ok := e.cache[ex]; ok && e.now().Before(cached.expiresAt) {
		e.mu.Unlock()
		return cached.result
	}
	e.mu.Unlock()

	result := e.evaluate(ctx, ex, src)

	e.mu.Lock()
	e.cache[ex] = cachedSignal{result: result, expiresAt: e.now().Add(cacheTTL)}
	e.mu.Unlock()

	return result
}

// Invalidate drops the cached signal for a venue.
func (e *Engine) Invalidate(ex domain.Exchange) {
	e.mu.Lock()
	delete(e.cache, ex)
	e.mu.Unlock()
}

func (e *Engine) evaluate(ctx context.Context, ex domain.Exchange, src CandleSource) domain.SignalResult {
	candles, err := src.GetRecentCandles(ctx, dailyInterval, fetchLimit)
	if err != nil {
		e.logger.Warn("candle fetch failed, degrading signal to down",
			zap.String("exchange", ex.String()), zap.Error(err))
		return domain.SignalResult{Signal: domain.SignalDown, Err: "fetch_failed"}
	}

	// Drop the last candle while it is still open so the signal never
	// repaints on an unclosed bar.
	now := e.now()
	if n := len(candles); n > 0 && candles[n-1].CloseTime.After(now) {
		candles = candles[:n-1]
	}

	if len(candles) < minPoints {
		e.logger.Warn("not enough candles for signal",
			zap.String("exchange", ex.String()), zap.Int("got", len(candles)))
		return domain.SignalResult{Signal: domain.SignalDown, Err: "insufficient_data"}
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	result, err := ComputeCDC(closes)
	if err != nil {
		e.logger.Warn("signal computation failed, degrading to down",
			zap.String("exchange", ex.String()), zap.Error(err))
		return domain.SignalResult{Signal: domain.SignalDown, Err: "compute_failed"}
	}
	return result
}

// ComputeCDC derives the CDC Action Zone signal from an oldest-to-newest
// close series. The series is smoothed with a 1-period EMA, fast and slow
// EMAs are taken from the smoothed series, and the most recent buy/sell edge
// decides the trend; with no edges (or a tie) the raw fast>slow comparison
// on the last bar decides.
func ComputeCDC(closes []decimal.Decimal) (domain.SignalResult, error) {
	smoothed, err := indicators.CalculateEMA(closes, smoothPeriod)
	if err != nil {
		return domain.SignalResult{}, err
	}
	fast, err := indicators.CalculateEMA(smoothed, fastPeriod)
	if err != nil {
		return domain.SignalResult{}, err
	}
	slow, err := indicators.CalculateEMA(smoothed, slowPeriod)
	if err != nil {
		return domain.SignalResult{}, err
	}

	aligned := indicators.AlignTail(smoothed, fast, slow)
	price, fastEMA, slowEMA := aligned[0], aligned[1], aligned[2]
	n := len(price)

	green := make([]bool, n)
	red := make([]bool, n)
	for i := 0; i < n; i++ {
		green[i] = fastEMA[i].GreaterThan(slowEMA[i]) && price[i].GreaterThan(fastEMA[i])
		red[i] = fastEMA[i].LessThan(slowEMA[i]) && price[i].LessThan(fastEMA[i])
	}

	lastBuyEdge, lastSellEdge := -1, -1
	for i := 1; i < n; i++ {
		if green[i] && !green[i-1] {
			lastBuyEdge = i
		}
		if red[i] && !red[i-1] {
			lastSellEdge = i
		}
	}

	lastFast, _ := fastEMA[n-1].Float64()
	lastSlow, _ := slowEMA[n-1].Float64()
	result := domain.SignalResult{FastEMA: lastFast, SlowEMA: lastSlow}

	switch {
	case lastBuyEdge > lastSellEdge:
		result.Signal = domain.SignalUp
	case lastSellEdge > lastBuyEdge:
		result.Signal = domain.SignalDown
	default:
		if fastEMA[n-1].GreaterThan(slowEMA[n-1]) {
			result.Signal = domain.SignalUp
		} else {
			result.Signal = domain.SignalDown
		}
	}
	return result, nil
}
