// Package indicators provides the EMA helpers used by the CDC signal engine.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// CalculateEMA calculates the Exponential Moving Average for the given period.
// The returned slice is shorter than the input by the indicator warmup
// (period-1 bars); callers align by offset from the end.
func CalculateEMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	closesFloat := decimalsToFloat64(closes)

	ema := trend.NewEmaWithPeriod[float64](period)
	inputChan := helper.SliceToChan(closesFloat)
	outputChan := ema.Compute(inputChan)
	emaFloat := helper.ChanToSlice(outputChan)

	return float64ToDecimals(emaFloat), nil
}

// AlignTail trims each series to the length of the shortest one, keeping the
// most recent values. Indicator warmup lengths differ per period; aligning
// from the tail keeps bar i of every output referring to the same candle.
func AlignTail(series ...[]decimal.Decimal) [][]decimal.Decimal {
	minLen := -1
	for _, s := range series {
		if minLen < 0 || len(s) < minLen {
			minLen = len(s)
		}
	}
	if minLen < 0 {
		return nil
	}

	out := make([][]decimal.Decimal, len(series))
	for i, s := range series {
		out[i] = s[len(s)-minLen:]
	}
	return out
}

// decimalsToFloat64 converts a slice of decimal.Decimal to []float64.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

// float64ToDecimals converts a slice of float64 to []decimal.Decimal.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
