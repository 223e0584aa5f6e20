package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/elite/internal/candle"
)

// StochasticResult holds the results of stochastic oscillator calculation
type StochasticResult struct {
	K []float64 // %K line values
	D []float64 // %D line values
}

// CalculateStochastic follows the charting convention
//
//	k = sma(stoch(close, high, low, periodK), smoothK)
//	d = sma(k, periodD)
//
// A window with no range reports 50.
func CalculateStochastic(candles []candle.Candle, periodK, smoothK, periodD int) (*StochasticResult, error) {
	if periodK <= 0 || smoothK <= 0 || periodD <= 0 {
		return nil, fmt.Errorf("all periods must be positive integers")
	}

	raw := rawStochastic(candles, periodK)
	k := raw
	if smoothK > 1 {
		k = smaSkipWarmup(raw, periodK-1, smoothK)
	}
	d := smaSkipWarmup(k, periodK+smoothK-2, periodD)
	return &StochasticResult{K: k, D: d}, nil
}

func rawStochastic(candles []candle.Candle, periodK int) []float64 {
	out := nanSlice(len(candles))
	for i := periodK - 1; i < len(candles); i++ {
		start := i - (periodK - 1)
		lowest := candles[start].Low
		highest := candles[start].High
		for j := start + 1; j <= i; j++ {
			lowest = math.Min(lowest, candles[j].Low)
			highest = math.Max(highest, candles[j].High)
		}
		if highest == lowest {
			out[i] = 50.0
			continue
		}
		out[i] = 100.0 * (candles[i].Close - lowest) / (highest - lowest)
	}
	return out
}

// smaSkipWarmup averages x over p points starting at the first defined index.
func smaSkipWarmup(x []float64, first, p int) []float64 {
	out := nanSlice(len(x))
	if first < 0 || first >= len(x) {
		return out
	}
	tail := SMA(x[first:], p)
	copy(out[first:], tail)
	return out
}

// Signal levels of the bounded oscillators.
const (
	RSIOverbought        = 70.0
	RSIOversold          = 30.0
	StochasticOverbought = 80.0
	StochasticOversold   = 20.0
)

// Zones returns the overbought and oversold levels of an oscillator. ok is
// false for indicators without fixed bounds.
func Zones(name string) (overbought, oversold float64, ok bool) {
	switch name {
	case "rsi":
		return RSIOverbought, RSIOversold, true
	case "stoch":
		return StochasticOverbought, StochasticOversold, true
	}
	return 0, 0, false
}
