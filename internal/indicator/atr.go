package indicator

import (
	"math"

	"github.com/amirphl/elite/internal/candle"
)

// TrueRange of every candle. The first candle has no previous close and
// uses high - low.
func TrueRange(candles []candle.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			prev := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR is Wilder's average true range.
func ATR(candles []candle.Candle, period int) []float64 {
	return RMA(TrueRange(candles), period)
}
