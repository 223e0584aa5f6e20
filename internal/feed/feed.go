// Package feed supplies historical candles from outside sources.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/tfutils"
)

// Feed returns candles for symbol in [from, to). Results are sorted, free of
// duplicate timestamps and validated.
type Feed interface {
	Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]candle.Candle, error)
}

// prepare aligns raw candles to the timeframe, trims them to [from, to),
// removes duplicates and validates the result.
func prepare(raw []candle.Candle, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	step := tfutils.GetTimeframeDuration(timeframe)
	trimmed := make([]candle.Candle, 0, len(raw))
	for _, c := range raw {
		if step > 0 {
			c.Timestamp = c.Timestamp.Truncate(step)
		}
		if !from.IsZero() && c.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !c.Timestamp.Before(to) {
			continue
		}
		trimmed = append(trimmed, c)
	}
	out := candle.Normalize(trimmed)
	if err := candle.ValidateSequence(out); err != nil {
		return nil, fmt.Errorf("invalid candles: %w", err)
	}
	return out, nil
}
