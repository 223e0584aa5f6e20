// Package marketsim generates reproducible synthetic OHLC candles.
package marketsim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/tfutils"
)

const (
	DefaultStartPrice = 100.0
	DefaultMaxWick    = 2.0
	DefaultTimeframe  = "1d"
	// MinPrice keeps a long walk from reaching zero.
	MinPrice = 0.01
	// SourceName tags generated candles.
	SourceName = "synthetic"
)

// DefaultStart is the timestamp of the first generated bar.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Options zero values fall back to the package defaults.
type Options struct {
	StartPrice float64
	MaxWick    float64
	Start      time.Time
	Timeframe  string
	Symbol     string
}

func (o Options) withDefaults() Options {
	if o.StartPrice <= 0 {
		o.StartPrice = DefaultStartPrice
	}
	if o.MaxWick <= 0 {
		o.MaxWick = DefaultMaxWick
	}
	if o.Start.IsZero() {
		o.Start = DefaultStart
	}
	if o.Timeframe == "" {
		o.Timeframe = DefaultTimeframe
	}
	return o
}

// Generate returns numBars candles of a bounded random walk. Every open equals
// the previous close and the same seed always yields the same sequence.
func Generate(numBars int, seed int64, opts Options) ([]candle.Candle, error) {
	if numBars < 0 {
		return nil, fmt.Errorf("number of bars cannot be negative, got %d", numBars)
	}
	opts = opts.withDefaults()
	interval, err := tfutils.ParseTimeframe(opts.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to generate candles: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	candles := make([]candle.Candle, numBars)
	price := opts.StartPrice
	for i := range candles {
		open := price
		high := open + rng.Float64()*opts.MaxWick
		low := open - rng.Float64()*opts.MaxWick
		if low < MinPrice {
			low = math.Min(MinPrice, open)
		}
		closePrice := low + rng.Float64()*(high-low)
		candles[i] = candle.Candle{
			Timestamp: opts.Start.Add(time.Duration(i) * interval),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    1000 + rng.Float64()*9000,
			Symbol:    opts.Symbol,
			Timeframe: opts.Timeframe,
			Source:    SourceName,
		}
		price = closePrice
	}
	return candles, nil
}

// GenerateUnseeded derives a seed from the clock and returns it so the run
// can be reproduced with Generate.
func GenerateUnseeded(numBars int, opts Options) ([]candle.Candle, int64, error) {
	seed := time.Now().UnixNano()
	candles, err := Generate(numBars, seed, opts)
	if err != nil {
		return nil, 0, err
	}
	return candles, seed, nil
}
