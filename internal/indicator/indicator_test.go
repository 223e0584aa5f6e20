package indicator

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCandles(n int, seed int64) []candle.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]candle.Candle, n)
	price := 100.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		open := price
		high := open + r.Float64()*2
		low := open - r.Float64()*2
		closePrice := low + r.Float64()*(high-low)
		out[i] = candle.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      open, High: high, Low: low, Close: closePrice,
		}
		price = closePrice
	}
	return out
}

func assertSeries(t *testing.T, expected, actual []float64) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		if math.IsNaN(expected[i]) {
			assert.True(t, math.IsNaN(actual[i]), "expected NaN at index %d, got %v", i, actual[i])
			continue
		}
		assert.InDelta(t, expected[i], actual[i], 0.01, "mismatch at index %d", i)
	}
}

func TestMovingAverages(t *testing.T) {
	nan := math.NaN()
	x := []float64{1, 2, 3, 4, 5, 6}

	tests := []struct {
		name     string
		fn       func([]float64, int) []float64
		period   int
		expected []float64
	}{
		{"sma", SMA, 3, []float64{nan, nan, 2, 3, 4, 5}},
		{"ema", EMA, 3, []float64{nan, nan, 2, 3, 4, 5}},
		{"wma", WMA, 3, []float64{nan, nan, 14.0 / 6, 20.0 / 6, 26.0 / 6, 32.0 / 6}},
		{"rma", RMA, 2, []float64{nan, 1.5, 2.25, 3.125, 4.0625, 5.03125}},
		{"highest", Highest, 2, []float64{nan, 2, 3, 4, 5, 6}},
		{"lowest", Lowest, 2, []float64{nan, 1, 2, 3, 4, 5}},
		{"roc", ROC, 1, []float64{nan, 100, 50, 100.0 / 3, 25, 20}},
		{"period longer than data", SMA, 10, []float64{nan, nan, nan, nan, nan, nan}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSeries(t, tt.expected, tt.fn(x, tt.period))
		})
	}

	assert.Nil(t, SMA(x, 0))
	assert.Nil(t, EMA(x, -1))
}

func TestCalculateRSI(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name     string
		prices   []float64
		period   int
		expected []float64
	}{
		{
			name:     "mixed moves",
			prices:   []float64{10, 11, 12, 11, 10, 9, 10},
			period:   3,
			expected: []float64{nan, nan, nan, 66.67, 44.44, 29.63, 53.09},
		},
		{
			name:     "all increasing prices",
			prices:   []float64{10, 11, 12, 13, 14, 15},
			period:   3,
			expected: []float64{nan, nan, nan, 100, 100, 100},
		},
		{
			name:     "all decreasing prices",
			prices:   []float64{20, 19, 18, 17, 16, 15},
			period:   3,
			expected: []float64{nan, nan, nan, 0, 0, 0},
		},
		{
			name:     "flat prices",
			prices:   []float64{10, 10, 10, 10, 10},
			period:   3,
			expected: []float64{nan, nan, nan, 100, 100},
		},
		{
			name:     "insufficient data",
			prices:   []float64{10, 11, 12},
			period:   5,
			expected: []float64{nan, nan, nan},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSeries(t, tt.expected, CalculateRSI(tt.prices, tt.period))
		})
	}

	assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, 0))
}

func TestATRAndStochastic(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(i int, h, l, c float64) candle.Candle {
		return candle.Candle{Timestamp: base.Add(time.Duration(i) * time.Hour), Open: c, High: h, Low: l, Close: c}
	}
	candles := []candle.Candle{mk(0, 12, 8, 10), mk(1, 13, 9, 12), mk(2, 14, 10, 11), mk(3, 16, 11, 15)}

	tr := TrueRange(candles)
	assert.Equal(t, []float64{4, 4, 4, 5}, tr)

	atr := ATR(candles, 2)
	assertSeries(t, []float64{math.NaN(), 4, 4, 4.5}, atr)

	res, err := CalculateStochastic(candles, 2, 1, 2)
	require.NoError(t, err)
	// window [8,13] close 12 -> 80; [9,14] close 11 -> 40; [10,16] close 15 -> 83.33
	assertSeries(t, []float64{math.NaN(), 80, 40, 83.33}, res.K)
	assertSeries(t, []float64{math.NaN(), math.NaN(), 60, 61.67}, res.D)

	_, err = CalculateStochastic(candles, 0, 1, 1)
	assert.Error(t, err)
}

func TestLibraryLookup(t *testing.T) {
	lib := Default()

	tests := []struct {
		query string
		name  string
	}{
		{"sma", "sma"},
		{"SMA", "sma"},
		{"moving average", "sma"},
		{"Moving   Average", "sma"},
		{"exponential moving average", "ema"},
		{"relative strength index", "rsi"},
		{"average true range", "atr"},
		{"stochastic", "stoch"},
		{"momentum", "roc"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			spec, err := lib.Lookup(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.name, spec.Name)
		})
	}

	_, err := lib.Lookup("ichimoku")
	var unknown *UnknownIndicatorError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "ichimoku", unknown.Name)
}

func TestLibraryRegister(t *testing.T) {
	lib := Default()
	assert.Equal(t, []string{"atr", "ema", "highest", "lowest", "roc", "rsi", "sma", "stoch", "wma"}, lib.Names())

	custom := Spec{
		Name:          "hma",
		Aliases:       []string{"hull moving average"},
		DefaultPeriod: 9,
		UsesSource:    true,
		Compute:       sourced(WMA),
	}
	require.NoError(t, lib.Register(custom))
	spec, err := lib.Lookup("Hull Moving Average")
	require.NoError(t, err)
	assert.Equal(t, "hma", spec.Name)
	assert.Equal(t, candle.FieldClose, spec.DefaultSource)

	assert.Error(t, lib.Register(custom), "duplicate name")
	assert.Error(t, lib.Register(Spec{Name: "other", Aliases: []string{"SMA"}, DefaultPeriod: 1, Compute: sourced(SMA)}), "alias clashes with a name")
	assert.Error(t, lib.Register(Spec{Name: "nofunc", DefaultPeriod: 1}))
	assert.Error(t, lib.Register(Spec{Name: "noperiod", Compute: sourced(SMA)}))
}

func TestDefaultIndicatorsAreCausal(t *testing.T) {
	candles := randomCandles(80, 7)
	lib := Default()

	for _, spec := range lib.Specs() {
		t.Run(spec.Name, func(t *testing.T) {
			full := spec.Compute(candles, 5, spec.DefaultSource)
			require.Len(t, full, len(candles))
			for _, n := range []int{1, 5, 6, 20, 50} {
				prefix := spec.Compute(candles[:n], 5, spec.DefaultSource)
				require.Len(t, prefix, n)
				for i := 0; i < n; i++ {
					if math.IsNaN(full[i]) {
						assert.True(t, math.IsNaN(prefix[i]), "index %d of prefix %d", i, n)
						continue
					}
					assert.InDelta(t, full[i], prefix[i], 1e-9, "index %d of prefix %d", i, n)
				}
			}
		})
	}
}

func TestOperatorHolds(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name               string
		op                 Operator
		prevA, prevB, a, b float64
		tolerance          float64
		expected           bool
	}{
		{"crosses above", CrossesAbove, 1, 2, 3, 2, 0, true},
		{"touch then above", CrossesAbove, 2, 2, 3, 2, 0, true},
		{"already above", CrossesAbove, 3, 2, 4, 2, 0, false},
		{"crosses below", CrossesBelow, 3, 2, 1, 2, 0, true},
		{"still below", CrossesBelow, 1, 2, 1, 2, 0, false},
		{"nan previous", CrossesAbove, nan, 2, 3, 2, 0, false},
		{"greater", GreaterThan, 0, 0, 3, 2, 0, true},
		{"not greater", GreaterThan, 0, 0, 2, 2, 0, false},
		{"less", LessThan, 0, 0, 1, 2, 0, true},
		{"equals default tolerance", Equals, 0, 0, 2.0000001, 2, 0, true},
		{"equals custom tolerance", Equals, 0, 0, 2.5, 2, 1, true},
		{"not equal", Equals, 0, 0, 2.5, 2, 0, false},
		{"nan current", GreaterThan, 0, 0, nan, 2, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.op.Holds(tt.prevA, tt.prevB, tt.a, tt.b, tt.tolerance))
		})
	}

	assert.True(t, Operator("crosses_above").Valid())
	assert.False(t, Operator("between").Valid())
	assert.Len(t, SupportedOperators(), 5)
}

func TestZones(t *testing.T) {
	tests := []struct {
		name       string
		overbought float64
		oversold   float64
		ok         bool
	}{
		{"rsi", 70, 30, true},
		{"stoch", 80, 20, true},
		{"sma", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob, os, ok := Zones(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.overbought, ob)
			assert.Equal(t, tt.oversold, os)
		})
	}
}
