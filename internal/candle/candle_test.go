package candle

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) Candle {
	return Candle{Timestamp: base.Add(time.Duration(i) * 24 * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: 10}
}

func TestCandleValidate(t *testing.T) {
	tests := []struct {
		name    string
		candle  Candle
		wantErr bool
	}{
		{"valid", bar(0, 100, 102, 99, 101), false},
		{"flat", bar(0, 100, 100, 100, 100), false},
		{"high below low", bar(0, 100, 98, 99, 99), true},
		{"open above high", bar(0, 103, 102, 99, 101), true},
		{"close below low", bar(0, 100, 102, 99, 98), true},
		{"nan close", bar(0, 100, 102, 99, math.NaN()), true},
		{"inf high", bar(0, 100, math.Inf(1), 99, 101), true},
		{"zero timestamp", Candle{Open: 1, High: 1, Low: 1, Close: 1}, true},
		{"negative volume", Candle{Timestamp: base, Open: 1, High: 1, Low: 1, Close: 1, Volume: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candle.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSequence(t *testing.T) {
	t.Run("ordered", func(t *testing.T) {
		seq := []Candle{bar(0, 1, 2, 0, 1), bar(1, 1, 2, 0, 1), bar(2, 1, 2, 0, 1)}
		assert.NoError(t, ValidateSequence(seq))
	})

	t.Run("duplicate timestamp", func(t *testing.T) {
		seq := []Candle{bar(0, 1, 2, 0, 1), bar(1, 1, 2, 0, 1), bar(1, 1, 2, 0, 1)}
		err := ValidateSequence(seq)
		var seqErr *SequenceError
		require.True(t, errors.As(err, &seqErr))
		assert.Equal(t, 2, seqErr.Index)
		assert.Contains(t, seqErr.Reason, "duplicate")
	})

	t.Run("out of order", func(t *testing.T) {
		seq := []Candle{bar(1, 1, 2, 0, 1), bar(0, 1, 2, 0, 1)}
		err := ValidateSequence(seq)
		var seqErr *SequenceError
		require.True(t, errors.As(err, &seqErr))
		assert.Equal(t, 1, seqErr.Index)
	})

	t.Run("invalid candle", func(t *testing.T) {
		seq := []Candle{bar(0, 1, 2, 0, 1), bar(1, 5, 2, 0, 1)}
		err := ValidateSequence(seq)
		var seqErr *SequenceError
		require.True(t, errors.As(err, &seqErr))
		assert.Equal(t, 1, seqErr.Index)
	})
}

func TestSeries(t *testing.T) {
	seq := []Candle{bar(0, 1, 4, 0.5, 2), bar(1, 2, 5, 1, 3)}

	closes, err := Series(seq, FieldClose)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, closes)

	highs, err := Series(seq, FieldHigh)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, highs)

	_, err = Series(seq, "vwap")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	in := []Candle{bar(2, 3, 3, 3, 3), bar(0, 1, 1, 1, 1), bar(1, 2, 2, 2, 2), bar(0, 9, 9, 9, 9)}
	out := Normalize(in)

	require.Len(t, out, 3)
	assert.Equal(t, 1.0, out[0].Close)
	assert.Equal(t, 2.0, out[1].Close)
	assert.Equal(t, 3.0, out[2].Close)
	assert.NoError(t, ValidateSequence(out))
	assert.Len(t, in, 4)
}
