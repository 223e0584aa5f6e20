package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/elite/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	wallex "github.com/wallexchange/wallex-go"
)

type mockWallexClient struct {
	mock.Mock
}

func (m *mockWallexClient) Candles(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error) {
	args := m.Called(symbol, resolution, from, to)
	c, _ := args.Get(0).([]*wallex.Candle)
	return c, args.Error(1)
}

func wallexCandle(ts time.Time, price string) *wallex.Candle {
	c := &wallex.Candle{Timestamp: ts, Open: "100", High: "110", Low: "90", Volume: "5"}
	setNumber(&c.Close, price)
	return c
}

// setNumber fills a string-backed SDK field from a variable.
func setNumber[T ~string](dst *T, s string) {
	*dst = T(s)
}

func fastRetry(attempts int) utils.RetryPolicy {
	return utils.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWallexCandles(t *testing.T) {
	to := day0.Add(3 * time.Hour)
	client := &mockWallexClient{}
	client.On("Candles", "BTCUSDT", "60", day0, to).Return(nil, errors.New("bad gateway")).Once()
	client.On("Candles", "BTCUSDT", "60", day0, to).Return([]*wallex.Candle{
		wallexCandle(day0.Add(time.Hour), "104"),
		wallexCandle(day0, "102"),
		wallexCandle(day0, "102"),
		wallexCandle(to, "106"),
	}, nil).Once()

	candles, err := newWallex(client, fastRetry(2), quietLogger()).Candles(context.Background(), "btc-usdt", "1h", day0, to)
	require.NoError(t, err)
	client.AssertExpectations(t)

	require.Len(t, candles, 2)
	assert.Equal(t, day0, candles[0].Timestamp)
	assert.Equal(t, 102.0, candles[0].Close)
	assert.Equal(t, 104.0, candles[1].Close)
	assert.Equal(t, "btc-usdt", candles[0].Symbol)
	assert.Equal(t, sourceWallex, candles[0].Source)
}

func TestWallexFailures(t *testing.T) {
	to := day0.Add(2 * time.Hour)
	tests := []struct {
		name      string
		timeframe string
		from      time.Time
		setup     func(c *mockWallexClient)
		contains  string
	}{
		{
			name:      "unsupported timeframe",
			timeframe: "3h",
			from:      day0,
			setup:     func(*mockWallexClient) {},
			contains:  "unsupported timeframe",
		},
		{
			name:      "empty range",
			timeframe: "1h",
			from:      to,
			setup:     func(*mockWallexClient) {},
			contains:  "empty range",
		},
		{
			name:      "retries exhausted",
			timeframe: "1h",
			from:      day0,
			setup: func(c *mockWallexClient) {
				c.On("Candles", "BTCUSDT", "60", day0, to).Return(nil, errors.New("timeout")).Times(3)
			},
			contains: "after 3 attempts",
		},
		{
			name:      "malformed price",
			timeframe: "1h",
			from:      day0,
			setup: func(c *mockWallexClient) {
				c.On("Candles", "BTCUSDT", "60", day0, to).Return([]*wallex.Candle{wallexCandle(day0, "n/a")}, nil).Once()
			},
			contains: "candle 0 field 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockWallexClient{}
			tt.setup(client)
			_, err := newWallex(client, fastRetry(3), quietLogger()).Candles(context.Background(), "BTCUSDT", tt.timeframe, tt.from, to)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			client.AssertExpectations(t)
		})
	}
}

func TestWallexHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &mockWallexClient{}
	_, err := newWallex(client, fastRetry(3), quietLogger()).Candles(ctx, "BTCUSDT", "1h", day0, day0.Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNotCalled(t, "Candles", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
