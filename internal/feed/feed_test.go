package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/elite/internal/cache"
	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func kline(ts time.Time, price float64) []any {
	p := strconv.FormatFloat(price, 'f', -1, 64)
	hi := strconv.FormatFloat(price+1, 'f', -1, 64)
	lo := strconv.FormatFloat(price-1, 'f', -1, 64)
	return []any{ts.UnixMilli(), p, hi, lo, p, "10", ts.Add(time.Hour).UnixMilli() - 1}
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newBinance(t *testing.T, url string, attempts int) *Binance {
	t.Helper()
	b, err := NewBinance(BinanceConfig{
		BaseURL: url,
		Retry:   utils.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, quietLogger())
	require.NoError(t, err)
	return b
}

func TestBinanceRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rows := [][]any{kline(day0.Add(time.Hour), 101), kline(day0, 100), kline(day0, 100)}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	candles, err := newBinance(t, srv.URL, 3).Candles(context.Background(), "btc-usdt", "1h", day0, day0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, candles, 2)
	assert.Equal(t, day0, candles[0].Timestamp)
	assert.Equal(t, 101.0, candles[1].Close)
	assert.Equal(t, "btc-usdt", candles[0].Symbol)
	assert.Equal(t, sourceBinance, candles[0].Source)
}

func TestBinanceFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		attempts  int
		wantCalls int32
	}{
		{"non retryable status fails fast", http.StatusBadRequest, 3, 1},
		{"retries are bounded", http.StatusTooManyRequests, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				http.Error(w, `{"msg":"nope"}`, tt.status)
			}))
			defer srv.Close()

			_, err := newBinance(t, srv.URL, tt.attempts).Candles(context.Background(), "BTCUSDT", "1d", day0, day0.Add(48*time.Hour))
			require.Error(t, err)
			assert.Contains(t, err.Error(), strconv.Itoa(tt.status))
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}

	_, err := newBinance(t, "http://127.0.0.1:1", 1).Candles(context.Background(), "BTCUSDT", "2d", day0, day0.Add(time.Hour))
	assert.Error(t, err)
}

func TestBinancePages(t *testing.T) {
	var starts []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		starts = append(starts, r.URL.Query().Get("startTime"))
		n := binanceLimit
		if len(starts) > 1 {
			n = 5
		}
		mu.Unlock()
		startMs, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		first := time.UnixMilli(startMs).UTC()
		rows := make([][]any, n)
		for i := range rows {
			rows[i] = kline(first.Add(time.Duration(i)*time.Minute), 100)
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer srv.Close()

	to := day0.Add(2000 * time.Minute)
	candles, err := newBinance(t, srv.URL, 1).Candles(context.Background(), "ETHUSDT", "1m", day0, to)
	require.NoError(t, err)
	assert.Len(t, candles, binanceLimit+5)
	require.Len(t, starts, 2)
	assert.Equal(t, strconv.FormatInt(day0.Add(binanceLimit*time.Minute).UnixMilli(), 10), starts[1])
	assert.NoError(t, candle.ValidateSequence(candles))
}

func TestBinanceHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b, err := NewBinance(BinanceConfig{
		BaseURL: srv.URL,
		Retry:   utils.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour},
	}, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Candles(ctx, "BTCUSDT", "1d", day0, day0.Add(24*time.Hour))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewBinanceRejectsBadProxy(t *testing.T) {
	_, err := NewBinance(BinanceConfig{ProxyURL: "://bad"}, quietLogger())
	assert.Error(t, err)
}

func TestReadCSV(t *testing.T) {
	data := "timestamp,open,high,low,close,volume\n" +
		"2024-01-02T00:00:00Z,101,102,100,101.5,7\n" +
		"1704067200,100,101,99,100.5\n" +
		"2024-01-02T00:00:00Z,1,1,1,1,1\n"
	candles, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, day0, candles[0].Timestamp)
	assert.Equal(t, 0.0, candles[0].Volume)
	assert.Equal(t, 101.5, candles[1].Close)
	assert.Equal(t, 7.0, candles[1].Volume)
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"short row":       "2024-01-01T00:00:00Z,1,2,3\n",
		"bad number":      "2024-01-01T00:00:00Z,1,2,x,1\n",
		"bad timestamp":   "1704067200,100,101,99,100\nyesterday,1,1,1,1\n",
		"broken ordering": "1704067200,100,99,101,100\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}

func TestCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	var sb strings.Builder
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&sb, "%d,100,101,99,100\n", day0.Add(time.Duration(i)*24*time.Hour).Unix())
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	candles, err := CSVFile{Path: path}.Candles(context.Background(), "BTCUSDT", "1d", day0.Add(24*time.Hour), day0.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.Equal(t, "1d", candles[1].Timeframe)

	_, err = CSVFile{Path: filepath.Join(t.TempDir(), "missing.csv")}.Candles(context.Background(), "X", "1d", day0, day0)
	assert.Error(t, err)
}

type mockFeed struct {
	mock.Mock
}

func (m *mockFeed) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	args := m.Called(ctx, symbol, timeframe, from, to)
	candles, _ := args.Get(0).([]candle.Candle)
	return candles, args.Error(1)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	v, ok := c.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	return nil
}

func TestCachedFeed(t *testing.T) {
	ctx := context.Background()
	to := day0.Add(48 * time.Hour)
	want := []candle.Candle{{Timestamp: day0, Open: 1, High: 2, Low: 1, Close: 2, Source: "csv"}}

	inner := &mockFeed{}
	inner.On("Candles", ctx, "BTCUSDT", "1d", day0, to).Return(want, nil).Once()
	store := &mapCache{data: map[string][]byte{}}
	cached := NewCached(inner, store, time.Minute, quietLogger())

	for i := 0; i < 3; i++ {
		got, err := cached.Candles(ctx, "BTCUSDT", "1d", day0, to)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	inner.AssertExpectations(t)
	assert.Contains(t, store.data, cacheKey("BTCUSDT", "1d", day0, to))
}

func TestCachedFeedSurvivesBrokenCache(t *testing.T) {
	ctx := context.Background()
	inner := &mockFeed{}
	inner.On("Candles", ctx, "BTCUSDT", "1d", day0, day0).Return([]candle.Candle{}, nil).Twice()
	inner.On("Candles", ctx, "FAIL", "1d", day0, day0).Return(nil, errors.New("down"))

	cached := NewCached(inner, &mapCache{err: errors.New("redis down")}, time.Minute, quietLogger())
	for i := 0; i < 2; i++ {
		_, err := cached.Candles(ctx, "BTCUSDT", "1d", day0, day0)
		require.NoError(t, err)
	}
	_, err := cached.Candles(ctx, "FAIL", "1d", day0, day0)
	assert.EqualError(t, err, "down")
	inner.AssertExpectations(t)
}
