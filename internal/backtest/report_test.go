package backtest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMetrics(t *testing.T) {
	var trades []Trade
	for i, pnl := range []float64{10, -5, 20, -5, 0} {
		side := Long
		if i%2 == 1 {
			side = Short
		}
		trades = append(trades, Trade{Side: side, PnL: pnl, Reason: ReasonSignal})
	}
	trades[1].Reason = ReasonStop

	m := CalculateMetrics(1000, trades)
	assert.Equal(t, 5, m.Trades)
	assert.Equal(t, 3, m.LongTrades)
	assert.Equal(t, 2, m.ShortTrades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 3, m.Losses)
	assert.InDelta(t, 0.4, m.WinRate, 1e-12)
	assert.InDelta(t, 15, m.AvgWin, 1e-12)
	assert.InDelta(t, -10.0/3, m.AvgLoss, 1e-12)
	assert.InDelta(t, 3, m.ProfitFactor, 1e-12)
	assert.InDelta(t, 4, m.MeanPnL, 1e-12)
	assert.InDelta(t, 4, m.Expectancy, 1e-12)
	assert.InDelta(t, 5, m.MaxDrawdown, 1e-12)
	assert.Equal(t, 1, m.MaxConsecWins)
	assert.Equal(t, 2, m.MaxConsecLosses)
	assert.InDelta(t, 20, m.TotalReturn, 1e-12)
	assert.InDelta(t, 2, m.PercentReturn, 1e-12)
	assert.Equal(t, 1020.0, m.FinalEquity)
	assert.Equal(t, map[string]int{ReasonSignal: 4, ReasonStop: 1}, m.ExitReasons)
	assert.Greater(t, m.Sharpe, 0.0)
}

func TestCalculateMetricsWithoutTrades(t *testing.T) {
	m := CalculateMetrics(500, nil)
	assert.Zero(t, m.Trades)
	assert.Zero(t, m.WinRate)
	assert.Equal(t, 500.0, m.FinalEquity)
}

func TestWriteCSV(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	trades := []Trade{{
		Side: Long, Quantity: 1, EntryPrice: 101, EntryTime: day,
		ExitPrice: 98.98, ExitTime: day.Add(24 * time.Hour), PnL: -2.02, Reason: ReasonStop,
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, trades))
	assert.Equal(t,
		"trade,side,quantity,entry_time,entry_price,exit_time,exit_price,pnl,reason\n"+
			"1,long,1,2024-01-02T00:00:00Z,101,2024-01-03T00:00:00Z,98.98,-2.02,stop\n",
		buf.String())

	buf.Reset()
	require.NoError(t, WritePnLCSV(&buf, []PnLPoint{{day, 0}, {day.Add(24 * time.Hour), -2.02}}))
	assert.Equal(t, "timestamp,cumulative_pnl\n2024-01-02T00:00:00Z,0\n2024-01-03T00:00:00Z,-2.02\n", buf.String())
}

func TestSaveCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	res := &Result{PnL: []PnLPoint{{Timestamp: time.Unix(0, 0).UTC()}}}
	paths, err := SaveCSV(dir, "run", res)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run_pnl.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "1970-01-01T00:00:00Z,0")
}

func TestLogResult(t *testing.T) {
	logger, hook := test.NewNullLogger()
	res := &Result{
		Trades:  []Trade{{Side: Long, PnL: 1}, {Side: Short, PnL: -1}, {Side: Long, PnL: 2}},
		Metrics: CalculateMetrics(100, nil),
	}
	LogResult(logger, res, 2)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "backtest finished", entries[0].Message)
	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, 2, entries[1].Data["trade"])
	assert.Equal(t, "long", entries[2].Data["side"])
}
