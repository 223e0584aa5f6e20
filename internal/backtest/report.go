package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// amount renders a money or price value with at most eight decimals.
func amount(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

// WriteTradesCSV writes one row per closed trade.
func WriteTradesCSV(w io.Writer, trades []Trade) error {
	rows := [][]string{{"trade", "side", "quantity", "entry_time", "entry_price", "exit_time", "exit_price", "pnl", "reason"}}
	for i, t := range trades {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			t.Side.String(),
			amount(t.Quantity),
			t.EntryTime.Format(time.RFC3339),
			amount(t.EntryPrice),
			t.ExitTime.Format(time.RFC3339),
			amount(t.ExitPrice),
			amount(t.PnL),
			t.Reason,
		})
	}
	return writeCSV(w, rows)
}

// WritePnLCSV writes the cumulative realized P&L series.
func WritePnLCSV(w io.Writer, pnl []PnLPoint) error {
	rows := [][]string{{"timestamp", "cumulative_pnl"}}
	for _, p := range pnl {
		rows = append(rows, []string{p.Timestamp.Format(time.RFC3339), amount(p.Cumulative)})
	}
	return writeCSV(w, rows)
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// SaveCSV writes <prefix>_trades.csv and <prefix>_pnl.csv into dir and
// returns their paths.
func SaveCSV(dir, prefix string, res *Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{prefix + "_trades.csv", func(w io.Writer) error { return WriteTradesCSV(w, res.Trades) }},
		{prefix + "_pnl.csv", func(w io.Writer) error { return WritePnLCSV(w, res.PnL) }},
	}

	var paths []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := saveFile(path, f.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func saveFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating csv file %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("error writing csv file %s: %w", path, err)
	}
	return f.Close()
}

// LogResult logs the metrics of a run and its last trades.
func LogResult(log logrus.FieldLogger, res *Result, lastTrades int) {
	m := res.Metrics
	log.WithFields(logrus.Fields{
		"trades":          m.Trades,
		"long_trades":     m.LongTrades,
		"short_trades":    m.ShortTrades,
		"win_rate":        m.WinRate,
		"profit_factor":   m.ProfitFactor,
		"sharpe":          m.Sharpe,
		"expectancy":      m.Expectancy,
		"total_return":    m.TotalReturn,
		"percent_return":  m.PercentReturn,
		"max_drawdown":    m.MaxDrawdown,
		"open_position":   res.FinalPosition != nil,
		"exit_reasons":    reasonSummary(m.ExitReasons),
		"final_equity":    m.FinalEquity,
		"starting_equity": m.StartingBalance,
	}).Info("backtest finished")

	start := len(res.Trades) - lastTrades
	if start < 0 {
		start = 0
	}
	for i := start; i < len(res.Trades); i++ {
		t := res.Trades[i]
		log.WithFields(logrus.Fields{
			"trade":       i + 1,
			"side":        t.Side.String(),
			"entry_price": t.EntryPrice,
			"entry_time":  t.EntryTime.Format(time.RFC3339),
			"exit_price":  t.ExitPrice,
			"exit_time":   t.ExitTime.Format(time.RFC3339),
			"pnl":         t.PnL,
			"reason":      t.Reason,
		}).Info("trade")
	}
}

func reasonSummary(reasons map[string]int) string {
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var s string
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", k, reasons[k])
	}
	return s
}
