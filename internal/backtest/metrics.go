package backtest

import "math"

// Metrics summarizes the closed trades of a run. Amounts are in quote
// currency; WinRate is a fraction.
type Metrics struct {
	Trades          int     `json:"trades"`
	LongTrades      int     `json:"long_trades"`
	ShortTrades     int     `json:"short_trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	ProfitFactor    float64 `json:"profit_factor"`
	MeanPnL         float64 `json:"mean_pnl"`
	StdPnL          float64 `json:"std_pnl"`
	Sharpe          float64 `json:"sharpe"`
	Expectancy      float64 `json:"expectancy"`
	TotalReturn     float64 `json:"total_return"`
	PercentReturn   float64 `json:"percent_return"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MaxConsecWins   int     `json:"max_consecutive_wins"`
	MaxConsecLosses int     `json:"max_consecutive_losses"`
	StartingBalance float64 `json:"starting_balance"`
	FinalEquity     float64 `json:"final_equity"`
	// ExitReasons counts trades by exit reason.
	ExitReasons map[string]int `json:"exit_reasons"`
}

// CalculateMetrics computes performance metrics over realized trades. A
// break-even trade counts as a loss.
func CalculateMetrics(startingBalance float64, trades []Trade) Metrics {
	m := Metrics{
		Trades:          len(trades),
		StartingBalance: startingBalance,
		FinalEquity:     startingBalance,
		ExitReasons:     make(map[string]int),
	}

	var grossWin, grossLoss float64
	var consecWins, consecLosses int
	peak := startingBalance
	for _, t := range trades {
		if t.Side == Long {
			m.LongTrades++
		} else {
			m.ShortTrades++
		}
		m.ExitReasons[t.Reason]++

		if t.PnL > 0 {
			m.Wins++
			grossWin += t.PnL
			consecWins++
			consecLosses = 0
		} else {
			m.Losses++
			grossLoss += t.PnL
			consecLosses++
			consecWins = 0
		}
		if consecWins > m.MaxConsecWins {
			m.MaxConsecWins = consecWins
		}
		if consecLosses > m.MaxConsecLosses {
			m.MaxConsecLosses = consecLosses
		}

		m.FinalEquity += t.PnL
		if m.FinalEquity > peak {
			peak = m.FinalEquity
		}
		if dd := peak - m.FinalEquity; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}
	if m.Trades == 0 {
		return m
	}

	m.WinRate = float64(m.Wins) / float64(m.Trades)
	if m.Wins > 0 {
		m.AvgWin = grossWin / float64(m.Wins)
	}
	if m.Losses > 0 {
		m.AvgLoss = grossLoss / float64(m.Losses)
	}
	if grossLoss != 0 {
		m.ProfitFactor = -grossWin / grossLoss
	}

	m.MeanPnL = (grossWin + grossLoss) / float64(m.Trades)
	var variance float64
	for _, t := range trades {
		variance += (t.PnL - m.MeanPnL) * (t.PnL - m.MeanPnL)
	}
	m.StdPnL = math.Sqrt(variance / float64(m.Trades))
	if m.StdPnL > 0 {
		m.Sharpe = m.MeanPnL / m.StdPnL
	}
	m.Expectancy = m.WinRate*m.AvgWin + (1-m.WinRate)*m.AvgLoss

	m.TotalReturn = m.FinalEquity - startingBalance
	if startingBalance > 0 {
		m.PercentReturn = m.TotalReturn / startingBalance * 100
	}
	return m
}
