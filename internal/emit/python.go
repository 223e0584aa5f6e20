package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

// Python renders a pandas script with a bar loop that follows the same fill
// rules as the backtest engine.
func Python() *Table {
	return &Table{
		Name:    "python",
		FileExt: "py",
		Indicators: map[string]indicator.Template{
			"sma":     {Expr: "sma({source}, {period})", Helper: pySMA},
			"ema":     {Expr: "ema({source}, {period})", Helper: pyEMA},
			"wma":     {Expr: "wma({source}, {period})", Helper: pyWMA},
			"rsi":     {Expr: "rsi({source}, {period})", Helper: pyRSI},
			"atr":     {Expr: "atr({high}, {low}, {close}, {period})", Helper: pyATR},
			"stoch":   {Expr: "stoch({close}, {high}, {low}, {period})", Helper: pyStoch},
			"highest": {Expr: "{source}.rolling({period}).max()"},
			"lowest":  {Expr: "{source}.rolling({period}).min()"},
			"roc":     {Expr: "roc({source}, {period})", Helper: pyROC},
		},
		Field:  `df["{field}"]`,
		Offset: "{expr}.shift({n})",
		Operators: map[indicator.Operator]string{
			indicator.CrossesAbove: "crossover({a}, {b})",
			indicator.CrossesBelow: "crossunder({a}, {b})",
			indicator.GreaterThan:  "({a} > {b})",
			indicator.LessThan:     "({a} < {b})",
			indicator.Equals:       "((_as_series({a}, df.index) - _as_series({b}, df.index)).abs() <= {tol})",
		},
		And:    " & ",
		Or:     " | ",
		Always: "pd.Series(True, index=df.index)",
		Group:  "({expr})",
		Layout: pythonLayout,
	}
}

const pyPrelude = `def _as_series(x, index):
    if isinstance(x, pd.Series):
        return x.astype(float)
    return pd.Series(float(x), index=index)


def _index(a, b):
    return a.index if isinstance(a, pd.Series) else b.index


def crossover(a, b):
    index = _index(a, b)
    diff = _as_series(a, index) - _as_series(b, index)
    return (diff.shift(1) <= 0) & (diff > 0)


def crossunder(a, b):
    index = _index(a, b)
    diff = _as_series(a, index) - _as_series(b, index)
    return (diff.shift(1) >= 0) & (diff < 0)


def _smoothed(x, period, k):
    values = x.to_numpy(dtype=float)
    out = np.full(len(values), np.nan)
    if len(values) >= period:
        out[period - 1] = values[:period].mean()
        for i in range(period, len(values)):
            out[i] = (values[i] - out[i - 1]) * k + out[i - 1]
    return pd.Series(out, index=x.index)
`

const pySMA = `def sma(x, period):
    return x.rolling(period).mean()
`

const pyEMA = `def ema(x, period):
    return _smoothed(x, period, 2.0 / (period + 1))
`

const pyWMA = `def wma(x, period):
    weights = np.arange(1, period + 1, dtype=float)
    return x.rolling(period).apply(lambda w: np.dot(w, weights) / weights.sum(), raw=True)
`

const pyRSI = `def _rsi_value(avg_gain, avg_loss):
    if avg_loss == 0:
        return 100.0
    if avg_gain == 0:
        return 0.0
    return 100.0 - 100.0 / (1.0 + avg_gain / avg_loss)


def rsi(x, period):
    values = x.to_numpy(dtype=float)
    out = np.full(len(values), np.nan)
    if len(values) > period:
        change = np.diff(values)
        gains = np.where(change > 0, change, 0.0)
        losses = np.where(change < 0, -change, 0.0)
        avg_gain = gains[:period].mean()
        avg_loss = losses[:period].mean()
        out[period] = _rsi_value(avg_gain, avg_loss)
        for i in range(period + 1, len(values)):
            avg_gain = (avg_gain * (period - 1) + gains[i - 1]) / period
            avg_loss = (avg_loss * (period - 1) + losses[i - 1]) / period
            out[i] = _rsi_value(avg_gain, avg_loss)
    return pd.Series(out, index=x.index)
`

const pyATR = `def atr(high, low, close, period):
    prev = close.shift(1)
    tr = pd.concat([high - low, (high - prev).abs(), (low - prev).abs()], axis=1).max(axis=1)
    return _smoothed(tr, period, 1.0 / period)
`

const pyStoch = `def stoch(close, high, low, period):
    hh = high.rolling(period).max()
    ll = low.rolling(period).min()
    rng = hh - ll
    k = 100.0 * (close - ll) / rng.where(rng != 0)
    return k.mask(rng == 0, 50.0)
`

const pyROC = `def roc(x, period):
    prev = x.shift(period)
    return 100.0 * (x - prev) / prev.where(prev != 0)
`

const pyBacktest = `class Backtest:
    def __init__(self):
        self.side = 0
        self.qty = 0.0
        self.units = 0
        self.avg_price = 0.0
        self.entry_time = None
        self.stop_pct = None
        self.target_pct = None
        self.realized = 0.0
        self.trades = []
        self.pnl = []

    def size(self, price):
        if SIZING_MODE == "percent_of_equity":
            return (INITIAL_CAPITAL + self.realized) * EQUITY_PERCENT / 100.0 / price
        return UNITS

    def close(self, ts, price, reason):
        pnl = self.side * (price - self.avg_price) * self.qty
        self.realized += pnl
        self.trades.append({
            "side": "long" if self.side > 0 else "short",
            "qty": self.qty,
            "entry_time": self.entry_time,
            "entry_price": self.avg_price,
            "exit_time": ts,
            "exit_price": price,
            "pnl": pnl,
            "reason": reason,
        })
        self.side, self.qty, self.units = 0, 0.0, 0
        self.stop_pct = self.target_pct = None

    def enter(self, ts, price, side):
        if self.side == -side:
            self.close(ts, price, "reverse")
        if self.side == side and (not ALLOW_PYRAMIDING or self.units >= MAX_POSITIONS):
            return
        qty = self.size(price)
        if not qty > 0:
            return
        if self.side == 0:
            self.side, self.qty, self.units = side, qty, 1
            self.avg_price, self.entry_time = price, ts
            self.stop_pct = self.target_pct = None
            return
        self.avg_price = (self.avg_price * self.qty + price * qty) / (self.qty + qty)
        self.qty += qty
        self.units += 1

    def protect(self, ts, o, h, l):
        if self.side == 0:
            return False
        if self.stop_pct is not None:
            stop = self.avg_price * (1 - self.side * self.stop_pct / 100.0)
            if self.side > 0 and l <= stop:
                self.close(ts, stop if stop <= h else o, "stop")
                return True
            if self.side < 0 and h >= stop:
                self.close(ts, stop if stop >= l else o, "stop")
                return True
        if self.target_pct is not None:
            target = self.avg_price * (1 + self.side * self.target_pct / 100.0)
            if self.side > 0 and h >= target:
                self.close(ts, target if target >= l else o, "target")
                return True
            if self.side < 0 and l <= target:
                self.close(ts, target if target <= h else o, "target")
                return True
        return False

    def mark(self, ts):
        self.pnl.append((ts, self.realized))
`

func pythonLayout(p *Program) string {
	var b strings.Builder
	w := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	pyBool := func(v bool) string {
		if v {
			return "True"
		}
		return "False"
	}

	w("# %s", strings.Join(strings.Fields(p.Name), " "))
	w("# Generated by elite. Signals use bar closes; exits are evaluated before entries.")
	w("import sys")
	w("")
	w("import numpy as np")
	w("import pandas as pd")
	w("")
	w("STRATEGY_NAME = %s", strconv.Quote(p.Name))
	w("INITIAL_CAPITAL = %s", formatFloat(p.Params.InitialCapital))
	w("SIZING_MODE = %s", strconv.Quote(string(p.Params.Sizing.Mode)))
	w("UNITS = %s", formatFloat(p.Params.Sizing.Units))
	w("EQUITY_PERCENT = %s", formatFloat(p.Params.Sizing.Percent))
	w("ALLOW_PYRAMIDING = %s", pyBool(p.Params.Sizing.AllowPyramiding))
	w("MAX_POSITIONS = %d", p.Params.MaxPositions)
	w("")
	w("")
	b.WriteString(pyPrelude)
	for _, h := range p.Helpers {
		w("")
		w("")
		b.WriteString(h)
	}

	w("")
	w("")
	w("def signals(df):")
	w("    out = pd.DataFrame(index=df.index)")
	for _, d := range p.Indicators {
		w("    %s = %s", d.Var, d.Expr)
	}
	for _, r := range p.Rules {
		w("    # %d: %s", r.Index, r.Text)
		w("    out[%q] = %s", r.Var, r.Expr)
	}
	w("    return out")
	w("")
	w("")
	b.WriteString(pyBacktest)
	w("")
	w("")
	w("def run(df):")
	w("    sig = signals(df).fillna(False).astype(bool)")
	for _, r := range p.Rules {
		w("    %s = sig[%q].to_numpy()", r.Var, r.Var)
	}
	w(`    o, h, l, c = (df[f].to_numpy(dtype=float) for f in ("open", "high", "low", "close"))`)
	w("    bt = Backtest()")
	w("    for i, ts in enumerate(df.index):")
	w("        exited = bt.protect(ts, o[i], h[i], l[i])")

	if exits := p.RulesOf(strategy.Exit); len(exits) > 0 {
		w("        if not exited and bt.side != 0:")
		for i, r := range exits {
			kw := "if"
			if i > 0 {
				kw = "elif"
			}
			w("            %s %s[i]:", kw, r.Var)
			w(`                bt.close(ts, c[i], "signal")`)
		}
	}

	for i, r := range p.RulesOf(strategy.EnterLong, strategy.EnterShort) {
		kw := "if"
		if i > 0 {
			kw = "elif"
		}
		side := 1
		if r.Action.Kind == strategy.EnterShort {
			side = -1
		}
		w("        %s %s[i]:", kw, r.Var)
		w("            bt.enter(ts, c[i], %d)", side)
	}

	stops := p.RulesOf(strategy.SetStop)
	targets := p.RulesOf(strategy.SetTarget)
	if len(stops)+len(targets) > 0 {
		w("        if bt.side != 0:")
		for i, r := range stops {
			kw := "if"
			if i > 0 {
				kw = "elif"
			}
			w("            %s %s[i]:", kw, r.Var)
			w("                bt.stop_pct = %s", formatFloat(r.Action.Percent))
		}
		for i, r := range targets {
			kw := "if"
			if i > 0 {
				kw = "elif"
			}
			w("            %s %s[i]:", kw, r.Var)
			w("                bt.target_pct = %s", formatFloat(r.Action.Percent))
		}
	}
	w("        bt.mark(ts)")
	w("    return bt")
	w("")
	w("")
	w(`if __name__ == "__main__":`)
	w(`    path = sys.argv[1] if len(sys.argv) > 1 else "candles.csv"`)
	w(`    data = pd.read_csv(path, index_col="timestamp", parse_dates=True)`)
	w("    result = run(data)")
	w("    for trade in result.trades:")
	w("        print(trade)")
	w("    for ts, value in result.pnl:")
	w(`        print(f"{ts},{value}")`)
	return b.String()
}
