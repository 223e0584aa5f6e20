package emit

import (
	"fmt"
	"strings"

	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

// Pine renders Pine Script v5 strategies. Stops and targets share a single
// strategy.exit call, so one rule of each is supported.
func Pine() *Table {
	return &Table{
		Name:           "pine",
		FileExt:        "pine",
		MaxStopRules:   1,
		MaxTargetRules: 1,
		Indicators: map[string]indicator.Template{
			"sma":     {Expr: "ta.sma({source}, {period})"},
			"ema":     {Expr: "ta.ema({source}, {period})"},
			"wma":     {Expr: "ta.wma({source}, {period})"},
			"rsi":     {Expr: "ta.rsi({source}, {period})"},
			"atr":     {Expr: "ta.atr({period})"},
			"stoch":   {Expr: "ta.stoch({close}, {high}, {low}, {period})"},
			"highest": {Expr: "ta.highest({source}, {period})"},
			"lowest":  {Expr: "ta.lowest({source}, {period})"},
			"roc":     {Expr: "ta.roc({source}, {period})"},
		},
		Field:  "{field}",
		Offset: "{expr}[{n}]",
		Operators: map[indicator.Operator]string{
			indicator.CrossesAbove: "ta.crossover({a}, {b})",
			indicator.CrossesBelow: "ta.crossunder({a}, {b})",
			indicator.GreaterThan:  "{a} > {b}",
			indicator.LessThan:     "{a} < {b}",
			indicator.Equals:       "math.abs({a} - {b}) <= {tol}",
		},
		And:    " and ",
		Or:     " or ",
		Always: "true",
		Group:  "({expr})",
		Layout: pineLayout,
	}
}

func pineLayout(p *Program) string {
	var b strings.Builder
	w := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	qtyType, qty := "strategy.fixed", p.Params.Sizing.Units
	if p.Params.Sizing.Mode == strategy.PercentOfEquity {
		qtyType, qty = "strategy.percent_of_equity", p.Params.Sizing.Percent
	}
	pyramiding := 0
	if p.Params.Sizing.AllowPyramiding {
		pyramiding = p.Params.MaxPositions - 1
	}

	w("//@version=5")
	w("// Generated by elite. Exits are evaluated before entries on every bar.")
	w(`strategy("%s", overlay=true, initial_capital=%s, default_qty_type=%s, default_qty_value=%s, pyramiding=%d, process_orders_on_close=true)`,
		pineString(p.Name), formatFloat(p.Params.InitialCapital), qtyType, formatFloat(qty), pyramiding)

	if len(p.Indicators) > 0 {
		w("")
		w("// Indicators")
		for _, d := range p.Indicators {
			w("%s = %s", d.Var, d.Expr)
		}
	}

	w("")
	w("// Rules")
	for _, r := range p.Rules {
		w("// %d: %s", r.Index, r.Text)
		w("%s = %s", r.Var, r.Expr)
	}

	stops := p.RulesOf(strategy.SetStop)
	targets := p.RulesOf(strategy.SetTarget)
	if len(stops)+len(targets) > 0 {
		w("")
		w("var float stopPct = na")
		w("var float targetPct = na")
		w("if strategy.position_size == 0")
		w("    stopPct := na")
		w("    targetPct := na")
	}

	if exits := p.RulesOf(strategy.Exit); len(exits) > 0 {
		w("")
		w("// Exits")
		w("if strategy.position_size != 0")
		for i, r := range exits {
			kw := "if"
			if i > 0 {
				kw = "else if"
			}
			w("    %s %s", kw, r.Var)
			w(`        strategy.close_all(comment="rule %d")`, r.Index)
		}
	}

	w("")
	w("// Entries")
	for i, r := range p.RulesOf(strategy.EnterLong, strategy.EnterShort) {
		kw := "if"
		if i > 0 {
			kw = "else if"
		}
		w("%s %s", kw, r.Var)
		if r.Action.Kind == strategy.EnterLong {
			w(`    strategy.entry("Long", strategy.long, comment="rule %d")`, r.Index)
		} else {
			w(`    strategy.entry("Short", strategy.short, comment="rule %d")`, r.Index)
		}
	}

	if len(stops)+len(targets) > 0 {
		w("")
		w("// Protection")
		for _, r := range stops {
			w("if %s and strategy.position_size != 0", r.Var)
			w("    stopPct := %s", formatFloat(r.Action.Percent))
		}
		for _, r := range targets {
			w("if %s and strategy.position_size != 0", r.Var)
			w("    targetPct := %s", formatFloat(r.Action.Percent))
		}
		w("if strategy.position_size > 0")
		w(`    strategy.exit("Protect Long", "Long", stop=na(stopPct) ? na : strategy.position_avg_price * (1 - stopPct / 100), limit=na(targetPct) ? na : strategy.position_avg_price * (1 + targetPct / 100))`)
		w("if strategy.position_size < 0")
		w(`    strategy.exit("Protect Short", "Short", stop=na(stopPct) ? na : strategy.position_avg_price * (1 + stopPct / 100), limit=na(targetPct) ? na : strategy.position_avg_price * (1 - targetPct / 100))`)
	}
	return b.String()
}

func pineString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ").Replace(s)
}
