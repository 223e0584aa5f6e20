// Package backtest replays a strategy IR over a candle sequence and reports
// realized P&L.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

// Exit reasons recorded on trades.
const (
	ReasonSignal  = "signal"
	ReasonReverse = "reverse"
	ReasonStop    = "stop"
	ReasonTarget  = "target"
)

// SimulationError points at the bar that stopped a run.
type SimulationError struct {
	Bar    int
	Reason string
	Err    error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed at bar %d: %s", e.Bar, e.Reason)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// PnLPoint is the cumulative realized P&L after a bar.
type PnLPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Cumulative float64   `json:"cumulative"`
}

type Side int

const (
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	}
	return "flat"
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*s = Long
	case "short":
		*s = Short
	case "flat":
		*s = 0
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// Trade is a closed position.
type Trade struct {
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Units      int       `json:"units"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	ExitPrice  float64   `json:"exit_price"`
	ExitTime   time.Time `json:"exit_time"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
}

// Position is the open position. EntryPrice is the quantity weighted average
// of every unit added. Stop and target are percents of EntryPrice, 0 when unset.
type Position struct {
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Units      int       `json:"units"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	StopPct    float64   `json:"stop_pct,omitempty"`
	TargetPct  float64   `json:"target_pct,omitempty"`
}

func (p *Position) stopPrice() float64 {
	return p.EntryPrice * (1 - float64(p.Side)*p.StopPct/100)
}

func (p *Position) targetPrice() float64 {
	return p.EntryPrice * (1 + float64(p.Side)*p.TargetPct/100)
}

type Result struct {
	PnL           []PnLPoint `json:"pnl"`
	Trades        []Trade    `json:"trades"`
	Metrics       Metrics    `json:"metrics"`
	FinalPosition *Position  `json:"final_position,omitempty"`
}

// Engine is stateless between runs and safe for concurrent use.
type Engine struct {
	lib *indicator.Library
}

func New(lib *indicator.Library) *Engine {
	return &Engine{lib: lib}
}

// Run returns the cumulative realized P&L after every bar.
func (e *Engine) Run(ir *strategy.IR, candles []candle.Candle) ([]PnLPoint, error) {
	res, err := e.Simulate(ir, candles)
	if err != nil {
		return nil, err
	}
	return res.PnL, nil
}

// Simulate replays ir bar by bar. Fills happen at the bar close except for
// stops and targets, which fill at their level or at the open on a gap. The
// open position is reported as is; nothing is liquidated at the end.
func (e *Engine) Simulate(ir *strategy.IR, candles []candle.Candle) (*Result, error) {
	if ir == nil {
		return nil, &strategy.ValidationError{Reason: "strategy is nil"}
	}
	ir = ir.Clone()
	ir.ApplyDefaults(e.lib)
	if err := ir.Validate(e.lib); err != nil {
		return nil, err
	}
	for i := range candles {
		if err := candle.ValidateAt(candles, i); err != nil {
			return nil, &SimulationError{Bar: i, Reason: err.Error(), Err: err}
		}
	}

	series, err := e.compute(ir, candles)
	if err != nil {
		return nil, err
	}

	r := &run{
		ir:      ir,
		candles: candles,
		series:  series,
		pnl:     make([]PnLPoint, 0, len(candles)),
	}
	for i := range candles {
		r.step(i)
	}

	res := &Result{PnL: r.pnl, Trades: r.trades}
	if r.pos != nil {
		pos := *r.pos
		res.FinalPosition = &pos
	}
	res.Metrics = CalculateMetrics(ir.Params.InitialCapital, r.trades)
	return res, nil
}

// compute evaluates every indicator the IR references once over the whole
// sequence. Compute functions are causal, so reading index i never looks
// ahead.
func (e *Engine) compute(ir *strategy.IR, candles []candle.Candle) (map[string][]float64, error) {
	out := make(map[string][]float64)
	for _, ref := range ir.Indicators() {
		spec, err := e.lib.Lookup(ref.Name)
		if err != nil {
			return nil, err
		}
		out[ref.Key()] = spec.Compute(candles, ref.Period, ref.Source)
	}
	return out, nil
}

type run struct {
	ir      *strategy.IR
	candles []candle.Candle
	series  map[string][]float64

	pos      *Position
	realized float64
	trades   []Trade
	pnl      []PnLPoint
}

func (r *run) step(i int) {
	c := r.candles[i]

	exited := r.protect(c)
	if !exited && r.pos != nil {
		if _, ok := r.firstMatch(i, strategy.Exit); ok {
			r.close(c.Timestamp, c.Close, ReasonSignal)
			exited = true
		}
	}

	if rule, ok := r.firstMatch(i, strategy.EnterLong, strategy.EnterShort); ok {
		side := Long
		if rule.Action.Kind == strategy.EnterShort {
			side = Short
		}
		r.enter(c, side)
	}

	if r.pos != nil {
		if rule, ok := r.firstMatch(i, strategy.SetStop); ok {
			r.pos.StopPct = rule.Action.Percent
		}
		if rule, ok := r.firstMatch(i, strategy.SetTarget); ok {
			r.pos.TargetPct = rule.Action.Percent
		}
	}

	r.pnl = append(r.pnl, PnLPoint{Timestamp: c.Timestamp, Cumulative: r.realized})
}

// protect closes the position when its stop or target is touched. The stop
// is checked first.
func (r *run) protect(c candle.Candle) bool {
	p := r.pos
	if p == nil {
		return false
	}
	if p.StopPct > 0 {
		stop := p.stopPrice()
		if p.Side == Long && c.Low <= stop {
			r.close(c.Timestamp, gapFill(stop, c.High >= stop, c.Open), ReasonStop)
			return true
		}
		if p.Side == Short && c.High >= stop {
			r.close(c.Timestamp, gapFill(stop, c.Low <= stop, c.Open), ReasonStop)
			return true
		}
	}
	if p.TargetPct > 0 {
		target := p.targetPrice()
		if p.Side == Long && c.High >= target {
			r.close(c.Timestamp, gapFill(target, c.Low <= target, c.Open), ReasonTarget)
			return true
		}
		if p.Side == Short && c.Low <= target {
			r.close(c.Timestamp, gapFill(target, c.High >= target, c.Open), ReasonTarget)
			return true
		}
	}
	return false
}

func gapFill(level float64, inRange bool, open float64) float64 {
	if inRange {
		return level
	}
	return open
}

func (r *run) enter(c candle.Candle, side Side) {
	if r.pos != nil && r.pos.Side != side {
		r.close(c.Timestamp, c.Close, ReasonReverse)
	}
	if r.pos != nil {
		sizing := r.ir.Params.Sizing
		if !sizing.AllowPyramiding || r.pos.Units >= r.ir.Params.MaxPositions {
			return
		}
	}

	qty := r.size(c.Close)
	if !(qty > 0) || math.IsInf(qty, 0) {
		return
	}
	if r.pos == nil {
		r.pos = &Position{
			Side:       side,
			Quantity:   qty,
			Units:      1,
			EntryPrice: c.Close,
			EntryTime:  c.Timestamp,
		}
		return
	}
	p := r.pos
	p.EntryPrice = (p.EntryPrice*p.Quantity + c.Close*qty) / (p.Quantity + qty)
	p.Quantity += qty
	p.Units++
}

func (r *run) size(price float64) float64 {
	s := r.ir.Params.Sizing
	if s.Mode == strategy.PercentOfEquity {
		return (r.ir.Params.InitialCapital + r.realized) * s.Percent / 100 / price
	}
	return s.Units
}

func (r *run) close(ts time.Time, price float64, reason string) {
	p := r.pos
	pnl := float64(p.Side) * (price - p.EntryPrice) * p.Quantity
	r.realized += pnl
	r.trades = append(r.trades, Trade{
		Side:       p.Side,
		Quantity:   p.Quantity,
		Units:      p.Units,
		EntryPrice: p.EntryPrice,
		EntryTime:  p.EntryTime,
		ExitPrice:  price,
		ExitTime:   ts,
		PnL:        pnl,
		Reason:     reason,
	})
	r.pos = nil
}

// firstMatch returns the first rule of the given kinds whose trigger holds at bar i.
func (r *run) firstMatch(i int, kinds ...strategy.ActionKind) (strategy.Rule, bool) {
	for _, rule := range r.ir.Rules {
		for _, k := range kinds {
			if rule.Action.Kind == k && r.holds(i, rule.Trigger) {
				return rule, true
			}
		}
	}
	return strategy.Rule{}, false
}

func (r *run) holds(i int, t strategy.Trigger) bool {
	if len(t.Conditions) == 0 {
		return true
	}
	if t.Logic == strategy.Any {
		for _, c := range t.Conditions {
			if r.condition(i, c) {
				return true
			}
		}
		return false
	}
	for _, c := range t.Conditions {
		if !r.condition(i, c) {
			return false
		}
	}
	return true
}

func (r *run) condition(i int, c strategy.Condition) bool {
	prevA, prevB := math.NaN(), math.NaN()
	if c.Op.IsCrossing() {
		prevA, prevB = r.value(i-1, c.Left), r.value(i-1, c.Right)
	}
	return c.Op.Holds(prevA, prevB, r.value(i, c.Left), r.value(i, c.Right), c.Tolerance)
}

// value reads an operand at bar i. Bars before the start are NaN.
func (r *run) value(i int, o strategy.Operand) float64 {
	if o.Kind == strategy.KindConstant {
		return o.Value
	}
	j := i - o.Offset
	if j < 0 || j >= len(r.candles) {
		return math.NaN()
	}
	switch o.Kind {
	case strategy.KindField:
		v, _ := r.candles[j].Field(o.Field)
		return v
	case strategy.KindIndicator:
		s := r.series[o.Indicator.Key()]
		if j >= len(s) {
			return math.NaN()
		}
		return s[j]
	}
	return math.NaN()
}
