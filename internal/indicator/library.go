// Package indicator provides the indicator catalog and the condition operators
// strategies are built from.
package indicator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/amirphl/elite/internal/candle"
)

// ComputeFunc produces a series aligned to candles. The value at index i may
// only depend on candles[0..i].
type ComputeFunc func(candles []candle.Candle, period int, source string) []float64

// Template tells a dialect how to render an indicator. Expr may reference
// {source}, {period}, {high}, {low} and {close}. Helper is emitted once per
// script when the indicator is used.
type Template struct {
	Expr   string
	Helper string
}

type Spec struct {
	Name          string
	Aliases       []string
	Description   string
	DefaultPeriod int
	DefaultSource string
	// UsesSource is false for indicators computed from high, low and close.
	UsesSource bool
	Compute    ComputeFunc
	Templates  map[string]Template
}

type UnknownIndicatorError struct {
	Name string
}

func (e *UnknownIndicatorError) Error() string {
	return fmt.Sprintf("unknown indicator %q", e.Name)
}

// Library is safe for concurrent use.
type Library struct {
	mu    sync.RWMutex
	specs map[string]*Spec
	keys  map[string]string // normalized name or alias -> spec name
}

func NewLibrary() *Library {
	return &Library{
		specs: make(map[string]*Spec),
		keys:  make(map[string]string),
	}
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Register adds an indicator. Names and aliases share one namespace.
func (l *Library) Register(spec Spec) error {
	name := normalize(spec.Name)
	if name == "" {
		return errors.New("indicator name is required")
	}
	if spec.Compute == nil {
		return fmt.Errorf("indicator %s: compute function is required", name)
	}
	if spec.DefaultPeriod <= 0 {
		return fmt.Errorf("indicator %s: default period must be positive", name)
	}
	if spec.DefaultSource == "" {
		spec.DefaultSource = candle.FieldClose
	}
	if !candle.IsField(spec.DefaultSource) {
		return fmt.Errorf("indicator %s: unknown default source %q", name, spec.DefaultSource)
	}
	spec.Name = name

	keys := []string{name}
	for _, a := range spec.Aliases {
		keys = append(keys, normalize(a))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if owner, ok := l.keys[k]; ok {
			return fmt.Errorf("indicator %s: %q already registered by %s", name, k, owner)
		}
	}
	stored := spec
	l.specs[name] = &stored
	for _, k := range keys {
		l.keys[k] = name
	}
	return nil
}

// Lookup resolves a name or alias, ignoring case and extra whitespace.
func (l *Library) Lookup(name string) (Spec, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if canonical, ok := l.keys[normalize(name)]; ok {
		return *l.specs[canonical], nil
	}
	return Spec{}, &UnknownIndicatorError{Name: name}
}

// Names returns canonical indicator names in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.specs))
	for n := range l.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (l *Library) Specs() []Spec {
	names := l.Names()
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Spec, 0, len(names))
	for _, n := range names {
		out = append(out, *l.specs[n])
	}
	return out
}

// Phrases maps every registered name and alias to its canonical name.
func (l *Library) Phrases() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.keys))
	for k, v := range l.keys {
		out[k] = v
	}
	return out
}

func sourced(f func([]float64, int) []float64) ComputeFunc {
	return func(candles []candle.Candle, period int, source string) []float64 {
		x, err := candle.Series(candles, source)
		if err != nil {
			return nanSlice(len(candles))
		}
		return f(x, period)
	}
}

// Default returns a library holding the built-in indicators.
func Default() *Library {
	l := NewLibrary()
	for _, s := range builtins() {
		if err := l.Register(s); err != nil {
			panic(err)
		}
	}
	return l
}

func builtins() []Spec {
	return []Spec{
		{
			Name:          "sma",
			Aliases:       []string{"simple moving average", "moving average", "average", "ma", "moving avg"},
			Description:   "Simple moving average",
			DefaultPeriod: 20,
			UsesSource:    true,
			Compute:       sourced(SMA),
		},
		{
			Name:          "ema",
			Aliases:       []string{"exponential moving average", "exponential average", "exp moving average"},
			Description:   "Exponential moving average seeded with an SMA",
			DefaultPeriod: 20,
			UsesSource:    true,
			Compute:       sourced(EMA),
		},
		{
			Name:          "wma",
			Aliases:       []string{"weighted moving average", "weighted average"},
			Description:   "Linearly weighted moving average",
			DefaultPeriod: 20,
			UsesSource:    true,
			Compute:       sourced(WMA),
		},
		{
			Name:          "rsi",
			Aliases:       []string{"relative strength index", "relative strength"},
			Description:   "Wilder's relative strength index",
			DefaultPeriod: 14,
			UsesSource:    true,
			Compute:       sourced(CalculateRSI),
		},
		{
			Name:          "atr",
			Aliases:       []string{"average true range", "true range"},
			Description:   "Wilder's average true range",
			DefaultPeriod: 14,
			Compute: func(candles []candle.Candle, period int, _ string) []float64 {
				return ATR(candles, period)
			},
		},
		{
			Name:          "stoch",
			Aliases:       []string{"stochastic", "stochastic oscillator", "stochastics", "stoch k"},
			Description:   "Raw stochastic %K",
			DefaultPeriod: 14,
			Compute: func(candles []candle.Candle, period int, _ string) []float64 {
				res, err := CalculateStochastic(candles, period, 1, 1)
				if err != nil {
					return nanSlice(len(candles))
				}
				return res.K
			},
		},
		{
			Name:          "highest",
			Aliases:       []string{"highest high", "max"},
			Description:   "Highest value over the window",
			DefaultPeriod: 20,
			DefaultSource: candle.FieldHigh,
			UsesSource:    true,
			Compute:       sourced(Highest),
		},
		{
			Name:          "lowest",
			Aliases:       []string{"lowest low", "min"},
			Description:   "Lowest value over the window",
			DefaultPeriod: 20,
			DefaultSource: candle.FieldLow,
			UsesSource:    true,
			Compute:       sourced(Lowest),
		},
		{
			Name:          "roc",
			Aliases:       []string{"rate of change", "momentum"},
			Description:   "Percent rate of change",
			DefaultPeriod: 10,
			UsesSource:    true,
			Compute:       sourced(ROC),
		},
	}
}
