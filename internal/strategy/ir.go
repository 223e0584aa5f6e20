// Package strategy defines the rule representation shared by the script
// emitters and the backtest engine.
package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amirphl/elite/internal/indicator"
)

type OperandKind string

const (
	KindField     OperandKind = "field"
	KindIndicator OperandKind = "indicator"
	KindConstant  OperandKind = "constant"
)

type IndicatorRef struct {
	Name   string `json:"name"`
	Period int    `json:"period"`
	Source string `json:"source,omitempty"`
}

// Key identifies the computed series, e.g. "sma_10_close".
func (r IndicatorRef) Key() string {
	if r.Source == "" {
		return fmt.Sprintf("%s_%d", r.Name, r.Period)
	}
	return fmt.Sprintf("%s_%d_%s", r.Name, r.Period, r.Source)
}

// Operand is one side of a condition. Offset counts bars back from the
// current bar and applies to field and indicator operands.
type Operand struct {
	Kind      OperandKind   `json:"kind"`
	Field     string        `json:"field,omitempty"`
	Indicator *IndicatorRef `json:"indicator,omitempty"`
	Value     float64       `json:"value,omitempty"`
	Offset    int           `json:"offset,omitempty"`
}

func Field(name string, offset int) Operand {
	return Operand{Kind: KindField, Field: name, Offset: offset}
}

func Indicator(name string, period int, source string) Operand {
	return Operand{Kind: KindIndicator, Indicator: &IndicatorRef{Name: name, Period: period, Source: source}}
}

func Constant(v float64) Operand {
	return Operand{Kind: KindConstant, Value: v}
}

func (o Operand) IsSeries() bool {
	return o.Kind == KindField || o.Kind == KindIndicator
}

func (o Operand) String() string {
	var s string
	switch o.Kind {
	case KindField:
		s = o.Field
	case KindIndicator:
		if o.Indicator == nil {
			return "indicator(?)"
		}
		s = fmt.Sprintf("%s(%d", o.Indicator.Name, o.Indicator.Period)
		if o.Indicator.Source != "" {
			s += ", " + o.Indicator.Source
		}
		s += ")"
	case KindConstant:
		return strconv.FormatFloat(o.Value, 'f', -1, 64)
	default:
		return string(o.Kind)
	}
	if o.Offset > 0 {
		s += fmt.Sprintf("[%d]", o.Offset)
	}
	return s
}

type Condition struct {
	Left      Operand            `json:"left"`
	Op        indicator.Operator `json:"op"`
	Right     Operand            `json:"right"`
	Tolerance float64            `json:"tolerance,omitempty"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

type Logic string

const (
	All Logic = "all"
	Any Logic = "any"
)

// Trigger with no conditions always fires.
type Trigger struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

func (t Trigger) String() string {
	if len(t.Conditions) == 0 {
		return "always"
	}
	parts := make([]string, len(t.Conditions))
	for i, c := range t.Conditions {
		parts[i] = c.String()
	}
	joiner := " and "
	if t.Logic == Any {
		joiner = " or "
	}
	return strings.Join(parts, joiner)
}

type ActionKind string

const (
	EnterLong  ActionKind = "enter_long"
	EnterShort ActionKind = "enter_short"
	Exit       ActionKind = "exit"
	SetStop    ActionKind = "set_stop"
	SetTarget  ActionKind = "set_target"
)

func (k ActionKind) IsEntry() bool      { return k == EnterLong || k == EnterShort }
func (k ActionKind) IsProtective() bool { return k == SetStop || k == SetTarget }

// ClosesPosition reports whether the action can end an open position.
func (k ActionKind) ClosesPosition() bool {
	return k == Exit || k.IsProtective()
}

func (k ActionKind) Valid() bool {
	switch k {
	case EnterLong, EnterShort, Exit, SetStop, SetTarget:
		return true
	}
	return false
}

// Action.Percent is the stop or target distance from the average entry price.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Percent float64    `json:"percent,omitempty"`
}

type Rule struct {
	Trigger Trigger `json:"trigger"`
	Action  Action  `json:"action"`
	Text    string  `json:"text,omitempty"`
}

func (r Rule) String() string {
	s := fmt.Sprintf("%s when %s", r.Action.Kind, r.Trigger)
	if r.Action.Kind.IsProtective() {
		s = fmt.Sprintf("%s %g%% when %s", r.Action.Kind, r.Action.Percent, r.Trigger)
	}
	return s
}

type SizingMode string

const (
	FixedUnits      SizingMode = "fixed_units"
	PercentOfEquity SizingMode = "percent_of_equity"
)

type Sizing struct {
	Mode            SizingMode `json:"mode"`
	Units           float64    `json:"units,omitempty"`
	Percent         float64    `json:"percent,omitempty"`
	AllowPyramiding bool       `json:"allow_pyramiding,omitempty"`
}

type Params struct {
	InitialCapital float64 `json:"initial_capital"`
	Sizing         Sizing  `json:"sizing"`
	MaxPositions   int     `json:"max_positions"`
}

const (
	DefaultInitialCapital = 10000.0
	DefaultUnits          = 1.0
)

func DefaultParams() Params {
	return Params{
		InitialCapital: DefaultInitialCapital,
		Sizing:         Sizing{Mode: FixedUnits, Units: DefaultUnits},
		MaxPositions:   1,
	}
}

// IR is an ordered rule list plus global parameters.
type IR struct {
	Name   string `json:"name,omitempty"`
	Rules  []Rule `json:"rules"`
	Params Params `json:"params"`
}

func New(name string) *IR {
	return &IR{Name: name, Params: DefaultParams()}
}

// ApplyDefaults fills unset parameters, indicator sources and triggers logic.
func (ir *IR) ApplyDefaults(lib *indicator.Library) {
	def := DefaultParams()
	if ir.Params.InitialCapital == 0 {
		ir.Params.InitialCapital = def.InitialCapital
	}
	if ir.Params.Sizing.Mode == "" {
		ir.Params.Sizing.Mode = def.Sizing.Mode
	}
	if ir.Params.Sizing.Mode == FixedUnits && ir.Params.Sizing.Units == 0 {
		ir.Params.Sizing.Units = def.Sizing.Units
	}
	if ir.Params.MaxPositions == 0 {
		ir.Params.MaxPositions = def.MaxPositions
	}
	for i := range ir.Rules {
		t := &ir.Rules[i].Trigger
		if t.Logic == "" {
			t.Logic = All
		}
		for j := range t.Conditions {
			c := &t.Conditions[j]
			for _, o := range []*Operand{&c.Left, &c.Right} {
				if o.Kind != KindIndicator || o.Indicator == nil {
					continue
				}
				spec, err := lib.Lookup(o.Indicator.Name)
				if err != nil {
					continue
				}
				o.Indicator.Name = spec.Name
				if o.Indicator.Period == 0 {
					o.Indicator.Period = spec.DefaultPeriod
				}
				if o.Indicator.Source == "" {
					o.Indicator.Source = spec.DefaultSource
				}
			}
		}
	}
}

// Indicators lists the distinct indicator references in order of first use.
func (ir *IR) Indicators() []IndicatorRef {
	seen := make(map[string]bool)
	var out []IndicatorRef
	for _, r := range ir.Rules {
		for _, c := range r.Trigger.Conditions {
			for _, o := range []Operand{c.Left, c.Right} {
				if o.Kind != KindIndicator || o.Indicator == nil {
					continue
				}
				k := o.Indicator.Key()
				if seen[k] {
					continue
				}
				seen[k] = true
				out = append(out, *o.Indicator)
			}
		}
	}
	return out
}

// Rules of the given kinds, with their 1-based index.
func (ir *IR) RulesOf(kinds ...ActionKind) ([]int, []Rule) {
	var idx []int
	var rules []Rule
	for i, r := range ir.Rules {
		for _, k := range kinds {
			if r.Action.Kind == k {
				idx = append(idx, i+1)
				rules = append(rules, r)
				break
			}
		}
	}
	return idx, rules
}

// Clone returns a deep copy.
func (ir *IR) Clone() *IR {
	out := *ir
	out.Rules = make([]Rule, len(ir.Rules))
	for i, r := range ir.Rules {
		r.Trigger.Conditions = append([]Condition(nil), r.Trigger.Conditions...)
		for j := range r.Trigger.Conditions {
			c := &r.Trigger.Conditions[j]
			c.Left = cloneOperand(c.Left)
			c.Right = cloneOperand(c.Right)
		}
		out.Rules[i] = r
	}
	return &out
}

func cloneOperand(o Operand) Operand {
	if o.Indicator != nil {
		ref := *o.Indicator
		o.Indicator = &ref
	}
	return o
}
