package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/indicator"
)

// ValidationError reports a broken IR invariant. Rule is 1-based; 0 means
// the strategy as a whole.
type ValidationError struct {
	Rule   int
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Rule == 0 {
		return "invalid strategy: " + e.Reason
	}
	return fmt.Sprintf("invalid strategy: rule %d: %s", e.Rule, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validation reasons shared with callers that report them.
const (
	ReasonNoEntryRule = "no entry rule"
	ReasonNoExitRule  = "no exit rule"
)

// Validate checks the IR against the library without modifying it.
func (ir *IR) Validate(lib *indicator.Library) error {
	if ir == nil {
		return &ValidationError{Reason: "strategy is nil"}
	}
	if err := ir.Params.validate(); err != nil {
		return err
	}

	var entries, exits int
	for i, r := range ir.Rules {
		if err := r.validate(lib); err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				vErr.Rule = i + 1
				return vErr
			}
			return &ValidationError{Rule: i + 1, Reason: err.Error(), Err: err}
		}
		if r.Action.Kind.IsEntry() {
			entries++
		}
		if r.Action.Kind.ClosesPosition() {
			exits++
		}
	}
	if entries == 0 {
		return &ValidationError{Reason: ReasonNoEntryRule}
	}
	if exits == 0 {
		return &ValidationError{Reason: ReasonNoExitRule}
	}
	return nil
}

func (p Params) validate() error {
	if !finitePositive(p.InitialCapital) {
		return &ValidationError{Reason: fmt.Sprintf("initial capital must be positive, got %v", p.InitialCapital)}
	}
	switch p.Sizing.Mode {
	case FixedUnits:
		if !finitePositive(p.Sizing.Units) {
			return &ValidationError{Reason: fmt.Sprintf("units must be positive, got %v", p.Sizing.Units)}
		}
	case PercentOfEquity:
		if !finitePositive(p.Sizing.Percent) || p.Sizing.Percent > 100 {
			return &ValidationError{Reason: fmt.Sprintf("equity percent must be in (0, 100], got %v", p.Sizing.Percent)}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown sizing mode %q", p.Sizing.Mode)}
	}
	if p.MaxPositions < 1 {
		return &ValidationError{Reason: fmt.Sprintf("max positions must be at least 1, got %d", p.MaxPositions)}
	}
	return nil
}

func (r Rule) validate(lib *indicator.Library) error {
	if !r.Action.Kind.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown action %q", r.Action.Kind)}
	}
	if r.Action.Kind.IsProtective() {
		if !finitePositive(r.Action.Percent) {
			return &ValidationError{Reason: fmt.Sprintf("%s percent must be positive, got %v", r.Action.Kind, r.Action.Percent)}
		}
	} else if len(r.Trigger.Conditions) == 0 {
		return &ValidationError{Reason: fmt.Sprintf("%s requires a condition", r.Action.Kind)}
	}
	if r.Trigger.Logic != All && r.Trigger.Logic != Any && !(r.Trigger.Logic == "" && len(r.Trigger.Conditions) <= 1) {
		return &ValidationError{Reason: fmt.Sprintf("unknown trigger logic %q", r.Trigger.Logic)}
	}
	for _, c := range r.Trigger.Conditions {
		if err := c.validate(lib); err != nil {
			return err
		}
	}
	return nil
}

func (c Condition) validate(lib *indicator.Library) error {
	if !c.Op.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown operator %q", c.Op)}
	}
	if !c.Left.IsSeries() && !c.Right.IsSeries() {
		return &ValidationError{Reason: fmt.Sprintf("condition %q compares two constants", c)}
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) {
		return &ValidationError{Reason: "tolerance cannot be negative"}
	}
	for _, o := range []Operand{c.Left, c.Right} {
		if err := o.validate(lib); err != nil {
			return err
		}
	}
	return nil
}

func (o Operand) validate(lib *indicator.Library) error {
	if o.Offset < 0 {
		return &ValidationError{Reason: fmt.Sprintf("operand %s refers to a future bar", o)}
	}
	switch o.Kind {
	case KindField:
		if !candle.IsField(o.Field) {
			return &ValidationError{Reason: fmt.Sprintf("unknown price field %q", o.Field)}
		}
	case KindIndicator:
		if o.Indicator == nil {
			return &ValidationError{Reason: "indicator operand without reference"}
		}
		if _, err := lib.Lookup(o.Indicator.Name); err != nil {
			return &ValidationError{Reason: err.Error(), Err: err}
		}
		if o.Indicator.Period <= 0 {
			return &ValidationError{Reason: fmt.Sprintf("indicator %s period must be positive, got %d", o.Indicator.Name, o.Indicator.Period)}
		}
		if o.Indicator.Source != "" && !candle.IsField(o.Indicator.Source) {
			return &ValidationError{Reason: fmt.Sprintf("unknown indicator source %q", o.Indicator.Source)}
		}
	case KindConstant:
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return &ValidationError{Reason: "constant must be finite"}
		}
		if o.Offset != 0 {
			return &ValidationError{Reason: "constant cannot have an offset"}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown operand kind %q", o.Kind)}
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
