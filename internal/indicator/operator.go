package indicator

import "math"

// Operator is a comparison kind between two series.
type Operator string

const (
	CrossesAbove Operator = "crosses_above"
	CrossesBelow Operator = "crosses_below"
	GreaterThan  Operator = "greater_than"
	LessThan     Operator = "less_than"
	Equals       Operator = "equals"
)

// DefaultTolerance applies to Equals when no tolerance is set.
const DefaultTolerance = 1e-6

// SupportedOperators lists every comparison kind.
func SupportedOperators() []Operator {
	return []Operator{CrossesAbove, CrossesBelow, GreaterThan, LessThan, Equals}
}

func (o Operator) Valid() bool {
	for _, s := range SupportedOperators() {
		if o == s {
			return true
		}
	}
	return false
}

// IsCrossing reports whether the operator looks at the previous bar.
func (o Operator) IsCrossing() bool {
	return o == CrossesAbove || o == CrossesBelow
}

// Holds evaluates the operator on the previous and current values of both
// sides. Any NaN operand makes the comparison false.
func (o Operator) Holds(prevA, prevB, a, b, tolerance float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch o {
	case GreaterThan:
		return a > b
	case LessThan:
		return a < b
	case Equals:
		if tolerance <= 0 {
			tolerance = DefaultTolerance
		}
		return math.Abs(a-b) <= tolerance
	}

	if math.IsNaN(prevA) || math.IsNaN(prevB) {
		return false
	}
	prev, curr := prevA-prevB, a-b
	switch o {
	case CrossesAbove:
		return prev <= 0 && curr > 0
	case CrossesBelow:
		return prev >= 0 && curr < 0
	}
	return false
}
