package extract

import (
	"math"
	"sort"
	"strings"

	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

type parser struct {
	input string
	items []item
	ir    *strategy.IR

	// last condition parsed, the referent of "it" and of omitted operands
	prev *strategy.Condition
	// conditions waiting for the action of the following clause
	pending *clause
	unused  []int
}

type clause struct {
	action    *strategy.Action
	actionIdx int
	conds     []strategy.Condition
	logic     strategy.Logic
	percent   int // item index, -1 when unset
	start     int
	end       int
}

func newClause() *clause {
	return &clause{actionIdx: -1, percent: -1, start: -1}
}

func (c *clause) touch(it item) {
	if c.start < 0 || it.start < c.start {
		c.start = it.start
	}
	if it.end > c.end {
		c.end = it.end
	}
}

func (c *clause) empty() bool {
	return c.action == nil && len(c.conds) == 0 && c.percent < 0
}

func (p *parser) span(start, end int) Span {
	return Span{Start: start, End: end, Text: p.input[start:end]}
}

func (p *parser) fail(reason string, start, end int, err error) error {
	return &ExtractionError{Reason: reason, Span: p.span(start, end), Err: err}
}

func (p *parser) run() error {
	lo := 0
	for i := 0; i <= len(p.items); i++ {
		if i < len(p.items) && p.items[i].cat != catSep {
			continue
		}
		if err := p.sentence(lo, i); err != nil {
			return err
		}
		lo = i + 1
	}
	if p.pending != nil {
		return p.fail(ReasonMissingAction, p.pending.start, p.pending.end, nil)
	}
	return nil
}

// sentence parses items[lo:hi]. A conjunction followed by an action starts a
// new clause once the current one has its action.
func (p *parser) sentence(lo, hi int) error {
	c := newClause()
	for i := lo; i < hi; {
		it := p.items[i]
		switch it.cat {
		case catAction:
			if c.action != nil {
				prev := p.items[c.actionIdx]
				return p.fail(ReasonAmbiguous, prev.start, it.end, nil)
			}
			c.action = &strategy.Action{Kind: strategy.ActionKind(it.value)}
			c.actionIdx = i
			c.touch(it)
			i++

		case catConj, catThen:
			if i+1 < hi && p.items[i+1].cat == catAction && c.action != nil {
				if err := p.finish(c); err != nil {
					return err
				}
				c = newClause()
			}
			i++

		case catCondKW:
			next, found, err := p.condition(c, i+1, hi)
			if err != nil {
				return err
			}
			if found {
				c.touch(it)
			}
			i = next

		case catPercent:
			if next, ok := p.setting(i, hi); ok {
				i = next
				continue
			}
			if c.percent < 0 {
				c.percent = i
				c.touch(it)
			} else {
				p.unused = append(p.unused, i)
			}
			i++

		case catNumber, catSetting:
			if next, ok := p.setting(i, hi); ok {
				i = next
				continue
			}
			next, err := p.implicitCondition(c, i, hi)
			if err != nil {
				return err
			}
			i = next

		case catField, catIndicator, catPrev, catPronoun, catComparator, catUnknown:
			next, err := p.implicitCondition(c, i, hi)
			if err != nil {
				return err
			}
			i = next

		case catOf, catLParen, catRParen:
			i++

		default:
			p.unused = append(p.unused, i)
			i++
		}
	}
	return p.finish(c)
}

// implicitCondition tries a condition without a leading keyword. On failure
// the item at i is recorded as unused.
func (p *parser) implicitCondition(c *clause, i, hi int) (int, error) {
	next, found, err := p.condition(c, i, hi)
	if err != nil {
		return 0, err
	}
	if !found {
		p.unused = append(p.unused, i)
		return i + 1, nil
	}
	return next, nil
}

// condition parses cond ((and|or) cond)* at i and adds it to the clause.
func (p *parser) condition(c *clause, i, hi int) (int, bool, error) {
	first, next, ok, err := p.cond(i, hi)
	if err != nil || !ok {
		return i, false, err
	}
	conds := []strategy.Condition{first}
	var logic strategy.Logic
	for next < hi && p.items[next].cat == catConj {
		conj := p.items[next]
		j := next + 1
		if j < hi && p.items[j].cat == catCondKW {
			j++
		}
		if j >= hi || p.items[j].cat == catAction {
			break
		}
		cond, after, ok, err := p.cond(j, hi)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
		l := strategy.Logic(conj.value)
		if logic != "" && logic != l {
			return 0, false, p.fail(ReasonAmbiguous, p.items[i].start, p.items[after-1].end, nil)
		}
		logic = l
		conds = append(conds, cond)
		next = after
	}
	if logic == "" {
		logic = strategy.All
	}

	if len(c.conds) > 0 && (c.logic != logic || logic == strategy.Any) {
		return 0, false, p.fail(ReasonAmbiguous, c.start, p.items[next-1].end, nil)
	}
	c.conds = append(c.conds, conds...)
	c.logic = logic
	c.touch(p.items[i])
	c.touch(p.items[next-1])
	return next, true, nil
}

// cond parses [operand] COMPARATOR [operand]. Omitted or pronoun operands
// resolve against the previous condition.
func (p *parser) cond(i, hi int) (strategy.Condition, int, bool, error) {
	left, j, hasLeft, leftRef, err := p.operand(i, hi, false)
	if err != nil {
		return strategy.Condition{}, 0, false, err
	}
	if j < hi && p.items[j].cat == catZone {
		return p.zone(i, j, left, hasLeft && !leftRef)
	}
	if j >= hi || p.items[j].cat != catComparator {
		return strategy.Condition{}, 0, false, nil
	}
	op := indicator.Operator(p.items[j].value)
	j++
	right, k, hasRight, rightRef, err := p.operand(j, hi, true)
	if err != nil {
		return strategy.Condition{}, 0, false, err
	}

	if !hasLeft || leftRef {
		if p.prev == nil {
			return strategy.Condition{}, 0, false, p.fail(ReasonUnresolved, p.items[i].start, p.items[k-1].end, nil)
		}
		left = cloneOperand(p.prev.Left)
	}
	if !hasRight || rightRef {
		if p.prev == nil {
			return strategy.Condition{}, 0, false, p.fail(ReasonUnresolved, p.items[i].start, p.items[k-1].end, nil)
		}
		right = cloneOperand(p.prev.Right)
	}

	cond := strategy.Condition{Left: left, Op: op, Right: right}
	p.prev = &cond
	return cond, k, true, nil
}

// zone turns "rsi is oversold" into a comparison against the oscillator's
// level. items[j] is the zone word.
func (p *parser) zone(i, j int, left strategy.Operand, hasLeft bool) (strategy.Condition, int, bool, error) {
	if !hasLeft {
		if p.prev == nil {
			return strategy.Condition{}, 0, false, p.fail(ReasonUnresolved, p.items[i].start, p.items[j].end, nil)
		}
		left = cloneOperand(p.prev.Left)
	}
	if left.Kind != strategy.KindIndicator || left.Indicator == nil {
		return strategy.Condition{}, 0, false, p.fail(ReasonUnresolved, p.items[i].start, p.items[j].end, nil)
	}
	overbought, oversold, ok := indicator.Zones(left.Indicator.Name)
	if !ok {
		return strategy.Condition{}, 0, false, p.fail(ReasonUnresolved, p.items[i].start, p.items[j].end, nil)
	}
	cond := strategy.Condition{Left: left, Op: indicator.GreaterThan, Right: strategy.Constant(overbought)}
	if p.items[j].value == zoneOversold {
		cond = strategy.Condition{Left: left, Op: indicator.LessThan, Right: strategy.Constant(oversold)}
	}
	p.prev = &cond
	return cond, j + 1, true, nil
}

func cloneOperand(o strategy.Operand) strategy.Operand {
	if o.Indicator != nil {
		ref := *o.Indicator
		o.Indicator = &ref
	}
	return o
}

// operand parses one condition side. ref reports a pronoun.
func (p *parser) operand(i, hi int, right bool) (op strategy.Operand, next int, found bool, ref bool, err error) {
	if i >= hi {
		return op, i, false, false, nil
	}
	it := p.items[i]
	switch it.cat {
	case catPronoun:
		return op, i + 1, true, true, nil

	case catPrev:
		j := i + 1
		for j < hi && p.items[j].cat == catUnit {
			j++
		}
		inner, after, ok, isRef, err := p.operand(j, hi, right)
		if err != nil || !ok || isRef || inner.Kind == strategy.KindConstant {
			return op, i, false, false, err
		}
		inner.Offset++
		return inner, after, true, false, nil

	case catField:
		return strategy.Field(it.value, 0), i + 1, true, false, nil

	case catNumber:
		if i+1 < hi {
			switch p.items[i+1].cat {
			case catUnit:
				return p.periodOperand(i, hi)
			case catIndicator:
				period, err := p.period(i)
				if err != nil {
					return op, i, false, false, err
				}
				op, next, err := p.indicatorOperand(i+1, hi, period)
				return op, next, err == nil, false, err
			case catSetting:
				return op, i, false, false, nil
			}
		}
		return strategy.Constant(it.num), i + 1, true, false, nil

	case catPercent:
		return strategy.Constant(it.num), i + 1, true, false, nil

	case catIndicator:
		op, next, err := p.indicatorOperand(i, hi, 0)
		return op, next, err == nil, false, err

	case catUnknown:
		if right || (i+1 < hi && (p.items[i+1].cat == catComparator || p.items[i+1].cat == catLParen || p.items[i+1].cat == catOf)) {
			return op, i, false, false, p.unknownIndicator(it)
		}
	}
	return op, i, false, false, nil
}

// periodOperand handles "N-period sma", "20-day high" and "20-day vwap".
func (p *parser) periodOperand(i, hi int) (strategy.Operand, int, bool, bool, error) {
	period, err := p.period(i)
	if err != nil {
		return strategy.Operand{}, i, false, false, err
	}
	j := i + 1
	for j < hi && p.items[j].cat == catUnit {
		j++
	}
	if j >= hi {
		return strategy.Operand{}, i, false, false, nil
	}
	switch it := p.items[j]; it.cat {
	case catIndicator:
		op, next, err := p.indicatorOperand(j, hi, period)
		return op, next, err == nil, false, err
	case catField:
		// channel breakouts compare against the extreme of the bars before this one
		switch it.value {
		case "high":
			op := strategy.Indicator("highest", period, "high")
			op.Offset = 1
			return op, j + 1, true, false, nil
		case "low":
			op := strategy.Indicator("lowest", period, "low")
			op.Offset = 1
			return op, j + 1, true, false, nil
		}
	case catUnknown:
		return strategy.Operand{}, i, false, false, p.unknownIndicator(it)
	}
	return strategy.Operand{}, i, false, false, nil
}

// indicatorOperand parses NAME [(N) | N] [of FIELD] at i.
func (p *parser) indicatorOperand(i, hi, period int) (strategy.Operand, int, error) {
	name := p.items[i].value
	j := i + 1
	if period == 0 && j < hi {
		switch {
		case j+2 < hi && p.items[j].cat == catLParen && p.items[j+1].cat == catNumber && p.items[j+2].cat == catRParen:
			n, err := p.period(j + 1)
			if err != nil {
				return strategy.Operand{}, 0, err
			}
			period = n
			j += 3
		case p.items[j].cat == catNumber && (j+1 >= hi || (p.items[j+1].cat != catUnit && p.items[j+1].cat != catSetting)):
			n, err := p.period(j)
			if err != nil {
				return strategy.Operand{}, 0, err
			}
			period = n
			j++
		}
	}
	source := ""
	if j+1 < hi && p.items[j].cat == catOf && p.items[j+1].cat == catField {
		source = p.items[j+1].value
		j += 2
	}
	return strategy.Indicator(name, period, source), j, nil
}

func (p *parser) period(i int) (int, error) {
	it := p.items[i]
	if it.num <= 0 || it.num != math.Trunc(it.num) || it.num > math.MaxInt32 {
		return 0, p.fail(ReasonInvalidNumber, it.start, it.end, nil)
	}
	return int(it.num), nil
}

func (p *parser) unknownIndicator(it item) error {
	name := p.input[it.start:it.end]
	return p.fail(ReasonUnknownIndicator, it.start, it.end, &indicator.UnknownIndicatorError{Name: name})
}

// setting applies global parameters such as "capital of 5000", "2 units",
// "10% of equity" or "allow pyramiding up to 3 positions".
func (p *parser) setting(i, hi int) (int, bool) {
	params := &p.ir.Params
	it := p.items[i]
	switch it.cat {
	case catNumber:
		if i+1 >= hi || p.items[i+1].cat != catSetting {
			return i, false
		}
		return i + 2, p.applySetting(params, p.items[i+1].value, it.num)

	case catPercent:
		j := i + 1
		if j < hi && p.items[j].cat == catOf {
			j++
		}
		if j < hi && p.items[j].cat == catSetting && (p.items[j].value == setEquity || p.items[j].value == setCapital) {
			if it.num <= 0 || it.num > 100 {
				return i, false
			}
			params.Sizing.Mode = strategy.PercentOfEquity
			params.Sizing.Percent = it.num
			params.Sizing.Units = 0
			return j + 1, true
		}

	case catSetting:
		if it.value == setPyramiding {
			params.Sizing.AllowPyramiding = true
			return i + 1, true
		}
		j := i + 1
		if j < hi && p.items[j].cat == catOf {
			j++
		}
		if j < hi && p.items[j].cat == catNumber {
			return j + 1, p.applySetting(params, it.value, p.items[j].num)
		}
	}
	return i, false
}

func (p *parser) applySetting(params *strategy.Params, name string, v float64) bool {
	if v <= 0 {
		return false
	}
	switch name {
	case setUnits:
		params.Sizing.Mode = strategy.FixedUnits
		params.Sizing.Units = v
		params.Sizing.Percent = 0
	case setCapital:
		params.InitialCapital = v
	case setPositions:
		if v != math.Trunc(v) {
			return false
		}
		params.MaxPositions = int(v)
		if v > 1 {
			params.Sizing.AllowPyramiding = true
		}
	default:
		return false
	}
	return true
}

// finish turns a clause into a rule, or parks its conditions for the next
// clause when it has no action.
func (p *parser) finish(c *clause) error {
	if c.empty() {
		return nil
	}
	if c.action == nil {
		if c.percent >= 0 {
			p.unused = append(p.unused, c.percent)
		}
		if len(c.conds) == 0 {
			return nil
		}
		if p.pending != nil {
			return p.fail(ReasonMissingAction, p.pending.start, p.pending.end, nil)
		}
		p.pending = c
		return nil
	}

	act := p.items[c.actionIdx]
	if len(c.conds) == 0 && p.pending != nil {
		c.conds = p.pending.conds
		c.logic = p.pending.logic
		if p.pending.start < c.start {
			c.start = p.pending.start
		}
		p.pending = nil
	}

	if c.action.Kind.IsProtective() {
		if c.percent < 0 {
			return p.fail(ReasonMissingPercent, act.start, act.end, nil)
		}
		c.action.Percent = p.items[c.percent].num
	} else {
		if c.percent >= 0 {
			p.unused = append(p.unused, c.percent)
		}
		if len(c.conds) == 0 {
			return p.fail(ReasonMissingCondition, act.start, act.end, nil)
		}
	}

	logic := c.logic
	if logic == "" {
		logic = strategy.All
	}
	p.ir.Rules = append(p.ir.Rules, strategy.Rule{
		Trigger: strategy.Trigger{Logic: logic, Conditions: c.conds},
		Action:  *c.action,
		Text:    strings.TrimSpace(p.input[c.start:c.end]),
	})
	return nil
}

// remainderSpans merges runs of adjacent unused items.
func (p *parser) remainderSpans() []Span {
	if len(p.unused) == 0 {
		return nil
	}
	idx := append([]int(nil), p.unused...)
	sort.Ints(idx)

	var out []Span
	start, end, last := -1, -1, -2
	for _, i := range idx {
		it := p.items[i]
		if i == last {
			continue
		}
		if i == last+1 {
			end = it.end
		} else {
			if start >= 0 {
				out = append(out, p.span(start, end))
			}
			start, end = it.start, it.end
		}
		last = i
	}
	out = append(out, p.span(start, end))
	return out
}
