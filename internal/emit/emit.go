// Package emit renders a strategy IR as source code in a target dialect.
package emit

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

const DefaultName = "Generated Strategy"

// EmissionError reports why an IR could not be rendered. Rule is 1-based,
// 0 for strategy level problems.
type EmissionError struct {
	Dialect string
	Rule    int
	Reason  string
	Err     error
}

func (e *EmissionError) Error() string {
	if e.Rule == 0 {
		return fmt.Sprintf("emit %s: %s", e.Dialect, e.Reason)
	}
	return fmt.Sprintf("emit %s: rule %d: %s", e.Dialect, e.Rule, e.Reason)
}

func (e *EmissionError) Unwrap() error { return e.Err }

// Table translates IR pieces into one dialect. Expression templates use
// {field}, {expr}, {n}, {a}, {b} and {tol} placeholders.
type Table struct {
	Name    string
	FileExt string

	// 0 means unlimited.
	MaxStopRules   int
	MaxTargetRules int

	Indicators map[string]indicator.Template
	Field      string
	Offset     string
	Operators  map[indicator.Operator]string
	And        string
	Or         string
	Always     string
	// Group wraps a condition when more than one is joined.
	Group string

	Layout func(p *Program) string
}

// Decl binds an indicator series to a variable.
type Decl struct {
	Var  string
	Expr string
}

type RuleDecl struct {
	Index  int
	Var    string
	Expr   string
	Text   string
	Action strategy.Action
}

// Program is an IR resolved against one table, ready for layout.
type Program struct {
	Name       string
	Params     strategy.Params
	Helpers    []string
	Indicators []Decl
	Rules      []RuleDecl
}

func (p *Program) RulesOf(kinds ...strategy.ActionKind) []RuleDecl {
	var out []RuleDecl
	for _, r := range p.Rules {
		for _, k := range kinds {
			if r.Action.Kind == k {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Emitter is safe for concurrent use.
type Emitter struct {
	lib    *indicator.Library
	mu     sync.RWMutex
	tables map[string]*Table
}

// New returns an emitter with the pine and python dialects registered.
func New(lib *indicator.Library) *Emitter {
	e := &Emitter{lib: lib, tables: make(map[string]*Table)}
	for _, t := range []*Table{Pine(), Python()} {
		if err := e.Register(t); err != nil {
			panic(err)
		}
	}
	return e
}

func (e *Emitter) Register(t *Table) error {
	if t == nil || t.Name == "" {
		return errors.New("dialect name is required")
	}
	if t.Layout == nil {
		return fmt.Errorf("dialect %s: layout is required", t.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[t.Name]; ok {
		return fmt.Errorf("dialect %s already registered", t.Name)
	}
	e.tables[t.Name] = t
	return nil
}

func (e *Emitter) Dialects() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.tables))
	for n := range e.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (e *Emitter) Table(dialect string) (*Table, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tables[dialect]
	return t, ok
}

// Supports reports whether dialect can render the named indicator.
func (e *Emitter) Supports(name, dialect string) bool {
	t, ok := e.Table(dialect)
	if !ok {
		return false
	}
	spec, err := e.lib.Lookup(name)
	if err != nil {
		return false
	}
	if _, ok := t.Indicators[spec.Name]; ok {
		return true
	}
	_, ok = spec.Templates[t.Name]
	return ok
}

// Emit validates ir and renders it. The output is a pure function of the IR,
// the dialect table and the library.
func (e *Emitter) Emit(ir *strategy.IR, dialect string) (string, error) {
	t, ok := e.Table(dialect)
	if !ok {
		return "", &EmissionError{Dialect: dialect, Reason: fmt.Sprintf("unsupported dialect %q", dialect)}
	}
	if ir == nil {
		return "", &EmissionError{Dialect: dialect, Reason: "strategy is nil"}
	}
	ir = ir.Clone()
	ir.ApplyDefaults(e.lib)
	if err := ir.Validate(e.lib); err != nil {
		return "", err
	}

	prog, err := e.program(ir, t)
	if err != nil {
		return "", err
	}
	return t.Layout(prog), nil
}

func (e *Emitter) program(ir *strategy.IR, t *Table) (*Program, error) {
	if err := checkLimit(ir, t, strategy.SetStop, t.MaxStopRules, "stop"); err != nil {
		return nil, err
	}
	if err := checkLimit(ir, t, strategy.SetTarget, t.MaxTargetRules, "target"); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(ir.Name)
	if name == "" {
		name = DefaultName
	}
	r := &renderer{
		table:   t,
		lib:     e.lib,
		vars:    make(map[string]string),
		helpers: make(map[string]bool),
	}
	prog := &Program{Name: name, Params: ir.Params}

	for i, rule := range ir.Rules {
		expr, err := r.trigger(rule.Trigger)
		if err != nil {
			var emErr *EmissionError
			if errors.As(err, &emErr) {
				emErr.Dialect = t.Name
				emErr.Rule = i + 1
				return nil, emErr
			}
			return nil, err
		}
		text := rule.Text
		if text == "" {
			text = rule.String()
		}
		prog.Rules = append(prog.Rules, RuleDecl{
			Index:  i + 1,
			Var:    fmt.Sprintf("rule%d", i+1),
			Expr:   expr,
			Text:   strings.Join(strings.Fields(text), " "),
			Action: rule.Action,
		})
	}
	prog.Indicators = r.decls
	prog.Helpers = r.helperList
	return prog, nil
}

func checkLimit(ir *strategy.IR, t *Table, kind strategy.ActionKind, max int, label string) error {
	if max <= 0 {
		return nil
	}
	idx, _ := ir.RulesOf(kind)
	if len(idx) > max {
		return &EmissionError{Dialect: t.Name, Rule: idx[max], Reason: fmt.Sprintf("unsupported: multiple %s rules", label)}
	}
	return nil
}

type renderer struct {
	table      *Table
	lib        *indicator.Library
	vars       map[string]string // indicator key -> variable
	decls      []Decl
	helpers    map[string]bool
	helperList []string
}

func (r *renderer) trigger(t strategy.Trigger) (string, error) {
	if len(t.Conditions) == 0 {
		return r.table.Always, nil
	}
	parts := make([]string, len(t.Conditions))
	for i, c := range t.Conditions {
		s, err := r.condition(c)
		if err != nil {
			return "", err
		}
		if len(t.Conditions) > 1 && r.table.Group != "" {
			s = fill(r.table.Group, "expr", s)
		}
		parts[i] = s
	}
	joiner := r.table.And
	if t.Logic == strategy.Any {
		joiner = r.table.Or
	}
	return strings.Join(parts, joiner), nil
}

func (r *renderer) condition(c strategy.Condition) (string, error) {
	tmpl, ok := r.table.Operators[c.Op]
	if !ok {
		return "", &EmissionError{Reason: fmt.Sprintf("unsupported operator %s", c.Op)}
	}
	a, err := r.operand(c.Left)
	if err != nil {
		return "", err
	}
	b, err := r.operand(c.Right)
	if err != nil {
		return "", err
	}
	tol := c.Tolerance
	if tol <= 0 {
		tol = indicator.DefaultTolerance
	}
	return fill(tmpl, "a", a, "b", b, "tol", formatFloat(tol)), nil
}

func (r *renderer) operand(o strategy.Operand) (string, error) {
	var expr string
	switch o.Kind {
	case strategy.KindConstant:
		return formatFloat(o.Value), nil
	case strategy.KindField:
		expr = fill(r.table.Field, "field", o.Field)
	case strategy.KindIndicator:
		v, err := r.indicator(*o.Indicator)
		if err != nil {
			return "", err
		}
		expr = v
	}
	if o.Offset > 0 {
		expr = fill(r.table.Offset, "expr", expr, "n", strconv.Itoa(o.Offset))
	}
	return expr, nil
}

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// indicator declares ref once and returns its variable name.
func (r *renderer) indicator(ref strategy.IndicatorRef) (string, error) {
	spec, err := r.lib.Lookup(ref.Name)
	if err != nil {
		return "", &EmissionError{Reason: err.Error(), Err: err}
	}
	source := ref.Source
	if source == "" {
		source = spec.DefaultSource
	}
	key := fmt.Sprintf("%s_%d", spec.Name, ref.Period)
	if spec.UsesSource {
		key += "_" + source
	}
	key = unsafeIdent.ReplaceAllString(key, "_")
	if v, ok := r.vars[key]; ok {
		return v, nil
	}

	tmpl, ok := r.table.Indicators[spec.Name]
	if !ok {
		tmpl, ok = spec.Templates[r.table.Name]
	}
	if !ok {
		return "", &EmissionError{Reason: fmt.Sprintf("unsupported indicator %s", spec.Name)}
	}
	field := func(f string) string { return fill(r.table.Field, "field", f) }
	expr := fill(tmpl.Expr,
		"source", field(source),
		"period", strconv.Itoa(ref.Period),
		"open", field(candle.FieldOpen),
		"high", field(candle.FieldHigh),
		"low", field(candle.FieldLow),
		"close", field(candle.FieldClose),
	)
	if tmpl.Helper != "" && !r.helpers[tmpl.Helper] {
		r.helpers[tmpl.Helper] = true
		r.helperList = append(r.helperList, tmpl.Helper)
	}
	r.vars[key] = key
	r.decls = append(r.decls, Decl{Var: key, Expr: expr})
	return key, nil
}

// fill replaces {k} with v for each pair in one pass.
func fill(tmpl string, kv ...string) string {
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
