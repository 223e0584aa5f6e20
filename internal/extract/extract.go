// Package extract turns an informal strategy description into a strategy IR.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

// Reasons reported by ExtractionError.
const (
	ReasonEmpty            = "empty description"
	ReasonAmbiguous        = "ambiguous"
	ReasonMissingCondition = "missing condition"
	ReasonMissingPercent   = "missing percent"
	ReasonMissingAction    = "missing action"
	ReasonUnresolved       = "unresolved reference"
	ReasonUnknownIndicator = "unknown indicator"
	ReasonInvalidNumber    = "invalid number"
)

// Span is a byte range of the input text.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

type ExtractionError struct {
	Reason string
	Span   Span
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction failed: %s at [%d:%d] %q", e.Reason, e.Span.Start, e.Span.End, e.Span.Text)
	if e.Err != nil && e.Err.Error() != e.Reason {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Result is a validated IR plus the parts of the text that were not understood.
type Result struct {
	IR        *strategy.IR `json:"ir"`
	Remainder []Span       `json:"remainder"`
}

type Extractor struct {
	lib *indicator.Library
}

func New(lib *indicator.Library) *Extractor {
	return &Extractor{lib: lib}
}

// Extract parses text. It never guesses: unclear phrasing fails with an
// ExtractionError and unrecognized words are returned as Remainder.
func (e *Extractor) Extract(text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ExtractionError{Reason: ReasonEmpty, Span: Span{Text: text, End: len(text)}}
	}

	items, err := lex(text, newLexicon(e.lib))
	if err != nil {
		return nil, err
	}

	p := &parser{
		input: text,
		items: items,
		ir:    strategy.New(""),
	}
	if err := p.run(); err != nil {
		return nil, err
	}

	p.ir.ApplyDefaults(e.lib)
	if err := p.ir.Validate(e.lib); err != nil {
		var vErr *strategy.ValidationError
		reason := err.Error()
		if errors.As(err, &vErr) {
			reason = vErr.Reason
		}
		return nil, &ExtractionError{Reason: reason, Span: Span{Start: 0, End: len(text), Text: text}, Err: err}
	}

	return &Result{IR: p.ir, Remainder: p.remainderSpans()}, nil
}

type item struct {
	cat   category
	value string
	num   float64
	start int
	end   int
}

func lex(text string, lx *lexicon) ([]item, error) {
	tokens := tokenize(text)
	var items []item
	for i := 0; i < len(tokens); {
		t := tokens[i]
		switch t.kind {
		case tokNumber:
			it := item{cat: catNumber, num: t.num, start: t.start, end: t.end}
			i++
			if i < len(tokens) && tokens[i].kind == tokWord {
				if n, ms := lx.match(tokens, i); n > 0 && len(ms) == 1 && ms[0].cat == catPercentWord {
					it.cat = catPercent
					it.end = tokens[i+n-1].end
					i += n
				}
			}
			items = append(items, it)
			continue
		case tokPercent:
			items = append(items, item{cat: catPercent, num: t.num, start: t.start, end: t.end})
			i++
			continue
		case tokSep:
			items = append(items, item{cat: catSep, start: t.start, end: t.end})
			i++
			continue
		case tokLParen:
			items = append(items, item{cat: catLParen, start: t.start, end: t.end})
			i++
			continue
		case tokRParen:
			items = append(items, item{cat: catRParen, start: t.start, end: t.end})
			i++
			continue
		}

		n, ms := lx.match(tokens, i)
		if n == 0 {
			items = append(items, item{cat: catUnknown, value: t.text, start: t.start, end: t.end})
			i++
			continue
		}
		start, end := t.start, tokens[i+n-1].end
		if len(ms) > 1 {
			return nil, &ExtractionError{
				Reason: ReasonAmbiguous,
				Span:   Span{Start: start, End: end, Text: text[start:end]},
			}
		}
		i += n
		if ms[0].cat == catFiller {
			continue
		}
		items = append(items, item{cat: ms[0].cat, value: ms[0].value, start: start, end: end})
	}
	return items, nil
}
