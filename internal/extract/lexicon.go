package extract

import (
	"strings"

	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
)

type category int

const (
	catAction category = iota + 1
	catComparator
	catCondKW
	catConj
	catThen
	catField
	catPrev
	catUnit
	catOf
	catPronoun
	catSetting
	catPercentWord
	catZone
	catFiller
	catIndicator

	catNumber
	catPercent
	catLParen
	catRParen
	catSep
	catUnknown
)

type meaning struct {
	cat   category
	value string
}

// Setting values.
const (
	setUnits      = "units"
	setCapital    = "capital"
	setPositions  = "positions"
	setPyramiding = "pyramiding"
	setEquity     = "equity"
)

// Zone values.
const (
	zoneOverbought = "overbought"
	zoneOversold   = "oversold"
)

type lexicon struct {
	phrases map[string][]meaning
	maxLen  int
}

func (l *lexicon) add(cat category, value string, phrases ...string) {
	for _, p := range phrases {
		key := strings.Join(strings.Fields(strings.ToLower(p)), " ")
		m := meaning{cat: cat, value: value}
		dup := false
		for _, existing := range l.phrases[key] {
			if existing == m {
				dup = true
			}
		}
		if !dup {
			l.phrases[key] = append(l.phrases[key], m)
		}
		if n := len(strings.Fields(key)); n > l.maxLen {
			l.maxLen = n
		}
	}
}

func newLexicon(lib *indicator.Library) *lexicon {
	l := &lexicon{phrases: make(map[string][]meaning)}

	l.add(catAction, string(strategy.EnterLong),
		"buy", "go long", "enter long", "enter a long", "open long", "open a long", "buy long", "long entry")
	l.add(catAction, string(strategy.EnterShort),
		"sell short", "go short", "enter short", "enter a short", "open short", "open a short", "short", "short sell")
	l.add(catAction, string(strategy.Exit),
		"sell", "exit", "exit long", "exit short", "exit the position", "exit position", "exit the trade",
		"close the position", "close position", "close the trade", "close trade", "close the long",
		"close long", "close the short", "close short", "close out", "close all", "get out", "cover",
		"cover short", "flatten", "liquidate")
	l.add(catAction, string(strategy.SetStop), "stop", "stop loss", "stoploss", "sl")
	l.add(catAction, string(strategy.SetTarget), "take profit", "take profits", "target", "profit target", "tp")
	for _, lead := range []string{"set", "set a", "set the", "place", "place a", "put", "put a", "use a", "add a"} {
		l.add(catAction, string(strategy.SetStop), lead+" stop", lead+" stop loss", lead+" stoploss")
		l.add(catAction, string(strategy.SetTarget), lead+" take profit", lead+" target", lead+" profit target")
	}

	for _, w := range []string{"cross", "crosses", "crossed", "crossing"} {
		l.add(catComparator, string(indicator.CrossesAbove), w)
		l.add(catComparator, string(indicator.CrossesBelow), w)
		l.add(catComparator, string(indicator.CrossesAbove), w+" above", w+" over", w+" up")
		l.add(catComparator, string(indicator.CrossesBelow), w+" below", w+" under", w+" down")
	}
	l.add(catComparator, string(indicator.CrossesAbove),
		"rises above", "rise above", "moves above", "breaks above", "break above", "breaks out above", "jumps above")
	l.add(catComparator, string(indicator.CrossesBelow),
		"falls below", "fall below", "drops below", "drop below", "breaks below", "break below", "dips below",
		"moves below", "sinks below")
	l.add(catComparator, string(indicator.GreaterThan),
		"above", "over", "greater than", "higher than", "more than", "bigger than", "exceeds", "exceed",
		"closes above", ">")
	l.add(catComparator, string(indicator.LessThan),
		"below", "under", "less than", "lower than", "smaller than", "beneath", "closes below", "<")
	l.add(catComparator, string(indicator.Equals),
		"equals", "equal", "equal to", "equals to", "reaches", "reach", "touches", "touch", "hits", "hit", "=", "==")

	l.add(catCondKW, "", "when", "if", "once", "as soon as", "whenever", "while", "after")
	l.add(catConj, string(strategy.All), "and")
	l.add(catConj, string(strategy.Any), "or")
	l.add(catThen, "", "then", "and then")

	l.add(catField, "close", "close", "closing price", "close price", "closing", "price", "current price", "last price")
	l.add(catField, "open", "open", "opening price", "open price")
	l.add(catField, "high", "high")
	l.add(catField, "low", "low")
	l.add(catPrev, "", "previous", "prior", "last", "yesterday", "the previous")
	l.add(catUnit, "", "period", "periods", "day", "days", "bar", "bars", "candle", "candles")
	l.add(catOf, "", "of")
	l.add(catPronoun, "", "it", "that")

	l.add(catSetting, setCapital, "capital", "initial capital", "starting capital", "account size")
	l.add(catSetting, setUnits, "units", "unit", "shares", "share", "contracts", "contract", "lots", "lot",
		"size", "position size", "quantity", "qty")
	l.add(catSetting, setPositions, "positions", "max positions", "maximum positions")
	l.add(catSetting, setPyramiding, "pyramiding", "allow pyramiding")
	l.add(catSetting, setEquity, "equity", "account equity")
	l.add(catPercentWord, "", "percent", "pct", "per cent")
	l.add(catZone, zoneOverbought, "overbought", "over bought", "in overbought", "overbought territory",
		"in overbought territory", "overbought zone", "in the overbought zone")
	l.add(catZone, zoneOversold, "oversold", "over sold", "in oversold", "oversold territory",
		"in oversold territory", "oversold zone", "in the oversold zone")

	l.add(catFiller, "",
		"the", "a", "an", "is", "are", "was", "be", "becomes", "goes", "go", "moves", "gets", "stays", "trades",
		"value", "line", "level", "current", "to", "than", "at", "with", "by", "on", "from", "my", "our", "i",
		"we", "you", "want", "should", "would", "like", "please", "strategy", "position", "trade", "long",
		"also", "up", "use", "using", "per", "each", "every", "allocate", "invest")

	for phrase, name := range lib.Phrases() {
		l.add(catIndicator, name, phrase)
	}
	return l
}

// match returns the longest phrase starting at word token i, the number of
// tokens it spans and every meaning registered for it.
func (l *lexicon) match(tokens []token, i int) (int, []meaning) {
	words := make([]string, 0, l.maxLen)
	for j := i; j < len(tokens) && len(words) < l.maxLen; j++ {
		if tokens[j].kind != tokWord && tokens[j].kind != tokSymbol {
			break
		}
		if tokens[j].kind == tokSymbol && j > i {
			break
		}
		words = append(words, tokens[j].text)
		if tokens[j].kind == tokSymbol {
			break
		}
	}
	for n := len(words); n > 0; n-- {
		if ms, ok := l.phrases[strings.Join(words[:n], " ")]; ok {
			return n, ms
		}
	}
	return 0, nil
}
