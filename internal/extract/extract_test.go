package extract

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sma(period int) strategy.Operand {
	return strategy.Indicator("sma", period, "close")
}

func TestExtractCrossoverScenario(t *testing.T) {
	text := "buy when the 10-period average crosses above the 30-period average, sell when it crosses below"
	res, err := New(indicator.Default()).Extract(text)
	require.NoError(t, err)
	require.Len(t, res.IR.Rules, 2)
	assert.Empty(t, res.Remainder)

	entry := res.IR.Rules[0]
	assert.Equal(t, strategy.EnterLong, entry.Action.Kind)
	require.Len(t, entry.Trigger.Conditions, 1)
	assert.Equal(t, strategy.Condition{Left: sma(10), Op: indicator.CrossesAbove, Right: sma(30)}, entry.Trigger.Conditions[0])
	assert.Equal(t, "buy when the 10-period average crosses above the 30-period average", entry.Text)

	exit := res.IR.Rules[1]
	assert.Equal(t, strategy.Exit, exit.Action.Kind)
	require.Len(t, exit.Trigger.Conditions, 1)
	assert.Equal(t, strategy.Condition{Left: sma(10), Op: indicator.CrossesBelow, Right: sma(30)}, exit.Trigger.Conditions[0])

	assert.Equal(t, strategy.DefaultParams(), res.IR.Params)
}

func TestExtractPreviousBar(t *testing.T) {
	res, err := New(indicator.Default()).Extract("Buy when close > previous close; sell when close < previous close.")
	require.NoError(t, err)
	require.Len(t, res.IR.Rules, 2)

	c := res.IR.Rules[0].Trigger.Conditions[0]
	assert.Equal(t, strategy.Field("close", 0), c.Left)
	assert.Equal(t, indicator.GreaterThan, c.Op)
	assert.Equal(t, strategy.Field("close", 1), c.Right)
	assert.Equal(t, indicator.LessThan, res.IR.Rules[1].Trigger.Conditions[0].Op)
}

func TestExtractSettingsAndProtectiveRules(t *testing.T) {
	text := "With capital of 5,000 buy 2 units when close crosses above the 20-day high, " +
		"exit when close crosses below the 10-day low, stop-loss 2%, take profit at 5.5 percent"
	res, err := New(indicator.Default()).Extract(text)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, res.IR.Params.InitialCapital)
	assert.Equal(t, strategy.FixedUnits, res.IR.Params.Sizing.Mode)
	assert.Equal(t, 2.0, res.IR.Params.Sizing.Units)

	require.Len(t, res.IR.Rules, 4)
	breakout := res.IR.Rules[0].Trigger.Conditions[0].Right
	assert.Equal(t, "highest", breakout.Indicator.Name)
	assert.Equal(t, 20, breakout.Indicator.Period)
	assert.Equal(t, "high", breakout.Indicator.Source)
	assert.Equal(t, 1, breakout.Offset)

	assert.Equal(t, "lowest", res.IR.Rules[1].Trigger.Conditions[0].Right.Indicator.Name)
	assert.Equal(t, strategy.Action{Kind: strategy.SetStop, Percent: 2}, res.IR.Rules[2].Action)
	assert.Empty(t, res.IR.Rules[2].Trigger.Conditions)
	assert.Equal(t, strategy.Action{Kind: strategy.SetTarget, Percent: 5.5}, res.IR.Rules[3].Action)
}

func TestExtractConditionBeforeAction(t *testing.T) {
	text := "When the 5 ema crosses above the 20 ema, go long. When it crosses below, close the position."
	res, err := New(indicator.Default()).Extract(text)
	require.NoError(t, err)
	require.Len(t, res.IR.Rules, 2)

	assert.Equal(t, strategy.EnterLong, res.IR.Rules[0].Action.Kind)
	assert.Equal(t, "ema", res.IR.Rules[0].Trigger.Conditions[0].Left.Indicator.Name)
	assert.Equal(t, 5, res.IR.Rules[0].Trigger.Conditions[0].Left.Indicator.Period)
	assert.Equal(t, strategy.Exit, res.IR.Rules[1].Action.Kind)
	assert.Equal(t, indicator.CrossesBelow, res.IR.Rules[1].Trigger.Conditions[0].Op)
	assert.Equal(t, 20, res.IR.Rules[1].Trigger.Conditions[0].Right.Indicator.Period)
	assert.True(t, strings.HasPrefix(res.IR.Rules[0].Text, "When the 5 ema"))
}

func TestExtractLogic(t *testing.T) {
	res, err := New(indicator.Default()).Extract(
		"go short when rsi(14) > 70 or close crosses below sma 50, cover when rsi < 30 and close > open")
	require.NoError(t, err)
	require.Len(t, res.IR.Rules, 2)

	short := res.IR.Rules[0]
	assert.Equal(t, strategy.EnterShort, short.Action.Kind)
	assert.Equal(t, strategy.Any, short.Trigger.Logic)
	require.Len(t, short.Trigger.Conditions, 2)
	assert.Equal(t, strategy.Indicator("rsi", 14, "close"), short.Trigger.Conditions[0].Left)
	assert.Equal(t, strategy.Constant(70), short.Trigger.Conditions[0].Right)
	assert.Equal(t, sma(50), short.Trigger.Conditions[1].Right)

	cover := res.IR.Rules[1]
	assert.Equal(t, strategy.Exit, cover.Action.Kind)
	assert.Equal(t, strategy.All, cover.Trigger.Logic)
	assert.Len(t, cover.Trigger.Conditions, 2)
}

func TestExtractEquitySizing(t *testing.T) {
	res, err := New(indicator.Default()).Extract(
		"use 10% of equity. buy when rsi crosses above 30, sell when rsi crosses above 70. allow pyramiding up to 3 positions")
	require.NoError(t, err)
	assert.Equal(t, strategy.PercentOfEquity, res.IR.Params.Sizing.Mode)
	assert.Equal(t, 10.0, res.IR.Params.Sizing.Percent)
	assert.True(t, res.IR.Params.Sizing.AllowPyramiding)
	assert.Equal(t, 3, res.IR.Params.MaxPositions)
}

func TestExtractRemainder(t *testing.T) {
	text := "buy when rsi(14) < 30 quickly please, sell when rsi > 70 on mondays"
	res, err := New(indicator.Default()).Extract(text)
	require.NoError(t, err)
	require.Len(t, res.Remainder, 2)

	assert.Equal(t, "quickly", res.Remainder[0].Text)
	assert.Equal(t, strings.Index(text, "quickly"), res.Remainder[0].Start)
	assert.Equal(t, "mondays", res.Remainder[1].Text)
	assert.Equal(t, text[res.Remainder[1].Start:res.Remainder[1].End], res.Remainder[1].Text)
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
		span   string
	}{
		{"empty", "   ", ReasonEmpty, "   "},
		{"crossing without direction", "buy when the sma crosses the ema, sell when close < open", ReasonAmbiguous, "crosses"},
		{"two actions in one clause", "buy sell when close > open", ReasonAmbiguous, "buy sell"},
		{"mixed and or", "buy when rsi < 30 and close > open or close > high, sell when rsi > 70", ReasonAmbiguous, ""},
		{"entry without condition", "buy, sell when close < previous close", ReasonMissingCondition, "buy"},
		{"stop without percent", "buy when close > open, sell when close < open, stop loss", ReasonMissingPercent, "stop loss"},
		{"condition without action", "buy when close > open, sell when close < open, when rsi > 80", ReasonMissingAction, "when rsi > 80"},
		{"unresolved pronoun", "buy when it crosses above 30, sell when rsi > 70", ReasonUnresolved, ""},
		{"zero period", "buy when the 0-day sma crosses above close, sell when close < open", ReasonInvalidNumber, "0"},
		{"no exit rule", "buy when rsi < 30", strategy.ReasonNoExitRule, "buy when rsi < 30"},
		{"no entry rule", "sell when rsi > 70", strategy.ReasonNoEntryRule, "sell when rsi > 70"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(indicator.Default()).Extract(tt.text)
			var exErr *ExtractionError
			require.True(t, errors.As(err, &exErr), "got %v", err)
			assert.Equal(t, tt.reason, exErr.Reason)
			if tt.span != "" {
				assert.Equal(t, tt.span, exErr.Span.Text)
			}
			assert.Equal(t, tt.text[exErr.Span.Start:exErr.Span.End], exErr.Span.Text)
		})
	}
}

func TestExtractValidationErrorUnwraps(t *testing.T) {
	_, err := New(indicator.Default()).Extract("buy when rsi < 30")
	var vErr *strategy.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, strategy.ReasonNoExitRule, vErr.Reason)
}

func TestExtractUnknownIndicator(t *testing.T) {
	for _, text := range []string{
		"buy when vwap crosses above close, sell when it crosses below",
		"buy when close crosses above the 20-day vwap, sell when close < open",
		"buy when close > kama(10), sell when close < open",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := New(indicator.Default()).Extract(text)
			var unknown *indicator.UnknownIndicatorError
			require.True(t, errors.As(err, &unknown), "got %v", err)
			assert.Contains(t, []string{"vwap", "kama"}, unknown.Name)
		})
	}
}

func TestExtractRegisteredIndicator(t *testing.T) {
	lib := indicator.Default()
	require.NoError(t, lib.Register(indicator.Spec{
		Name:          "hma",
		Aliases:       []string{"hull moving average"},
		DefaultPeriod: 9,
		UsesSource:    true,
		Compute: func(candles []candle.Candle, period int, source string) []float64 {
			return nil
		},
	}))

	res, err := New(lib).Extract("buy when close crosses above the hull moving average, sell when it crosses below")
	require.NoError(t, err)
	assert.Equal(t, strategy.IndicatorRef{Name: "hma", Period: 9, Source: "close"}, *res.IR.Rules[0].Trigger.Conditions[0].Right.Indicator)
}

func TestExtractIsDeterministic(t *testing.T) {
	text := "buy when rsi crosses above 30 and close > sma 200, sell when rsi > 70, stop loss 3%"
	ex := New(indicator.Default())
	first, err := ex.Extract(text)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ex.Extract(text)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTokenize(t *testing.T) {
	text := "stop-loss at 2.5%, capital 10,000 (rsi<-5)"
	tokens := tokenize(text)

	var texts []string
	for _, tok := range tokens {
		texts = append(texts, text[tok.start:tok.end])
	}
	assert.Equal(t, []string{"stop", "loss", "at", "2.5%", ",", "capital", "10,000", "(", "rsi", "<", "-5", ")"}, texts)
	assert.Equal(t, tokPercent, tokens[3].kind)
	assert.Equal(t, 2.5, tokens[3].num)
	assert.Equal(t, 10000.0, tokens[6].num)
	assert.Equal(t, -5.0, tokens[10].num)
	assert.Equal(t, "yesterday", tokenize("Yesterday's")[0].text)
}

func TestTokenizeSkipsNonASCIIDigits(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"rsi < ３０", []string{"rsi", "<"}},
		{"close > ٣", []string{"close", ">"}},
		{"rsi < 3０", []string{"rsi", "<", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			var texts []string
			for _, tok := range tokenize(tt.text) {
				texts = append(texts, tt.text[tok.start:tok.end])
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestExtractFullWidthDigitsTerminates(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = New(indicator.Default()).Extract("buy when rsi < ３０, sell when rsi > 70")
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("extraction did not finish")
	}
}

func TestExtractProtectiveLeadIns(t *testing.T) {
	tests := []struct {
		name string
		tail string
		want strategy.Action
	}{
		{"set a stop", "set a stop at 2%", strategy.Action{Kind: strategy.SetStop, Percent: 2}},
		{"place a stop loss", "place a stop loss at 1.5%", strategy.Action{Kind: strategy.SetStop, Percent: 1.5}},
		{"set a take profit", "set a take profit at 5 percent", strategy.Action{Kind: strategy.SetTarget, Percent: 5}},
		{"put a target", "put a target at 3%", strategy.Action{Kind: strategy.SetTarget, Percent: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "buy when close > previous close, sell when close < previous close, " + tt.tail
			res, err := New(indicator.Default()).Extract(text)
			require.NoError(t, err)
			require.Len(t, res.IR.Rules, 3)
			assert.Equal(t, tt.want, res.IR.Rules[2].Action)
			assert.Empty(t, res.Remainder)
		})
	}
}

func TestExtractOscillatorZones(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		indicator string
		entry     strategy.Condition
		exit      strategy.Condition
	}{
		{
			name:      "rsi",
			text:      "buy when rsi is oversold, sell when rsi is overbought",
			indicator: "rsi",
			entry:     strategy.Condition{Op: indicator.LessThan, Right: strategy.Constant(indicator.RSIOversold)},
			exit:      strategy.Condition{Op: indicator.GreaterThan, Right: strategy.Constant(indicator.RSIOverbought)},
		},
		{
			name:      "stochastic with pronoun",
			text:      "buy when the stochastic is in the oversold zone, sell when it is overbought",
			indicator: "stoch",
			entry:     strategy.Condition{Op: indicator.LessThan, Right: strategy.Constant(indicator.StochasticOversold)},
			exit:      strategy.Condition{Op: indicator.GreaterThan, Right: strategy.Constant(indicator.StochasticOverbought)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(indicator.Default()).Extract(tt.text)
			require.NoError(t, err)
			require.Len(t, res.IR.Rules, 2)
			assert.Empty(t, res.Remainder)

			for i, want := range []strategy.Condition{tt.entry, tt.exit} {
				got := res.IR.Rules[i].Trigger.Conditions[0]
				require.NotNil(t, got.Left.Indicator)
				assert.Equal(t, tt.indicator, got.Left.Indicator.Name)
				assert.Equal(t, want.Op, got.Op)
				assert.Equal(t, want.Right, got.Right)
			}
		})
	}
}

func TestExtractZoneNeedsOscillator(t *testing.T) {
	_, err := New(indicator.Default()).Extract("buy when sma 20 is oversold, sell when close < open")
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, ReasonUnresolved, xerr.Reason)
}
