// Package candle
package candle

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Price fields a candle exposes to indicators and conditions.
const (
	FieldOpen  = "open"
	FieldHigh  = "high"
	FieldLow   = "low"
	FieldClose = "close"
)

type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol,omitempty"`
	Timeframe string    `json:"timeframe,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("candle values must be finite")
		}
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	return nil
}

// Field returns the named price field. Unknown names report false.
func (c *Candle) Field(name string) (float64, bool) {
	switch name {
	case FieldOpen:
		return c.Open, true
	case FieldHigh:
		return c.High, true
	case FieldLow:
		return c.Low, true
	case FieldClose:
		return c.Close, true
	}
	return math.NaN(), false
}

// IsField reports whether name is a supported price field.
func IsField(name string) bool {
	switch name {
	case FieldOpen, FieldHigh, FieldLow, FieldClose:
		return true
	}
	return false
}

// SequenceError points at the first candle of a sequence that breaks an invariant.
type SequenceError struct {
	Index  int
	Reason string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("candle %d: %s", e.Index, e.Reason)
}

// ValidateAt checks candle i of a sequence: its own invariants and strict
// ordering against candle i-1.
func ValidateAt(candles []Candle, i int) error {
	if err := candles[i].Validate(); err != nil {
		return &SequenceError{Index: i, Reason: err.Error()}
	}
	if i > 0 && !candles[i].Timestamp.After(candles[i-1].Timestamp) {
		if candles[i].Timestamp.Equal(candles[i-1].Timestamp) {
			return &SequenceError{Index: i, Reason: fmt.Sprintf("duplicate timestamp %s", candles[i].Timestamp.Format(time.RFC3339))}
		}
		return &SequenceError{Index: i, Reason: fmt.Sprintf("timestamp %s is before previous candle %s",
			candles[i].Timestamp.Format(time.RFC3339), candles[i-1].Timestamp.Format(time.RFC3339))}
	}
	return nil
}

// ValidateSequence checks every candle and the strict time ordering of the sequence.
func ValidateSequence(candles []Candle) error {
	for i := range candles {
		if err := ValidateAt(candles, i); err != nil {
			return err
		}
	}
	return nil
}

// Series extracts one price field from every candle.
func Series(candles []Candle, field string) ([]float64, error) {
	if !IsField(field) {
		return nil, fmt.Errorf("unknown price field %q", field)
	}
	out := make([]float64, len(candles))
	for i := range candles {
		out[i], _ = candles[i].Field(field)
	}
	return out, nil
}

// Normalize sorts candles by timestamp and keeps the first occurrence of each timestamp.
func Normalize(candles []Candle) []Candle {
	if len(candles) == 0 {
		return candles
	}
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := sorted[:1]
	for _, c := range sorted[1:] {
		if c.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, c)
	}
	return out
}
