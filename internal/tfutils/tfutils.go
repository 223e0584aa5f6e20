package tfutils

import (
	"fmt"
	"sort"
	"time"
)

var durations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	if d, ok := durations[timeframe]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q", timeframe)
}

// GetTimeframeDuration returns the duration for a given timeframe, or 0 when unsupported
func GetTimeframeDuration(timeframe string) time.Duration {
	return durations[timeframe]
}

// GetSupportedTimeframes returns all supported timeframes ordered by duration
func GetSupportedTimeframes() []string {
	out := make([]string, 0, len(durations))
	for tf := range durations {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool {
		return durations[out[i]] < durations[out[j]]
	})
	return out
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}
