package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/utils"
	"github.com/sirupsen/logrus"
	wallex "github.com/wallexchange/wallex-go"
)

const sourceWallex = "wallex"

// wallexResolutions maps timeframes to the resolutions of the wallex udf
// history endpoint.
var wallexResolutions = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"4h":  "240",
	"1d":  "1D",
	"1w":  "1W",
}

// wallexClient is the part of the wallex SDK the feed uses.
type wallexClient interface {
	Candles(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error)
}

type WallexConfig struct {
	APIKey string
	Retry  utils.RetryPolicy
}

// Wallex downloads candles through the wallex SDK.
type Wallex struct {
	client wallexClient
	retry  utils.RetryPolicy
	log    *logrus.Entry
}

func NewWallex(cfg WallexConfig, logger *logrus.Logger) *Wallex {
	return newWallex(wallex.New(wallex.ClientOptions{APIKey: cfg.APIKey}), cfg.Retry, logger)
}

func newWallex(client wallexClient, retry utils.RetryPolicy, logger *logrus.Logger) *Wallex {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Wallex{
		client: client,
		retry:  retry,
		log:    logger.WithField("component", "wallex_feed"),
	}
}

// Candles fetches [from, to) in one request and returns the prepared sequence.
// The SDK call is not cancellable; ctx is checked between attempts.
func (w *Wallex) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	resolution, ok := wallexResolutions[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("empty range %s - %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	apiSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))

	var (
		raw     []*wallex.Candle
		lastErr error
	)
	for attempt := 0; attempt < w.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := w.retry.Wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("request cancelled: %w", err)
		}

		var err error
		raw, err = w.client.Candles(apiSymbol, resolution, from, to)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
		w.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"max":     w.retry.MaxAttempts,
			"symbol":  symbol,
		}).WithError(err).Warn("candle request failed")
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to download candles after %d attempts, last error: %w", w.retry.MaxAttempts, lastErr)
	}

	out, err := convertWallex(raw, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	w.log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   len(out),
	}).Info("downloaded candles")
	return prepare(out, timeframe, from, to)
}

// convertWallex parses the SDK's string prices. A malformed price fails the
// whole download rather than leaving a gap.
func convertWallex(raw []*wallex.Candle, symbol, timeframe string) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0, len(raw))
	for i, wc := range raw {
		if wc == nil {
			continue
		}
		var nums [5]float64
		for j, s := range []string{string(wc.Open), string(wc.High), string(wc.Low), string(wc.Close), string(wc.Volume)} {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("candle %d field %d: %w", i, j, err)
			}
			nums[j] = v
		}
		out = append(out, candle.Candle{
			Timestamp: wc.Timestamp.UTC(),
			Open:      nums[0],
			High:      nums[1],
			Low:       nums[2],
			Close:     nums[3],
			Volume:    nums[4],
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    sourceWallex,
		})
	}
	return out, nil
}
