package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/tfutils"
	"github.com/amirphl/elite/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBinanceURL = "https://api.binance.com"
	// binanceLimit is the largest page the klines endpoint returns.
	binanceLimit      = 1000
	sourceBinance     = "binance"
)

type BinanceConfig struct {
	BaseURL  string
	ProxyURL string
	Timeout  time.Duration
	Retry    utils.RetryPolicy
}

// Binance downloads klines from the public REST API.
type Binance struct {
	baseURL string
	client  *http.Client
	retry   utils.RetryPolicy
	log     *logrus.Entry
}

func NewBinance(cfg BinanceConfig, logger *logrus.Logger) (*Binance, error) {
	transport := &http.Transport{}
	if cfg.ProxyURL != "" {
		proxyParsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyParsed)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBinanceURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Binance{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
		retry:   cfg.Retry,
		log:     logger.WithField("component", "binance_feed"),
	}, nil
}

// Candles pages through [from, to) and returns the prepared sequence.
func (b *Binance) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	step, err := tfutils.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("empty range %s - %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	apiSymbol := strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
	var all []candle.Candle
	for cursor := from; cursor.Before(to); {
		page, err := b.download(ctx, apiSymbol, timeframe, cursor, to)
		if err != nil {
			return nil, fmt.Errorf("error fetching candles from %s: %w", cursor.Format(time.RFC3339), err)
		}
		for i := range page {
			page[i].Symbol = symbol
		}
		all = append(all, page...)
		if len(page) < binanceLimit {
			break
		}
		cursor = page[len(page)-1].Timestamp.Add(step)
	}

	b.log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   len(all),
	}).Info("downloaded candles")
	return prepare(all, timeframe, from, to)
}

func (b *Binance) download(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(binanceLimit))
	apiURL := b.baseURL + "/api/v3/klines?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < b.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := b.retry.Wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		body, status, err := b.get(ctx, apiURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
			}
			lastErr = fmt.Errorf("network error on attempt %d: %w", attempt+1, err)
		case status != http.StatusOK:
			lastErr = fmt.Errorf("API error (status %d) on attempt %d: %s", status, attempt+1, string(body))
			if !utils.IsRetryableHTTPStatus(status) {
				return nil, lastErr
			}
		default:
			candles, err := parseKlines(body, timeframe)
			if err != nil {
				return nil, fmt.Errorf("JSON decode error: %w", err)
			}
			return candles, nil
		}

		b.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"max":     b.retry.MaxAttempts,
			"symbol":  symbol,
		}).WithError(lastErr).Warn("kline request failed")
	}
	return nil, fmt.Errorf("failed to download candles after %d attempts, last error: %w", b.retry.MaxAttempts, lastErr)
}

func (b *Binance) get(ctx context.Context, apiURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("error reading response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// parseKlines decodes the array-of-arrays kline payload. Numbers arrive as
// JSON strings, timestamps as milliseconds.
func parseKlines(body []byte, timeframe string) ([]candle.Candle, error) {
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := make([]candle.Candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d has %d fields", i, len(row))
		}
		var nums [6]float64
		for j := 0; j < 6; j++ {
			v, err := number(row[j])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j, err)
			}
			nums[j] = v
		}
		out = append(out, candle.Candle{
			Timestamp: time.UnixMilli(int64(nums[0])).UTC(),
			Open:      nums[1],
			High:      nums[2],
			Low:       nums[3],
			Close:     nums[4],
			Volume:    nums[5],
			Timeframe: timeframe,
			Source:    sourceBinance,
		})
	}
	return out, nil
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unexpected number type %T", v)
}
