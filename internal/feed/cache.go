package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/elite/internal/cache"
	"github.com/amirphl/elite/internal/candle"
	"github.com/sirupsen/logrus"
)

// Cached serves repeated requests for the same range from a cache before
// falling back to the wrapped feed. Cache failures never fail a request.
type Cached struct {
	feed  Feed
	cache cache.Cache
	ttl   time.Duration
	log   *logrus.Entry
}

func NewCached(f Feed, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *Cached {
	return &Cached{feed: f, cache: c, ttl: ttl, log: logger.WithField("component", "feed_cache")}
}

func cacheKey(symbol, timeframe string, from, to time.Time) string {
	return fmt.Sprintf("candles:%s:%s:%d:%d", symbol, timeframe, from.Unix(), to.Unix())
}

func (c *Cached) Candles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]candle.Candle, error) {
	key := cacheKey(symbol, timeframe, from, to)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var candles []candle.Candle
		if err := json.Unmarshal(data, &candles); err == nil {
			return candles, nil
		}
		c.log.WithField("key", key).Warn("dropping undecodable cache entry")
	} else if !errors.Is(err, cache.ErrMiss) {
		c.log.WithError(err).WithField("key", key).Warn("cache read failed")
	}

	candles, err := c.feed.Candles(ctx, symbol, timeframe, from, to)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(candles)
	if err == nil {
		err = c.cache.Set(ctx, key, data, c.ttl)
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
	return candles, nil
}
