package service

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/elite/internal/backtest"
	"github.com/amirphl/elite/internal/candle"
	"github.com/amirphl/elite/internal/db"
	"github.com/amirphl/elite/internal/extract"
	"github.com/amirphl/elite/internal/journal"
	"github.com/amirphl/elite/internal/marketsim"
	"github.com/amirphl/elite/internal/strategy"
	"github.com/amirphl/elite/internal/tfutils"
	"github.com/sirupsen/logrus"
)

// SourceProvided tags runs over caller supplied candles.
const SourceProvided = "provided"

// BacktestRequest names one strategy (CompilationID, then IR, then Logic) and
// one data source (Candles, then Symbol through the feed, then synthetic bars).
type BacktestRequest struct {
	CompilationID string       `json:"compilation_id,omitempty"`
	IR            *strategy.IR `json:"ir,omitempty"`
	Logic         string       `json:"logic,omitempty"`

	Candles []candle.Candle `json:"candles,omitempty"`

	Symbol    string    `json:"symbol,omitempty"`
	Timeframe string    `json:"timeframe,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`

	Bars int `json:"bars,omitempty"`
	// Seed nil draws a fresh seed, reported back in the run.
	Seed *int64 `json:"seed,omitempty"`
}

type BacktestResult struct {
	Run           *db.BacktestRun    `json:"run"`
	Candles       []candle.Candle    `json:"candles"`
	FinalPosition *backtest.Position `json:"final_position,omitempty"`
	Remainder     []extract.Span     `json:"remainder,omitempty"`
}

func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	ir, remainder, err := s.resolveStrategy(ctx, req)
	if err != nil {
		return nil, err
	}
	candles, seed, source, err := s.resolveCandles(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Simulate(ir, candles)
	if err != nil {
		return nil, err
	}

	run := &db.BacktestRun{
		CompilationID: req.CompilationID,
		IR:            ir,
		Bars:          len(candles),
		Seed:          seed,
		Source:        source,
		Trades:        res.Trades,
		PnL:           res.PnL,
		Metrics:       res.Metrics,
	}
	if n := len(res.PnL); n > 0 {
		run.FinalPnL = res.PnL[n-1].Cumulative
	}
	if err := s.store.SaveBacktestRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save backtest run: %w", err)
	}

	backtest.LogResult(s.log.WithField("run_id", run.ID), res, 5)
	s.journal(ctx, journal.TypeBacktested, fmt.Sprintf("%d bars, %d trades, final pnl %g", run.Bars, len(run.Trades), run.FinalPnL), map[string]any{
		"run_id":         run.ID,
		"compilation_id": run.CompilationID,
		"source":         source,
		"seed":           seed,
	})
	return &BacktestResult{Run: run, Candles: candles, FinalPosition: res.FinalPosition, Remainder: remainder}, nil
}

func (s *Service) resolveStrategy(ctx context.Context, req BacktestRequest) (*strategy.IR, []extract.Span, error) {
	switch {
	case req.CompilationID != "":
		c, err := s.store.GetCompilation(ctx, req.CompilationID)
		if err != nil {
			return nil, nil, err
		}
		return c.IR, c.Remainder, nil
	case req.IR != nil:
		return req.IR.Clone(), nil, nil
	case req.Logic != "":
		res, err := s.extractor.Extract(req.Logic)
		if err != nil {
			return nil, nil, err
		}
		return res.IR, res.Remainder, nil
	}
	return nil, nil, &RequestError{Reason: "one of compilation_id, ir or logic is required"}
}

func (s *Service) resolveCandles(ctx context.Context, req BacktestRequest) ([]candle.Candle, int64, string, error) {
	if len(req.Candles) > 0 {
		if len(req.Candles) > s.cfg.MaxBars {
			return nil, 0, "", &RequestError{Reason: fmt.Sprintf("at most %d candles allowed, got %d", s.cfg.MaxBars, len(req.Candles))}
		}
		return req.Candles, 0, SourceProvided, nil
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = s.cfg.Timeframe
	}

	if req.Symbol != "" {
		if s.feed == nil {
			return nil, 0, "", ErrNoFeed
		}
		to := req.To
		if to.IsZero() {
			to = time.Now().UTC()
		}
		from := req.From
		if from.IsZero() {
			from = defaultFrom(to, timeframe, s.cfg.DefaultBars)
		}
		candles, err := s.feed.Candles(ctx, req.Symbol, timeframe, from, to)
		if err != nil {
			return nil, 0, "", fmt.Errorf("failed to load candles for %s: %w", req.Symbol, err)
		}
		if len(candles) > s.cfg.MaxBars {
			candles = candles[len(candles)-s.cfg.MaxBars:]
		}
		source := "feed"
		if len(candles) > 0 {
			source = candles[0].Source
		}
		return candles, 0, source, nil
	}

	candles, seed, err := s.Synthetic(req.Bars, req.Seed, timeframe)
	if err != nil {
		return nil, 0, "", err
	}
	return candles, seed, marketsim.SourceName, nil
}

// Synthetic generates bars candles, drawing a seed when seed is nil. bars 0
// selects the configured default.
func (s *Service) Synthetic(bars int, seed *int64, timeframe string) ([]candle.Candle, int64, error) {
	if bars == 0 {
		bars = s.cfg.DefaultBars
	}
	if bars < 0 || bars > s.cfg.MaxBars {
		return nil, 0, &RequestError{Reason: fmt.Sprintf("bars must be between 1 and %d, got %d", s.cfg.MaxBars, bars)}
	}
	if timeframe == "" {
		timeframe = s.cfg.Timeframe
	}
	opts := marketsim.Options{Timeframe: timeframe}

	if seed == nil {
		candles, drawn, err := marketsim.GenerateUnseeded(bars, opts)
		if err != nil {
			return nil, 0, &RequestError{Reason: err.Error()}
		}
		s.log.WithFields(logrus.Fields{"bars": bars, "seed": drawn}).Debug("generated synthetic candles")
		return candles, drawn, nil
	}
	candles, err := marketsim.Generate(bars, *seed, opts)
	if err != nil {
		return nil, 0, &RequestError{Reason: err.Error()}
	}
	return candles, *seed, nil
}

// defaultFrom reaches back bars candles of timeframe from to. Unknown
// timeframes count days.
func defaultFrom(to time.Time, timeframe string, bars int) time.Time {
	step := tfutils.GetTimeframeDuration(timeframe)
	if step <= 0 {
		return to.AddDate(0, 0, -bars)
	}
	return to.Add(-time.Duration(bars) * step)
}
