// Package service runs the compile, backtest and deploy pipeline and records
// what it did.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/elite/internal/backtest"
	"github.com/amirphl/elite/internal/db"
	"github.com/amirphl/elite/internal/deploy"
	"github.com/amirphl/elite/internal/emit"
	"github.com/amirphl/elite/internal/extract"
	"github.com/amirphl/elite/internal/feed"
	"github.com/amirphl/elite/internal/indicator"
	"github.com/amirphl/elite/internal/journal"
	"github.com/amirphl/elite/internal/marketsim"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDialect = "pine"
	DefaultBars    = 30
	DefaultMaxBars = 100000
)

var (
	ErrNoDeployer = errors.New("no deployment venue configured")
	ErrNoFeed     = errors.New("no market data feed configured")
)

// RequestError is a malformed request, as opposed to a pipeline failure.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return e.Reason }

type Config struct {
	DefaultDialect string
	DefaultBars    int
	MaxBars        int
	Timeframe      string
}

// Deps are the collaborators of a Service. Deployer and Feed are optional.
type Deps struct {
	Library  *indicator.Library
	Store    db.Storage
	Deployer deploy.Adapter
	Feed     feed.Feed
	Logger   *logrus.Logger
}

type Service struct {
	cfg       Config
	lib       *indicator.Library
	extractor *extract.Extractor
	emitter   *emit.Emitter
	engine    *backtest.Engine
	store     db.Storage
	deployer  deploy.Adapter
	feed      feed.Feed
	log       *logrus.Entry
}

func New(cfg Config, deps Deps) *Service {
	if cfg.DefaultDialect == "" {
		cfg.DefaultDialect = DefaultDialect
	}
	if cfg.DefaultBars <= 0 {
		cfg.DefaultBars = DefaultBars
	}
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = DefaultMaxBars
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = marketsim.DefaultTimeframe
	}
	if deps.Library == nil {
		deps.Library = indicator.Default()
	}
	if deps.Store == nil {
		deps.Store = db.NewMemory()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Service{
		cfg:       cfg,
		lib:       deps.Library,
		extractor: extract.New(deps.Library),
		emitter:   emit.New(deps.Library),
		engine:    backtest.New(deps.Library),
		store:     deps.Store,
		deployer:  deps.Deployer,
		feed:      deps.Feed,
		log:       deps.Logger.WithField("component", "service"),
	}
}

func (s *Service) Indicators() []indicator.Spec { return s.lib.Specs() }

func (s *Service) Dialects() []string { return s.emitter.Dialects() }

// Supports reports whether dialect can render the named indicator.
func (s *Service) Supports(indicatorName, dialect string) bool {
	return s.emitter.Supports(indicatorName, dialect)
}

// journal records an event. Journal failures are logged, never returned.
func (s *Service) journal(ctx context.Context, eventType, description string, data map[string]any) {
	if err := s.store.LogEvent(ctx, journal.NewEvent(eventType, description, data)); err != nil {
		s.log.WithError(err).WithField("type", eventType).Warn("failed to journal event")
	}
}

// Compile extracts logic and renders it in dialect.
func (s *Service) Compile(ctx context.Context, logic, dialect string) (*db.Compilation, error) {
	if dialect == "" {
		dialect = s.cfg.DefaultDialect
	}
	res, err := s.extractor.Extract(logic)
	if err != nil {
		return nil, err
	}
	return s.emitAndSave(ctx, logic, res, dialect)
}

// CompileAll renders one extraction in every registered dialect, in the
// order of Dialects.
func (s *Service) CompileAll(ctx context.Context, logic string) ([]db.Compilation, error) {
	res, err := s.extractor.Extract(logic)
	if err != nil {
		return nil, err
	}

	dialects := s.emitter.Dialects()
	out := make([]db.Compilation, len(dialects))
	g, gctx := errgroup.WithContext(ctx)
	for i, dialect := range dialects {
		g.Go(func() error {
			c, err := s.emitAndSave(gctx, logic, res, dialect)
			if err != nil {
				return err
			}
			out[i] = *c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) emitAndSave(ctx context.Context, logic string, res *extract.Result, dialect string) (*db.Compilation, error) {
	script, err := s.emitter.Emit(res.IR, dialect)
	if err != nil {
		return nil, err
	}
	c := &db.Compilation{
		Logic:     logic,
		Dialect:   dialect,
		Script:    script,
		IR:        res.IR.Clone(),
		Remainder: res.Remainder,
	}
	if err := s.store.SaveCompilation(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save compilation: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"id":        c.ID,
		"dialect":   dialect,
		"rules":     len(c.IR.Rules),
		"remainder": len(c.Remainder),
	}).Info("strategy compiled")
	s.journal(ctx, journal.TypeCompiled, fmt.Sprintf("compiled %d rules to %s", len(c.IR.Rules), dialect), map[string]any{
		"compilation_id": c.ID,
		"dialect":        dialect,
	})
	return c, nil
}

func (s *Service) Compilation(ctx context.Context, id string) (*db.Compilation, error) {
	return s.store.GetCompilation(ctx, id)
}

func (s *Service) Compilations(ctx context.Context, limit int) ([]db.Compilation, error) {
	return s.store.ListCompilations(ctx, limit)
}

func (s *Service) BacktestRun(ctx context.Context, id string) (*db.BacktestRun, error) {
	return s.store.GetBacktestRun(ctx, id)
}

func (s *Service) BacktestRuns(ctx context.Context, compilationID string) ([]db.BacktestRun, error) {
	return s.store.ListBacktestRuns(ctx, compilationID)
}

func (s *Service) Events(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	return s.store.GetEvents(ctx, eventType, start, end)
}
