// Package db
package db

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/elite/internal/backtest"
	"github.com/amirphl/elite/internal/extract"
	"github.com/amirphl/elite/internal/journal"
	"github.com/amirphl/elite/internal/strategy"
)

var ErrNotFound = errors.New("not found")

type Event = journal.Event

// Compilation is a description compiled into one dialect.
type Compilation struct {
	ID        string         `json:"id"`
	Logic     string         `json:"logic"`
	Dialect   string         `json:"dialect"`
	Script    string         `json:"script"`
	IR        *strategy.IR   `json:"ir"`
	Remainder []extract.Span `json:"remainder,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BacktestRun is one simulation. CompilationID is empty for runs made from a
// bare description or IR.
type BacktestRun struct {
	ID            string              `json:"id"`
	CompilationID string              `json:"compilation_id,omitempty"`
	IR            *strategy.IR        `json:"ir"`
	Bars          int                 `json:"bars"`
	Seed          int64               `json:"seed"`
	Source        string              `json:"source"`
	FinalPnL      float64             `json:"final_pnl"`
	Trades        []backtest.Trade    `json:"trades"`
	PnL           []backtest.PnLPoint `json:"pnl"`
	Metrics       backtest.Metrics    `json:"metrics"`
	CreatedAt     time.Time           `json:"created_at"`
}

type CompilationStorage interface {
	// SaveCompilation assigns ID and CreatedAt when they are unset.
	SaveCompilation(ctx context.Context, c *Compilation) error
	GetCompilation(ctx context.Context, id string) (*Compilation, error)
	// ListCompilations returns the newest first. limit <= 0 means all.
	ListCompilations(ctx context.Context, limit int) ([]Compilation, error)
}

type BacktestStorage interface {
	SaveBacktestRun(ctx context.Context, run *BacktestRun) error
	GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error)
	// ListBacktestRuns returns the runs of a compilation, oldest first.
	ListBacktestRuns(ctx context.Context, compilationID string) ([]BacktestRun, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	CompilationStorage
	BacktestStorage
	journal.Journaler
	Close() error
}
