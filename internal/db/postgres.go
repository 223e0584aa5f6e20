package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/elite/internal/db/conf"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Default) queryRowWithTransaction(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

type Default struct {
	db *sql.DB
}

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, errors.New("postgres storage needs an open database")
	}
	return &Default{db: c.DB}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

func (p *Default) Close() error {
	return p.db.Close()
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// -------- CompilationStorage --------

const compilationColumns = `id, logic, dialect, script, ir, remainder, created_at`

func (p *Default) SaveCompilation(ctx context.Context, c *Compilation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	ir, err := json.Marshal(c.IR)
	if err != nil {
		return fmt.Errorf("failed to encode IR of compilation %s: %w", c.ID, err)
	}
	remainder, err := json.Marshal(c.Remainder)
	if err != nil {
		return fmt.Errorf("failed to encode remainder of compilation %s: %w", c.ID, err)
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO compilations (`+compilationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			logic=EXCLUDED.logic, dialect=EXCLUDED.dialect, script=EXCLUDED.script,
			ir=EXCLUDED.ir, remainder=EXCLUDED.remainder`,
			c.ID, c.Logic, c.Dialect, c.Script, ir, remainder, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save compilation %s: %w", c.ID, err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompilation(s scanner) (Compilation, error) {
	var c Compilation
	var ir, remainder []byte
	if err := s.Scan(&c.ID, &c.Logic, &c.Dialect, &c.Script, &ir, &remainder, &c.CreatedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal(ir, &c.IR); err != nil {
		return c, fmt.Errorf("failed to decode IR of compilation %s: %w", c.ID, err)
	}
	if len(remainder) > 0 {
		if err := json.Unmarshal(remainder, &c.Remainder); err != nil {
			return c, fmt.Errorf("failed to decode remainder of compilation %s: %w", c.ID, err)
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (p *Default) GetCompilation(ctx context.Context, id string) (*Compilation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("compilation %s: %w", id, ErrNotFound)
	}
	row := p.queryRowWithTransaction(ctx, `SELECT `+compilationColumns+` FROM compilations WHERE id=$1`, id)
	c, err := scanCompilation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compilation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compilation %s: %w", id, err)
	}
	return &c, nil
}

func (p *Default) ListCompilations(ctx context.Context, limit int) ([]Compilation, error) {
	query := `SELECT ` + compilationColumns + ` FROM compilations ORDER BY created_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.queryWithTransaction(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list compilations: %w", err)
	}
	defer rows.Close()

	var out []Compilation
	for rows.Next() {
		c, err := scanCompilation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// -------- BacktestStorage --------

const runColumns = `id, compilation_id, ir, bars, seed, source, final_pnl, trades, pnl, metrics, created_at`

func (p *Default) SaveBacktestRun(ctx context.Context, run *BacktestRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	var blobs [4][]byte
	for i, v := range []any{run.IR, run.Trades, run.PnL, run.Metrics} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode backtest run %s: %w", run.ID, err)
		}
		blobs[i] = b
	}

	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		if run.CompilationID != "" {
			var exists bool
			err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM compilations WHERE id=$1)`, run.CompilationID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check compilation %s: %w", run.CompilationID, err)
			}
			if !exists {
				return fmt.Errorf("compilation %s: %w", run.CompilationID, ErrNotFound)
			}
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO backtest_runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			run.ID, nullable(run.CompilationID), blobs[0], run.Bars, run.Seed, run.Source,
			run.FinalPnL, blobs[1], blobs[2], blobs[3], run.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save backtest run %s: %w", run.ID, err)
		}
		return nil
	})
}

func scanRun(s scanner) (BacktestRun, error) {
	var r BacktestRun
	var compilationID sql.NullString
	var ir, trades, pnl, metrics []byte
	err := s.Scan(&r.ID, &compilationID, &ir, &r.Bars, &r.Seed, &r.Source, &r.FinalPnL, &trades, &pnl, &metrics, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.CompilationID = compilationID.String
	for _, blob := range []struct {
		data []byte
		into any
	}{{ir, &r.IR}, {trades, &r.Trades}, {pnl, &r.PnL}, {metrics, &r.Metrics}} {
		if err := json.Unmarshal(blob.data, blob.into); err != nil {
			return r, fmt.Errorf("failed to decode backtest run %s: %w", r.ID, err)
		}
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (p *Default) GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("backtest run %s: %w", id, ErrNotFound)
	}
	row := p.queryRowWithTransaction(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=$1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backtest run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest run %s: %w", id, err)
	}
	return &r, nil
}

func (p *Default) ListBacktestRuns(ctx context.Context, compilationID string) ([]BacktestRun, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT `+runColumns+` FROM backtest_runs
		WHERE compilation_id IS NOT DISTINCT FROM $1
		ORDER BY created_at ASC, id ASC`, nullable(compilationID))
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	var out []BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// -------- JournalStorage --------

func (p *Default) LogEvent(ctx context.Context, event Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time.UTC(), event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error) {
	rows, err := p.queryWithTransaction(ctx, `
		SELECT time, type, description, data FROM events
		WHERE ($1 = '' OR type = $1) AND time >= $2 AND time < $3
		ORDER BY time ASC`, eventType, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
