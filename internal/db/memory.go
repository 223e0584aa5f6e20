package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStorage struct {
	mu sync.RWMutex

	compilations map[string]Compilation
	runs         map[string]BacktestRun

	// Events (append-only)
	events []Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		compilations: make(map[string]Compilation),
		runs:         make(map[string]BacktestRun),
		events:       make([]Event, 0, 1024),
	}
}

func (m *MemoryStorage) Close() error { return nil }

// deepCopy isolates stored records from callers that keep mutating them.
func deepCopy[T any](in T) (T, error) {
	var out T
	b, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

func stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
	*createdAt = createdAt.UTC()
}

// -------- CompilationStorage --------

func (m *MemoryStorage) SaveCompilation(ctx context.Context, c *Compilation) error {
	stamp(&c.ID, &c.CreatedAt)
	cp, err := deepCopy(*c)
	if err != nil {
		return fmt.Errorf("failed to copy compilation %s: %w", c.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compilations[c.ID] = cp
	return nil
}

func (m *MemoryStorage) GetCompilation(ctx context.Context, id string) (*Compilation, error) {
	m.mu.RLock()
	c, ok := m.compilations[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("compilation %s: %w", id, ErrNotFound)
	}
	cp, err := deepCopy(c)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (m *MemoryStorage) ListCompilations(ctx context.Context, limit int) ([]Compilation, error) {
	m.mu.RLock()
	out := make([]Compilation, 0, len(m.compilations))
	for _, c := range m.compilations {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return deepCopy(out)
}

// -------- BacktestStorage --------

func (m *MemoryStorage) SaveBacktestRun(ctx context.Context, run *BacktestRun) error {
	if run.CompilationID != "" {
		m.mu.RLock()
		_, ok := m.compilations[run.CompilationID]
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("compilation %s: %w", run.CompilationID, ErrNotFound)
		}
	}
	stamp(&run.ID, &run.CreatedAt)
	cp, err := deepCopy(*run)
	if err != nil {
		return fmt.Errorf("failed to copy backtest run %s: %w", run.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = cp
	return nil
}

func (m *MemoryStorage) GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backtest run %s: %w", id, ErrNotFound)
	}
	cp, err := deepCopy(r)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (m *MemoryStorage) ListBacktestRuns(ctx context.Context, compilationID string) ([]BacktestRun, error) {
	m.mu.RLock()
	var out []BacktestRun
	for _, r := range m.runs {
		if r.CompilationID == compilationID {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return deepCopy(out)
}

// -------- JournalStorage --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []Event
	for _, e := range m.events {
		if (eventType == "" || e.Type == eventType) && !e.Time.Before(start) && e.Time.Before(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
