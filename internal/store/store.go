// Package store persists pipeline runs and their results. The memory
// implementation backs single-process deployments and tests; the Postgres
// implementation is used when a database URL is configured.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// ErrNotFound is returned when a run id has no stored state.
var ErrNotFound = errors.New("run not found")

// Store holds run state and results keyed by run id.
type Store interface {
	CreateRun(ctx context.Context, run *types.PipelineRun) error
	UpdateRun(ctx context.Context, run *types.PipelineRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*types.PipelineRun, error)
	ListRuns(ctx context.Context) ([]types.PipelineRun, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error

	SaveResult(ctx context.Context, result types.RunResult) error
	GetResult(ctx context.Context, id uuid.UUID) (*types.RunResult, error)

	Close()
}

// Memory is an in-process store. Reads return copies so callers never
// observe a run mid-mutation.
type Memory struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]types.PipelineRun
	results map[uuid.UUID]types.RunResult
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		runs:    make(map[uuid.UUID]types.PipelineRun),
		results: make(map[uuid.UUID]types.RunResult),
	}
}

// CreateRun registers a new run. The id must be unused.
func (m *Memory) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	m.runs[run.ID] = copyRun(run)
	return nil
}

// UpdateRun overwrites the stored state of an existing run.
func (m *Memory) UpdateRun(ctx context.Context, run *types.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; !exists {
		return ErrNotFound
	}
	m.runs[run.ID] = copyRun(run)
	return nil
}

// GetRun returns a copy of the run.
func (m *Memory) GetRun(ctx context.Context, id uuid.UUID) (*types.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRun(&run)
	return &out, nil
}

// ListRuns returns all runs ordered by creation time, newest first.
func (m *Memory) ListRuns(ctx context.Context) ([]types.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.PipelineRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, copyRun(&run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// DeleteRun removes a run and its result.
func (m *Memory) DeleteRun(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}
	delete(m.runs, id)
	delete(m.results, id)
	return nil
}

// SaveResult stores the final result for a run. Results for unknown run
// ids are refused so a result finishing after its run was deleted cannot
// linger as an orphan.
func (m *Memory) SaveResult(ctx context.Context, result types.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[result.RunID]; !ok {
		return ErrNotFound
	}
	m.results[result.RunID] = result
	return nil
}

// GetResult returns the stored result for a run.
func (m *Memory) GetResult(ctx context.Context, id uuid.UUID) (*types.RunResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &result, nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() {}

func copyRun(run *types.PipelineRun) types.PipelineRun {
	out := *run
	out.Steps = make([]types.StepRecord, len(run.Steps))
	copy(out.Steps, run.Steps)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
