package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Postgres persists runs in PostgreSQL via a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the run tables when they do not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id UUID PRIMARY KEY,
			document TEXT NOT NULL,
			status TEXT NOT NULL,
			steps JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS run_results (
			run_id UUID PRIMARY KEY REFERENCES pipeline_runs(id) ON DELETE CASCADE,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record.
func (p *Postgres) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, document, status, steps, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Document, run.Status, steps, run.CreatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun overwrites a run's status, steps and completion time.
func (p *Postgres) UpdateRun(ctx context.Context, run *types.PipelineRun) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE pipeline_runs SET status = $1, steps = $2, completed_at = $3 WHERE id = $4`,
		run.Status, steps, run.CompletedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun fetches one run by id.
func (p *Postgres) GetRun(ctx context.Context, id uuid.UUID) (*types.PipelineRun, error) {
	var run types.PipelineRun
	var steps []byte
	err := p.pool.QueryRow(ctx,
		`SELECT id, document, status, steps, created_at, completed_at
		 FROM pipeline_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.Document, &run.Status, &steps, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	return &run, nil
}

// ListRuns returns all runs, newest first.
func (p *Postgres) ListRuns(ctx context.Context) ([]types.PipelineRun, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, document, status, steps, created_at, completed_at
		 FROM pipeline_runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.PipelineRun
	for rows.Next() {
		var run types.PipelineRun
		var steps []byte
		if err := rows.Scan(&run.ID, &run.Document, &run.Status, &steps, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &run.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; the result row cascades.
func (p *Postgres) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM pipeline_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResult upserts the final result document for a run.
func (p *Postgres) SaveResult(ctx context.Context, result types.RunResult) error {
	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO run_results (run_id, content) VALUES ($1, $2)
		 ON CONFLICT (run_id) DO UPDATE SET content = $2, created_at = NOW()`,
		result.RunID, content,
	)
	if err != nil {
		// Foreign key violation: the run row is gone, the result is
		// refused rather than orphaned.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult fetches the stored result for a run.
func (p *Postgres) GetResult(ctx context.Context, id uuid.UUID) (*types.RunResult, error) {
	var content []byte
	err := p.pool.QueryRow(ctx,
		`SELECT content FROM run_results WHERE run_id = $1`, id,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	var result types.RunResult
	if err := json.Unmarshal(content, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
