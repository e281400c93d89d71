// Package db mirrors the tender store into PostgreSQL and keeps a log of monitor runs.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the mirror tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateRun records the start of a monitor run under the given ID
func (db *DB) CreateRun(ctx context.Context, id uuid.UUID, kind string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitor_runs (id, kind, status)
		 VALUES ($1, $2, $3)`,
		id, kind, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a monitor run as finished with its aggregate counts
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, counts map[string]int) error {
	jsonBytes, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal run counts: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE monitor_runs SET status = $1, counts = $2, completed_at = NOW() WHERE id = $3`,
		status, jsonBytes, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a monitor run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	var counts []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, kind, status, counts, started_at, completed_at
		 FROM monitor_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Kind, &run.Status, &counts, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &run.Counts); err != nil {
			return nil, fmt.Errorf("failed to parse run counts: %w", err)
		}
	}
	return &run, nil
}

// ListRuns retrieves recent monitor runs, newest first
func (db *DB) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, kind, status, counts, started_at, completed_at
		 FROM monitor_runs WHERE ($1 = '' OR kind = $1)
		 ORDER BY started_at DESC LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var counts []byte
		if err := rows.Scan(&run.ID, &run.Kind, &run.Status, &counts, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &run.Counts); err != nil {
				return nil, fmt.Errorf("failed to parse run counts: %w", err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
