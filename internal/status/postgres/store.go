// Package postgres provides a Postgres-backed job status store for
// deployments that need status to survive restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/snapshot"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists job status rows in Postgres.
type Store struct {
	pool   pgxIface
	table  string
	logger *zap.Logger
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("status.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "snapshot_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, table: table, logger: logger}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, table string, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "snapshot_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, table: table, logger: logger}, nil
}

// Migrate creates the job table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Register inserts the job row in pending state.
func (s *Store) Register(ctx context.Context, id, url string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, status, submitted_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, url, string(snapshot.StatusPending)); err != nil {
		return fmt.Errorf("register job %s: %w", id, err)
	}
	return nil
}

// Transition moves a pending job to a terminal status. The status guard in
// the WHERE clause makes the pending->terminal transition apply exactly
// once; an unknown or already-terminal id is a logged no-op.
func (s *Store) Transition(ctx context.Context, id string, status snapshot.Status) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = $3`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, string(status), string(snapshot.StatusPending))
	if err != nil {
		return fmt.Errorf("transition job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("status update had no effect",
			zap.String("job_id", id),
			zap.String("requested", string(status)))
	}
	return nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (snapshot.Job, error) {
	query := fmt.Sprintf(`
SELECT id, url, status, submitted_at FROM %s WHERE id = $1`, s.table)
	var (
		job       snapshot.Job
		statusStr string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&job.ID, &job.URL, &statusStr, &job.Submitted)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Job{}, snapshot.ErrNotFound
	}
	if err != nil {
		return snapshot.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	job.Status = snapshot.Status(statusStr)
	return job, nil
}

// List returns all tracked jobs.
func (s *Store) List(ctx context.Context) ([]snapshot.Job, error) {
	query := fmt.Sprintf(`
SELECT id, url, status, submitted_at FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Job
	for rows.Next() {
		var (
			job       snapshot.Job
			statusStr string
		)
		if err := rows.Scan(&job.ID, &job.URL, &statusStr, &job.Submitted); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		job.Status = snapshot.Status(statusStr)
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}
