package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/reconcile"
	"github.com/xkilldash9x/cartprobe/internal/reporting"
)

// Schema creates the tables the store writes to. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS reconciliation_runs (
    id                UUID PRIMARY KEY,
    name              TEXT NOT NULL,
    url               TEXT NOT NULL DEFAULT '',
    started_at        TIMESTAMPTZ NOT NULL,
    reconciled_at     TIMESTAMPTZ NOT NULL,
    policy            TEXT NOT NULL,
    tolerance         DOUBLE PRECISION NOT NULL,
    computed_total    DOUBLE PRECISION NOT NULL,
    observed_total    DOUBLE PRECISION NOT NULL,
    alternate_total   DOUBLE PRECISION NOT NULL,
    matched           BOOLEAN NOT NULL,
    alternate_matched BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS reconciliation_items (
    run_id     UUID NOT NULL REFERENCES reconciliation_runs(id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    label      TEXT NOT NULL DEFAULT '',
    unit_price DOUBLE PRECISION NOT NULL,
    quantity   INTEGER NOT NULL,
    subtotal   DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS reconciliation_runs_name_idx ON reconciliation_runs (name, reconciled_at DESC);
`

const sqlInsertRun = `
        INSERT INTO reconciliation_runs (id, name, url, started_at, reconciled_at, policy, tolerance,
            computed_total, observed_total, alternate_total, matched, alternate_matched)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
    `

const sqlRecentRuns = `
        SELECT id, name, url, reconciled_at, policy, computed_total, observed_total, matched, alternate_matched
        FROM reconciliation_runs
        WHERE ($1 = '' OR name = $1)
        ORDER BY reconciled_at DESC
        LIMIT $2;
    `

var itemColumns = []string{"run_id", "position", "label", "unit_price", "quantity", "subtotal"}

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists reconciliation runs in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema applies Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun writes the run header and its items in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *reporting.Run) error {
	if len(run.Items) != len(run.Result.PerItemSubtotal) {
		return fmt.Errorf("run %s has %d items but %d subtotals", run.ID, len(run.Items), len(run.Result.PerItemSubtotal))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	res := run.Result
	_, err = tx.Exec(ctx, sqlInsertRun,
		run.ID, run.Name, run.URL,
		run.StartedAt.UTC(), res.Timestamp.UTC(),
		string(res.Policy), res.Tolerance,
		res.ComputedTotal, res.ObservedTotal, res.AlternateTotal,
		res.Matched, res.AlternateMatched,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if len(run.Items) > 0 {
		if err := s.persistItems(ctx, tx, run); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", run.ID), zap.Int("items", len(run.Items)))
	return nil
}

func (s *Store) persistItems(ctx context.Context, tx pgx.Tx, run *reporting.Run) error {
	rows := make([][]interface{}, len(run.Items))
	for i, it := range run.Items {
		rows[i] = []interface{}{run.ID, i + 1, it.Label, it.UnitPrice, it.Quantity, run.Result.PerItemSubtotal[i]}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"reconciliation_items"}, itemColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy items: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied items count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID               string
	Name             string
	URL              string
	ReconciledAt     time.Time
	Policy           reconcile.Policy
	ComputedTotal    float64
	ObservedTotal    float64
	Matched          bool
	AlternateMatched bool
}

// RecentRuns lists the newest runs first, optionally restricted to one report name.
func (s *Store) RecentRuns(ctx context.Context, name string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var policy string
		if err := rows.Scan(&r.ID, &r.Name, &r.URL, &r.ReconciledAt, &policy,
			&r.ComputedTotal, &r.ObservedTotal, &r.Matched, &r.AlternateMatched); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Policy = reconcile.Policy(policy)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
