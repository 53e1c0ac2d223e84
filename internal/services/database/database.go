// Package database provides PostgreSQL persistence for the loan portfolio and collection ledger.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loan-portfolio-engine/internal/config"
)

// Lambda containers handle one event at a time and are many, so they hold
// fewer connections than the long-running server.
const (
	serverMaxConns = 10
	lambdaMaxConns = 2
	connectTimeout = 10 * time.Second

	applicationName = "loan-portfolio-engine"

	// migrationLockID keys the advisory lock taken while the schema is applied.
	migrationLockID int64 = 7231004
)

// DB holds the connection pool shared by the loan and ledger repositories.
type DB struct {
	pool *pgxpool.Pool
}

// New connects with the configured database settings.
func New(cfg *config.Config) (*DB, error) {
	return NewFromURL(cfg.DatabaseURL())
}

// NewFromURL connects to databaseURL and pings it before returning.
func NewFromURL(databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = serverMaxConns
	poolConfig.MinConns = 1
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		poolConfig.MaxConns = lambdaMaxConns
		poolConfig.MinConns = 0
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// HealthCheck verifies database connectivity.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// ExecContext executes a statement and reports the rows it touched.
func (db *DB) ExecContext(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	result, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// QueryRowContext executes a query that returns a single row.
func (db *DB) QueryRowContext(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// WithTransaction runs fn in a transaction, committing when it returns nil
// and rolling back otherwise.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db.pool, fn)
}

//go:embed schema.sql
var schemaSQL string

// Migrate creates the portfolio tables if they do not exist. Concurrent
// callers queue on an advisory lock.
func (db *DB) Migrate(ctx context.Context) error {
	return db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}

// Stats describes what the store currently holds.
type Stats struct {
	Loans             int64      `json:"loans"`
	HandledLoans      int64      `json:"handled_loans"`
	CollectionActions int64      `json:"collection_actions"`
	LatestCutoff      *time.Time `json:"latest_cutoff,omitempty"`
}

// Stats counts both tables in one round trip.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM loans),
			(SELECT COUNT(*) FROM loans WHERE handled),
			(SELECT COUNT(*) FROM collection_actions),
			(SELECT MAX(cutoff_date) FROM loans)
	`).Scan(&s.Loans, &s.HandledLoans, &s.CollectionActions, &s.LatestCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	return &s, nil
}
