// Package postgres provides the PostgreSQL implementation of domain.Store.
//
// It implements the repository ports as type-safe database operations with
// connection pooling, OpenTelemetry tracing, and explicit transaction
// control, matching the rest of the Go ecosystem's idiomatic pgx usage.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos, so they remain
// mockable in unit tests without a real database.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store aggregates every repo into the single domain.Store implementation
// cmd/dispatcher and cmd/intake construct once at startup.
type Store struct {
	Pool PgxPool
}

// NewStore constructs a Store over the given pool.
func NewStore(p PgxPool) *Store { return &Store{Pool: p} }

var _ domain.Store = (*Store)(nil)
