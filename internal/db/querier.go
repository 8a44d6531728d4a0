package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is what the session, goal and media stores run their SQL through.
// In the server it is a *pgxpool.Pool, or Offline when Postgres was
// unreachable at boot so walks still track and only persistence fails.
// Tests pass a pgxmock pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Querier = Offline{}
