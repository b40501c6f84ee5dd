// Package storage holds the PostgreSQL, pgvector, Redis and Neo4j adapters
// behind the ranking engine's catalog, history and vector search ports.
package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool used by the adapters. pgxmock pools
// satisfy it in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// StatusWatched marks feedback rows for items the user finished.
const StatusWatched = "watched"
