package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
)

type pgxIConn interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// GraphDBStorage implements store.GraphStore on PostgreSQL with pgvector
// for similarity search. Tenants are rows partitioned by group_id; every
// statement filters on it.
//
// The connection must have the pgvector types registered (see
// pgxvec.RegisterTypes).
type GraphDBStorage struct {
	conn      pgxIConn
	batchSize int
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithBatchSize caps the number of ids sent in a single ANY($2) lookup.
func WithBatchSize(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewGraphDBStorageWithConnection creates a new GraphDBStorage using an
// existing connection or pool.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:      conn,
		batchSize: 500,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}
