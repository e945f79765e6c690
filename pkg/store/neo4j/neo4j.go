// Package neo4j implements store.GraphStore on a Neo4j database. Entities
// and chunks are nodes carrying a group_id property that scopes them to a
// tenant; vector search goes through the native vector indexes.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes a Cypher query and returns a fully buffered result.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)
}

// Executor is the Runner backed by a driver. Queries are routed to
// readers since the query path never writes.
type Executor struct {
	Driver neo4j.DriverWithContext
	DBName string
}

func NewExecutor(uri, username, password, dbName string) (*Executor, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create Neo4j driver: %w", err)
	}
	return &Executor{Driver: driver, DBName: dbName}, nil
}

func (e *Executor) Verify(ctx context.Context) error {
	return e.Driver.VerifyConnectivity(ctx)
}

func (e *Executor) Close(ctx context.Context) error {
	return e.Driver.Close(ctx)
}

func (e *Executor) Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if e.DBName != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(e.DBName))
	}
	result, err := neo4j.ExecuteQuery(ctx, e.Driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, fmt.Errorf("error executing neo4j query: %w", err)
	}
	return result, nil
}

// GraphStore reads tenant graphs from Neo4j.
type GraphStore struct {
	runner      Runner
	entityIndex string
	chunkIndex  string
	overfetch   int
}

type Option func(*GraphStore)

// WithIndexes overrides the names of the entity and chunk vector indexes.
func WithIndexes(entity, chunk string) Option {
	return func(s *GraphStore) {
		s.entityIndex = entity
		s.chunkIndex = chunk
	}
}

// WithOverfetch sets how many index hits are requested per wanted result.
// Vector indexes are shared across tenants and filtered afterwards.
func WithOverfetch(factor int) Option {
	return func(s *GraphStore) {
		if factor > 0 {
			s.overfetch = factor
		}
	}
}

func NewGraphStore(runner Runner, opts ...Option) *GraphStore {
	s := &GraphStore{
		runner:      runner,
		entityIndex: "entity_embedding",
		chunkIndex:  "chunk_embedding",
		overfetch:   4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
