// Package backend wires the graph store, vector index and model clients
// selected through the environment. It is shared by the server, the worker
// and the CLI.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi-query/internal/storage"
	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store/memory"
	neostore "github.com/OFFIS-RIT/kiwi-query/pkg/store/neo4j"
	pgstore "github.com/OFFIS-RIT/kiwi-query/pkg/store/pgx"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store/qdrant"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const (
	GraphPostgres = "postgres"
	GraphNeo4j    = "neo4j"
	GraphMemory   = "memory"

	VectorQdrant = "qdrant"
)

// EntityLister enumerates the embedded entities of a tenant. Graph stores
// that can feed an external vector index implement it.
type EntityLister interface {
	ListEntityIDs(ctx context.Context, tenant string) ([]string, error)
}

// Backend holds the opened stores and model clients.
type Backend struct {
	// Graph is the store as selected by GRAPH_BACKEND, without any
	// external vector index in front of it.
	Graph store.GraphStore
	// Store answers the query path; entity similarity search goes to
	// Index when one is configured.
	Store store.GraphStore
	Index *qdrant.EntityIndex

	AI  ai.GraphAIClient
	LLM *ai.QueryClient

	// Leases is only set for the postgres graph backend.
	Leases *leaselock.Client

	closers []func()
}

// Options overrides the environment. Empty fields fall back to
// GRAPH_BACKEND, VECTOR_BACKEND and GRAPH_FIXTURE. Fixture is a file path
// or an s3://bucket/key URI.
type Options struct {
	Graph   string
	Vector  string
	Fixture string
	// SkipAI leaves AI and LLM nil for commands that never call a model.
	SkipAI bool
}

// Open connects to every backend the environment selects. Close releases
// them again.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Graph == "" {
		opts.Graph = util.GetEnvString("GRAPH_BACKEND", GraphPostgres)
	}
	if opts.Vector == "" {
		opts.Vector = util.GetEnv("VECTOR_BACKEND")
	}
	if opts.Fixture == "" {
		opts.Fixture = util.GetEnv("GRAPH_FIXTURE")
	}

	b := &Backend{}
	if err := b.openGraph(ctx, opts); err != nil {
		b.Close()
		return nil, err
	}
	b.Store = b.Graph

	switch strings.ToLower(opts.Vector) {
	case "":
	case VectorQdrant:
		idx, err := qdrant.NewEntityIndex(ctx, QdrantConfigFromEnv())
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Index = idx
		b.closers = append(b.closers, func() { _ = idx.Close() })
		b.Store = store.WithVectorIndex(b.Graph, idx)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown vector backend %q", opts.Vector)
	}

	if !opts.SkipAI {
		client, err := NewAIClient()
		if err != nil {
			b.Close()
			return nil, err
		}
		b.AI = client
		b.LLM = NewQueryClient(client)
	}

	logger.Info("[Backend] Ready", "graph", opts.Graph, "vector", opts.Vector, "ai", !opts.SkipAI)
	return b, nil
}

func (b *Backend) openGraph(ctx context.Context, opts Options) error {
	switch strings.ToLower(opts.Graph) {
	case GraphPostgres:
		pool, err := NewPool(ctx, util.GetEnv("DATABASE_URL"))
		if err != nil {
			return err
		}
		b.closers = append(b.closers, pool.Close)
		b.Leases = leaselock.New(pool)
		b.Graph = pgstore.NewGraphDBStorageWithConnection(pool,
			pgstore.WithBatchSize(util.GetEnvInt("GRAPH_BATCH_SIZE", 500)))
	case GraphNeo4j:
		exec, err := neostore.NewExecutor(
			util.GetEnvString("NEO4J_URI", "neo4j://localhost:7687"),
			util.GetEnv("NEO4J_USER"),
			util.GetEnv("NEO4J_PASSWORD"),
			util.GetEnv("NEO4J_DATABASE"),
		)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = exec.Close(context.Background()) })
		if err := exec.Verify(ctx); err != nil {
			return fmt.Errorf("neo4j unreachable: %w", err)
		}
		b.Graph = neostore.NewGraphStore(exec,
			neostore.WithIndexes(
				util.GetEnvString("NEO4J_ENTITY_INDEX", "entity_embedding"),
				util.GetEnvString("NEO4J_CHUNK_INDEX", "chunk_embedding"),
			),
			neostore.WithOverfetch(util.GetEnvInt("NEO4J_OVERFETCH", 4)),
		)
	case GraphMemory:
		if opts.Fixture == "" {
			return errors.New("memory backend needs GRAPH_FIXTURE")
		}
		rc, err := storage.Open(ctx, opts.Fixture)
		if err != nil {
			return err
		}
		defer rc.Close()
		s, err := memory.Load(rc)
		if err != nil {
			return err
		}
		b.Graph = s
	default:
		return fmt.Errorf("unknown graph backend %q", opts.Graph)
	}
	return nil
}

// Lister returns the graph store as an EntityLister, if it is one.
func (b *Backend) Lister() (EntityLister, bool) {
	l, ok := b.Graph.(EntityLister)
	return l, ok
}

// Close releases the backends in reverse opening order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewPool opens a pgx pool with the pgvector types registered on every
// connection.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return pool, nil
}

func QdrantConfigFromEnv() qdrant.Config {
	return qdrant.Config{
		Host:       util.GetEnvString("QDRANT_HOST", "localhost"),
		Port:       util.GetEnvInt("QDRANT_PORT", 6334),
		Collection: util.GetEnvString("QDRANT_COLLECTION", "entities"),
		VectorSize: uint64(util.GetEnvInt("AI_EMBED_DIM", 1536)),
		APIKey:     util.GetEnv("QDRANT_API_KEY"),
		UseTLS:     util.GetEnvBool("QDRANT_TLS", false),
	}
}
