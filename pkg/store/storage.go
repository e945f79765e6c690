package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
)

// ErrUnknownTenant is returned by backends that keep an explicit tenant
// registry when asked for a tenant they do not hold.
var ErrUnknownTenant = errors.New("unknown tenant")

// ScoredID is an entity id with its similarity to a query vector.
type ScoredID struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Neighbor is an entity adjacent to another one and the weight of the
// connecting edge.
type Neighbor struct {
	EntityID string  `json:"entity_id"`
	Weight   float64 `json:"weight"`
}

// ScoredChunk is a chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk common.Chunk `json:"chunk"`
	Score float64      `json:"score"`
}

// GraphStore is the read-only view of a tenant's knowledge graph used by
// the query path. Every method is scoped to a single tenant and must never
// return data that belongs to another tenant.
//
// Similarity scores are cosine similarities in [-1, 1]; results of
// VectorSearch and SearchChunks are ordered by descending score.
type GraphStore interface {
	// FindExactOrAlias returns the ids of entities whose name or one of
	// whose aliases equals one of names, compared case-insensitively.
	FindExactOrAlias(ctx context.Context, tenant string, names []string) ([]string, error)
	VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]ScoredID, error)
	GetNeighbors(ctx context.Context, tenant string, entityID string) ([]Neighbor, error)
	GetChunksForEntity(ctx context.Context, tenant string, entityID string, limit int) ([]common.Chunk, error)
	GetEntities(ctx context.Context, tenant string, ids []string) ([]common.Entity, error)
	// GetCommunityPeers returns up to limit members of entityID's community
	// ordered by degree, excluding entityID itself. Entities without a
	// community have no peers.
	GetCommunityPeers(ctx context.Context, tenant string, entityID string, limit int) ([]string, error)
	SearchChunks(ctx context.Context, tenant string, embedding []float32, topK int) ([]ScoredChunk, error)
	GetChunks(ctx context.Context, tenant string, ids []string) ([]common.Chunk, error)
}

// VectorIndex is an external approximate nearest neighbour index over
// entity embeddings.
type VectorIndex interface {
	VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]ScoredID, error)
}

type indexedStore struct {
	GraphStore
	index VectorIndex
}

func (s *indexedStore) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]ScoredID, error) {
	return s.index.VectorSearch(ctx, tenant, embedding, topK)
}

// WithVectorIndex returns a GraphStore that answers entity similarity
// search from index and everything else from gs.
func WithVectorIndex(gs GraphStore, index VectorIndex) GraphStore {
	if index == nil {
		return gs
	}
	return &indexedStore{GraphStore: gs, index: index}
}
