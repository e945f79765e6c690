// Package memory implements store.GraphStore over an in-process arena. It
// serves fixture graphs for the CLI and tests and small deployments that
// fit in memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"
)

// Graph is the serialized form of one tenant's graph.
type Graph struct {
	Entities    []common.Entity    `json:"entities"`
	Edges       []common.Edge      `json:"edges"`
	Chunks      []common.Chunk     `json:"chunks"`
	Communities []common.Community `json:"communities,omitempty"`
}

type adjacent struct {
	node   int
	weight float64
}

// arena stores entities in a slice and refers to them by index so the
// adjacency lists hold no pointers.
type arena struct {
	entities    []common.Entity
	index       map[string]int
	names       map[string][]int
	adj         [][]adjacent
	chunks      []common.Chunk
	chunkIndex  map[string]int
	entityChunk map[int][]int
	communities map[string][]int
}

// Store is a tenant-partitioned in-memory graph store. It is safe for
// concurrent use; loaded graphs are never mutated.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*arena
}

func New() *Store {
	return &Store{tenants: map[string]*arena{}}
}

// LoadFile reads a fixture file of the form {"tenant": Graph, ...}.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Store, error) {
	var tenants map[string]Graph
	if err := json.NewDecoder(r).Decode(&tenants); err != nil {
		return nil, fmt.Errorf("decode graph fixture: %w", err)
	}
	s := New()
	for tenant, g := range tenants {
		if err := s.AddTenant(tenant, g); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddTenant builds the arena for tenant from g, replacing any previous
// graph for that tenant. Edges are validated and must reference known
// entities.
func (s *Store) AddTenant(tenant string, g Graph) error {
	a := &arena{
		entities:    make([]common.Entity, len(g.Entities)),
		index:       make(map[string]int, len(g.Entities)),
		names:       map[string][]int{},
		adj:         make([][]adjacent, len(g.Entities)),
		chunkIndex:  make(map[string]int, len(g.Chunks)),
		entityChunk: map[int][]int{},
		communities: map[string][]int{},
	}

	for i, e := range g.Entities {
		if e.ID == "" {
			return fmt.Errorf("tenant %s: entity %d has no id", tenant, i)
		}
		if _, dup := a.index[e.ID]; dup {
			return fmt.Errorf("tenant %s: duplicate entity %s", tenant, e.ID)
		}
		a.entities[i] = e
		a.index[e.ID] = i
		for _, n := range append([]string{e.Name}, e.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(n))
			if key == "" {
				continue
			}
			a.names[key] = append(a.names[key], i)
		}
		if e.CommunityID != nil {
			a.communities[*e.CommunityID] = append(a.communities[*e.CommunityID], i)
		}
	}

	for _, e := range g.Edges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", tenant, err)
		}
		src, ok := a.index[e.SourceID]
		if !ok {
			return fmt.Errorf("tenant %s: edge references unknown entity %s", tenant, e.SourceID)
		}
		dst, ok := a.index[e.TargetID]
		if !ok {
			return fmt.Errorf("tenant %s: edge references unknown entity %s", tenant, e.TargetID)
		}
		a.link(src, dst, e.Weight)
		a.link(dst, src, e.Weight)
	}

	for i := range a.entities {
		if a.entities[i].Degree == 0 {
			a.entities[i].Degree = len(a.adj[i])
		}
	}

	a.chunks = make([]common.Chunk, len(g.Chunks))
	for ci, c := range g.Chunks {
		if _, dup := a.chunkIndex[c.ID]; dup {
			return fmt.Errorf("tenant %s: duplicate chunk %s", tenant, c.ID)
		}
		if c.SourceDocument == "" {
			c.SourceDocument = common.DocumentKey(c.DocTitle)
		}
		a.chunks[ci] = c
		a.chunkIndex[c.ID] = ci
		for _, eid := range c.EntityIDs {
			if ei, ok := a.index[eid]; ok {
				a.entityChunk[ei] = append(a.entityChunk[ei], ci)
			}
		}
	}

	s.mu.Lock()
	s.tenants[tenant] = a
	s.mu.Unlock()
	return nil
}

// link keeps the heaviest weight when the same pair is connected twice.
func (a *arena) link(from, to int, weight float64) {
	for i, n := range a.adj[from] {
		if n.node == to {
			if weight > n.weight {
				a.adj[from][i].weight = weight
			}
			return
		}
	}
	a.adj[from] = append(a.adj[from], adjacent{node: to, weight: weight})
}

func (s *Store) tenant(id string) (*arena, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTenant, id)
	}
	return a, nil
}

func (s *Store) FindExactOrAlias(ctx context.Context, tenant string, names []string) ([]string, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, n := range store.NormalizeNames(names) {
		for _, i := range a.names[n] {
			ids = append(ids, a.entities[i].ID)
		}
	}
	return store.DedupeStrings(ids), nil
}

func (s *Store) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredID, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	hits := make([]store.ScoredID, 0, len(a.entities))
	for _, e := range a.entities {
		if len(e.Embedding) == 0 {
			continue
		}
		hits = append(hits, store.ScoredID{ID: e.ID, Score: store.CosineSimilarity(embedding, e.Embedding)})
	}
	store.SortScoredIDs(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) GetNeighbors(ctx context.Context, tenant string, entityID string) ([]store.Neighbor, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	i, ok := a.index[entityID]
	if !ok {
		return nil, nil
	}
	out := make([]store.Neighbor, len(a.adj[i]))
	for k, n := range a.adj[i] {
		out[k] = store.Neighbor{EntityID: a.entities[n.node].ID, Weight: n.weight}
	}
	return out, nil
}

func (s *Store) GetChunksForEntity(ctx context.Context, tenant string, entityID string, limit int) ([]common.Chunk, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	i, ok := a.index[entityID]
	if !ok || limit <= 0 {
		return nil, nil
	}
	refs := a.entityChunk[i]
	if len(refs) > limit {
		refs = refs[:limit]
	}
	out := make([]common.Chunk, len(refs))
	for k, ci := range refs {
		out[k] = a.chunks[ci]
	}
	return out, nil
}

func (s *Store) GetEntities(ctx context.Context, tenant string, ids []string) ([]common.Entity, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(ids))
	for _, id := range ids {
		if i, ok := a.index[id]; ok {
			out = append(out, a.entities[i])
		}
	}
	return out, nil
}

func (s *Store) GetCommunityPeers(ctx context.Context, tenant string, entityID string, limit int) ([]string, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	i, ok := a.index[entityID]
	if !ok || a.entities[i].CommunityID == nil || limit <= 0 {
		return nil, nil
	}
	members := a.communities[*a.entities[i].CommunityID]
	peers := make([]common.Entity, 0, len(members))
	for _, m := range members {
		if m != i {
			peers = append(peers, a.entities[m])
		}
	}
	sort.SliceStable(peers, func(x, y int) bool {
		if peers[x].Degree != peers[y].Degree {
			return peers[x].Degree > peers[y].Degree
		}
		return peers[x].ID < peers[y].ID
	})
	if len(peers) > limit {
		peers = peers[:limit]
	}
	out := make([]string, len(peers))
	for k, p := range peers {
		out[k] = p.ID
	}
	return out, nil
}

func (s *Store) SearchChunks(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredChunk, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	hits := make([]store.ScoredChunk, 0, len(a.chunks))
	for _, c := range a.chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		hits = append(hits, store.ScoredChunk{Chunk: c, Score: store.CosineSimilarity(embedding, c.Embedding)})
	}
	store.SortScoredChunks(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) GetChunks(ctx context.Context, tenant string, ids []string) ([]common.Chunk, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	out := make([]common.Chunk, 0, len(ids))
	for _, id := range ids {
		if ci, ok := a.chunkIndex[id]; ok {
			out = append(out, a.chunks[ci])
		}
	}
	return out, nil
}

// Tenants lists the loaded tenant ids in sorted order.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for t := range s.tenants {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Entities returns a copy of every entity of tenant, for exporting into an
// external vector index.
func (s *Store) Entities(tenant string) ([]common.Entity, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	return append([]common.Entity(nil), a.entities...), nil
}

// ListEntityIDs returns the ids of tenant's entities that carry an
// embedding.
func (s *Store) ListEntityIDs(ctx context.Context, tenant string) ([]string, error) {
	a, err := s.tenant(tenant)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range a.entities {
		if len(e.Embedding) > 0 {
			out = append(out, e.ID)
		}
	}
	return out, nil
}
