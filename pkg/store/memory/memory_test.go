package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.AddTenant("alpha", Graph{
		Entities: []common.Entity{
			{ID: "acme", Name: "Acme Corp", Aliases: []string{"ACME"}, Embedding: []float32{1, 0}, CommunityID: strPtr("c1")},
			{ID: "globex", Name: "Globex Inc", Embedding: []float32{0, 1}, CommunityID: strPtr("c1")},
			{ID: "initech", Name: "Initech", Embedding: []float32{0.7, 0.7}, CommunityID: strPtr("c1")},
			{ID: "loner", Name: "Loner"},
		},
		Edges: []common.Edge{
			{SourceID: "acme", TargetID: "globex", Weight: 0.4},
			{SourceID: "globex", TargetID: "acme", Weight: 0.9},
			{SourceID: "acme", TargetID: "initech", Weight: 1},
			{SourceID: "globex", TargetID: "initech", Weight: 1},
		},
		Chunks: []common.Chunk{
			{ID: "k1", Text: "Acme signed.", DocTitle: "MSA - Section 1", EntityIDs: []string{"acme"}, Embedding: []float32{1, 0}},
			{ID: "k2", Text: "Acme and Globex.", DocTitle: "MSA - Section 2", EntityIDs: []string{"acme", "globex"}, Embedding: []float32{0.5, 0.5}},
			{ID: "k3", Text: "Globex paid.", DocTitle: "Invoice 7", EntityIDs: []string{"globex"}},
		},
	}))
	require.NoError(t, s.AddTenant("beta", Graph{
		Entities: []common.Entity{
			{ID: "acme-beta", Name: "Acme Corp", Embedding: []float32{1, 0}},
		},
		Chunks: []common.Chunk{
			{ID: "b1", Text: "Other tenant.", DocTitle: "Secret", EntityIDs: []string{"acme-beta"}, Embedding: []float32{1, 0}},
		},
	}))
	return s
}

func TestFindExactOrAlias(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ids, err := s.FindExactOrAlias(ctx, "alpha", []string{" acme ", "GLOBEX INC", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, ids)

	ids, err = s.FindExactOrAlias(ctx, "alpha", []string{"Acme Corp", "acme"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, ids)
}

func TestTenantIsolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ids, err := s.FindExactOrAlias(ctx, "beta", []string{"Acme Corp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-beta"}, ids)

	hits, err := s.VectorSearch(ctx, "beta", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "acme-beta", hits[0].ID)

	chunks, err := s.SearchChunks(ctx, "alpha", []float32{1, 0}, 10)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, "b1", c.Chunk.ID)
	}

	got, err := s.GetChunks(ctx, "alpha", []string{"b1", "k1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "k1", got[0].ID)

	ents, err := s.GetEntities(ctx, "beta", []string{"acme"})
	require.NoError(t, err)
	assert.Empty(t, ents)

	_, err = s.GetNeighbors(ctx, "gamma", "acme")
	assert.True(t, errors.Is(err, store.ErrUnknownTenant))
}

func TestGetNeighbors_UndirectedMaxWeight(t *testing.T) {
	s := testStore(t)

	n, err := s.GetNeighbors(context.Background(), "alpha", "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.Neighbor{{EntityID: "globex", Weight: 0.9}, {EntityID: "initech", Weight: 1}}, n)

	n, err = s.GetNeighbors(context.Background(), "alpha", "initech")
	require.NoError(t, err)
	assert.Len(t, n, 2)
}

func TestVectorSearch_OrderedAndLimited(t *testing.T) {
	s := testStore(t)

	hits, err := s.VectorSearch(context.Background(), "alpha", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "acme", hits[0].ID)
	assert.Equal(t, "initech", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestGetChunksForEntity(t *testing.T) {
	s := testStore(t)

	chunks, err := s.GetChunksForEntity(context.Background(), "alpha", "acme", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "k1", chunks[0].ID)
	assert.Equal(t, "MSA", chunks[0].SourceDocument)

	chunks, err = s.GetChunksForEntity(context.Background(), "alpha", "globex", 10)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestGetCommunityPeers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	peers, err := s.GetCommunityPeers(ctx, "alpha", "initech", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, peers)

	peers, err = s.GetCommunityPeers(ctx, "alpha", "loner", 5)
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestAddTenant_RejectsInvalidEdges(t *testing.T) {
	s := New()
	err := s.AddTenant("t", Graph{
		Entities: []common.Entity{{ID: "a"}},
		Edges:    []common.Edge{{SourceID: "a", TargetID: "a", Weight: 1}},
	})
	assert.True(t, errors.Is(err, common.ErrSelfLoop))

	err = s.AddTenant("t", Graph{
		Entities: []common.Entity{{ID: "a"}},
		Edges:    []common.Edge{{SourceID: "a", TargetID: "b", Weight: 1}},
	})
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	fixture := `{
		"t1": {
			"entities": [{"id": "e1", "name": "Invoice 17"}],
			"chunks": [{"id": "c1", "text": "Total 40", "doc_title": "Invoice 17 (Exhibit A)", "entity_ids": ["e1"]}]
		}
	}`
	s, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, s.Tenants())

	ents, err := s.Entities("t1")
	require.NoError(t, err)
	assert.Len(t, ents, 1)
}

func TestListEntityIDs_SkipsUnembedded(t *testing.T) {
	s := testStore(t)

	ids, err := s.ListEntityIDs(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex", "initech"}, ids)

	_, err = s.ListEntityIDs(context.Background(), "gamma")
	assert.True(t, errors.Is(err, store.ErrUnknownTenant))
}
