package qdrant

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	exists  bool
	created []*qdrant.CreateCollection
	upserts []*qdrant.UpsertPoints
	queries []*qdrant.QueryPoints
	points  []*qdrant.ScoredPoint
}

func (f *fakeClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.exists, nil
}

func (f *fakeClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	return nil
}

func (f *fakeClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	return f.points, nil
}

func scored(tenant, id string, score float32) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{
		Score: score,
		Payload: qdrant.NewValueMap(map[string]any{
			tenantKey: tenant,
			entityKey: id,
		}),
	}
}

func TestEnsureCollection(t *testing.T) {
	fc := &fakeClient{}
	idx := &EntityIndex{client: fc, collection: "entities", vectorSize: 3}
	require.NoError(t, idx.ensureCollection(context.Background()))
	assert.Len(t, fc.created, 1)

	idx = &EntityIndex{client: &fakeClient{}, collection: "entities"}
	require.Error(t, idx.ensureCollection(context.Background()))
}

func TestVectorSearch_FiltersTenant(t *testing.T) {
	fc := &fakeClient{points: []*qdrant.ScoredPoint{
		scored("t1", "b", 0.7),
		scored("t2", "leak", 0.99),
		scored("t1", "a", 0.9),
	}}
	idx := &EntityIndex{client: fc, collection: "entities"}

	hits, err := idx.VectorSearch(context.Background(), "t1", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-6)
	assert.Equal(t, "b", hits[1].ID)

	require.Len(t, fc.queries, 1)
	require.NotNil(t, fc.queries[0].Filter)
	assert.Len(t, fc.queries[0].Filter.Must, 1)
	assert.Equal(t, uint64(5), *fc.queries[0].Limit)
}

func TestIndexEntities_SkipsMissingEmbeddings(t *testing.T) {
	fc := &fakeClient{}
	idx := &EntityIndex{client: fc, collection: "entities"}

	n, err := idx.IndexEntities(context.Background(), "t1", []common.Entity{
		{ID: "a", Name: "Acme", Embedding: []float32{1, 0}},
		{ID: "b", Name: "Globex"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, fc.upserts, 1)
	assert.Len(t, fc.upserts[0].Points, 1)
}

func TestPointIDStable(t *testing.T) {
	assert.Equal(t, pointID("t1", "a"), pointID("t1", "a"))
	assert.NotEqual(t, pointID("t1", "a"), pointID("t2", "a"))
}
