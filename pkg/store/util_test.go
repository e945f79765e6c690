package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"Identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"Orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"Opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"LengthMismatch", []float32{1, 0}, []float32{1}, 0},
		{"ZeroVector", []float32{0, 0}, []float32{1, 0}, 0},
		{"Empty", nil, nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("CosineSimilarity() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalizeNames(t *testing.T) {
	assert.Equal(t, []string{"acme corp", "globex"}, NormalizeNames([]string{" Acme Corp", "ACME CORP ", "", "Globex"}))
}

func TestChunkRange(t *testing.T) {
	var spans [][2]int
	err := ChunkRange(5, 2, func(start, end int) error {
		spans = append(spans, [2]int{start, end})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, spans)
}

func TestSortScoredIDs_TieBreakByID(t *testing.T) {
	ids := []ScoredID{{ID: "b", Score: 0.5}, {ID: "c", Score: 0.9}, {ID: "a", Score: 0.5}}
	SortScoredIDs(ids)
	assert.Equal(t, []ScoredID{{ID: "c", Score: 0.9}, {ID: "a", Score: 0.5}, {ID: "b", Score: 0.5}}, ids)
}

type fixedIndex struct{ hits []ScoredID }

func (f fixedIndex) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]ScoredID, error) {
	return f.hits, nil
}

func TestWithVectorIndex(t *testing.T) {
	var base GraphStore
	assert.Nil(t, WithVectorIndex(base, nil))

	wrapped := WithVectorIndex(base, fixedIndex{hits: []ScoredID{{ID: "e1", Score: 0.8}}})
	hits, err := wrapped.VectorSearch(context.Background(), "t", nil, 5)
	require.NoError(t, err)
	assert.Equal(t, "e1", hits[0].ID)
}
