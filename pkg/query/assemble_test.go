package query

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// overlapStore holds 22 chunks referenced 50 times by three entities:
// e1 mentions c00-c19, e2 c07-c21 and e3 c00-c14.
func overlapStore(t *testing.T) *memory.Store {
	t.Helper()
	g := memory.Graph{
		Entities: []common.Entity{{ID: "e1", Name: "One"}, {ID: "e2", Name: "Two"}, {ID: "e3", Name: "Three"}},
	}
	for i := range 22 {
		var ids []string
		if i < 20 {
			ids = append(ids, "e1")
		}
		if i >= 7 {
			ids = append(ids, "e2")
		}
		if i < 15 {
			ids = append(ids, "e3")
		}
		g.Chunks = append(g.Chunks, common.Chunk{
			ID:        fmt.Sprintf("c%02d", i),
			Text:      fmt.Sprintf("chunk number %d", i),
			DocTitle:  "Report",
			EntityIDs: ids,
		})
	}
	s := memory.New()
	require.NoError(t, s.AddTenant("t", g))
	return s
}

func TestAssembleDeduplicatesChunks(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkFloor = 2
	cfg.ChunkMax = 20
	a := NewContextAssembler(overlapStore(t), cfg, wordCounter{})

	evidence := []common.EvidenceItem{
		{EntityID: "e1", Score: 1},
		{EntityID: "e2", Score: 1},
		{EntityID: "e3", Score: 1},
	}
	ctx, err := a.Assemble(context.Background(), "t", evidence, 10_000)
	require.NoError(t, err)

	require.Len(t, ctx.Entries, 22)
	seen := map[string]bool{}
	for i, e := range ctx.Entries {
		assert.Equal(t, i+1, e.Index)
		assert.False(t, seen[e.Chunk.ID], "duplicate chunk %s", e.Chunk.ID)
		seen[e.Chunk.ID] = true
	}
	assert.False(t, ctx.Truncated)
	assert.Equal(t, 22*3, ctx.TokenCount)
}

func TestChunkCapIsProportional(t *testing.T) {
	assert.Equal(t, 8, ChunkCap(1, 1, 2, 8))
	assert.Equal(t, 5, ChunkCap(0.5, 1, 2, 8))
	assert.Equal(t, 2, ChunkCap(0.1, 1, 2, 8))
	assert.Equal(t, 2, ChunkCap(0, 1, 2, 8))
	assert.Equal(t, 2, ChunkCap(0.7, 0, 2, 8))

	scores := []float64{0.05, 0.2, 0.33, 0.5, 0.51, 0.8, 0.99, 1}
	for i := range scores {
		for j := range scores {
			if scores[i] > scores[j] {
				assert.GreaterOrEqual(t, ChunkCap(scores[i], 1, 2, 8), ChunkCap(scores[j], 1, 2, 8))
			}
		}
	}
}

func TestAssembleAllocatesByScore(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkFloor = 1
	cfg.ChunkMax = 5
	gs := newCountingStore(overlapStore(t))
	a := NewContextAssembler(gs, cfg, wordCounter{})

	ctx, err := a.Assemble(context.Background(), "t", []common.EvidenceItem{
		{EntityID: "e2", Score: 1},
		{EntityID: "e1", Score: 0.5},
	}, 10_000)
	require.NoError(t, err)

	// e2 may contribute 5 chunks (c07-c11), e1 only 3 (c00-c02)
	var ids []string
	for _, e := range ctx.Entries {
		ids = append(ids, e.Chunk.ID)
	}
	assert.Equal(t, []string{"c07", "c08", "c09", "c10", "c11", "c00", "c01", "c02"}, ids)
	assert.Equal(t, 2, gs.count("GetChunksForEntity"))
}

func TestAssembleBudget(t *testing.T) {
	ten := "one two three four five six seven eight nine ten"
	g := memory.Graph{
		Entities: []common.Entity{{ID: "e", Name: "E"}},
		Chunks: []common.Chunk{
			{ID: "a", Text: ten, EntityIDs: []string{"e"}},
			{ID: "b", Text: ten, EntityIDs: []string{"e"}},
			{ID: "c", Text: ten, EntityIDs: []string{"e"}},
		},
	}
	s := memory.New()
	require.NoError(t, s.AddTenant("t", g))
	evidence := []common.EvidenceItem{{EntityID: "e", Score: 1}}

	t.Run("overflowing chunk is truncated", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinTruncatedTokens = 3
		a := NewContextAssembler(s, cfg, wordCounter{})

		ctx, err := a.Assemble(context.Background(), "t", evidence, 25)
		require.NoError(t, err)
		require.Len(t, ctx.Entries, 3)
		assert.True(t, ctx.Truncated)
		assert.Equal(t, 25, ctx.TokenCount)
		assert.True(t, ctx.Entries[2].Truncated)
		assert.Equal(t, "one two three four five", ctx.Entries[2].Chunk.Text)
	})

	t.Run("small remainder is dropped", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinTruncatedTokens = 6
		a := NewContextAssembler(s, cfg, wordCounter{})

		ctx, err := a.Assemble(context.Background(), "t", evidence, 25)
		require.NoError(t, err)
		require.Len(t, ctx.Entries, 2)
		assert.True(t, ctx.Truncated)
		assert.Equal(t, 20, ctx.TokenCount)
	})

	t.Run("budget is never exceeded", func(t *testing.T) {
		a := NewContextAssembler(s, testConfig(), wordCounter{})
		for budget := 1; budget <= 35; budget++ {
			ctx, err := a.Assemble(context.Background(), "t", evidence, budget)
			require.NoError(t, err)
			assert.LessOrEqual(t, ctx.TokenCount, budget)
		}
	})
}

func TestAssembleDirectChunkEvidence(t *testing.T) {
	a := NewContextAssembler(newTestStore(t), testConfig(), wordCounter{})

	ctx, err := a.Assemble(context.Background(), "acme", []common.EvidenceItem{
		{EntityID: "acme", Score: 0.4},
		{ChunkID: "c-merger", Score: 0.9},
		{ChunkID: "c-merger", Score: 0.2},
		{ChunkID: "c-unknown", Score: 1},
	}, 10_000)
	require.NoError(t, err)

	require.NotEmpty(t, ctx.Entries)
	assert.Equal(t, "c-merger", ctx.Entries[0].Chunk.ID)
	assert.InDelta(t, 0.9, ctx.Entries[0].Score, 1e-9)
	count := 0
	for _, e := range ctx.Entries {
		if e.Chunk.ID == "c-merger" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAssembleEmptyEvidence(t *testing.T) {
	a := NewContextAssembler(newTestStore(t), testConfig(), wordCounter{})
	ctx, err := a.Assemble(context.Background(), "acme", nil, 100)
	require.NoError(t, err)
	assert.True(t, ctx.IsEmpty())
	assert.Equal(t, 100, ctx.Budget)
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 2, c.Count("abcdefgh"))
	assert.Equal(t, 3, c.Count("abcdefghi"))
	assert.Equal(t, "abcd", c.Truncate("abcdefgh", 1))

	// never splits a multi-byte rune
	out := c.Truncate("abcä", 1)
	assert.Equal(t, "abc", out)
	assert.True(t, strings.HasPrefix("abcä", out))
}
