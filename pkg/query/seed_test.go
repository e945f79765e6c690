package query

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedResolverExactMatchShortCircuits(t *testing.T) {
	gs := newCountingStore(newTestStore(t))
	r := NewSeedResolver(gs, testConfig())

	seeds, err := r.Resolve(context.Background(), "acme", []string{"invoice"}, invoiceVec)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, common.Seed{EntityID: "invoice", Weight: 1, Layer: common.SeedLayerExact}, seeds[0])
	assert.Zero(t, gs.count("VectorSearch"))
}

func TestSeedResolverDeduplicatesByEntity(t *testing.T) {
	r := NewSeedResolver(newTestStore(t), testConfig())

	seeds, err := r.Resolve(context.Background(), "acme", []string{"Acme", "Acme Corp", " acme corp "}, nil)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "acme", seeds[0].EntityID)
}

func TestSeedResolverVectorFallback(t *testing.T) {
	gs := newCountingStore(newTestStore(t))
	r := NewSeedResolver(gs, testConfig())

	// "Acme Crop" is a typo that matches no name or alias.
	query := vec(0, 0.95, 0, 0.1)
	seeds, err := r.Resolve(context.Background(), "acme", []string{"Acme Crop"}, query)
	require.NoError(t, err)
	assert.Equal(t, 1, gs.count("FindExactOrAlias"))
	assert.Equal(t, 1, gs.count("VectorSearch"))

	require.NotEmpty(t, seeds)
	assert.Equal(t, "acme", seeds[0].EntityID)
	assert.Equal(t, common.SeedLayerVector, seeds[0].Layer)
	for _, s := range seeds {
		assert.GreaterOrEqual(t, s.Weight, testConfig().SimilarityFloor)
	}
}

func TestSeedResolverSingleVectorSeedAboveFloor(t *testing.T) {
	cfg := testConfig()
	cfg.SimilarityFloor = 0.9
	r := NewSeedResolver(newTestStore(t), cfg)

	seeds, err := r.Resolve(context.Background(), "acme", []string{"Acme Crop"}, vec(0, 0.95, 0, 0.1))
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "acme", seeds[0].EntityID)
	assert.Less(t, seeds[0].Weight, 1.0)
}

func TestSeedResolverNoMatchIsEmpty(t *testing.T) {
	r := NewSeedResolver(newTestStore(t), testConfig())

	seeds, err := r.Resolve(context.Background(), "acme", []string{"Zorblax"}, nil)
	require.NoError(t, err)
	assert.Empty(t, seeds)

	seeds, err = r.Resolve(context.Background(), "acme", nil, vec(-1, -1, -1, -1))
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestSeedResolverExactFailureFallsThrough(t *testing.T) {
	gs := newCountingStore(newTestStore(t))
	gs.fail["FindExactOrAlias"] = errors.New("connection reset")
	r := NewSeedResolver(gs, testConfig())

	seeds, err := r.Resolve(context.Background(), "acme", []string{"Globex Inc"}, globexVec)
	require.NoError(t, err)
	require.NotEmpty(t, seeds)
	assert.Equal(t, "globex", seeds[0].EntityID)

	gs.fail["VectorSearch"] = errors.New("index offline")
	_, err = r.Resolve(context.Background(), "acme", []string{"Globex Inc"}, globexVec)
	assert.ErrorIs(t, err, ErrExternalCall)
}

func TestSeedResolverTenantIsolation(t *testing.T) {
	r := NewSeedResolver(newTestStore(t), testConfig())

	seeds, err := r.Resolve(context.Background(), "other", []string{"Acme Corp"}, nil)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "other-acme", seeds[0].EntityID)

	seeds, err = r.Resolve(context.Background(), "other", []string{"Globex Inc"}, nil)
	require.NoError(t, err)
	assert.Empty(t, seeds)
}
