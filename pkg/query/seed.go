package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"
)

// withStoreRetry retries a graph store call with a short backoff.
func withStoreRetry[T any](ctx context.Context, retries int, fn func(context.Context) (T, error)) (T, error) {
	b := util.Backoff{
		MaxAttempts:  retries + 1,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2,
		Jitter:       true,
	}
	return util.RetryWithBackoff(ctx, b, fn)
}

// SeedResolver maps entity mentions to graph entities in two layers: exact
// name or alias match first, vector similarity only when that finds nothing.
type SeedResolver struct {
	store store.GraphStore
	cfg   Config
}

func NewSeedResolver(gs store.GraphStore, cfg Config) *SeedResolver {
	return &SeedResolver{store: gs, cfg: cfg}
}

// Resolve returns seeds ordered by descending weight, deduplicated by entity
// id. No match is an empty result, not an error. An error is returned only
// when every layer that ran failed.
func (r *SeedResolver) Resolve(ctx context.Context, tenant string, mentions []string, embedding []float32) ([]common.Seed, error) {
	names := cleanMentions(mentions)

	var exactErr error
	if len(names) > 0 {
		ids, err := withStoreRetry(ctx, r.cfg.StoreRetries, func(ctx context.Context) ([]string, error) {
			return r.store.FindExactOrAlias(ctx, tenant, names)
		})
		if err != nil {
			logger.Warn("[Seeds] exact lookup failed, falling back to vector search", "tenant", tenant, "err", err)
			exactErr = err
		} else if len(ids) > 0 {
			seeds := make([]common.Seed, 0, len(ids))
			for _, id := range store.DedupeStrings(ids) {
				seeds = append(seeds, common.Seed{EntityID: id, Weight: 1.0, Layer: common.SeedLayerExact})
			}
			sortSeeds(seeds)
			return seeds, nil
		}
	}

	if len(embedding) == 0 {
		if exactErr != nil {
			return nil, externalCall("resolve seeds", exactErr)
		}
		return nil, nil
	}

	hits, err := withStoreRetry(ctx, r.cfg.StoreRetries, func(ctx context.Context) ([]store.ScoredID, error) {
		return r.store.VectorSearch(ctx, tenant, embedding, r.cfg.SeedTopK)
	})
	if err != nil {
		return nil, externalCall("resolve seeds", errors.Join(exactErr, err))
	}

	seen := make(map[string]struct{}, len(hits))
	seeds := make([]common.Seed, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.cfg.SimilarityFloor {
			continue
		}
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		seeds = append(seeds, common.Seed{EntityID: h.ID, Weight: h.Score, Layer: common.SeedLayerVector})
	}
	sortSeeds(seeds)
	return seeds, nil
}

func cleanMentions(mentions []string) []string {
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		m = strings.TrimSpace(m)
		if m != "" {
			out = append(out, m)
		}
	}
	return store.DedupeStrings(out)
}

func sortSeeds(seeds []common.Seed) {
	sort.SliceStable(seeds, func(i, j int) bool {
		if seeds[i].Weight != seeds[j].Weight {
			return seeds[i].Weight > seeds[j].Weight
		}
		return seeds[i].EntityID < seeds[j].EntityID
	})
}
