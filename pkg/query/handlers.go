package query

import (
	"context"
	"math"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"golang.org/x/sync/errgroup"
)

// resolveSeeds runs the seed resolver and turns its failure modes into
// degradations.
func resolveSeeds(ctx context.Context, r *SeedResolver, in RetrievalInput, deg *degradations) []common.Seed {
	tracer := tracerFrom(ctx)
	seeds, err := r.Resolve(ctx, in.TenantID, in.Mentions, in.Embedding)
	if err != nil {
		logger.Warn("[Query] seed resolution failed", "tenant", in.TenantID, "err", err)
		deg.add(DegradeSeedResolutionFailed)
		RecordDegradation(tracer, DegradeSeedResolutionFailed)
		return nil
	}
	if len(seeds) == 0 {
		deg.add(DegradeSeedResolutionEmpty)
		RecordDegradation(tracer, DegradeSeedResolutionEmpty)
	}
	RecordSeeds(tracer, seeds)
	return seeds
}

func traceDegradations(ctx context.Context, res TraceResult, deg *degradations) {
	if res.Truncated {
		deg.add(DegradeTraversalTimeout)
		RecordDegradation(tracerFrom(ctx), DegradeTraversalTimeout)
	}
}

// SimpleLookupHandler answers from the best resolved seeds without any
// traversal.
type SimpleLookupHandler struct {
	resolver *SeedResolver
	topK     int
}

func NewSimpleLookupHandler(resolver *SeedResolver, cfg Config) *SimpleLookupHandler {
	return &SimpleLookupHandler{resolver: resolver, topK: cfg.SimpleLookupTopK}
}

func (h *SimpleLookupHandler) Route() Route { return RouteSimpleLookup }

func (h *SimpleLookupHandler) Retrieve(ctx context.Context, in RetrievalInput) (*Retrieval, error) {
	var deg degradations
	seeds := resolveSeeds(ctx, h.resolver, in, &deg)
	if len(seeds) > h.topK {
		seeds = seeds[:h.topK]
	}
	evidence := make([]common.EvidenceItem, len(seeds))
	for i, s := range seeds {
		evidence[i] = common.EvidenceItem{EntityID: s.EntityID, Score: s.Weight}
	}
	RecordHop(tracerFrom(ctx), 0, seedIDs(seeds))
	return &Retrieval{Evidence: evidence, Seeds: seeds, Degradations: deg}, nil
}

// LocalHandler traverses a single hop around the resolved seeds. Without
// seeds there is no evidence.
type LocalHandler struct {
	resolver *SeedResolver
	engine   *BeamTraversalEngine
	profile  BeamProfile
}

func NewLocalHandler(resolver *SeedResolver, engine *BeamTraversalEngine, cfg Config) *LocalHandler {
	return &LocalHandler{resolver: resolver, engine: engine, profile: cfg.LocalBeam}
}

func (h *LocalHandler) Route() Route { return RouteLocal }

func (h *LocalHandler) Retrieve(ctx context.Context, in RetrievalInput) (*Retrieval, error) {
	var deg degradations
	seeds := resolveSeeds(ctx, h.resolver, in, &deg)
	if len(seeds) == 0 {
		return &Retrieval{Degradations: deg}, nil
	}
	res := h.engine.Trace(ctx, in.TenantID, seeds, in.Embedding, TraceOptions{
		Profile:    h.profile,
		Standalone: true,
		Community:  true,
	})
	traceDegradations(ctx, res, &deg)
	return &Retrieval{
		Evidence:      res.Evidence,
		Seeds:         seeds,
		HopsCompleted: res.HopsCompleted,
		Truncated:     res.Truncated,
		Degradations:  deg,
	}, nil
}

// GlobalHandler searches the whole corpus for chunks and entities at least
// SimilarityFloor close to the query. Without a query embedding it falls
// back to the exact seed layer.
type GlobalHandler struct {
	store    store.GraphStore
	resolver *SeedResolver
	cfg      Config
}

func NewGlobalHandler(gs store.GraphStore, resolver *SeedResolver, cfg Config) *GlobalHandler {
	return &GlobalHandler{store: gs, resolver: resolver, cfg: cfg}
}

func (h *GlobalHandler) Route() Route { return RouteGlobal }

func (h *GlobalHandler) Retrieve(ctx context.Context, in RetrievalInput) (*Retrieval, error) {
	var deg degradations
	if len(in.Embedding) == 0 {
		seeds := resolveSeeds(ctx, h.resolver, in, &deg)
		evidence := make([]common.EvidenceItem, len(seeds))
		for i, s := range seeds {
			evidence[i] = common.EvidenceItem{EntityID: s.EntityID, Score: s.Weight}
		}
		return &Retrieval{Evidence: evidence, Seeds: seeds, Degradations: deg}, nil
	}

	var (
		chunks   []store.ScoredChunk
		entities []store.ScoredID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chunks, err = withStoreRetry(gctx, h.cfg.StoreRetries, func(ctx context.Context) ([]store.ScoredChunk, error) {
			return h.store.SearchChunks(ctx, in.TenantID, in.Embedding, h.cfg.GlobalChunkTopK)
		})
		return err
	})
	if h.cfg.GlobalEntityTopK > 0 {
		g.Go(func() error {
			var err error
			entities, err = withStoreRetry(gctx, h.cfg.StoreRetries, func(ctx context.Context) ([]store.ScoredID, error) {
				return h.store.VectorSearch(ctx, in.TenantID, in.Embedding, h.cfg.GlobalEntityTopK)
			})
			if err != nil {
				logger.Warn("[Global] entity search failed", "tenant", in.TenantID, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, externalCall("global search", err)
	}

	evidence := make([]common.EvidenceItem, 0, len(chunks)+len(entities))
	for _, c := range chunks {
		if c.Score <= 0 || c.Score < h.cfg.SimilarityFloor {
			continue
		}
		evidence = append(evidence, common.EvidenceItem{ChunkID: c.Chunk.ID, Score: c.Score})
	}
	for _, e := range entities {
		if e.Score < h.cfg.SimilarityFloor {
			continue
		}
		evidence = append(evidence, common.EvidenceItem{EntityID: e.ID, Score: math.Max(0, e.Score)})
	}
	return &Retrieval{Evidence: evidence, Degradations: deg}, nil
}

// DriftHandler decomposes the query, consolidates the seeds found by the
// sub-question discovery traces and runs one main trace over them.
type DriftHandler struct {
	decomposer *QueryDecomposer
	resolver   *SeedResolver
	engine     *BeamTraversalEngine
	profile    BeamProfile
}

func NewDriftHandler(decomposer *QueryDecomposer, resolver *SeedResolver, engine *BeamTraversalEngine, cfg Config) *DriftHandler {
	return &DriftHandler{decomposer: decomposer, resolver: resolver, engine: engine, profile: cfg.MainBeam}
}

func (h *DriftHandler) Route() Route { return RouteDrift }

func (h *DriftHandler) Retrieve(ctx context.Context, in RetrievalInput) (*Retrieval, error) {
	var deg degradations

	decomposition := h.decomposer.Run(ctx, in.TenantID, in.Query)
	deg.merge(decomposition.Degradations)

	seeds, err := h.resolver.Resolve(ctx, in.TenantID, in.Mentions, in.Embedding)
	if err != nil {
		logger.Debug("[Drift] top-level seed resolution failed", "tenant", in.TenantID, "err", err)
	}
	seeds = consolidateSeeds(append(seeds, decomposition.Seeds...))
	RecordSeeds(tracerFrom(ctx), seeds)
	if len(seeds) == 0 {
		deg.add(DegradeSeedResolutionEmpty)
		RecordDegradation(tracerFrom(ctx), DegradeSeedResolutionEmpty)
		return &Retrieval{SubQuestions: decomposition.SubQuestions, Degradations: deg}, nil
	}

	res := h.engine.Trace(ctx, in.TenantID, seeds, in.Embedding, TraceOptions{
		Profile:    h.profile,
		Standalone: true,
		Community:  true,
	})
	traceDegradations(ctx, res, &deg)

	return &Retrieval{
		Evidence:      res.Evidence,
		Seeds:         seeds,
		SubQuestions:  decomposition.SubQuestions,
		HopsCompleted: res.HopsCompleted,
		Truncated:     res.Truncated,
		Degradations:  deg,
	}, nil
}

func seedIDs(seeds []common.Seed) []string {
	out := make([]string, len(seeds))
	for i, s := range seeds {
		out[i] = s.EntityID
	}
	return out
}
