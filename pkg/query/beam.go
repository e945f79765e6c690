package query

import (
	"context"
	"math"
	"sort"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"golang.org/x/sync/errgroup"
)

const entityBatchSize = 500

// TraceOptions selects the beam profile of a trace and which hop-0
// augmentations run.
type TraceOptions struct {
	Profile    BeamProfile
	Standalone bool
	Community  bool
}

// TraceResult holds every entity admitted to a frontier. Truncated is set
// when the time budget ran out; Evidence then reflects the last completed
// hop.
type TraceResult struct {
	Evidence      []common.EvidenceItem
	HopsCompleted int
	Truncated     bool
}

// BeamTraversalEngine expands seeds across the graph, re-scoring every
// candidate against the query embedding at each hop and keeping only the
// best BeamWidth unexpanded candidates.
type BeamTraversalEngine struct {
	store store.GraphStore
	cfg   Config
}

func NewBeamTraversalEngine(gs store.GraphStore, cfg Config) *BeamTraversalEngine {
	return &BeamTraversalEngine{store: gs, cfg: cfg}
}

type admission struct {
	score float64
	hop   int
}

type scoredEntity struct {
	id    string
	score float64
}

// traversal is the per-call frontier state. It is never shared between
// calls.
type traversal struct {
	engine     *BeamTraversalEngine
	tenant     string
	query      []float32
	admitted   map[string]*admission
	embeddings map[string][]float32
}

// Trace never fails: store errors degrade the affected expansion and a
// timeout keeps the evidence of the last completed hop.
func (e *BeamTraversalEngine) Trace(ctx context.Context, tenant string, seeds []common.Seed, embedding []float32, opts TraceOptions) TraceResult {
	tracer := tracerFrom(ctx)
	if e.cfg.TraceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TraceTimeout)
		defer cancel()
	}

	t := &traversal{
		engine:     e,
		tenant:     tenant,
		query:      embedding,
		admitted:   make(map[string]*admission),
		embeddings: make(map[string][]float32),
	}

	for _, s := range seeds {
		t.admit(s.EntityID, math.Max(0, s.Weight), 0)
	}
	if opts.Standalone {
		t.standalone(ctx)
	}
	if opts.Community && e.cfg.CommunityAugmentation && e.cfg.CommunityPeers > 0 {
		t.communityPeers(ctx, seeds)
	}

	frontier := make([]scoredEntity, 0, len(t.admitted))
	for id, a := range t.admitted {
		frontier = append(frontier, scoredEntity{id: id, score: a.score})
	}
	sortScored(frontier)
	RecordHop(tracer, 0, entityIDs(frontier))

	var result TraceResult
	for hop := 1; hop <= opts.Profile.MaxHops && len(frontier) > 0; hop++ {
		candidates, err := t.expand(ctx, frontier)
		if err != nil {
			logger.Warn("[Beam] trace truncated", "tenant", tenant, "hop", hop, "err", err)
			result.Truncated = true
			break
		}

		next := make([]scoredEntity, 0, len(candidates))
		for id, score := range candidates {
			if a, ok := t.admitted[id]; ok {
				a.score = math.Max(a.score, score)
				continue
			}
			next = append(next, scoredEntity{id: id, score: score})
		}
		sortScored(next)
		if len(next) > opts.Profile.BeamWidth {
			next = next[:opts.Profile.BeamWidth]
		}
		for _, c := range next {
			t.admit(c.id, c.score, hop)
		}

		frontier = next
		result.HopsCompleted = hop
		RecordHop(tracer, hop, entityIDs(frontier))
	}

	result.Evidence = t.evidence()
	return result
}

// admit records an entity at the hop where it was first reached and keeps
// the best score seen for it.
func (t *traversal) admit(id string, score float64, hop int) {
	if id == "" {
		return
	}
	if a, ok := t.admitted[id]; ok {
		a.score = math.Max(a.score, score)
		return
	}
	t.admitted[id] = &admission{score: score, hop: hop}
}

// standalone adds entities close to the query regardless of their graph
// connectivity, at a discount. Hits below SimilarityFloor are ignored, the
// same floor the seed resolver applies.
func (t *traversal) standalone(ctx context.Context) {
	cfg := t.engine.cfg
	if len(t.query) == 0 || cfg.StandaloneTopK <= 0 {
		return
	}
	hits, err := withStoreRetry(ctx, cfg.StoreRetries, func(ctx context.Context) ([]store.ScoredID, error) {
		return t.engine.store.VectorSearch(ctx, t.tenant, t.query, cfg.StandaloneTopK)
	})
	if err != nil {
		logger.Warn("[Beam] standalone lookup failed", "tenant", t.tenant, "err", err)
		return
	}
	for _, h := range hits {
		if h.Score <= 0 || h.Score < cfg.SimilarityFloor {
			continue
		}
		t.admit(h.ID, h.Score*cfg.StandaloneDiscount, 0)
	}
}

func (t *traversal) communityPeers(ctx context.Context, seeds []common.Seed) {
	cfg := t.engine.cfg
	peers := make([][]string, len(seeds))

	g := new(errgroup.Group)
	g.SetLimit(cfg.Parallelism)
	for i, s := range seeds {
		g.Go(func() error {
			ids, err := t.engine.store.GetCommunityPeers(ctx, t.tenant, s.EntityID, cfg.CommunityPeers)
			if err != nil {
				logger.Debug("[Beam] community lookup failed", "entity", s.EntityID, "err", err)
				return nil
			}
			peers[i] = ids
			return nil
		})
	}
	_ = g.Wait()

	for _, ids := range peers {
		for _, id := range ids {
			t.admit(id, cfg.CommunityWeight, 0)
		}
	}
}

// expand scores the neighbors of every frontier entity. Paths reaching the
// same candidate are merged by max. A context error discards the hop.
func (t *traversal) expand(ctx context.Context, frontier []scoredEntity) (map[string]float64, error) {
	cfg := t.engine.cfg
	neighbors := make([][]store.Neighbor, len(frontier))

	g := new(errgroup.Group)
	g.SetLimit(cfg.Parallelism)
	for i, f := range frontier {
		g.Go(func() error {
			nbrs, err := withStoreRetry(ctx, cfg.StoreRetries, func(ctx context.Context) ([]store.Neighbor, error) {
				return t.engine.store.GetNeighbors(ctx, t.tenant, f.id)
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("[Beam] neighbor expansion failed", "entity", f.id, "err", err)
				return nil
			}
			neighbors[i] = nbrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(t.query) > 0 {
		if err := t.loadEmbeddings(ctx, neighbors); err != nil {
			return nil, err
		}
	}

	scores := make(map[string]float64)
	for i, f := range frontier {
		parent := t.admitted[f.id].score
		for _, n := range neighbors[i] {
			if n.EntityID == "" || n.EntityID == f.id {
				continue
			}
			s := t.score(n.EntityID, parent, n.Weight)
			if cur, ok := scores[n.EntityID]; !ok || s > cur {
				scores[n.EntityID] = s
			}
		}
	}
	return scores, nil
}

// loadEmbeddings fetches the embeddings of candidates not seen before.
// Failures other than a context error leave those candidates on the
// structural fallback score.
func (t *traversal) loadEmbeddings(ctx context.Context, neighbors [][]store.Neighbor) error {
	var missing []string
	for _, nbrs := range neighbors {
		for _, n := range nbrs {
			if _, ok := t.embeddings[n.EntityID]; !ok {
				missing = append(missing, n.EntityID)
				t.embeddings[n.EntityID] = nil
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	cfg := t.engine.cfg
	err := store.ChunkRange(len(missing), entityBatchSize, func(start, end int) error {
		entities, err := withStoreRetry(ctx, cfg.StoreRetries, func(ctx context.Context) ([]common.Entity, error) {
			return t.engine.store.GetEntities(ctx, t.tenant, missing[start:end])
		})
		if err != nil {
			return err
		}
		for _, e := range entities {
			t.embeddings[e.ID] = e.Embedding
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[Beam] loading candidate embeddings failed", "tenant", t.tenant, "err", err)
	}
	return nil
}

// score is the cosine similarity to the query, floored at zero. Without a
// query or candidate embedding the parent's score decays along the edge.
func (t *traversal) score(id string, parent, weight float64) float64 {
	if len(t.query) > 0 {
		if emb := t.embeddings[id]; len(emb) > 0 {
			return math.Max(0, store.CosineSimilarity(t.query, emb))
		}
	}
	return parent * t.engine.cfg.FallbackDecay * math.Min(1, math.Max(0, weight))
}

func (t *traversal) evidence() []common.EvidenceItem {
	out := make([]common.EvidenceItem, 0, len(t.admitted))
	for id, a := range t.admitted {
		out = append(out, common.EvidenceItem{EntityID: id, Score: a.score, HopDistance: a.hop})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].HopDistance != out[j].HopDistance {
			return out[i].HopDistance < out[j].HopDistance
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func sortScored(s []scoredEntity) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].score != s[j].score {
			return s[i].score > s[j].score
		}
		return s[i].id < s[j].id
	})
}

func entityIDs(s []scoredEntity) []string {
	out := make([]string, len(s))
	for i, e := range s {
		out[i] = e.id
	}
	return out
}
