package query

import (
	"context"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"
)

// TokenCounter measures and cuts text in model tokens.
type TokenCounter interface {
	Count(text string) int
	// Truncate returns the longest prefix of text within maxTokens.
	Truncate(text string, maxTokens int) string
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

func (c tiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.enc.Decode(tokens[:maxTokens])
}

// HeuristicCounter approximates tokens as four bytes of text each.
type HeuristicCounter struct{}

const bytesPerToken = 4

func (HeuristicCounter) Count(text string) int {
	return (len(text) + bytesPerToken - 1) / bytesPerToken
}

func (HeuristicCounter) Truncate(text string, maxTokens int) string {
	limit := maxTokens * bytesPerToken
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// NewTokenCounter loads the named tiktoken encoding and falls back to the
// heuristic counter when it is unavailable.
func NewTokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("[Assemble] tokenizer unavailable, estimating tokens", "encoding", encoding, "err", err)
		return HeuristicCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// ContextAssembler turns evidence into a deduplicated, budgeted and
// citation-numbered context.
type ContextAssembler struct {
	store   store.GraphStore
	cfg     Config
	counter TokenCounter
}

func NewContextAssembler(gs store.GraphStore, cfg Config, counter TokenCounter) *ContextAssembler {
	if counter == nil {
		counter = NewTokenCounter(cfg.Encoding)
	}
	return &ContextAssembler{store: gs, cfg: cfg, counter: counter}
}

// ChunkCap is the number of chunks an entity may contribute. It grows
// linearly with the entity's share of the top score, from floor to ceiling.
func ChunkCap(score, maxScore float64, floor, ceiling int) int {
	if maxScore <= 0 || score <= 0 {
		return floor
	}
	share := math.Min(1, score/maxScore)
	return floor + int(math.Floor(float64(ceiling-floor)*share))
}

type candidateChunk struct {
	chunk common.Chunk
	score float64
}

// Assemble fetches the chunks behind evidence, deduplicates them by id
// keeping the best score and admits them in score order until budget is
// spent. A chunk that overflows the budget is cut to fit when at least
// MinTruncatedTokens remain and dropped otherwise; nothing after it is
// admitted.
func (a *ContextAssembler) Assemble(ctx context.Context, tenant string, evidence []common.EvidenceItem, budget int) (common.CitedContext, error) {
	tracer := tracerFrom(ctx)
	if budget <= 0 {
		budget = a.cfg.TokenBudget
	}
	out := common.CitedContext{Budget: budget}
	if len(evidence) == 0 {
		return out, nil
	}

	candidates, err := a.collect(ctx, tenant, evidence)
	if err != nil {
		return out, err
	}

	considered := make([]string, len(candidates))
	for i, c := range candidates {
		considered[i] = c.chunk.ID
	}
	RecordConsideredChunkIDs(tracer, considered...)

	used := make([]string, 0, len(candidates))
	for _, c := range candidates {
		tokens := a.counter.Count(c.chunk.Text)
		remaining := budget - out.TokenCount
		truncated := false
		if tokens > remaining {
			out.Truncated = true
			if remaining < max(1, a.cfg.MinTruncatedTokens) {
				break
			}
			c.chunk.Text = a.counter.Truncate(c.chunk.Text, remaining)
			tokens = min(a.counter.Count(c.chunk.Text), remaining)
			truncated = true
		}

		out.Entries = append(out.Entries, common.CitedChunk{
			Index:     len(out.Entries) + 1,
			Chunk:     c.chunk,
			Score:     c.score,
			Tokens:    tokens,
			Truncated: truncated,
		})
		out.TokenCount += tokens
		used = append(used, c.chunk.ID)
		if truncated {
			break
		}
	}
	RecordUsedChunkIDs(tracer, used...)

	if out.Truncated {
		logger.Debug("[Assemble] context truncated to budget", "tenant", tenant,
			"budget", budget, "admitted", len(out.Entries), "candidates", len(candidates))
	}
	return out, nil
}

// collect resolves evidence into unique chunks sorted by score, then id.
func (a *ContextAssembler) collect(ctx context.Context, tenant string, evidence []common.EvidenceItem) ([]candidateChunk, error) {
	var (
		entities []common.EvidenceItem
		chunkIDs []string
		maxScore float64
	)
	chunkScores := make(map[string]float64)
	for _, e := range evidence {
		switch {
		case e.ChunkID != "":
			if cur, ok := chunkScores[e.ChunkID]; !ok || e.Score > cur {
				if !ok {
					chunkIDs = append(chunkIDs, e.ChunkID)
				}
				chunkScores[e.ChunkID] = e.Score
			}
		case e.EntityID != "":
			entities = append(entities, e)
			maxScore = math.Max(maxScore, e.Score)
		}
	}

	perEntity := make([][]common.Chunk, len(entities))
	var direct []common.Chunk

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.Parallelism)
	for i, e := range entities {
		limit := ChunkCap(e.Score, maxScore, a.cfg.ChunkFloor, a.cfg.ChunkMax)
		g.Go(func() error {
			chunks, err := withStoreRetry(ctx, a.cfg.StoreRetries, func(ctx context.Context) ([]common.Chunk, error) {
				return a.store.GetChunksForEntity(ctx, tenant, e.EntityID, limit)
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("[Assemble] loading entity chunks failed", "entity", e.EntityID, "err", err)
				return nil
			}
			if len(chunks) > limit {
				chunks = chunks[:limit]
			}
			perEntity[i] = chunks
			return nil
		})
	}
	if len(chunkIDs) > 0 {
		g.Go(func() error {
			chunks, err := withStoreRetry(ctx, a.cfg.StoreRetries, func(ctx context.Context) ([]common.Chunk, error) {
				return a.store.GetChunks(ctx, tenant, chunkIDs)
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("[Assemble] loading chunks failed", "tenant", tenant, "err", err)
				return nil
			}
			direct = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := make(map[string]candidateChunk)
	offer := func(c common.Chunk, score float64) {
		if c.ID == "" {
			return
		}
		if cur, ok := best[c.ID]; !ok || score > cur.score {
			best[c.ID] = candidateChunk{chunk: c, score: score}
		}
	}
	for i, chunks := range perEntity {
		for _, c := range chunks {
			offer(c, entities[i].Score)
		}
	}
	for _, c := range direct {
		offer(c, chunkScores[c.ID])
	}

	out := make([]candidateChunk, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].chunk.ID < out[j].chunk.ID
	})
	return out, nil
}
