package neo4j

import (
	"context"
	"sort"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *GraphStore) FindExactOrAlias(ctx context.Context, tenant string, names []string) ([]string, error) {
	names = store.NormalizeNames(names)
	if len(names) == 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, findExactOrAliasCypher, map[string]any{"tenant": tenant, "names": names})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		ids = append(ids, getString(r, "id"))
	}
	return store.DedupeStrings(ids), nil
}

// Neo4j reports cosine similarity as (1 + cos) / 2; results are mapped
// back to plain cosine.
func fromIndexScore(score float64) float64 {
	return 2*score - 1
}

func (s *GraphStore) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredID, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, vectorSearchCypher, map[string]any{
		"tenant":    tenant,
		"index":     s.entityIndex,
		"k":         topK * s.overfetch,
		"limit":     topK,
		"embedding": toFloat64s(embedding),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]store.ScoredID, 0, len(res.Records))
	for _, r := range res.Records {
		hits = append(hits, store.ScoredID{ID: getString(r, "id"), Score: fromIndexScore(getFloat(r, "score"))})
	}
	return hits, nil
}

func (s *GraphStore) GetNeighbors(ctx context.Context, tenant string, entityID string) ([]store.Neighbor, error) {
	res, err := s.runner.Run(ctx, getNeighborsCypher, map[string]any{"tenant": tenant, "id": entityID})
	if err != nil {
		return nil, err
	}
	out := make([]store.Neighbor, 0, len(res.Records))
	for _, r := range res.Records {
		out = append(out, store.Neighbor{EntityID: getString(r, "id"), Weight: getFloat(r, "weight")})
	}
	return out, nil
}

func (s *GraphStore) GetEntities(ctx context.Context, tenant string, ids []string) ([]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, getEntitiesCypher, map[string]any{"tenant": tenant, "ids": ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]common.Entity, len(res.Records))
	for _, r := range res.Records {
		e := common.Entity{
			ID:        getString(r, "id"),
			Name:      getString(r, "name"),
			Aliases:   getStrings(r, "aliases"),
			Embedding: getFloat32s(r, "embedding"),
			Degree:    int(getInt(r, "degree")),
		}
		if c := getString(r, "community_id"); c != "" {
			e.CommunityID = &c
		}
		byID[e.ID] = e
	}
	out := make([]common.Entity, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphStore) GetCommunityPeers(ctx context.Context, tenant string, entityID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, getCommunityPeersCypher, map[string]any{"tenant": tenant, "id": entityID, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		out = append(out, getString(r, "id"))
	}
	return out, nil
}

func recordToChunk(r *neo4j.Record) common.Chunk {
	c := common.Chunk{
		ID:             getString(r, "id"),
		Text:           getString(r, "text"),
		DocTitle:       getString(r, "doc_title"),
		PageNumber:     int(getInt(r, "page_number")),
		SourceDocument: getString(r, "source_document"),
		Embedding:      getFloat32s(r, "embedding"),
		EntityIDs:      getStrings(r, "entity_ids"),
	}
	if h := getString(r, "section_heading"); h != "" {
		c.SectionHeading = &h
	}
	if c.SourceDocument == "" {
		c.SourceDocument = common.DocumentKey(c.DocTitle)
	}
	sort.Strings(c.EntityIDs)
	return c
}

func (s *GraphStore) GetChunksForEntity(ctx context.Context, tenant string, entityID string, limit int) ([]common.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, getChunksForEntityCypher, map[string]any{"tenant": tenant, "id": entityID, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]common.Chunk, 0, len(res.Records))
	for _, r := range res.Records {
		out = append(out, recordToChunk(r))
	}
	return out, nil
}

func (s *GraphStore) SearchChunks(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredChunk, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, searchChunksCypher, map[string]any{
		"tenant":    tenant,
		"index":     s.chunkIndex,
		"k":         topK * s.overfetch,
		"limit":     topK,
		"embedding": toFloat64s(embedding),
	})
	if err != nil {
		return nil, err
	}
	out := make([]store.ScoredChunk, 0, len(res.Records))
	for _, r := range res.Records {
		out = append(out, store.ScoredChunk{Chunk: recordToChunk(r), Score: fromIndexScore(getFloat(r, "score"))})
	}
	return out, nil
}

func (s *GraphStore) GetChunks(ctx context.Context, tenant string, ids []string) ([]common.Chunk, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := s.runner.Run(ctx, getChunksCypher, map[string]any{"tenant": tenant, "ids": ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]common.Chunk, len(res.Records))
	for _, r := range res.Records {
		c := recordToChunk(r)
		byID[c.ID] = c
	}
	out := make([]common.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
