package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"github.com/pgvector/pgvector-go"
)

func (s *GraphDBStorage) FindExactOrAlias(ctx context.Context, tenant string, names []string) ([]string, error) {
	names = store.NormalizeNames(names)
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, findExactOrAliasSQL, tenant, names)
	if err != nil {
		return nil, fmt.Errorf("find entities by name: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *GraphDBStorage) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredID, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, vectorSearchSQL, tenant, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("entity vector search: %w", err)
	}
	defer rows.Close()

	var hits []store.ScoredID
	for rows.Next() {
		var h store.ScoredID
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *GraphDBStorage) GetNeighbors(ctx context.Context, tenant string, entityID string) ([]store.Neighbor, error) {
	rows, err := s.conn.Query(ctx, getNeighborsSQL, tenant, entityID)
	if err != nil {
		return nil, fmt.Errorf("get neighbors of %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []store.Neighbor
	for rows.Next() {
		var n store.Neighbor
		if err := rows.Scan(&n.EntityID, &n.Weight); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetEntities(ctx context.Context, tenant string, ids []string) ([]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]common.Entity, len(ids))
	err := store.ChunkRange(len(ids), s.batchSize, func(start, end int) error {
		rows, err := s.conn.Query(ctx, getEntitiesSQL, tenant, ids[start:end])
		if err != nil {
			return fmt.Errorf("get entities: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e      common.Entity
				vec    *pgvector.Vector
				degree int32
			)
			if err := rows.Scan(&e.ID, &e.Name, &e.Aliases, &vec, &e.CommunityID, &degree); err != nil {
				return err
			}
			if vec != nil {
				e.Embedding = vec.Slice()
			}
			e.Degree = int(degree)
			byID[e.ID] = e
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]common.Entity, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphDBStorage) GetCommunityPeers(ctx context.Context, tenant string, entityID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, getCommunityPeersSQL, tenant, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("get community peers of %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListEntityIDs returns the ids of every embedded entity of tenant, used
// to export embeddings into an external vector index.
func (s *GraphDBStorage) ListEntityIDs(ctx context.Context, tenant string) ([]string, error) {
	rows, err := s.conn.Query(ctx, listEntityIDsSQL, tenant)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
