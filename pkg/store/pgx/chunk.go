package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

func scanChunk(rows pgxv5.Rows, extra ...any) (common.Chunk, error) {
	var (
		c    common.Chunk
		page *int32
		vec  *pgvector.Vector
	)
	dest := append([]any{&c.ID, &c.Text, &c.DocTitle, &c.SectionHeading, &page, &c.SourceDocument, &vec, &c.EntityIDs}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return common.Chunk{}, err
	}
	if page != nil {
		c.PageNumber = int(*page)
	}
	if vec != nil {
		c.Embedding = vec.Slice()
	}
	if c.SourceDocument == "" {
		c.SourceDocument = common.DocumentKey(c.DocTitle)
	}
	return c, nil
}

func (s *GraphDBStorage) GetChunksForEntity(ctx context.Context, tenant string, entityID string, limit int) ([]common.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, getChunksForEntitySQL, tenant, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("get chunks of %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []common.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) SearchChunks(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredChunk, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, searchChunksSQL, tenant, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("chunk vector search: %w", err)
	}
	defer rows.Close()

	var out []store.ScoredChunk
	for rows.Next() {
		var score float64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, store.ScoredChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetChunks(ctx context.Context, tenant string, ids []string) ([]common.Chunk, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]common.Chunk, len(ids))
	err := store.ChunkRange(len(ids), s.batchSize, func(start, end int) error {
		rows, err := s.conn.Query(ctx, getChunksSQL, tenant, ids[start:end])
		if err != nil {
			return fmt.Errorf("get chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanChunk(rows)
			if err != nil {
				return err
			}
			byID[c.ID] = c
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]common.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
