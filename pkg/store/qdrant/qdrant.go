// Package qdrant provides a store.VectorIndex over entity embeddings held
// in a Qdrant collection. Points carry the tenant and entity id in their
// payload; searches always filter on the tenant.
package qdrant

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	tenantKey = "group_id"
	entityKey = "entity_id"
	nameKey   = "name"
)

type pointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// Config holds connection parameters for a Qdrant instance.
type Config struct {
	Host       string
	Port       int
	Collection string
	VectorSize uint64
	APIKey     string
	UseTLS     bool
}

// EntityIndex implements store.VectorIndex backed by Qdrant.
type EntityIndex struct {
	client     pointsClient
	closer     func() error
	collection string
	vectorSize uint64
}

// NewEntityIndex connects to Qdrant and makes sure the collection exists.
func NewEntityIndex(ctx context.Context, cfg Config) (*EntityIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "entities"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &EntityIndex{client: client, closer: client.Close, collection: cfg.Collection, vectorSize: cfg.VectorSize}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (i *EntityIndex) ensureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if i.vectorSize == 0 {
		return fmt.Errorf("qdrant: collection %q does not exist and no vector size is configured", i.collection)
	}

	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     i.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", i.collection, err)
	}
	logger.Info("[Qdrant] Created collection", "collection", i.collection, "size", i.vectorSize)
	return nil
}

// pointID derives a stable point id so re-indexing a tenant overwrites
// its previous points.
func pointID(tenant, entityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenant+"/"+entityID)).String()
}

// IndexEntities upserts the embeddings of entities for tenant. Entities
// without an embedding are skipped.
func (i *EntityIndex) IndexEntities(ctx context.Context, tenant string, entities []common.Entity) (int, error) {
	points := make([]*qdrant.PointStruct, 0, len(entities))
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(tenant, e.ID)),
			Vectors: qdrant.NewVectors(e.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				tenantKey: tenant,
				entityKey: e.ID,
				nameKey:   e.Name,
			}),
		})
	}

	err := store.ChunkRange(len(points), 256, func(start, end int) error {
		wait := true
		_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: i.collection,
			Wait:           &wait,
			Points:         points[start:end],
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return len(points), nil
}

func (i *EntityIndex) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredID, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	limit := uint64(topK)
	results, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(tenantKey, tenant)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]store.ScoredID, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		// the filter already restricts the tenant; this guards against
		// points written without a payload
		if p[tenantKey].GetStringValue() != tenant {
			continue
		}
		id := p[entityKey].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, store.ScoredID{ID: id, Score: float64(r.GetScore())})
	}
	store.SortScoredIDs(hits)
	return hits, nil
}

func (i *EntityIndex) Close() error {
	if i.closer == nil {
		return nil
	}
	return i.closer()
}
