package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"
)

// EntityIndexer receives entity embeddings, see qdrant.EntityIndex.
type EntityIndexer interface {
	IndexEntities(ctx context.Context, tenant string, entities []common.Entity) (int, error)
}

const syncBatchSize = 256

// SyncIndex copies the embeddings of every entity of tenant from the graph
// store into idx and returns how many were written.
func SyncIndex(ctx context.Context, lister EntityLister, gs store.GraphStore, idx EntityIndexer, tenant string) (int, error) {
	ids, err := lister.ListEntityIDs(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("list entities of %s: %w", tenant, err)
	}

	written := 0
	err = store.ChunkRange(len(ids), syncBatchSize, func(start, end int) error {
		entities, err := gs.GetEntities(ctx, tenant, ids[start:end])
		if err != nil {
			return err
		}
		n, err := util.RetryWithContext(ctx, 3, func(ctx context.Context) (int, error) {
			return idx.IndexEntities(ctx, tenant, entities)
		})
		if err != nil {
			return err
		}
		written += n
		logger.Debug("[Index] Synced batch", "tenant", tenant, "written", written, "total", len(ids))
		return nil
	})
	if err != nil {
		return written, err
	}
	logger.Info("[Index] Synced tenant", "tenant", tenant, "entities", written)
	return written, nil
}

// IndexTenant syncs the Qdrant index of tenant. With a postgres graph the
// sync holds the lease "entity-index:<tenant>", so concurrent runs for the
// same tenant fail with leaselock.ErrBusy instead of interleaving.
func (b *Backend) IndexTenant(ctx context.Context, tenant string) (int, error) {
	if b.Index == nil {
		return 0, errors.New("no vector index configured")
	}
	lister, ok := b.Lister()
	if !ok {
		return 0, errors.New("the graph backend cannot enumerate entities")
	}
	if b.Leases == nil {
		return SyncIndex(ctx, lister, b.Graph, b.Index, tenant)
	}

	var n int
	err := b.Leases.WithLease(ctx, "entity-index:"+tenant, leaselock.Options{
		TTL:          util.GetEnvDuration("INDEX_LEASE_TTL", 2*time.Minute),
		HolderPrefix: "index-",
	}, func(ctx context.Context) error {
		var err error
		n, err = SyncIndex(ctx, lister, b.Graph, b.Index, tenant)
		return err
	})
	return n, err
}
