package query

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// PipelineFactory builds the pipeline for a tenant and profile.
type PipelineFactory func(ctx context.Context, tenant, profile string) (*Pipeline, error)

type pipelineKey struct {
	tenant  string
	profile string
}

func (k pipelineKey) String() string {
	return k.tenant + "\x00" + k.profile
}

// PipelineCache keeps one Pipeline per tenant and profile. Pipelines are
// built on first use; concurrent first requests share a single build.
// Entries live until Invalidate or Purge, there is no expiry. A build that
// was invalidated while running is handed to its waiters but not stored.
type PipelineCache struct {
	mu          sync.RWMutex
	entries     map[pipelineKey]*Pipeline
	generations map[pipelineKey]uint64
	epoch       uint64
	group       singleflight.Group
	factory     PipelineFactory
	metrics     *Metrics
}

func NewPipelineCache(factory PipelineFactory, metrics *Metrics) *PipelineCache {
	return &PipelineCache{
		entries:     make(map[pipelineKey]*Pipeline),
		generations: make(map[pipelineKey]uint64),
		factory:     factory,
		metrics:     metrics,
	}
}

func (c *PipelineCache) Get(ctx context.Context, tenant, profile string) (*Pipeline, error) {
	key := pipelineKey{tenant: tenant, profile: profile}

	c.mu.RLock()
	p, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	// waiters share the build, it outlives the caller that started it
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.RLock()
		p, ok := c.entries[key]
		epoch, gen := c.epoch, c.generations[key]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}

		p, err := c.factory(buildCtx, tenant, profile)
		if err != nil {
			return nil, err
		}
		c.metrics.pipelineBuilt()

		c.mu.Lock()
		stale := c.epoch != epoch || c.generations[key] != gen
		if !stale {
			c.entries[key] = p
		}
		c.mu.Unlock()
		logger.Debug("[Cache] built pipeline", "tenant", tenant, "profile", profile, "stored", !stale)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pipeline), nil
}

func (c *PipelineCache) Invalidate(tenant, profile string) {
	key := pipelineKey{tenant: tenant, profile: profile}
	c.mu.Lock()
	delete(c.entries, key)
	c.generations[key]++
	c.mu.Unlock()
	// later callers start a fresh build instead of joining the stale one
	c.group.Forget(key.String())
}

func (c *PipelineCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[pipelineKey]*Pipeline)
	c.epoch++
	c.mu.Unlock()
}

func (c *PipelineCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
