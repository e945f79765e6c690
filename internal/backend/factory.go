package backend

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"
)

// FactoryParams configures NewPipelineFactory. Tracer is attached to every
// pipeline; Metrics may be nil.
type FactoryParams struct {
	Store    store.GraphStore
	LLM      ai.LLMClient
	Settings *config.Settings
	Metrics  *query.Metrics
	Tracer   query.Tracer
}

// NewPipelineFactory builds pipelines from the tenant's resolved settings.
// Tokenizers are loaded once per encoding and shared between pipelines.
func NewPipelineFactory(params FactoryParams) query.PipelineFactory {
	settings := params.Settings
	if settings == nil {
		settings = config.Default()
	}

	var (
		mu       sync.Mutex
		counters = map[string]query.TokenCounter{}
	)
	counterFor := func(encoding string) query.TokenCounter {
		mu.Lock()
		defer mu.Unlock()
		c, ok := counters[encoding]
		if !ok {
			c = query.NewTokenCounter(encoding)
			counters[encoding] = c
		}
		return c
	}

	return func(ctx context.Context, tenant, profile string) (*query.Pipeline, error) {
		cfg, p, err := settings.Resolve(tenant, profile)
		if err != nil {
			return nil, err
		}
		return query.NewPipeline(query.PipelineParams{
			Store:        params.Store,
			LLM:          params.LLM,
			Config:       cfg,
			Profile:      p,
			TokenCounter: counterFor(cfg.Encoding),
			Metrics:      params.Metrics,
			Tracer:       params.Tracer,
		})
	}
}
