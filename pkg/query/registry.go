package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
)

// RetrievalInput is everything a route handler needs for one request. The
// embedding is nil when the embedding call failed.
type RetrievalInput struct {
	TenantID  string
	Query     string
	Mentions  []string
	Embedding []float32
}

// Retrieval is the evidence a route handler produced.
type Retrieval struct {
	Evidence      []common.EvidenceItem
	Seeds         []common.Seed
	SubQuestions  []common.SubQuestion
	HopsCompleted int
	Truncated     bool
	Degradations  []Degradation
}

// RouteHandler retrieves evidence for exactly one route.
type RouteHandler interface {
	Route() Route
	Retrieve(ctx context.Context, in RetrievalInput) (*Retrieval, error)
}

// Registry maps routes to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Route]RouteHandler
}

func NewRegistry(handlers ...RouteHandler) *Registry {
	r := &Registry{handlers: make(map[Route]RouteHandler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register replaces any handler previously registered for h's route.
func (r *Registry) Register(h RouteHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Route()] = h
}

func (r *Registry) Handler(route Route) (RouteHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[route]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, route)
	}
	return h, nil
}
