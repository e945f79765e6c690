package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func vec(xs ...float32) []float32 { return xs }

var (
	acmeVec    = vec(0, 1, 0, 0)
	globexVec  = vec(0, 0, 1, 0)
	invoiceVec = vec(1, 0, 0, 0)
	widgetVec  = vec(0.6, 0, 0, 0.8)
)

// acmeGraph is a small contract corpus: two companies joined by a merger,
// an invoice, and one entity without any edges.
func acmeGraph() memory.Graph {
	return memory.Graph{
		Entities: []common.Entity{
			{ID: "invoice", Name: "Invoice", Aliases: []string{"invoices"}, Embedding: invoiceVec},
			{ID: "acme", Name: "Acme Corp", Aliases: []string{"Acme"}, Embedding: acmeVec, CommunityID: strPtr("c1")},
			{ID: "globex", Name: "Globex Inc", Embedding: globexVec, CommunityID: strPtr("c2")},
			{ID: "acme-ceo", Name: "Jane Roe", Embedding: vec(0, 0.8, 0, 0.6), CommunityID: strPtr("c1")},
			{ID: "acme-plant", Name: "Springfield Plant", Embedding: vec(0, 0.6, 0, 0.8)},
			{ID: "globex-board", Name: "Globex Board", Embedding: vec(0, 0, 0.8, 0.6), CommunityID: strPtr("c2")},
			{ID: "merger", Name: "Merger Agreement", Embedding: vec(0, 0.6, 0.6, 0.53)},
			{ID: "widget", Name: "Lonely Widget", Embedding: widgetVec},
		},
		Edges: []common.Edge{
			{SourceID: "acme", TargetID: "acme-ceo", Weight: 0.9},
			{SourceID: "acme-ceo", TargetID: "acme-plant", Weight: 0.5},
			{SourceID: "acme", TargetID: "merger", Weight: 0.7},
			{SourceID: "globex", TargetID: "merger", Weight: 0.7},
			{SourceID: "globex", TargetID: "globex-board", Weight: 0.8},
			{SourceID: "invoice", TargetID: "acme", Weight: 0.4},
		},
		Chunks: []common.Chunk{
			{ID: "c-invoice", Text: "Invoice 2024-17 totals 1,200 EUR.", DocTitle: "Invoice 2024-17", EntityIDs: []string{"invoice"}, Embedding: invoiceVec},
			{ID: "c-acme", Text: "Acme Corp manufactures anvils.", DocTitle: "Company Profiles - Section 1", EntityIDs: []string{"acme"}, Embedding: acmeVec},
			{ID: "c-ceo", Text: "Jane Roe leads Acme Corp.", DocTitle: "Company Profiles - Section 2", EntityIDs: []string{"acme", "acme-ceo"}},
			{ID: "c-plant", Text: "The Springfield Plant belongs to Acme.", DocTitle: "Company Profiles", EntityIDs: []string{"acme-plant", "acme"}},
			{ID: "c-globex", Text: "Globex Inc is a holding company.", DocTitle: "Company Profiles - Section 3", EntityIDs: []string{"globex"}, Embedding: globexVec},
			{ID: "c-board", Text: "The Globex Board approved the merger.", DocTitle: "Board Minutes", EntityIDs: []string{"globex-board", "globex"}},
			{ID: "c-merger", Text: "Acme Corp and Globex Inc signed a merger agreement.", DocTitle: "Merger Agreement (Exhibit A)", EntityIDs: []string{"merger", "acme", "globex"}},
			{ID: "c-widget", Text: "The Lonely Widget is sold separately.", DocTitle: "Catalog", EntityIDs: []string{"widget"}},
		},
	}
}

// otherGraph belongs to a second tenant and reuses names of the first one.
func otherGraph() memory.Graph {
	return memory.Graph{
		Entities: []common.Entity{
			{ID: "other-acme", Name: "Acme Corp", Embedding: acmeVec},
		},
		Chunks: []common.Chunk{
			{ID: "other-c1", Text: "Acme Corp of the other tenant.", DocTitle: "Other", EntityIDs: []string{"other-acme"}},
		},
	}
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.AddTenant("acme", acmeGraph()))
	require.NoError(t, s.AddTenant("other", otherGraph()))
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TraceTimeout = 2 * time.Second
	cfg.DiscoveryTimeout = 2 * time.Second
	cfg.StageTimeout = 2 * time.Second
	cfg.StoreRetries = 0
	return cfg
}

// countingStore records how often each store method is called and can
// inject errors or latency.
type countingStore struct {
	store.GraphStore

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	delay map[string]time.Duration
}

func newCountingStore(gs store.GraphStore) *countingStore {
	return &countingStore{
		GraphStore: gs,
		calls:      map[string]int{},
		fail:       map[string]error{},
		delay:      map[string]time.Duration{},
	}
}

func (c *countingStore) enter(ctx context.Context, method string) error {
	c.mu.Lock()
	c.calls[method]++
	err := c.fail[method]
	d := c.delay[method]
	c.mu.Unlock()

	if d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return err
}

func (c *countingStore) count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *countingStore) FindExactOrAlias(ctx context.Context, tenant string, names []string) ([]string, error) {
	if err := c.enter(ctx, "FindExactOrAlias"); err != nil {
		return nil, err
	}
	return c.GraphStore.FindExactOrAlias(ctx, tenant, names)
}

func (c *countingStore) VectorSearch(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredID, error) {
	if err := c.enter(ctx, "VectorSearch"); err != nil {
		return nil, err
	}
	return c.GraphStore.VectorSearch(ctx, tenant, embedding, topK)
}

func (c *countingStore) GetNeighbors(ctx context.Context, tenant string, entityID string) ([]store.Neighbor, error) {
	if err := c.enter(ctx, "GetNeighbors"); err != nil {
		return nil, err
	}
	return c.GraphStore.GetNeighbors(ctx, tenant, entityID)
}

func (c *countingStore) GetChunksForEntity(ctx context.Context, tenant string, entityID string, limit int) ([]common.Chunk, error) {
	if err := c.enter(ctx, "GetChunksForEntity"); err != nil {
		return nil, err
	}
	return c.GraphStore.GetChunksForEntity(ctx, tenant, entityID, limit)
}

func (c *countingStore) GetCommunityPeers(ctx context.Context, tenant string, entityID string, limit int) ([]string, error) {
	if err := c.enter(ctx, "GetCommunityPeers"); err != nil {
		return nil, err
	}
	return c.GraphStore.GetCommunityPeers(ctx, tenant, entityID, limit)
}

func (c *countingStore) SearchChunks(ctx context.Context, tenant string, embedding []float32, topK int) ([]store.ScoredChunk, error) {
	if err := c.enter(ctx, "SearchChunks"); err != nil {
		return nil, err
	}
	return c.GraphStore.SearchChunks(ctx, tenant, embedding, topK)
}

var errNotScripted = errors.New("not scripted")

// fakeLLM answers from lookup tables. Texts without an entry fail with
// errNotScripted.
type fakeLLM struct {
	mu sync.Mutex

	embeddings map[string][]float32
	entities   map[string][]string
	decompose  func(query string) ([]string, error)
	complexity func(query string) (float64, error)
	answer     string
	synthErr   error

	synthCalls      int
	decomposeCalls  int
	complexityCalls int
	lastSources     string
	lastMode        ai.ResponseMode
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if e, ok := f.embeddings[text]; ok {
		return e, nil
	}
	return nil, errNotScripted
}

func (f *fakeLLM) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	if m, ok := f.entities[text]; ok {
		return m, nil
	}
	return nil, errNotScripted
}

func (f *fakeLLM) Decompose(ctx context.Context, query string) ([]string, error) {
	f.mu.Lock()
	f.decomposeCalls++
	f.mu.Unlock()
	if f.decompose == nil {
		return nil, errNotScripted
	}
	return f.decompose(query)
}

func (f *fakeLLM) Synthesize(ctx context.Context, sources, query string, mode ai.ResponseMode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthCalls++
	f.lastSources = sources
	f.lastMode = mode
	return f.answer, f.synthErr
}

func (f *fakeLLM) EstimateComplexity(ctx context.Context, query string) (float64, error) {
	f.mu.Lock()
	f.complexityCalls++
	f.mu.Unlock()
	if f.complexity == nil {
		return 0, errNotScripted
	}
	return f.complexity(query)
}

// fixedDecomposition returns a decompose func with canned answers.
func fixedDecomposition(answers map[string][]string) func(string) ([]string, error) {
	return func(q string) ([]string, error) {
		if parts, ok := answers[q]; ok {
			return parts, nil
		}
		return nil, errNotScripted
	}
}

// wordCounter counts whitespace separated words as tokens.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func (wordCounter) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

func evidenceIDs(items []common.EvidenceItem) []string {
	out := make([]string, len(items))
	for i, e := range items {
		if e.EntityID != "" {
			out[i] = e.EntityID
		} else {
			out[i] = e.ChunkID
		}
	}
	return out
}

func evidenceByID(items []common.EvidenceItem) map[string]common.EvidenceItem {
	out := make(map[string]common.EvidenceItem, len(items))
	for _, e := range items {
		out[e.EntityID] = e
	}
	return out
}

// counterValue reads a counter from reg by metric name and labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
