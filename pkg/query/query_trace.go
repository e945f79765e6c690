package query

import (
	"context"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
)

type TraceEventKind string

const (
	TraceEventRoute              TraceEventKind = "route"
	TraceEventSeeds              TraceEventKind = "seeds"
	TraceEventHop                TraceEventKind = "hop"
	TraceEventQueriedEntityIDs   TraceEventKind = "queried_entity_ids"
	TraceEventConsideredChunkIDs TraceEventKind = "considered_chunk_ids"
	TraceEventUsedChunkIDs       TraceEventKind = "used_chunk_ids"
	TraceEventSubQuestion        TraceEventKind = "sub_question"
	TraceEventDegradation        TraceEventKind = "degradation"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Route       Route
	Seeds       []common.Seed
	Hop         int
	Frontier    int
	EntityIDs   []string
	ChunkIDs    []string
	SubQuestion *common.SubQuestion
	Degradation Degradation
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

// LogTracer writes every event to the debug log.
type LogTracer struct {
	RequestID string
}

func (l LogTracer) Record(event TraceEvent) {
	switch event.Kind {
	case TraceEventRoute:
		logger.Debug("[Trace] route", "request", l.RequestID, "route", event.Route)
	case TraceEventSeeds:
		logger.Debug("[Trace] seeds", "request", l.RequestID, "count", len(event.Seeds))
	case TraceEventHop:
		logger.Debug("[Trace] hop", "request", l.RequestID, "hop", event.Hop, "frontier", event.Frontier)
	case TraceEventDegradation:
		logger.Debug("[Trace] degraded", "request", l.RequestID, "kind", event.Degradation)
	default:
		logger.Debug("[Trace] event", "request", l.RequestID, "kind", event.Kind,
			"entities", len(event.EntityIDs), "chunks", len(event.ChunkIDs))
	}
}

type tracerKey struct{}

// WithTracer attaches a request-scoped tracer to ctx. Retrieval components
// are shared across requests and pick their tracer from the context.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, t)
}

func tracerFrom(ctx context.Context) Tracer {
	t, _ := ctx.Value(tracerKey{}).(Tracer)
	return t
}

func RecordRoute(t Tracer, route Route) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventRoute, Route: route})
}

func RecordSeeds(t Tracer, seeds []common.Seed) {
	if t == nil || len(seeds) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeeds, Seeds: seeds})
}

func RecordHop(t Tracer, hop int, frontier []string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventHop, Hop: hop, Frontier: len(frontier), EntityIDs: frontier})
}

func RecordQueriedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityIDs, EntityIDs: ids})
}

func RecordConsideredChunkIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredChunkIDs, ChunkIDs: ids})
}

func RecordUsedChunkIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedChunkIDs, ChunkIDs: ids})
}

func RecordSubQuestion(t Tracer, sq common.SubQuestion) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSubQuestion, SubQuestion: &sq})
}

func RecordDegradation(t Tracer, kind Degradation) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventDegradation, Degradation: kind})
}

// QueryTrace collects information about what was routed, traversed and
// cited during a query run.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	route              Route
	seeds              map[string]common.Seed
	hops               int
	queriedEntityIDs   map[string]struct{}
	consideredChunkIDs map[string]struct{}
	usedChunkIDs       map[string]struct{}
	subQuestions       []string
	degradations       degradations
}

type QueryTraceSnapshot struct {
	Route              Route         `json:"route"`
	Seeds              []common.Seed `json:"seeds,omitempty"`
	HopsCompleted      int           `json:"hops_completed"`
	QueriedEntityIDs   []string      `json:"queried_entity_ids,omitempty"`
	ConsideredChunkIDs []string      `json:"considered_chunk_ids,omitempty"`
	UsedChunkIDs       []string      `json:"used_chunk_ids,omitempty"`
	SubQuestions       []string      `json:"sub_questions,omitempty"`
	Degradations       []Degradation `json:"degradations,omitempty"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		seeds:              make(map[string]common.Seed),
		queriedEntityIDs:   make(map[string]struct{}),
		consideredChunkIDs: make(map[string]struct{}),
		usedChunkIDs:       make(map[string]struct{}),
	}
}

func addIDs(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventRoute:
		t.route = event.Route
	case TraceEventSeeds:
		for _, s := range event.Seeds {
			if prev, ok := t.seeds[s.EntityID]; !ok || s.Weight > prev.Weight {
				t.seeds[s.EntityID] = s
			}
		}
	case TraceEventHop:
		t.hops = max(t.hops, event.Hop)
		addIDs(t.queriedEntityIDs, event.EntityIDs)
	case TraceEventQueriedEntityIDs:
		addIDs(t.queriedEntityIDs, event.EntityIDs)
	case TraceEventConsideredChunkIDs:
		addIDs(t.consideredChunkIDs, event.ChunkIDs)
	case TraceEventUsedChunkIDs:
		addIDs(t.usedChunkIDs, event.ChunkIDs)
	case TraceEventSubQuestion:
		if event.SubQuestion != nil {
			t.subQuestions = append(t.subQuestions, event.SubQuestion.Text)
		}
	case TraceEventDegradation:
		t.degradations.add(event.Degradation)
	default:
		return
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		Route:              t.route,
		Seeds:              make([]common.Seed, 0, len(t.seeds)),
		HopsCompleted:      t.hops,
		QueriedEntityIDs:   sortedKeys(t.queriedEntityIDs),
		ConsideredChunkIDs: sortedKeys(t.consideredChunkIDs),
		UsedChunkIDs:       sortedKeys(t.usedChunkIDs),
		SubQuestions:       append([]string(nil), t.subQuestions...),
		Degradations:       append([]Degradation(nil), t.degradations...),
	}
	for _, seed := range t.seeds {
		s.Seeds = append(s.Seeds, seed)
	}
	sort.Slice(s.Seeds, func(i, j int) bool {
		if s.Seeds[i].Weight != s.Seeds[j].Weight {
			return s.Seeds[i].Weight > s.Seeds[j].Weight
		}
		return s.Seeds[i].EntityID < s.Seeds[j].EntityID
	})

	return s
}
