package query

import (
	"sync"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"

	"github.com/stretchr/testify/assert"
)

func TestQueryTraceSnapshot(t *testing.T) {
	qt := NewQueryTrace()

	RecordRoute(qt, RouteLocal)
	RecordSeeds(qt, []common.Seed{{EntityID: "b", Weight: 0.6}, {EntityID: "a", Weight: 1}})
	RecordSeeds(qt, []common.Seed{{EntityID: "b", Weight: 0.9}})
	RecordHop(qt, 0, []string{"a", "b"})
	RecordHop(qt, 1, []string{"c"})
	RecordConsideredChunkIDs(qt, "c2", "c1", "", "c1")
	RecordUsedChunkIDs(qt, "c1")
	RecordDegradation(qt, DegradeTraversalTimeout)
	RecordDegradation(qt, DegradeTraversalTimeout)

	s := qt.Snapshot()
	assert.Equal(t, RouteLocal, s.Route)
	assert.Equal(t, []common.Seed{{EntityID: "a", Weight: 1}, {EntityID: "b", Weight: 0.9}}, s.Seeds)
	assert.Equal(t, 1, s.HopsCompleted)
	assert.Equal(t, []string{"a", "b", "c"}, s.QueriedEntityIDs)
	assert.Equal(t, []string{"c1", "c2"}, s.ConsideredChunkIDs)
	assert.Equal(t, []string{"c1"}, s.UsedChunkIDs)
	assert.Equal(t, []Degradation{DegradeTraversalTimeout}, s.Degradations)
}

func TestQueryTraceNilSafe(t *testing.T) {
	var qt *QueryTrace
	qt.Record(TraceEvent{Kind: TraceEventRoute, Route: RouteDrift})
	assert.Equal(t, QueryTraceSnapshot{}, qt.Snapshot())

	RecordRoute(nil, RouteDrift)
}

func TestMultiTracerFansOut(t *testing.T) {
	a, b := NewQueryTrace(), NewQueryTrace()
	m := MultiTracer{a, nil, b}

	RecordUsedChunkIDs(m, "x")
	assert.Equal(t, []string{"x"}, a.Snapshot().UsedChunkIDs)
	assert.Equal(t, []string{"x"}, b.Snapshot().UsedChunkIDs)
}

func TestQueryTraceConcurrentUse(t *testing.T) {
	qt := NewQueryTrace()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordHop(qt, i%4, []string{"e"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, qt.Snapshot().HopsCompleted)
}
