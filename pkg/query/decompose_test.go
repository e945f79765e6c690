package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func items(scores ...float64) []common.EvidenceItem {
	out := make([]common.EvidenceItem, len(scores))
	for i, s := range scores {
		out[i] = common.EvidenceItem{EntityID: fmt.Sprintf("e%d", i), Score: s}
	}
	return out
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		evidence []common.EvidenceItem
		want     float64
	}{
		{"no evidence", nil, 0},
		{"single item is sparse and dominant", items(0.9), 1.0 / 3 * 0.5},
		{"two even items are sparse", items(0.5, 0.5), 2.0 / 3},
		{"three even items", items(0.7, 0.7, 0.7), 1},
		{"one item carries everything", items(1, 0, 0), 0.5},
		{"all zero scores count as even", items(0, 0, 0, 0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.evidence, 3, 0.5), 1e-9)
		})
	}
}

func TestConfidencePenalizesConcentration(t *testing.T) {
	even := Confidence(items(0.5, 0.5, 0.5, 0.5), 3, 0.5)
	skewed := Confidence(items(0.9, 0.1, 0.1, 0.1), 3, 0.5)
	assert.Greater(t, even, skewed)

	sparse := Confidence(items(0.5, 0.5), 3, 0.5)
	assert.Greater(t, even, sparse)
}

const compareQuery = "Compare Acme Corp and Globex Inc"

func compareLLM() *fakeLLM {
	return &fakeLLM{
		decompose: fixedDecomposition(map[string][]string{
			compareQuery: {"What is Acme Corp?", "What is Globex Inc?"},
		}),
		entities: map[string][]string{
			compareQuery:          {"Acme Corp", "Globex Inc"},
			"What is Acme Corp?":  {"Acme Corp"},
			"What is Globex Inc?": {"Globex Inc"},
		},
		embeddings: map[string][]float32{
			compareQuery:          vec(0, 0.7, 0.7, 0),
			"What is Acme Corp?":  acmeVec,
			"What is Globex Inc?": globexVec,
		},
		answer: "Acme Corp makes anvils [1] while Globex Inc is a holding [2].",
	}
}

func newDecomposer(t *testing.T, llm *fakeLLM, cfg Config) *QueryDecomposer {
	t.Helper()
	gs := newTestStore(t)
	resolver := NewSeedResolver(gs, cfg)
	return NewQueryDecomposer(llm, resolver, NewBeamTraversalEngine(gs, cfg), cfg)
}

func TestDecomposerConfidentSubQuestions(t *testing.T) {
	llm := compareLLM()
	d := newDecomposer(t, llm, testConfig())

	res := d.Run(context.Background(), "acme", compareQuery)

	assert.Equal(t, 1, llm.decomposeCalls)
	assert.Empty(t, res.Degradations)
	require.Len(t, res.SubQuestions, 2)
	for _, sq := range res.SubQuestions {
		assert.Equal(t, common.StateConsolidated, sq.State)
		assert.GreaterOrEqual(t, sq.Confidence, testConfig().ConfidenceFloor)
		assert.Zero(t, sq.Attempts)
		assert.NotEmpty(t, sq.Evidence)
	}

	ids := make([]string, len(res.Seeds))
	for i, s := range res.Seeds {
		ids[i] = s.EntityID
	}
	assert.Contains(t, ids, "acme")
	assert.Contains(t, ids, "globex")
}

func TestDecomposerFailureFallsBackToSingleQuestion(t *testing.T) {
	llm := compareLLM()
	llm.decompose = func(string) ([]string, error) { return nil, errors.New("malformed json") }
	d := newDecomposer(t, llm, testConfig())

	res := d.Run(context.Background(), "acme", compareQuery)

	require.Len(t, res.SubQuestions, 1)
	assert.Equal(t, compareQuery, res.SubQuestions[0].Text)
	assert.Contains(t, res.Degradations, DegradeDecompositionFailure)
	assert.NotEmpty(t, res.Seeds)
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		err   error
		want  []string
	}{
		{name: "split", parts: []string{"What is Acme Corp?", " what is acme corp? ", "What is Globex Inc?"}, want: []string{"What is Acme Corp?", "What is Globex Inc?"}},
		{name: "model error", err: errors.New("timeout"), want: []string{compareQuery}},
		{name: "empty result", parts: []string{}, want: []string{compareQuery}},
		{name: "only blanks", parts: []string{"", "  "}, want: []string{compareQuery}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := compareLLM()
			llm.decompose = func(string) ([]string, error) { return tt.parts, tt.err }
			d := newDecomposer(t, llm, testConfig())

			subs := d.Decompose(context.Background(), compareQuery)

			texts := make([]string, len(subs))
			for i, sq := range subs {
				assert.Equal(t, common.StateDecomposed, sq.State)
				assert.Zero(t, sq.Attempts)
				texts[i] = sq.Text
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestDecomposerEmptySplitIsDegraded(t *testing.T) {
	llm := compareLLM()
	llm.decompose = func(string) ([]string, error) { return []string{" "}, nil }
	d := newDecomposer(t, llm, testConfig())

	res := d.Run(context.Background(), "acme", compareQuery)

	require.NotEmpty(t, res.SubQuestions)
	assert.Equal(t, compareQuery, res.SubQuestions[0].Text)
	assert.Contains(t, res.Degradations, DegradeDecompositionFailure)
}

func TestDecomposerThinQuestionsAreRedecomposed(t *testing.T) {
	llm := &fakeLLM{
		decompose: fixedDecomposition(map[string][]string{
			"q":    {"q.1", "q.2"},
			"q.1":  {"q.1a", "q.1b"},
			"q.2":  {"q.2a", "q.2b"},
			"q.1a": {"never asked"},
		}),
		entities: map[string][]string{
			"q.1a": {"Acme Corp"},
			"q.1b": {"Globex Inc"},
		},
		embeddings: map[string][]float32{
			"q.1a": acmeVec,
			"q.1b": globexVec,
		},
	}
	d := newDecomposer(t, llm, testConfig())

	res := d.Run(context.Background(), "acme", "q")

	// one initial split plus one per thin sub-question
	assert.Equal(t, 3, llm.decomposeCalls)
	require.Len(t, res.SubQuestions, 4)
	states := map[string]common.SubQuestion{}
	for _, sq := range res.SubQuestions {
		states[sq.Text] = sq
		assert.Equal(t, common.StateConsolidated, sq.State)
		assert.Equal(t, 1, sq.Attempts)
	}
	assert.GreaterOrEqual(t, states["q.1a"].Confidence, 0.4)
	assert.Zero(t, states["q.2a"].Confidence)
	assert.Contains(t, res.Degradations, DegradeThinSubQuestion)
}

func TestDecomposerTerminatesWhenEverythingStaysThin(t *testing.T) {
	for _, maxRedecompositions := range []int{0, 1, 3} {
		t.Run(fmt.Sprint(maxRedecompositions), func(t *testing.T) {
			llm := &fakeLLM{
				decompose: func(q string) ([]string, error) {
					return []string{q + ".a", q + ".b"}, nil
				},
			}
			cfg := testConfig()
			cfg.MaxRedecompositions = maxRedecompositions
			d := newDecomposer(t, llm, cfg)

			res := d.Run(context.Background(), "acme", "q")

			want := 2 << maxRedecompositions
			assert.Len(t, res.SubQuestions, want)
			assert.Equal(t, want-1, llm.decomposeCalls)
			for _, sq := range res.SubQuestions {
				assert.LessOrEqual(t, sq.Attempts, maxRedecompositions)
				assert.Equal(t, common.StateConsolidated, sq.State)
			}
			assert.Contains(t, res.Degradations, DegradeThinSubQuestion)
		})
	}
}

func TestDecomposerUnsplittableThinQuestionIsKept(t *testing.T) {
	llm := &fakeLLM{
		decompose: fixedDecomposition(map[string][]string{
			"q":   {"q.1"},
			"q.1": {"Q.1"},
		}),
	}
	d := newDecomposer(t, llm, testConfig())

	res := d.Run(context.Background(), "acme", "q")
	require.Len(t, res.SubQuestions, 1)
	assert.Equal(t, "q.1", res.SubQuestions[0].Text)
	assert.Zero(t, res.SubQuestions[0].Attempts)
}

func TestConsolidateSeedsKeepsBestWeight(t *testing.T) {
	got := consolidateSeeds([]common.Seed{
		{EntityID: "a", Weight: 0.6, Layer: common.SeedLayerVector},
		{EntityID: "b", Weight: 0.7},
		{EntityID: "a", Weight: 1, Layer: common.SeedLayerExact},
	})
	assert.Equal(t, []common.Seed{
		{EntityID: "a", Weight: 1, Layer: common.SeedLayerExact},
		{EntityID: "b", Weight: 0.7},
	}, got)
}
