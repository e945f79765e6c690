package query

import (
	"context"
	"math"
	"strings"

	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Confidence rates how well a discovery trace covers a sub-question. It
// penalizes sparse evidence and evidence concentrated on a single entity:
//
//	sparsity  = min(1, n/minEvidence)
//	dominance = (HHI - 1/n) / (1 - 1/n), HHI = sum of squared score shares
//	conf      = sparsity * (1 - dominanceWeight*dominance)
//
// A single item counts as fully dominant; no evidence has confidence 0.
func Confidence(evidence []common.EvidenceItem, minEvidence int, dominanceWeight float64) float64 {
	n := len(evidence)
	if n == 0 {
		return 0
	}
	sparsity := math.Min(1, float64(n)/float64(max(1, minEvidence)))

	dominance := 1.0
	if n > 1 {
		var total float64
		for _, e := range evidence {
			total += math.Max(0, e.Score)
		}
		if total <= 0 {
			dominance = 0
		} else {
			var hhi float64
			for _, e := range evidence {
				p := math.Max(0, e.Score) / total
				hhi += p * p
			}
			inv := 1 / float64(n)
			dominance = clamp01((hhi - inv) / (1 - inv))
		}
	}

	return clamp01(sparsity * (1 - dominanceWeight*dominance))
}

// DecompositionResult is the consolidated outcome of the confidence loop.
type DecompositionResult struct {
	SubQuestions []common.SubQuestion
	Seeds        []common.Seed
	Degradations []Degradation
}

// QueryDecomposer splits a query into sub-questions, runs a discovery trace
// per sub-question and re-decomposes the thin ones. Every sub-question moves
// through DECOMPOSED, DISCOVERY_TRACED, CONFIDENT or THIN, optionally
// RE_DECOMPOSED, and ends CONSOLIDATED. Each re-decomposition raises
// Attempts, and nothing past MaxRedecompositions is re-decomposed, so the
// loop runs at most MaxRedecompositions+1 rounds.
type QueryDecomposer struct {
	llm      ai.LLMClient
	resolver *SeedResolver
	engine   *BeamTraversalEngine
	cfg      Config
}

func NewQueryDecomposer(llm ai.LLMClient, resolver *SeedResolver, engine *BeamTraversalEngine, cfg Config) *QueryDecomposer {
	return &QueryDecomposer{llm: llm, resolver: resolver, engine: engine, cfg: cfg}
}

// Decompose splits query into sub-questions in the DECOMPOSED state. When
// the model fails or returns nothing usable the query itself is the only
// sub-question.
func (d *QueryDecomposer) Decompose(ctx context.Context, query string) []common.SubQuestion {
	subs, _ := d.decompose(ctx, query)
	return subs
}

func (d *QueryDecomposer) decompose(ctx context.Context, query string) ([]common.SubQuestion, bool) {
	texts, err := d.split(ctx, query)
	failed := err != nil || len(texts) == 0
	if failed {
		logger.Warn("[Decompose] decomposition failed, using the query as a single sub-question", "err", err)
		texts = []string{query}
	}

	subs := make([]common.SubQuestion, len(texts))
	for i, text := range texts {
		subs[i] = common.SubQuestion{Text: text, State: common.StateDecomposed}
	}
	return subs, failed
}

func (d *QueryDecomposer) Run(ctx context.Context, tenant, query string) DecompositionResult {
	tracer := tracerFrom(ctx)
	var deg degradations

	pending, failed := d.decompose(ctx, query)
	if failed {
		deg.add(DegradeDecompositionFailure)
		RecordDegradation(tracer, DegradeDecompositionFailure)
	}

	var (
		done      []common.SubQuestion
		abandoned []common.Seed
	)
	for round := 0; len(pending) > 0; round++ {
		profile := d.cfg.DiscoveryBeam
		if round > 0 {
			profile = d.cfg.RefinementBeam
		}
		d.discoverAll(ctx, tenant, pending, profile)

		var next []common.SubQuestion
		for _, sq := range pending {
			if sq.State == common.StateConfident || sq.Attempts >= d.cfg.MaxRedecompositions {
				done = append(done, sq)
				continue
			}

			children, err := d.split(ctx, sq.Text)
			if err != nil || len(children) == 0 || (len(children) == 1 && strings.EqualFold(children[0], sq.Text)) {
				logger.Debug("[Decompose] thin sub-question could not be split further", "text", sq.Text, "err", err)
				done = append(done, sq)
				continue
			}

			sq.State = common.StateReDecomposed
			RecordSubQuestion(tracer, sq)
			abandoned = append(abandoned, sq.Seeds...)
			for _, text := range children {
				next = append(next, common.SubQuestion{
					Text:     text,
					State:    common.StateDecomposed,
					Attempts: sq.Attempts + 1,
				})
			}
		}
		pending = next
	}

	result := DecompositionResult{SubQuestions: make([]common.SubQuestion, len(done))}
	pool := append([]common.Seed(nil), abandoned...)
	for i, sq := range done {
		if sq.State == common.StateThin {
			logger.Info("[Decompose] proceeding with thin sub-question", "text", sq.Text, "confidence", sq.Confidence)
			deg.add(DegradeThinSubQuestion)
			RecordDegradation(tracer, DegradeThinSubQuestion)
		}
		sq.State = common.StateConsolidated
		pool = append(pool, sq.Seeds...)
		result.SubQuestions[i] = sq
		RecordSubQuestion(tracer, sq)
	}
	result.Seeds = consolidateSeeds(pool)
	result.Degradations = deg
	return result
}

func (d *QueryDecomposer) split(ctx context.Context, query string) ([]string, error) {
	parts, err := d.llm.Decompose(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	if d.cfg.MaxSubQuestions > 0 && len(out) > d.cfg.MaxSubQuestions {
		out = out[:d.cfg.MaxSubQuestions]
	}
	return out, nil
}

// discoverAll runs the discovery traces of all pending sub-questions
// concurrently. Each goroutine owns one element of sqs.
func (d *QueryDecomposer) discoverAll(ctx context.Context, tenant string, sqs []common.SubQuestion, profile BeamProfile) {
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Parallelism)
	for i := range sqs {
		g.Go(func() error {
			d.discover(ctx, tenant, &sqs[i], profile)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *QueryDecomposer) discover(ctx context.Context, tenant string, sq *common.SubQuestion, profile BeamProfile) {
	if d.cfg.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DiscoveryTimeout)
		defer cancel()
	}

	mentions, embedding, extractErr, embedErr := extractAndEmbed(ctx, d.llm, sq.Text)
	if extractErr != nil || embedErr != nil {
		logger.Debug("[Decompose] sub-question understanding degraded", "text", sq.Text,
			"extract_err", extractErr, "embed_err", embedErr)
	}

	seeds, err := d.resolver.Resolve(ctx, tenant, mentions, embedding)
	if err != nil {
		logger.Warn("[Decompose] seed resolution failed", "text", sq.Text, "err", err)
	}
	trace := d.engine.Trace(ctx, tenant, seeds, embedding, TraceOptions{Profile: profile, Standalone: true})

	sq.Seeds = seeds
	sq.Evidence = trace.Evidence
	sq.State = common.StateDiscoveryTraced
	sq.Confidence = Confidence(trace.Evidence, d.cfg.MinEvidence, d.cfg.DominanceWeight)

	switch {
	case ctx.Err() != nil:
		logger.Debug("[Decompose] discovery trace timed out", "text", sq.Text)
		sq.State = common.StateThin
	case sq.Confidence >= d.cfg.ConfidenceFloor:
		sq.State = common.StateConfident
	default:
		sq.State = common.StateThin
	}
}

// extractAndEmbed runs entity extraction and embedding concurrently. The
// two calls fail independently and a failure leaves its result empty.
func extractAndEmbed(ctx context.Context, llm ai.LLMClient, text string) (mentions []string, embedding []float32, extractErr, embedErr error) {
	g := new(errgroup.Group)
	g.Go(func() error {
		mentions, extractErr = llm.ExtractEntities(ctx, text)
		return nil
	})
	g.Go(func() error {
		embedding, embedErr = llm.Embed(ctx, text)
		return nil
	})
	_ = g.Wait()
	if extractErr != nil {
		mentions = nil
	}
	if embedErr != nil {
		embedding = nil
	}
	return mentions, embedding, extractErr, embedErr
}

// consolidateSeeds merges seed sets, keeping the highest weight per entity.
func consolidateSeeds(seeds []common.Seed) []common.Seed {
	best := make(map[string]common.Seed, len(seeds))
	for _, s := range seeds {
		if cur, ok := best[s.EntityID]; !ok || s.Weight > cur.Weight {
			best[s.EntityID] = s
		}
	}
	out := make([]common.Seed, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sortSeeds(out)
	return out
}
