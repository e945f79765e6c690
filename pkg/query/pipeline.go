package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NotFoundAnswer is returned verbatim whenever no evidence could be
// assembled.
const NotFoundAnswer = "I could not find any information in the knowledge base to answer this question."

type Request struct {
	Query         string          `json:"query"`
	TenantID      string          `json:"tenant_id"`
	RouteOverride *Route          `json:"route_override,omitempty"`
	ResponseMode  ai.ResponseMode `json:"response_mode,omitempty"`
}

// Citation maps a citation marker in the answer text to its chunk.
type Citation struct {
	Index    int    `json:"index"`
	ChunkID  string `json:"chunk_id"`
	Document string `json:"document"`
}

type Answer struct {
	RequestID      string               `json:"request_id"`
	Text           string               `json:"text"`
	Route          Route                `json:"route"`
	Classification Classification       `json:"classification"`
	NotFound       bool                 `json:"not_found"`
	Citations      []Citation           `json:"citations,omitempty"`
	Context        common.CitedContext  `json:"context"`
	SubQuestions   []common.SubQuestion `json:"sub_questions,omitempty"`
	Trace          QueryTraceSnapshot   `json:"trace"`
	Degraded       []Degradation        `json:"degraded,omitempty"`
}

// Pipeline routes a query, retrieves evidence for the chosen route,
// assembles it and hands it to synthesis. A Pipeline is immutable and safe
// for concurrent use.
type Pipeline struct {
	cfg       Config
	profile   Profile
	llm       ai.LLMClient
	router    *Router
	registry  *Registry
	assembler *ContextAssembler
	metrics   *Metrics
	tracer    Tracer
	otel      oteltrace.Tracer
}

// PipelineParams configures a Pipeline. Metrics and Tracer are optional;
// TokenCounter defaults to the tiktoken encoding named in Config.
type PipelineParams struct {
	Store             store.GraphStore
	LLM               ai.LLMClient
	Config            Config
	Profile           Profile
	TokenCounter      TokenCounter
	Metrics           *Metrics
	Tracer            Tracer
	DisableRefinement bool
}

func NewPipeline(params PipelineParams) (*Pipeline, error) {
	if params.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if params.LLM == nil {
		return nil, errors.New("pipeline: llm client is required")
	}
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if err := params.Profile.Validate(); err != nil {
		return nil, err
	}

	cfg := params.Config
	profile := params.Profile
	if profile.Name == "" {
		profile = DefaultProfile()
	}

	var refiner ComplexityRefiner
	if !params.DisableRefinement {
		refiner = params.LLM
	}

	resolver := NewSeedResolver(params.Store, cfg)
	engine := NewBeamTraversalEngine(params.Store, cfg)
	decomposer := NewQueryDecomposer(params.LLM, resolver, engine, cfg)

	return &Pipeline{
		cfg:     cfg,
		profile: profile,
		llm:     params.LLM,
		router:  NewRouter(cfg, refiner),
		registry: NewRegistry(
			NewSimpleLookupHandler(resolver, cfg),
			NewLocalHandler(resolver, engine, cfg),
			NewGlobalHandler(params.Store, resolver, cfg),
			NewDriftHandler(decomposer, resolver, engine, cfg),
		),
		assembler: NewContextAssembler(params.Store, cfg, params.TokenCounter),
		metrics:   params.Metrics,
		tracer:    params.Tracer,
		otel:      otel.Tracer("github.com/OFFIS-RIT/kiwi-query/pkg/query"),
	}, nil
}

func (p *Pipeline) Profile() Profile { return p.profile }

// Classify routes query under the pipeline's profile without retrieving
// anything.
func (p *Pipeline) Classify(ctx context.Context, query string) (Classification, error) {
	return p.router.Classify(ctx, query, p.profile)
}

// Execute answers a query. Only an invalid request, a cancelled context or
// a failed synthesis call return an error; every other failure degrades
// the answer and is listed in Answer.Degraded.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Answer, error) {
	query := util.NormalizeQueryText(req.Query)
	tenant := strings.TrimSpace(req.TenantID)
	if query == "" || tenant == "" {
		return nil, ErrInvalidQuery
	}

	requestID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}

	// a tracer already on ctx belongs to the caller and keeps receiving events
	qt := NewQueryTrace()
	tracer := MultiTracer{qt, p.tracer, tracerFrom(ctx)}
	ctx = WithTracer(ctx, tracer)

	ctx, span := p.otel.Start(ctx, "query.execute", oteltrace.WithAttributes(
		attribute.String("query.request_id", requestID),
		attribute.String("query.tenant", tenant),
		attribute.String("query.profile", p.profile.Name),
	))
	defer span.End()

	answer := &Answer{RequestID: requestID}
	var deg degradations

	start := time.Now()
	if req.RouteOverride != nil {
		route, err := ParseRoute(string(*req.RouteOverride))
		if err != nil {
			return nil, err
		}
		answer.Classification = Classification{Route: route, Heuristic: route}
	} else {
		answer.Classification, err = p.router.Classify(ctx, query, p.profile)
		if err != nil {
			return nil, err
		}
	}
	answer.Route = answer.Classification.Route
	p.metrics.observeStage("route", start)
	RecordRoute(tracer, answer.Route)
	span.SetAttributes(attribute.String("query.route", string(answer.Route)))

	handler, err := p.registry.Handler(answer.Route)
	if err != nil {
		return nil, err
	}

	mentions, embedding := p.understand(ctx, query, &deg)

	start = time.Now()
	retrieval, err := p.retrieve(ctx, handler, RetrievalInput{
		TenantID:  tenant,
		Query:     query,
		Mentions:  mentions,
		Embedding: embedding,
	})
	p.metrics.observeStage("retrieve", start)
	if err != nil {
		p.fail(span, answer.Route, err)
		return nil, err
	}
	deg.merge(retrieval.Degradations)
	answer.SubQuestions = retrieval.SubQuestions

	start = time.Now()
	cited, err := p.assembler.Assemble(ctx, tenant, retrieval.Evidence, p.cfg.TokenBudget)
	p.metrics.observeStage("assemble", start)
	if err != nil {
		p.fail(span, answer.Route, err)
		return nil, err
	}
	if cited.Truncated {
		deg.add(DegradeContextOverflow)
		RecordDegradation(tracer, DegradeContextOverflow)
	}
	answer.Context = cited

	if cited.IsEmpty() {
		answer.NotFound = true
		answer.Text = NotFoundAnswer
		return p.finish(span, answer, qt, deg, "not_found"), nil
	}

	start = time.Now()
	text, err := p.llm.Synthesize(ctx, cited.Render(), query, req.ResponseMode)
	p.metrics.observeStage("synthesize", start)
	if err != nil {
		err = externalCall("synthesize", err)
		p.fail(span, answer.Route, err)
		return nil, err
	}

	answer.Text = util.NormalizeCitations(text)
	answer.Citations = citations(answer.Text, cited)
	return p.finish(span, answer, qt, deg, "ok"), nil
}

// understand extracts entity mentions and embeds the query, bounded by the
// stage timeout. Either failure only degrades retrieval.
func (p *Pipeline) understand(ctx context.Context, query string, deg *degradations) ([]string, []float32) {
	defer p.metrics.observeStage("understand", time.Now())
	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}

	tracer := tracerFrom(ctx)
	mentions, embedding, extractErr, embedErr := extractAndEmbed(ctx, p.llm, query)
	if extractErr != nil {
		logger.Warn("[Query] entity extraction failed", "err", extractErr)
		deg.add(DegradeExtractionFailed)
		RecordDegradation(tracer, DegradeExtractionFailed)
	}
	if embedErr != nil {
		logger.Warn("[Query] query embedding failed, scoring structurally", "err", embedErr)
		deg.add(DegradeEmbeddingUnavailable)
		RecordDegradation(tracer, DegradeEmbeddingUnavailable)
	}
	return mentions, embedding
}

// retrieve runs the route handler. A handler error that is not caused by
// the caller's context yields empty evidence.
func (p *Pipeline) retrieve(ctx context.Context, h RouteHandler, in RetrievalInput) (*Retrieval, error) {
	ctx, span := p.otel.Start(ctx, "query.retrieve", oteltrace.WithAttributes(
		attribute.String("query.route", string(h.Route())),
	))
	defer span.End()

	r, err := h.Retrieve(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error("[Query] retrieval failed", "route", h.Route(), "tenant", in.TenantID, "err", err)
		span.RecordError(err)
		return &Retrieval{Degradations: []Degradation{DegradeRetrievalFailed}}, nil
	}
	span.SetAttributes(
		attribute.Int("query.evidence", len(r.Evidence)),
		attribute.Int("query.hops", r.HopsCompleted),
	)
	return r, nil
}

func (p *Pipeline) fail(span oteltrace.Span, route Route, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.metrics.observeQuery(route, "error")
}

func (p *Pipeline) finish(span oteltrace.Span, a *Answer, qt *QueryTrace, deg degradations, outcome string) *Answer {
	a.Trace = qt.Snapshot()
	deg.merge(a.Trace.Degradations)
	a.Degraded = deg
	span.SetAttributes(
		attribute.Bool("query.not_found", a.NotFound),
		attribute.Int("query.context_tokens", a.Context.TokenCount),
	)
	p.metrics.observeQuery(a.Route, outcome)
	p.metrics.observeAnswer(a)
	logger.Debug("[Query] answered", "request", a.RequestID, "route", a.Route,
		"not_found", a.NotFound, "chunks", len(a.Context.Entries), "degraded", len(a.Degraded))
	return a
}

// citations resolves the markers in text against the context. Markers
// without a matching entry are dropped.
func citations(text string, cited common.CitedContext) []Citation {
	var out []Citation
	for _, idx := range util.CitedIndices(text) {
		id, ok := cited.ChunkID(idx)
		if !ok {
			logger.Debug("[Query] answer cites unknown source", "index", idx)
			continue
		}
		out = append(out, Citation{
			Index:    idx,
			ChunkID:  id,
			Document: cited.Entries[idx-1].Chunk.Document(),
		})
	}
	return out
}
