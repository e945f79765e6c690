package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"

	"golang.org/x/time/rate"
)

// QueryClient implements LLMClient on top of a GraphAIClient. Every call is
// rate limited, bounded by a per-call timeout and retried with exponential
// backoff.
//
// A QueryClient should be created using NewQueryClient.
type QueryClient struct {
	client          GraphAIClient
	limiter         *rate.Limiter
	timeout         time.Duration
	backoff         util.Backoff
	maxSubQuestions int
	extractionOpts  []GenerateOption
	synthesisOpts   []GenerateOption
}

// NewQueryClientParams configures a QueryClient.
//
// RequestsPerSecond <= 0 disables rate limiting. ExtractionModel and
// SynthesisModel override the backend defaults when set. SynthesisThinking
// is passed to the backend as reasoning effort (openai) or think level
// (ollama) for synthesis only.
type NewQueryClientParams struct {
	Client GraphAIClient

	Timeout           time.Duration
	Backoff           util.Backoff
	RequestsPerSecond float64
	Burst             int
	MaxSubQuestions   int

	ExtractionModel   string
	SynthesisModel    string
	SynthesisThinking string
}

func NewQueryClient(params NewQueryClientParams) *QueryClient {
	limit := rate.Inf
	if params.RequestsPerSecond > 0 {
		limit = rate.Limit(params.RequestsPerSecond)
	}
	burst := params.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := params.Backoff
	if backoff.MaxAttempts <= 0 {
		backoff = util.DefaultBackoff()
	}
	maxSub := params.MaxSubQuestions
	if maxSub < 2 {
		maxSub = 4
	}

	qc := &QueryClient{
		client:          params.Client,
		limiter:         rate.NewLimiter(limit, burst),
		timeout:         timeout,
		backoff:         backoff,
		maxSubQuestions: maxSub,
	}
	if params.ExtractionModel != "" {
		qc.extractionOpts = append(qc.extractionOpts, WithModel(params.ExtractionModel))
	}
	if params.SynthesisModel != "" {
		qc.synthesisOpts = append(qc.synthesisOpts, WithModel(params.SynthesisModel))
	}
	if params.SynthesisThinking != "" {
		qc.synthesisOpts = append(qc.synthesisOpts, WithThinking(params.SynthesisThinking))
	}
	return qc
}

func call[T any](ctx context.Context, c *QueryClient, op string, fn func(context.Context) (T, error)) (T, error) {
	return util.RetryWithBackoff(ctx, c.backoff, func(ctx context.Context) (T, error) {
		var zero T
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out, err := fn(attemptCtx)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			// the attempt timed out but the caller is still waiting, so retry
			logger.Debug("[AI] Call timed out", "op", op, "timeout", c.timeout)
			return zero, fmt.Errorf("%s timed out after %s", op, c.timeout)
		}
		return out, err
	})
}

// Embed returns the embedding of text.
func (c *QueryClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, c, "embed", func(ctx context.Context) ([]float32, error) {
		vec, err := c.client.GenerateEmbedding(ctx, []byte(text))
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, errors.New("empty embedding returned")
		}
		return vec, nil
	})
}

type extractedEntities struct {
	Entities []string `json:"entities" jsonschema:"description=Entity mentions copied verbatim from the question"`
}

// ExtractEntities returns the entity mentions found in text, trimmed and
// deduplicated case-insensitively.
func (c *QueryClient) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf(ExtractEntitiesPrompt, text)
	res, err := call(ctx, c, "extract_entities", func(ctx context.Context) (extractedEntities, error) {
		var out extractedEntities
		err := c.client.GenerateCompletionWithFormat(
			ctx,
			"entity_mentions",
			"Entity mentions found in a question",
			prompt,
			&out,
			c.extractionOpts...,
		)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return dedupeMentions(res.Entities), nil
}

type decomposition struct {
	SubQuestions []string `json:"sub_questions" jsonschema:"description=Self-contained sub-questions"`
}

// Decompose splits query into sub-questions. Blank entries are dropped and
// the result is capped at the configured maximum.
func (c *QueryClient) Decompose(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf(DecomposePrompt, query, c.maxSubQuestions)
	res, err := call(ctx, c, "decompose", func(ctx context.Context) (decomposition, error) {
		var out decomposition
		err := c.client.GenerateCompletionWithFormat(
			ctx,
			"query_decomposition",
			"Sub-questions of a complex question",
			prompt,
			&out,
			c.extractionOpts...,
		)
		return out, err
	})
	if err != nil {
		return nil, err
	}

	subs := make([]string, 0, len(res.SubQuestions))
	for _, s := range res.SubQuestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		subs = append(subs, s)
		if len(subs) == c.maxSubQuestions {
			break
		}
	}
	return subs, nil
}

// Synthesize generates the final answer for query from the rendered context.
func (c *QueryClient) Synthesize(ctx context.Context, sources string, query string, mode ResponseMode) (string, error) {
	prompt := fmt.Sprintf(SynthesisPrompt, sources, query, mode.instruction())
	return call(ctx, c, "synthesize", func(ctx context.Context) (string, error) {
		answer, err := c.client.GenerateCompletion(ctx, prompt, c.synthesisOpts...)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(answer) == "" {
			return "", errors.New("empty answer returned")
		}
		return answer, nil
	})
}

type complexityEstimate struct {
	Complexity float64 `json:"complexity" jsonschema:"minimum=0,maximum=1"`
}

// EstimateComplexity returns the model's complexity rating of query,
// clamped to [0, 1].
func (c *QueryClient) EstimateComplexity(ctx context.Context, query string) (float64, error) {
	prompt := fmt.Sprintf(ComplexityPrompt, query)
	res, err := call(ctx, c, "estimate_complexity", func(ctx context.Context) (complexityEstimate, error) {
		var out complexityEstimate
		err := c.client.GenerateCompletionWithFormat(
			ctx,
			"complexity_estimate",
			"Complexity rating of a question",
			prompt,
			&out,
			c.extractionOpts...,
		)
		return out, err
	})
	if err != nil {
		return 0, err
	}
	if math.IsNaN(res.Complexity) {
		return 0, errors.New("complexity estimate is not a number")
	}
	return math.Min(1, math.Max(0, res.Complexity)), nil
}

func dedupeMentions(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(strings.Trim(strings.TrimSpace(m), `"'`))
		if m == "" {
			continue
		}
		key := strings.ToLower(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}
