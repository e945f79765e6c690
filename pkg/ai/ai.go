package ai

import (
	"context"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add accumulates other into m and recomputes the throughput.
func (m *ModelMetrics) Add(other ModelMetrics) {
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.TotalTokens += other.TotalTokens
	m.DurationMs += other.DurationMs

	if m.DurationMs > 0 {
		tps := (float64(m.TotalTokens) * 1000.0) / float64(m.DurationMs)
		m.TokenPerSecond = float32(int(tps*100)) / 100
	}
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// GraphAIClient is the model backend used by the query path: plain and
// schema-constrained completions plus embeddings.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	// GetMetrics returns the accumulated usage. It never decreases.
	GetMetrics() ModelMetrics
}

// ResponseMode controls the verbosity of the synthesized answer.
type ResponseMode string

const (
	ResponseConcise  ResponseMode = "concise"
	ResponseDetailed ResponseMode = "detailed"
	ResponseBulleted ResponseMode = "bulleted"
)

func (m ResponseMode) instruction() string {
	switch m {
	case ResponseDetailed:
		return detailedPrompt
	case ResponseBulleted:
		return bulletedPrompt
	default:
		return concisePrompt
	}
}

// LLMClient is the set of model calls the retrieval pipeline makes.
type LLMClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ExtractEntities(ctx context.Context, text string) ([]string, error)
	Decompose(ctx context.Context, query string) ([]string, error)
	Synthesize(ctx context.Context, sources string, query string, mode ResponseMode) (string, error)
	EstimateComplexity(ctx context.Context, query string) (float64, error)
}
