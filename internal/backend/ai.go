package backend

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	oai "github.com/OFFIS-RIT/kiwi-query/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kiwi-query/pkg/ai/openai"
)

// NewAIClient creates the model backend named by AI_ADAPTER. OpenAI
// compatible endpoints are the default.
func NewAIClient() (ai.GraphAIClient, error) {
	switch adapter := util.GetEnvString("AI_ADAPTER", "openai"); adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   util.GetEnvInt("AI_EMBED_DIM", 0),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 2)),
		})
		if err != nil {
			return nil, fmt.Errorf("could not create Ollama client: %w", err)
		}
		return client, nil
	case "openai":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   util.GetEnvInt("AI_EMBED_DIM", 0),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 8)),
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

// NewQueryClient puts rate limiting, timeouts and retries in front of
// client.
func NewQueryClient(client ai.GraphAIClient) *ai.QueryClient {
	backoff := util.DefaultBackoff()
	backoff.MaxAttempts = util.GetEnvInt("AI_MAX_ATTEMPTS", backoff.MaxAttempts)

	return ai.NewQueryClient(ai.NewQueryClientParams{
		Client:            client,
		Timeout:           util.GetEnvDuration("AI_TIMEOUT", 30*time.Second),
		Backoff:           backoff,
		RequestsPerSecond: util.GetEnvNumeric("AI_RPS", 0),
		Burst:             util.GetEnvInt("AI_BURST", 4),
		MaxSubQuestions:   util.GetEnvInt("AI_MAX_SUB_QUESTIONS", 4),
		ExtractionModel:   util.GetEnv("AI_EXTRACT_MODEL"),
		SynthesisModel:    util.GetEnv("AI_SYNTH_MODEL"),
		SynthesisThinking: util.GetEnv("AI_SYNTH_THINKING"),
	})
}
