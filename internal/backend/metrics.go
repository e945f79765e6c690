package backend

import (
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterModelMetrics exports the usage counters the model client keeps
// itself. The values are read on every scrape.
func RegisterModelMetrics(reg prometheus.Registerer, client ai.GraphAIClient) error {
	counters := []struct {
		name, help string
		value      func(ai.ModelMetrics) float64
	}{
		{
			name:  "model_input_tokens_total",
			help:  "Prompt tokens sent to the model backend.",
			value: func(m ai.ModelMetrics) float64 { return float64(m.InputTokens) },
		},
		{
			name:  "model_output_tokens_total",
			help:  "Completion tokens returned by the model backend.",
			value: func(m ai.ModelMetrics) float64 { return float64(m.OutputTokens) },
		},
		{
			name:  "model_request_seconds_total",
			help:  "Time spent waiting for the model backend.",
			value: func(m ai.ModelMetrics) float64 { return float64(m.DurationMs) / 1000 },
		},
	}

	for _, c := range counters {
		value := c.value
		err := reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "kiwiq",
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return value(client.GetMetrics()) }))
		if err != nil {
			return err
		}
	}
	return nil
}
