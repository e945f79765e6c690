package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi-query/internal/backend"
	"github.com/OFFIS-RIT/kiwi-query/internal/config"
	mid "github.com/OFFIS-RIT/kiwi-query/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi-query/pkg/ai"
	"github.com/OFFIS-RIT/kiwi-query/pkg/common"
	"github.com/OFFIS-RIT/kiwi-query/pkg/query"
	"github.com/OFFIS-RIT/kiwi-query/pkg/store/memory"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	synthErr error
}

func (stubLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubLLM) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	return []string{"Acme Corp"}, nil
}

func (stubLLM) Decompose(ctx context.Context, q string) ([]string, error) {
	return []string{q}, nil
}

func (s stubLLM) Synthesize(ctx context.Context, sources, q string, mode ai.ResponseMode) (string, error) {
	if s.synthErr != nil {
		return "", s.synthErr
	}
	return "Acme builds anvils [1].", nil
}

func (stubLLM) EstimateComplexity(ctx context.Context, q string) (float64, error) {
	return 0.5, nil
}

type testServer struct {
	e   *echo.Echo
	reg *prometheus.Registry
}

func newTestServer(t *testing.T, llm ai.LLMClient, apiKey string) *testServer {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.AddTenant("acme", memory.Graph{
		Entities: []common.Entity{
			{ID: "acme", Name: "Acme Corp", Embedding: []float32{1, 0}},
			{ID: "globex", Name: "Globex", Embedding: []float32{0, 1}},
		},
		Edges: []common.Edge{{SourceID: "acme", TargetID: "globex", Weight: 0.5}},
		Chunks: []common.Chunk{
			{ID: "c1", Text: "Acme builds anvils.", DocTitle: "Catalog", EntityIDs: []string{"acme"}},
		},
	}))

	settings, err := config.Parse(strings.NewReader("defaults:\n  encoding: no_such_encoding\n"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := query.NewMetrics(reg)
	factory := backend.NewPipelineFactory(backend.FactoryParams{
		Store:    s,
		LLM:      llm,
		Settings: settings,
		Metrics:  metrics,
	})
	app := &mid.App{
		Pipelines: query.NewPipelineCache(factory, metrics),
		APIKey:    apiKey,
	}
	return &testServer{e: New(app, reg), reg: reg}
}

func (ts *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

type answerBody struct {
	Message string        `json:"message"`
	Data    *query.Answer `json:"data"`
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, stubLLM{}, "")
	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestQuery(t *testing.T) {
	ts := newTestServer(t, stubLLM{}, "")

	rec := ts.do(http.MethodPost, "/api/tenants/acme/query", `{"query": "Who is Acme Corp?", "mode": "detailed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body answerBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Data)
	assert.False(t, body.Data.NotFound)
	assert.NotEmpty(t, body.Data.RequestID)
	require.Len(t, body.Data.Citations, 1)
	assert.Equal(t, "c1", body.Data.Citations[0].ChunkID)
	assert.Contains(t, body.Data.Trace.UsedChunkIDs, "c1")

	metrics := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "kiwiq_query_requests_total")
}

func TestQuery_RouteOverride(t *testing.T) {
	ts := newTestServer(t, stubLLM{}, "")

	rec := ts.do(http.MethodPost, "/api/tenants/acme/query", `{"query": "Who is Acme Corp?", "route": "local"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body answerBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, query.RouteLocal, body.Data.Route)
}

func TestQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		llm  stubLLM
		body string
		want int
	}{
		{name: "missing query", body: `{}`, want: http.StatusBadRequest},
		{name: "blank query", body: `{"query": "   "}`, want: http.StatusBadRequest},
		{name: "unknown route", body: `{"query": "q", "route": "sideways"}`, want: http.StatusBadRequest},
		{name: "unknown mode", body: `{"query": "q", "mode": "poetic"}`, want: http.StatusBadRequest},
		{name: "unknown profile", body: `{"query": "q", "profile": "strict"}`, want: http.StatusBadRequest},
		{name: "malformed json", body: `{"query": `, want: http.StatusBadRequest},
		{
			name: "synthesis failure",
			llm:  stubLLM{synthErr: errors.New("model overloaded")},
			body: `{"query": "Who is Acme Corp?"}`,
			want: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.llm, "")
			rec := ts.do(http.MethodPost, "/api/tenants/acme/query", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestClassify(t *testing.T) {
	ts := newTestServer(t, stubLLM{}, "")

	rec := ts.do(http.MethodPost, "/api/tenants/acme/classify", `{"query": "Who is Acme Corp?", "profile": "high_assurance"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Profile string               `json:"profile"`
		Data    query.Classification `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "high_assurance", body.Profile)
	assert.NotEqual(t, query.RouteSimpleLookup, body.Data.Route)
}

func TestAPIKey(t *testing.T) {
	ts := newTestServer(t, stubLLM{}, "secret")
	body := `{"query": "Who is Acme Corp?"}`

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/tenants/acme/query", body).Code)
	assert.Equal(t, http.StatusUnauthorized,
		ts.do(http.MethodPost, "/api/tenants/acme/query", body, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK,
		ts.do(http.MethodPost, "/api/tenants/acme/query", body, "Authorization", "Bearer secret").Code)

	// health and metrics stay public
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "").Code)
}

func TestInvalidatePipelines(t *testing.T) {
	ts := newTestServer(t, stubLLM{}, "")

	require.Equal(t, http.StatusOK,
		ts.do(http.MethodPost, "/api/tenants/acme/classify", `{"query": "Who is Acme Corp?"}`).Code)
	rec := ts.do(http.MethodDelete, "/api/tenants/acme/pipelines", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusOK,
		ts.do(http.MethodPost, "/api/tenants/acme/classify", `{"query": "Who is Acme Corp?"}`).Code)

	metrics := ts.do(http.MethodGet, "/metrics", "")
	assert.Contains(t, metrics.Body.String(), "kiwiq_pipeline_cache_builds_total 2")
}
