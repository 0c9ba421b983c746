package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/domain"
	"github.com/sabowaryan/personacraft/llm"
	"github.com/sabowaryan/personacraft/scheduler"
	"github.com/sabowaryan/personacraft/taste"
	"github.com/sabowaryan/personacraft/types"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: types.NewAssistantMessage(f.content)}}}, nil
}
func (f *fakeProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (f *fakeProvider) Name() string                                          { return "fake" }
func (f *fakeProvider) SupportsNativeFunctionCalling() bool                   { return false }
func (f *fakeProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func newTasteServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/entities":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			cat, _ := req["category"].(string)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"entities": []map[string]any{
					{"id": cat + "-1", "name": "Entity One", "confidence": 0.9},
					{"id": cat + "-2", "name": "Entity Two", "confidence": 0.7},
				},
			})
		case "/v1/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

const validDraftJSON = `{"name":"Alex","demographics":{"age_range":"25-34"},` +
	`"psychographics":{"values":["curiosity"],"motivations":["growth"]},` +
	`"communication":{"tone":"friendly"},"marketing":{"recommended_cta":"Join"},"confidence":0.75}`

func newOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, func()) {
	t.Helper()
	server := newTasteServer(t)

	sched := scheduler.New(scheduler.DefaultConfig(), zap.NewNop())
	tasteAdapter := taste.New(taste.Config{BaseURL: server.URL, APIKey: "k"}, zap.NewNop())
	llmAdapter := llm.NewPersonaAdapter(provider, "test-model")

	cfg := DefaultConfig()
	cfg.InterPersonaDelay = time.Millisecond
	o := New(sched, tasteAdapter, llmAdapter, cfg, zap.NewNop())

	return o, func() {
		server.Close()
		sched.Cleanup()
	}
}

func TestOrchestrator_Generate_HappyPath(t *testing.T) {
	o, cleanup := newOrchestrator(t, &fakeProvider{content: validDraftJSON})
	defer cleanup()

	brief := domain.Brief{
		Description: "An adventurous traveler who loves discovering new cuisines.",
		Interests:   []string{"travel", "food"},
		Values:      []string{"curiosity"},
		AgeRange:    domain.Age25To34,
		Count:       2,
	}

	result, err := o.Generate(context.Background(), brief)
	require.NoError(t, err)
	require.Len(t, result.Personas, 2)

	for _, p := range result.Personas {
		assert.Equal(t, "Alex", p.Draft.Name)
		assert.NotNil(t, p.Insights)
		assert.False(t, p.Metadata.GeneratedAt.IsZero())
	}
}

func TestOrchestrator_Generate_InvalidBriefRejected(t *testing.T) {
	o, cleanup := newOrchestrator(t, &fakeProvider{content: validDraftJSON})
	defer cleanup()

	_, err := o.Generate(context.Background(), domain.Brief{Description: "too short"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestOrchestrator_Generate_LLMFailureFallsBackToFallbackInsightsOrFails(t *testing.T) {
	o, cleanup := newOrchestrator(t, &fakeProvider{err: types.NewError(types.ErrUpstream5xx, "down")})
	defer cleanup()

	brief := domain.Brief{
		Description: "An adventurous traveler who loves discovering new cuisines.",
		Interests:   []string{"travel"},
		Values:      []string{"curiosity"},
		AgeRange:    domain.Age25To34,
		Count:       1,
	}

	_, err := o.Generate(context.Background(), brief)
	require.Error(t, err)
}

func TestOrchestrator_Generate_CorrectiveReprompt(t *testing.T) {
	calls := 0
	incomplete := `{"name":"","demographics":{},"psychographics":{},"communication":{},"marketing":{},"confidence":0.2}`

	provider := &sequenceProvider{responses: []string{incomplete, validDraftJSON}, calls: &calls}
	o, cleanup := newOrchestrator(t, provider)
	defer cleanup()

	brief := domain.Brief{
		Description: "An adventurous traveler who loves discovering new cuisines.",
		Interests:   []string{"travel"},
		Values:      []string{"curiosity"},
		AgeRange:    domain.Age25To34,
		Count:       1,
	}

	result, err := o.Generate(context.Background(), brief)
	require.NoError(t, err)
	require.Len(t, result.Personas, 1)
	assert.Equal(t, "Alex", result.Personas[0].Draft.Name)
	assert.Equal(t, 1, result.Personas[0].Metadata.LLMRetries)
	assert.Equal(t, 2, calls)
}

type sequenceProvider struct {
	responses []string
	calls     *int
}

func (s *sequenceProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	idx := *s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	*s.calls++
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: types.NewAssistantMessage(s.responses[idx])}}}, nil
}
func (s *sequenceProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}
func (s *sequenceProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (s *sequenceProvider) Name() string                                        { return "fake-seq" }
func (s *sequenceProvider) SupportsNativeFunctionCalling() bool                 { return false }
func (s *sequenceProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }
