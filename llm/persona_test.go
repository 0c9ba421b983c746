package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabowaryan/personacraft/domain"
	"github.com/sabowaryan/personacraft/internal/ctxkeys"
	"github.com/sabowaryan/personacraft/types"
)

type fakeProvider struct {
	name       string
	content    string
	err        error
	healthy    bool
	healthErr  error
	lastReq    *ChatRequest
}

func (f *fakeProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{
		Choices: []ChatChoice{{Message: types.NewAssistantMessage(f.content)}},
	}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &HealthStatus{Healthy: f.healthy}, nil
}

func (f *fakeProvider) Name() string                         { return f.name }
func (f *fakeProvider) SupportsNativeFunctionCalling() bool   { return false }
func (f *fakeProvider) ListModels(ctx context.Context) ([]Model, error) { return nil, nil }

func TestPersonaAdapter_Generate_ParsesJSONDraft(t *testing.T) {
	content := `Sure, here you go: {"name":"Alex","demographics":{"age_range":"25-34","gender":"nonbinary"},` +
		`"psychographics":{"values":["curiosity"],"motivations":["growth"]},` +
		`"communication":{"tone":"friendly","preferred_channels":["email"]},` +
		`"marketing":{"recommended_cta":"Sign up"},"confidence":0.8}`

	p := &fakeProvider{name: "fake", content: content}
	adapter := NewPersonaAdapter(p, "test-model")

	brief := domain.Brief{Description: "desc", AgeRange: domain.Age25To34}
	draft, err := adapter.Generate(context.Background(), brief, nil, "")
	require.NoError(t, err)

	assert.Equal(t, "Alex", draft.Name)
	assert.Equal(t, domain.AgeRange("25-34"), draft.Demographics.AgeRange)
	assert.Equal(t, []string{"curiosity"}, draft.Psychographics.Values)
	assert.Equal(t, "friendly", draft.Communication.Tone)
	assert.Equal(t, "Sign up", draft.Marketing.RecommendedCTA)
	assert.Equal(t, 0.8, draft.Confidence)
}

func TestPersonaAdapter_Generate_HonorsLLMModelOverride(t *testing.T) {
	content := `{"name":"Alex","demographics":{"age_range":"25-34"},` +
		`"psychographics":{"values":["curiosity"]},"communication":{},"marketing":{},"confidence":0.5}`

	p := &fakeProvider{name: "fake", content: content}
	adapter := NewPersonaAdapter(p, "default-model")

	brief := domain.Brief{Description: "desc", AgeRange: domain.Age25To34}
	ctx := ctxkeys.WithLLMModel(context.Background(), "override-model")
	_, err := adapter.Generate(ctx, brief, nil, "")
	require.NoError(t, err)

	require.NotNil(t, p.lastReq)
	assert.Equal(t, "override-model", p.lastReq.Model)
}

func TestPersonaAdapter_Generate_NoJSONIsParseInvalid(t *testing.T) {
	p := &fakeProvider{name: "fake", content: "no json here"}
	adapter := NewPersonaAdapter(p, "test-model")

	_, err := adapter.Generate(context.Background(), domain.Brief{}, nil, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrParseInvalid, types.GetErrorCode(err))
}

func TestPersonaAdapter_Generate_TranslatesProviderError(t *testing.T) {
	p := &fakeProvider{name: "fake", err: types.NewError(ErrRateLimit, "slow down")}
	adapter := NewPersonaAdapter(p, "test-model")

	_, err := adapter.Generate(context.Background(), domain.Brief{}, nil, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
}

func TestPersonaAdapter_HealthCheck(t *testing.T) {
	healthy := &fakeProvider{name: "fake", healthy: true}
	adapter := NewPersonaAdapter(healthy, "m")
	assert.NoError(t, adapter.HealthCheck(context.Background()))

	unhealthy := &fakeProvider{name: "fake", healthy: false}
	adapter = NewPersonaAdapter(unhealthy, "m")
	assert.Error(t, adapter.HealthCheck(context.Background()))
}

func TestBuildPersonaPrompt_IncludesCorrectionHint(t *testing.T) {
	prompt := buildPersonaPrompt(domain.Brief{Description: "desc"}, nil, "fix the tone field")
	assert.Contains(t, prompt, "fix the tone field")
}
