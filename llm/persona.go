package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sabowaryan/personacraft/domain"
	"github.com/sabowaryan/personacraft/internal/ctxkeys"
	"github.com/sabowaryan/personacraft/types"
)

// PersonaAdapter is the provider adapter for the LLM step (component H): it
// translates one domain.Brief plus domain.CulturalInsights into a single
// text-completion call and parses the structured response into a
// domain.PersonaDraft. It never retries — the scheduler does that — but it
// does classify a parse failure as retryable so the orchestrator's single
// corrective re-prompt (per §4.G/H) can run through the same Execute call.
type PersonaAdapter struct {
	provider Provider
	model    string
}

// NewPersonaAdapter wraps provider for persona-draft generation using model.
func NewPersonaAdapter(provider Provider, model string) *PersonaAdapter {
	return &PersonaAdapter{provider: provider, model: model}
}

// Name identifies this adapter to the breaker, limiter, and health monitor.
func (a *PersonaAdapter) Name() string { return "llm" }

// Endpoint is the admission-control key for persona generation.
func (a *PersonaAdapter) Endpoint() string { return "llm.persona.generate" }

// Generate performs one completion call and parses the result. When
// correctionHint is non-empty, it is appended as a system-level nudge for
// the single corrective re-prompt allowed after a ValidationFailed or
// ParseInvalid outcome.
func (a *PersonaAdapter) Generate(ctx context.Context, brief domain.Brief, insights *domain.CulturalInsights, correctionHint string) (domain.PersonaDraft, error) {
	prompt := buildPersonaPrompt(brief, insights, correctionHint)

	model := a.model
	if override, ok := ctxkeys.LLMModel(ctx); ok {
		model = override
	}

	req := &ChatRequest{
		Model: model,
		Messages: []Message{
			types.NewSystemMessage(personaSystemPrompt),
			types.NewUserMessage(prompt),
		},
		Temperature: 0.7,
		MaxTokens:   1500,
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return domain.PersonaDraft{}, translateProviderError(err, a.Name())
	}
	if len(resp.Choices) == 0 {
		return domain.PersonaDraft{}, types.NewError(types.ErrParseInvalid, "llm returned no choices").WithProvider(a.Name())
	}

	draft, err := parsePersonaDraft(resp.Choices[0].Message.Content)
	if err != nil {
		return domain.PersonaDraft{}, types.NewError(types.ErrParseInvalid, "llm response did not parse as a persona draft").
			WithCause(err).WithProvider(a.Name())
	}
	return draft, nil
}

// HealthCheck delegates to the wrapped provider's own health check.
func (a *PersonaAdapter) HealthCheck(ctx context.Context) error {
	status, err := a.provider.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy {
		return fmt.Errorf("llm provider %s reports unhealthy", a.provider.Name())
	}
	return nil
}

const personaSystemPrompt = `You are a persona-generation assistant. Given a brief and cultural ` +
	`signals, respond with a single JSON object matching the requested schema exactly. Do not ` +
	`include any prose before or after the JSON.`

func buildPersonaPrompt(brief domain.Brief, insights *domain.CulturalInsights, correctionHint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brief: %s\n", brief.Description)
	fmt.Fprintf(&b, "Interests: %s\n", strings.Join(brief.Interests, ", "))
	fmt.Fprintf(&b, "Values: %s\n", strings.Join(brief.Values, ", "))
	fmt.Fprintf(&b, "Age range: %s\n", brief.AgeRange)
	if brief.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", brief.Location)
	}
	if insights != nil {
		for cat, res := range insights.Categories {
			names := make([]string, 0, len(res.Entities))
			for _, e := range res.Entities {
				names = append(names, e.Name)
			}
			fmt.Fprintf(&b, "%s signals: %s\n", cat, strings.Join(names, ", "))
		}
	}
	b.WriteString("Respond with JSON: {\"name\":string,\"demographics\":{...},\"psychographics\":{...},")
	b.WriteString("\"communication\":{...},\"marketing\":{...},\"confidence\":number 0..1}.\n")
	if correctionHint != "" {
		fmt.Fprintf(&b, "Correction: %s\n", correctionHint)
	}
	return b.String()
}

// wireDraft mirrors the JSON schema requested in the prompt; it is kept
// separate from domain.PersonaDraft so a provider-side field rename never
// silently breaks the domain type.
type wireDraft struct {
	Name           string `json:"name"`
	Demographics   struct {
		AgeRange    string `json:"age_range"`
		Gender      string `json:"gender"`
		Income      string `json:"income"`
		Education   string `json:"education"`
		Occupation  string `json:"occupation"`
		Location    string `json:"location"`
		FamilyStage string `json:"family_stage"`
	} `json:"demographics"`
	Psychographics struct {
		Values      []string `json:"values"`
		Motivations []string `json:"motivations"`
		Lifestyle   []string `json:"lifestyle"`
		Personality []string `json:"personality"`
		PainPoints  []string `json:"pain_points"`
		Goals       []string `json:"goals"`
	} `json:"psychographics"`
	Communication struct {
		PreferredChannels []string `json:"preferred_channels"`
		Tone              string   `json:"tone"`
		ContentPreference []string `json:"content_preference"`
	} `json:"communication"`
	Marketing struct {
		Messaging           []string `json:"messaging"`
		RecommendedCTA      string   `json:"recommended_cta"`
		ObjectionsToAddress []string `json:"objections_to_address"`
	} `json:"marketing"`
	Confidence float64 `json:"confidence"`
}

// parsePersonaDraft extracts the first top-level JSON object from content
// (tolerating leading/trailing prose a less-compliant model might emit) and
// decodes it into a domain.PersonaDraft.
func parsePersonaDraft(content string) (domain.PersonaDraft, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return domain.PersonaDraft{}, fmt.Errorf("no JSON object found in response")
	}

	var w wireDraft
	if err := json.Unmarshal([]byte(content[start:end+1]), &w); err != nil {
		return domain.PersonaDraft{}, err
	}

	return domain.PersonaDraft{
		Name: w.Name,
		Demographics: domain.Demographics{
			AgeRange:    domain.AgeRange(w.Demographics.AgeRange),
			Gender:      w.Demographics.Gender,
			Income:      w.Demographics.Income,
			Education:   w.Demographics.Education,
			Occupation:  w.Demographics.Occupation,
			Location:    w.Demographics.Location,
			FamilyStage: w.Demographics.FamilyStage,
		},
		Psychographics: domain.Psychographics{
			Values:      w.Psychographics.Values,
			Motivations: w.Psychographics.Motivations,
			Lifestyle:   w.Psychographics.Lifestyle,
			Personality: w.Psychographics.Personality,
			PainPoints:  w.Psychographics.PainPoints,
			Goals:       w.Psychographics.Goals,
		},
		Communication: domain.CommunicationProfile{
			PreferredChannels: w.Communication.PreferredChannels,
			Tone:              w.Communication.Tone,
			ContentPreference: w.Communication.ContentPreference,
		},
		Marketing: domain.MarketingProfile{
			Messaging:           w.Marketing.Messaging,
			RecommendedCTA:      w.Marketing.RecommendedCTA,
			ObjectionsToAddress: w.Marketing.ObjectionsToAddress,
		},
		Confidence: w.Confidence,
	}, nil
}

// translateProviderError maps the generic llm.Error taxonomy this package's
// Provider interface already uses onto the coordination core's shared
// types.Error taxonomy.
func translateProviderError(err error, provider string) error {
	e, ok := err.(*Error)
	if !ok {
		return types.NewError(types.ErrNetwork, "llm transport error").WithCause(err).WithProvider(provider)
	}
	var code types.ErrorCode
	switch e.Code {
	case ErrAuthentication, ErrUnauthorized:
		code = types.ErrAuthentication
	case ErrForbidden:
		code = types.ErrAuthorization
	case ErrRateLimit, ErrRateLimited, ErrQuotaExceeded:
		code = types.ErrRateLimited
	case ErrUpstreamTimeout, ErrTimeout:
		code = types.ErrTimeout
	case ErrUpstreamError, ErrServiceUnavailable, ErrProviderUnavailable, ErrModelOverloaded:
		code = types.ErrUpstream5xx
	default:
		code = types.ErrNetwork
	}
	return types.NewError(code, e.Message).WithHTTPStatus(e.HTTPStatus).WithProvider(provider).WithProviderCode(string(e.Code)).WithCause(e.Cause)
}
