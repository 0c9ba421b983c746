package domain

import "time"

// Demographics is the LLM's inferred demographic read of the persona.
type Demographics struct {
	AgeRange    AgeRange
	Gender      string
	Income      string
	Education   string
	Occupation  string
	Location    string
	FamilyStage string
}

// Psychographics captures motivations, values, and lifestyle signals.
type Psychographics struct {
	Values      []string
	Motivations []string
	Lifestyle   []string
	Personality []string
	PainPoints  []string
	Goals       []string
}

// CommunicationProfile describes how to reach and talk to the persona.
type CommunicationProfile struct {
	PreferredChannels []string
	Tone              string
	ContentPreference []string
}

// MarketingProfile contains go-to-market guidance for the persona.
type MarketingProfile struct {
	Messaging      []string
	RecommendedCTA string
	ObjectionsToAddress []string
}

// PersonaDraft is the structured output of the LLM step, before merging
// with raw Taste entities.
type PersonaDraft struct {
	Name           string
	Demographics   Demographics
	Psychographics Psychographics
	Communication  CommunicationProfile
	Marketing      MarketingProfile
	Confidence     float64
}

// ValidationResult is the outcome of domain-validating a PersonaDraft.
type ValidationResult struct {
	Score  float64
	Issues []string
}

// Passed reports whether the draft cleared threshold.
func (v ValidationResult) Passed(threshold float64) bool {
	return v.Score >= threshold
}

// Validate applies structural checks to a draft and produces a score in
// [0,1]. It never mutates draft.
func Validate(d PersonaDraft) ValidationResult {
	var issues []string
	score := 1.0

	if d.Name == "" {
		issues = append(issues, "missing name")
		score -= 0.3
	}
	if d.Demographics.AgeRange == "" {
		issues = append(issues, "missing demographics.age_range")
		score -= 0.2
	}
	if len(d.Psychographics.Values) == 0 {
		issues = append(issues, "missing psychographics.values")
		score -= 0.2
	}
	if len(d.Psychographics.Motivations) == 0 {
		issues = append(issues, "missing psychographics.motivations")
		score -= 0.15
	}
	if d.Communication.Tone == "" {
		issues = append(issues, "missing communication.tone")
		score -= 0.15
	}
	if score < 0 {
		score = 0
	}
	return ValidationResult{Score: score, Issues: issues}
}

// GenerationMetadata records how a Persona was produced: timings, which
// sources contributed, and an overall confidence blended from the Taste
// and LLM stages.
type GenerationMetadata struct {
	TasteLatency   time.Duration
	LLMLatency     time.Duration
	TotalLatency   time.Duration
	SourcesUsed    []string
	FallbackUsed   bool
	LLMRetries     int
	Confidence     float64
	GeneratedAt    time.Time
}

// Persona is the final, merged result returned to callers: the draft plus
// the raw cultural entities it was grounded on and generation metadata.
type Persona struct {
	Draft     PersonaDraft
	Insights  *CulturalInsights
	Metadata  GenerationMetadata
}

// PersonaResult is the caller-facing outcome of generate(), covering one or
// more personas for a single Brief.
type PersonaResult struct {
	Personas []Persona
}
