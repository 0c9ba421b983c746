// Package orchestrator implements the enrichment orchestrator (component I):
// it drives one Brief through the Taste and LLM adapters via the scheduler,
// merges the results into a Persona, and repeats for every persona the
// brief asked for. It owns no resilience policy of its own — every call it
// makes goes through scheduler.Scheduler.Execute, which is where admission,
// retry, caching, and breaker state actually live.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/cache"
	"github.com/sabowaryan/personacraft/domain"
	"github.com/sabowaryan/personacraft/internal/ctxkeys"
	"github.com/sabowaryan/personacraft/llm"
	"github.com/sabowaryan/personacraft/scheduler"
	"github.com/sabowaryan/personacraft/taste"
	"github.com/sabowaryan/personacraft/types"
)

// EntityCap is the maximum number of entities retained per category once
// results from every source are merged.
const EntityCap = 10

// ValidationThreshold is the minimum domain.ValidationResult score a draft
// must clear before it is accepted without a corrective re-prompt.
const ValidationThreshold = 0.6

// Config configures the orchestrator's own policy knobs, on top of
// whatever the scheduler and adapters already enforce.
type Config struct {
	// FallbackAllowed permits a CategoryResult to degrade to
	// domain.FallbackCategory instead of failing the whole brief when a
	// Taste category call exhausts its retries.
	FallbackAllowed bool
	// InterPersonaDelay is the minimum spacing between successive persona
	// generations within one brief, to stay polite to both providers.
	InterPersonaDelay time.Duration
	// CategoryTimeout bounds one category's Taste call.
	CategoryTimeout time.Duration
	// LLMTimeout bounds one LLM completion call, including its corrective
	// re-prompt if one is needed.
	LLMTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		FallbackAllowed:   true,
		InterPersonaDelay: time.Second,
		CategoryTimeout:   10 * time.Second,
		LLMTimeout:        30 * time.Second,
	}
}

// Orchestrator composes the Taste adapter (G), the LLM persona adapter (H),
// and the scheduler (F) into the full enrichment pipeline (I).
type Orchestrator struct {
	mu     sync.RWMutex
	config Config

	sched *scheduler.Scheduler
	taste *taste.Adapter
	llm   *llm.PersonaAdapter
	log   *zap.Logger
}

// New creates an Orchestrator.
func New(sched *scheduler.Scheduler, tasteAdapter *taste.Adapter, llmAdapter *llm.PersonaAdapter, config Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.InterPersonaDelay <= 0 {
		config.InterPersonaDelay = DefaultConfig().InterPersonaDelay
	}
	if config.CategoryTimeout <= 0 {
		config.CategoryTimeout = DefaultConfig().CategoryTimeout
	}
	if config.LLMTimeout <= 0 {
		config.LLMTimeout = DefaultConfig().LLMTimeout
	}
	return &Orchestrator{
		config: config,
		sched:  sched,
		taste:  tasteAdapter,
		llm:    llmAdapter,
		log:    logger,
	}
}

// SetConfig atomically replaces the orchestrator's own policy knobs.
func (o *Orchestrator) SetConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}

func (o *Orchestrator) cfg() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// traceFields pulls the caller-supplied trace/run identifiers out of ctx, if
// any, so every orchestrator log line for one brief can be correlated
// without the orchestrator itself owning a tracing concern.
func traceFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := ctxkeys.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", id))
	}
	if id, ok := ctxkeys.RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", id))
	}
	return fields
}

// Generate runs the full pipeline for brief: gather cultural insights for
// every category in parallel, then generate brief.Count personas in
// sequence (each spaced by InterPersonaDelay), each one grounded on the
// same insights. It returns as many personas as it could produce; a
// per-category Taste failure degrades to a fallback signal rather than
// aborting the whole brief, when FallbackAllowed is set.
func (o *Orchestrator) Generate(ctx context.Context, brief domain.Brief) (domain.PersonaResult, error) {
	brief = brief.Normalized()
	if err := brief.Validate(); err != nil {
		return domain.PersonaResult{}, err
	}

	cfg := o.cfg()

	tasteStart := time.Now()
	insights, fallbackUsed, err := o.gatherInsights(ctx, brief, cfg)
	if err != nil {
		return domain.PersonaResult{}, err
	}
	tasteLatency := time.Since(tasteStart)

	result := domain.PersonaResult{}
	for i := 0; i < brief.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return result, types.NewError(types.ErrCancelled, "generation cancelled between personas").WithCause(ctx.Err())
			case <-time.After(cfg.InterPersonaDelay):
			}
		}

		persona, err := o.generateOne(ctx, brief, insights, tasteLatency, fallbackUsed, cfg)
		if err != nil {
			if len(result.Personas) > 0 {
				fields := append(traceFields(ctx), zap.Int("completed", len(result.Personas)), zap.Error(err))
				o.log.Warn("persona generation failed after partial success", fields...)
				break
			}
			return result, err
		}
		result.Personas = append(result.Personas, persona)
	}

	return result, nil
}

// gatherInsights fetches every category concurrently through the
// scheduler, each call keyed for cache and single-flight by its own
// fingerprint so identical briefs issued close together share one Taste
// round trip per category.
func (o *Orchestrator) gatherInsights(ctx context.Context, brief domain.Brief, cfg Config) (*domain.CulturalInsights, bool, error) {
	insights := domain.NewCulturalInsights()

	type catOutcome struct {
		result   domain.CategoryResult
		fallback bool
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make(map[domain.Category]catOutcome, len(domain.AllCategories))
	var firstFatal error

	for _, cat := range domain.AllCategories {
		cat := cat
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, fallback, err := o.fetchCategory(ctx, brief, cat, cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstFatal == nil {
					firstFatal = err
				}
				return
			}
			outcomes[cat] = catOutcome{result: res, fallback: fallback}
		}()
	}
	wg.Wait()

	if firstFatal != nil && (!cfg.FallbackAllowed || len(outcomes) == 0) {
		return nil, false, firstFatal
	}

	anyFallback := false
	for _, cat := range domain.AllCategories {
		oc, ok := outcomes[cat]
		if !ok {
			oc = catOutcome{result: domain.FallbackCategory(cat), fallback: true}
		}
		if oc.fallback {
			anyFallback = true
		}
		insights.Set(oc.result)
	}

	return insights, anyFallback, nil
}

// fetchCategory performs one category's Taste call through the scheduler
// and caps the returned entities. A failure degrades to a fallback result
// when the orchestrator is configured to allow it; otherwise the error is
// returned as-is.
func (o *Orchestrator) fetchCategory(ctx context.Context, brief domain.Brief, cat domain.Category, cfg Config) (domain.CategoryResult, bool, error) {
	endpoint := o.taste.Endpoint(cat)
	fp := fingerprintFor(cat, brief)

	opts := scheduler.Options{
		Adapter:     o.taste.Name(),
		Endpoint:    endpoint,
		Key:         fp,
		Cacheable:   true,
		TTL:         5 * time.Minute,
		RequestType: "taste.category",
		Batchable:   true,
		Timeout:     cfg.CategoryTimeout,
	}

	producer := func(ctx context.Context, attempt int) (any, int, time.Duration, error) {
		res, headers, err := o.taste.FetchCategory(ctx, cat, brief)
		if err == nil {
			o.sched.UpdateFromHeaders(endpoint, headers)
		}
		return res, len(res.Entities), 0, err
	}

	v, err := o.sched.Execute(ctx, opts, producer)
	if err != nil {
		if cfg.FallbackAllowed {
			fields := append(traceFields(ctx), zap.String("category", string(cat)), zap.Error(err))
			o.log.Warn("taste category fetch failed, using fallback", fields...)
			return domain.FallbackCategory(cat), true, nil
		}
		return domain.CategoryResult{}, false, err
	}

	res, ok := v.(domain.CategoryResult)
	if !ok {
		return domain.CategoryResult{}, false, types.NewError(types.ErrParseInvalid, "taste producer returned unexpected type")
	}
	if len(res.Entities) > EntityCap {
		res.Entities = res.Entities[:EntityCap]
	}
	return res, false, nil
}

// generateOne runs the LLM step for a single persona: one completion call,
// domain validation, and at most one corrective re-prompt if validation
// fails or the response failed to parse.
func (o *Orchestrator) generateOne(ctx context.Context, brief domain.Brief, insights *domain.CulturalInsights, tasteLatency time.Duration, fallbackUsed bool, cfg Config) (domain.Persona, error) {
	llmStart := time.Now()

	draft, retries, err := o.generateDraftWithCorrection(ctx, brief, insights, cfg)
	llmLatency := time.Since(llmStart)
	if err != nil {
		return domain.Persona{}, err
	}

	confidence := blendConfidence(draft.Confidence, insights)

	return domain.Persona{
		Draft:    draft,
		Insights: insights,
		Metadata: domain.GenerationMetadata{
			TasteLatency: tasteLatency,
			LLMLatency:   llmLatency,
			TotalLatency: tasteLatency + llmLatency,
			SourcesUsed:  sourcesUsed(insights),
			FallbackUsed: fallbackUsed || insights.HasFallback(),
			LLMRetries:   retries,
			Confidence:   confidence,
			GeneratedAt:  time.Now(),
		},
	}, nil
}

// generateDraftWithCorrection calls the LLM adapter through the scheduler,
// validates the result, and — if validation fails — re-prompts exactly
// once with a correction hint built from the failed checks. The second
// attempt's result is accepted regardless of its own validation score: the
// spec allows at most one corrective retry, not a validation loop.
func (o *Orchestrator) generateDraftWithCorrection(ctx context.Context, brief domain.Brief, insights *domain.CulturalInsights, cfg Config) (domain.PersonaDraft, int, error) {
	draft, err := o.generateDraft(ctx, brief, insights, "", cfg)
	if err != nil {
		return domain.PersonaDraft{}, 0, err
	}

	validation := domain.Validate(draft)
	if validation.Passed(ValidationThreshold) {
		return draft, 0, nil
	}

	hint := correctionHintFor(validation)
	fields := append(traceFields(ctx), zap.Float64("score", validation.Score), zap.Strings("issues", validation.Issues))
	o.log.Info("persona draft failed validation, issuing corrective re-prompt", fields...)

	corrected, err := o.generateDraft(ctx, brief, insights, hint, cfg)
	if err != nil {
		// the corrective attempt itself failed; the original draft is still
		// the best available result rather than a hard failure.
		return draft, 1, nil
	}
	return corrected, 1, nil
}

func (o *Orchestrator) generateDraft(ctx context.Context, brief domain.Brief, insights *domain.CulturalInsights, hint string, cfg Config) (domain.PersonaDraft, error) {
	fp := promptFingerprint(brief, hint)

	opts := scheduler.Options{
		Adapter:             o.llm.Name(),
		Endpoint:            o.llm.Endpoint(),
		Key:                 fp,
		Cacheable:           hint == "",
		TTL:                 2 * time.Minute,
		RequestType:         "llm.persona",
		Batchable:           false,
		Timeout:             cfg.LLMTimeout,
		MaxAttemptsOverride: 1,
	}

	var lastErr error
	producer := func(ctx context.Context, attempt int) (any, int, time.Duration, error) {
		h := hint
		if h == "" && types.GetErrorCode(lastErr) == types.ErrParseInvalid {
			h = correctionHintFor(domain.ValidationResult{})
		}
		draft, err := o.llm.Generate(ctx, brief, insights, h)
		lastErr = err
		return draft, 1, 0, err
	}

	v, err := o.sched.Execute(ctx, opts, producer)
	if err != nil {
		return domain.PersonaDraft{}, err
	}
	draft, ok := v.(domain.PersonaDraft)
	if !ok {
		return domain.PersonaDraft{}, types.NewError(types.ErrParseInvalid, "llm producer returned unexpected type")
	}
	return draft, nil
}

func fingerprintFor(cat domain.Category, brief domain.Brief) string {
	return cache.Fingerprint("taste", string(cat), "category", brief)
}

func promptFingerprint(brief domain.Brief, hint string) string {
	return cache.Fingerprint("llm", "persona.generate", "draft", struct {
		Brief domain.Brief
		Hint  string
	}{brief, hint})
}

func sourcesUsed(insights *domain.CulturalInsights) []string {
	if insights == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for cat, res := range insights.Categories {
		name := string(cat)
		if res.Fallback {
			name += ":fallback"
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// blendConfidence combines the LLM draft's self-reported confidence with
// the share of insight categories that were genuine (non-fallback) Taste
// responses, so a persona grounded on degraded signals is never reported
// as more confident than its inputs warrant.
func blendConfidence(draftConfidence float64, insights *domain.CulturalInsights) float64 {
	if insights == nil || len(insights.Categories) == 0 {
		return draftConfidence
	}
	genuine := 0
	for _, res := range insights.Categories {
		if !res.Fallback {
			genuine++
		}
	}
	tasteShare := float64(genuine) / float64(len(insights.Categories))
	blended := 0.7*draftConfidence + 0.3*tasteShare
	if blended > 1 {
		blended = 1
	}
	if blended < 0 {
		blended = 0
	}
	return blended
}

func correctionHintFor(v domain.ValidationResult) string {
	if len(v.Issues) == 0 {
		return "the previous response did not fully match the requested schema"
	}
	hint := "fix the following issues: "
	for i, issue := range v.Issues {
		if i > 0 {
			hint += "; "
		}
		hint += issue
	}
	return hint
}
