// Package personacraft is the top-level entry point for the persona
// generation request-coordination core. It composes the rate limiter,
// retry engine, response cache, circuit breaker, batcher, and scheduler
// (components A-F) with the Taste and LLM provider adapters (G, H), the
// enrichment orchestrator (I), and the health monitor (J) into one
// Coordinator, built from a single config.Config.
package personacraft

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sabowaryan/personacraft/batch"
	"github.com/sabowaryan/personacraft/breaker"
	"github.com/sabowaryan/personacraft/cache"
	"github.com/sabowaryan/personacraft/config"
	"github.com/sabowaryan/personacraft/domain"
	"github.com/sabowaryan/personacraft/fingerprint"
	"github.com/sabowaryan/personacraft/health"
	"github.com/sabowaryan/personacraft/internal/metrics"
	"github.com/sabowaryan/personacraft/internal/telemetry"
	"github.com/sabowaryan/personacraft/limiter"
	"github.com/sabowaryan/personacraft/llm"
	"github.com/sabowaryan/personacraft/llm/providers"
	"github.com/sabowaryan/personacraft/llm/providers/openai"
	"github.com/sabowaryan/personacraft/llm/providers/openaicompat"
	"github.com/sabowaryan/personacraft/orchestrator"
	"github.com/sabowaryan/personacraft/retry"
	"github.com/sabowaryan/personacraft/scheduler"
	"github.com/sabowaryan/personacraft/taste"
)

// Coordinator is the composed request-coordination core for one running
// service instance. Build one with New and call Generate for every
// incoming brief; Cleanup shuts it down.
type Coordinator struct {
	cfg    *config.Config
	logger *zap.Logger

	sched        *scheduler.Scheduler
	taste        *taste.Adapter
	llmAdapter   *llm.PersonaAdapter
	orchestrator *orchestrator.Orchestrator
	monitor      *health.Monitor
	idempotency  fingerprint.Manager
	telemetry    *telemetry.Providers
}

// New builds a Coordinator from cfg: the LLM provider named by
// cfg.LLM.DefaultProvider, the Taste adapter, the scheduler (with its
// owned limiter/retry/cache/breaker/batch policy from cfg.Core), the
// enrichment orchestrator, and the health monitor, registered against
// both adapters' HealthCheck methods but not yet started.
func New(cfg *config.Config) (*Coordinator, error) {
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = def
	}

	logger := newLogger(cfg.Log)

	provider, err := buildLLMProvider(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	tasteAdapter := taste.New(taste.Config{
		BaseURL:            cfg.Taste.BaseURL,
		APIKey:             cfg.Taste.APIKey,
		Timeout:            cfg.Taste.Timeout,
		DefaultEntityLimit: cfg.Taste.DefaultEntityLimit,
	}, logger)

	llmAdapter := llm.NewPersonaAdapter(provider, cfg.Agent.Model)

	sched := scheduler.New(coreConfigToSchedulerConfig(cfg.Core), logger)
	for _, cat := range domain.AllCategories {
		sched.SetEndpointBudget(tasteAdapter.Endpoint(cat), taste.DefaultBudget())
	}
	sched.SetEndpointBudget(llmAdapter.Endpoint(), limiter.DefaultBudget())
	sched.AttachMetrics(metrics.NewCollector("personacraft", logger))

	telemetryProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	orch := orchestrator.New(sched, tasteAdapter, llmAdapter, orchestrator.Config{
		FallbackAllowed:   cfg.Core.FallbackAllowed,
		InterPersonaDelay: cfg.Core.InterPersonaDelay,
	}, logger)

	monitor := health.New(health.DefaultThresholds(), logger)
	monitor.Register(tasteAdapter.Name(), tasteAdapter.HealthCheck)
	monitor.Register(llmAdapter.Name(), llmAdapter.HealthCheck)

	idempotency, err := buildIdempotencyManager(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("build idempotency manager: %w", err)
	}

	return &Coordinator{
		cfg:          cfg,
		logger:       logger,
		sched:        sched,
		taste:        tasteAdapter,
		llmAdapter:   llmAdapter,
		orchestrator: orch,
		monitor:      monitor,
		idempotency:  idempotency,
		telemetry:    telemetryProviders,
	}, nil
}

// StartHealthMonitoring launches the periodic health probe loop at
// interval. Stopping it is handled by Cleanup.
func (c *Coordinator) StartHealthMonitoring(ctx context.Context, interval time.Duration) {
	c.monitor.Start(ctx, interval)
}

// Generate runs brief through the enrichment pipeline and returns one
// PersonaResult. Identical briefs issued within the idempotency TTL return
// the stored result without re-invoking Taste or the LLM. The store is
// Redis when cfg.Redis.Addr is non-empty; otherwise it is an in-process
// memory store whose entries are lost when the process restarts.
func (c *Coordinator) Generate(ctx context.Context, brief domain.Brief) (domain.PersonaResult, error) {
	key, keyErr := c.idempotency.GenerateKey(brief)
	if keyErr == nil {
		if cached, found, gerr := fingerprint.GetTyped[domain.PersonaResult](c.idempotency, ctx, key); gerr == nil && found {
			return cached, nil
		}
	}

	result, err := c.orchestrator.Generate(ctx, brief)
	if err != nil {
		return domain.PersonaResult{}, err
	}

	if keyErr == nil {
		_ = fingerprint.SetTyped(c.idempotency, ctx, key, result, c.cfg.Core.Cache.DefaultTTL)
	}
	return result, nil
}

// GenerateWithCredential runs Generate with a per-call LLM credential
// override, for callers (e.g. a multi-tenant host service) that hold their
// own provider key instead of the Coordinator's configured default. The
// override only reaches the LLM adapter's requests for this call; it is
// never persisted and never affects any other in-flight or future brief.
func (c *Coordinator) GenerateWithCredential(ctx context.Context, brief domain.Brief, override llm.CredentialOverride) (domain.PersonaResult, error) {
	return c.Generate(llm.WithCredentialOverride(ctx, override), brief)
}

// ExecuteRequest exposes the scheduler's coordinated call lifecycle to
// callers that need to drive a provider call outside the persona pipeline
// (e.g. a direct Taste or LLM probe), still subject to the same admission,
// retry, caching, and breaker policy as Generate's internal calls.
func (c *Coordinator) ExecuteRequest(ctx context.Context, opts scheduler.Options, producer scheduler.Producer) (any, error) {
	return c.sched.Execute(ctx, opts, producer)
}

// HealthSnapshot returns the current aggregated health of the Taste and
// LLM adapters.
func (c *Coordinator) HealthSnapshot() health.Snapshot {
	return c.monitor.Snapshot()
}

// UpdateConfig atomically replaces the scheduler's and orchestrator's
// policy knobs. It does not rebuild the LLM provider or Taste adapter;
// restart the Coordinator for changes to credentials or base URLs.
func (c *Coordinator) UpdateConfig(core config.CoreConfig) {
	c.cfg.Core = core
	c.sched.UpdateConfig(coreConfigToSchedulerConfig(core))
	c.orchestrator.SetConfig(orchestrator.Config{
		FallbackAllowed:   core.FallbackAllowed,
		InterPersonaDelay: core.InterPersonaDelay,
	})
}

// Stats returns a point-in-time snapshot of the scheduler's counters.
func (c *Coordinator) Stats() scheduler.StatsSnapshot {
	return c.sched.Stats()
}

// ResetStats zeroes every scheduler counter.
func (c *Coordinator) ResetStats() {
	c.sched.ResetStats()
}

// Cleanup stops the health monitor, cancels all in-flight and queued
// scheduler work, and flushes the OpenTelemetry providers.
func (c *Coordinator) Cleanup() {
	c.monitor.Stop()
	c.sched.Cleanup()
	if c.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.telemetry.Shutdown(ctx); err != nil {
			c.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// coreConfigToSchedulerConfig adapts the caller-facing config.CoreConfig
// (YAML/env friendly, slice-based batch eligibility) into the scheduler's
// own Config (map-based, matching what batch.Batcher expects at runtime).
func coreConfigToSchedulerConfig(core config.CoreConfig) scheduler.Config {
	eligible := make(map[string]bool, len(core.Batch.EligibleTypes))
	for _, t := range core.Batch.EligibleTypes {
		eligible[t] = true
	}

	return scheduler.Config{
		Limiter: limiter.Budget{
			PerMinute: core.Limiter.RequestsPerMinute,
			PerHour:   core.Limiter.RequestsPerHour,
			Burst:     core.Limiter.Burst,
		},
		Backoff: retry.Policy{
			BaseDelay:     core.Backoff.BaseDelay,
			MaxDelay:      core.Backoff.MaxDelay,
			Multiplier:    core.Backoff.Multiplier,
			MaxAttempts:   core.Backoff.MaxAttempts,
			JitterEnabled: core.Backoff.JitterEnabled,
		},
		Cache: cache.Config{
			ByteBudget: core.Cache.ByteBudget,
			DefaultTTL: core.Cache.DefaultTTL,
		},
		Breaker: breaker.Config{
			FailThreshold: core.Breaker.FailThreshold,
			WindowFail:    core.Breaker.WindowFail,
			Cooldown:      core.Breaker.Cooldown,
			MaxCooldown:   core.Breaker.MaxCooldown,
		},
		Batch: batch.Config{
			MaxBatchSize:  core.Batch.MaxBatchSize,
			BatchDelay:    core.Batch.BatchDelay,
			EligibleTypes: eligible,
		},
		CacheEnabled:    core.CacheEnabled,
		BatchingEnabled: core.BatchingEnabled,
		MaxWorkers:      core.MaxWorkers,
	}
}

// buildLLMProvider selects a concrete llm.Provider for cfg.DefaultProvider.
// "openai" gets the Responses-API-capable OpenAIProvider; every other name
// is treated as an OpenAI-compatible chat completions endpoint (true for
// DeepSeek, Qwen, GLM, Kimi, Doubao, Mistral, and most others in practice),
// routed through the shared openaicompat.Provider with that name recorded
// for logging and error attribution.
func buildLLMProvider(cfg config.LLMConfig, logger *zap.Logger) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: no api key configured for provider %q", cfg.DefaultProvider)
	}
	switch cfg.DefaultProvider {
	case "", "openai":
		return openai.NewOpenAIProvider(providers.OpenAIConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Timeout: cfg.Timeout,
			},
		}, logger), nil
	default:
		return openaicompat.New(openaicompat.Config{
			ProviderName: cfg.DefaultProvider,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
		}, logger), nil
	}
}

// buildIdempotencyManager returns a Redis-backed durable idempotency
// manager when cfg.Addr is set, and an in-process memory manager
// otherwise — the same deduplication contract without the external
// dependency, suitable for single-instance or test deployments.
func buildIdempotencyManager(cfg config.RedisConfig, logger *zap.Logger) (fingerprint.Manager, error) {
	if cfg.Addr == "" {
		return fingerprint.NewMemoryManager(logger), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	return fingerprint.NewRedisManager(client, "personacraft:", logger), nil
}

// newLogger builds a zap.Logger from cfg, mirroring the teacher's
// serve-command logger construction: a production JSON encoder by default,
// a colorized console encoder when Format is "console".
func newLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
