package llm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/breaker"
	"github.com/sabowaryan/personacraft/retry"
	"github.com/sabowaryan/personacraft/types"
)

// RetryPolicy configures ResilientProvider's retry behavior. It is expressed
// in the provider-local vocabulary; NewResilientProvider translates it into
// a retry.Policy so the same backoff math backs both this convenience
// wrapper and the coordination core's scheduler.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns sane defaults.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

func (p *RetryPolicy) toPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:   p.InitialBackoff,
		MaxDelay:    p.MaxBackoff,
		Multiplier:  p.Multiplier,
		MaxAttempts: p.MaxRetries,
	}
}

// CircuitState re-exports the coordination core's breaker state so callers
// of this package never need to import breaker directly.
type CircuitState = breaker.State

const (
	CircuitClosed   = breaker.StateClosed
	CircuitOpen     = breaker.StateOpen
	CircuitHalfOpen = breaker.StateHalfOpen
)

// CircuitBreakerConfig configures the breaker guarding a ResilientProvider.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int // kept for API compatibility; the shared breaker closes on its first successful probe
	Timeout          time.Duration
}

// DefaultCircuitBreakerConfig returns sane defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

func (c *CircuitBreakerConfig) toConfig() breaker.Config {
	return breaker.Config{
		FailThreshold: c.FailureThreshold,
		WindowFail:    c.Timeout,
		Cooldown:      c.Timeout,
		MaxCooldown:   c.Timeout * 4,
	}
}

// ResilientProvider wraps a Provider with retry and circuit-breaking for
// callers that invoke a provider directly, outside of the scheduler's
// execute path (e.g. one-off tooling, health probes). Requests routed
// through the scheduler get retry and breaking from the shared retry.Engine
// and breaker.Breaker instances instead; this wrapper exists so standalone
// callers get the same behavior without wiring a scheduler of their own.
type ResilientProvider struct {
	provider       Provider
	retryEngine    *retry.Engine
	breaker        *breaker.Breaker
	idempotencyTTL time.Duration
	idempotencyMap sync.Map
	logger         *zap.Logger
}

// ResilientConfig configures a ResilientProvider.
type ResilientConfig struct {
	RetryPolicy       *RetryPolicy
	CircuitBreaker    *CircuitBreakerConfig
	EnableIdempotency bool
	IdempotencyTTL    time.Duration
}

// NewResilientProviderSimple creates a ResilientProvider with default config.
func NewResilientProviderSimple(provider Provider, _ any, logger *zap.Logger) *ResilientProvider {
	return NewResilientProvider(provider, nil, logger)
}

// NewResilientProvider wraps provider with retry and circuit breaking.
func NewResilientProvider(provider Provider, config *ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if config == nil {
		config = &ResilientConfig{
			RetryPolicy:       DefaultRetryPolicy(),
			CircuitBreaker:    DefaultCircuitBreakerConfig(),
			EnableIdempotency: true,
			IdempotencyTTL:    1 * time.Hour,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientProvider{
		provider:       provider,
		retryEngine:    retry.New(config.RetryPolicy.toPolicy(), logger),
		breaker:        breaker.New(provider.Name(), config.CircuitBreaker.toConfig(), logger),
		idempotencyTTL: config.IdempotencyTTL,
		logger:         logger,
	}
}

// Completion calls the wrapped provider's Completion, retrying retryable
// failures and refusing the call locally while the breaker is open. Results
// are further memoized by request shape for IdempotencyTTL so an identical
// retried request from the caller's own layer does not re-hit the provider.
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	key := rp.generateIdempotencyKey(req)
	if cached, ok := rp.idempotencyMap.Load(key); ok {
		if entry, ok := cached.(*idempotencyEntry); ok {
			if time.Now().Before(entry.expiresAt) {
				return entry.response, nil
			}
			rp.idempotencyMap.Delete(key)
		}
	}

	if err := rp.breaker.Allow(); err != nil {
		return nil, err
	}

	resp, _, _, err := retry.DoTyped(rp.retryEngine, ctx, func(int) (*ChatResponse, *retry.RetryAfterHint, error) {
		r, err := rp.provider.Completion(ctx, req)
		return r, nil, err
	})
	if err != nil {
		rp.breaker.RecordFailure()
		return nil, err
	}
	rp.breaker.RecordSuccess()

	rp.idempotencyMap.Store(key, &idempotencyEntry{response: resp, expiresAt: time.Now().Add(rp.idempotencyTTL)})
	return resp, nil
}

// Stream proxies to the wrapped provider without retry; streaming responses
// cannot be safely replayed mid-stream.
func (rp *ResilientProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if rp.breaker.State() == CircuitOpen {
		return nil, types.NewError(types.ErrBreakerOpen, "provider "+rp.provider.Name()+" is open")
	}
	return rp.provider.Stream(ctx, req)
}

// HealthCheck proxies to the wrapped provider.
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name proxies to the wrapped provider.
func (rp *ResilientProvider) Name() string { return rp.provider.Name() }

// SupportsNativeFunctionCalling proxies to the wrapped provider.
func (rp *ResilientProvider) SupportsNativeFunctionCalling() bool {
	return rp.provider.SupportsNativeFunctionCalling()
}

// ListModels proxies to the wrapped provider.
func (rp *ResilientProvider) ListModels(ctx context.Context) ([]Model, error) {
	return rp.provider.ListModels(ctx)
}

func (rp *ResilientProvider) generateIdempotencyKey(req *ChatRequest) string {
	data, _ := json.Marshal(struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}{Model: req.Model, Messages: req.Messages})
	return string(data)
}

type idempotencyEntry struct {
	response  *ChatResponse
	expiresAt time.Time
}
