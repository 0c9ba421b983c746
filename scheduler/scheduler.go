// Package scheduler implements the rate-limited scheduler: the integrator
// that composes the limiter, retry engine, cache, circuit breaker, and
// batcher into one request lifecycle. It owns every RequestEnvelope and
// Batch; callers reach it exclusively through Execute.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/batch"
	"github.com/sabowaryan/personacraft/breaker"
	"github.com/sabowaryan/personacraft/cache"
	"github.com/sabowaryan/personacraft/internal/metrics"
	"github.com/sabowaryan/personacraft/internal/pool"
	"github.com/sabowaryan/personacraft/limiter"
	"github.com/sabowaryan/personacraft/retry"
	"github.com/sabowaryan/personacraft/types"
)

// Producer performs the actual provider call for one attempt (1-indexed).
// retryAfter, when non-zero, is honored by the retry engine as a floor on
// the next backoff delay.
type Producer func(ctx context.Context, attempt int) (value any, size int, retryAfter time.Duration, err error)

// Options configures one Execute call.
type Options struct {
	// Adapter names the provider for breaker and batcher lookup (e.g. "taste", "llm").
	Adapter string
	// Endpoint is the admission-control key passed to the limiter (e.g. "taste.category.music").
	Endpoint string
	// Key is the RequestKey fingerprint. Empty disables caching and single-flight.
	Key string
	// Cacheable stores a successful result under Key for TTL. Ignored if Key is empty.
	Cacheable bool
	TTL       time.Duration
	// RequestType is the batch eligibility type. Batchable additionally requires the caller's opt-in.
	RequestType string
	Batchable   bool
	Priority    int
	// Timeout is the total deadline budget across every attempt, not per attempt.
	Timeout time.Duration
	// MaxAttemptsOverride, if > 0, overrides the scheduler's default retry cap for this call.
	MaxAttemptsOverride int
}

// Config aggregates the scheduler's owned policy knobs, mirroring the
// configuration surface in the specification's external interfaces.
type Config struct {
	Limiter limiter.Budget
	Backoff retry.Policy
	Cache   cache.Config
	Breaker breaker.Config
	Batch   batch.Config

	CacheEnabled    bool
	BatchingEnabled bool
	MaxWorkers      int
}

// DefaultConfig returns sane scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Limiter:         limiter.DefaultBudget(),
		Backoff:         retry.DefaultPolicy(),
		Cache:           cache.DefaultConfig(),
		Breaker:         breaker.DefaultConfig(),
		Batch:           batch.DefaultConfig(),
		CacheEnabled:    true,
		BatchingEnabled: true,
		MaxWorkers:      16,
	}
}

type outcome struct {
	value any
	size  int
}

// Stats are the counters surfaced through the caller API's stats() operation.
type Stats struct {
	TotalRequests    int64
	AcceptedRequests int64
	RejectedRequests int64
	BackoffCount     int64
	BatchedRequests  int64
	totalWaitNanos   int64
	successCount     int64
	failureCount     int64

	mu         sync.Mutex
	byEndpoint map[string]*EndpointStats
}

// EndpointStats is the per-endpoint slice of Stats.
type EndpointStats struct {
	Requests int64
	Success  int64
	Failure  int64
}

func newStats() *Stats {
	return &Stats{byEndpoint: make(map[string]*EndpointStats)}
}

// Scheduler is the rate-limited scheduler integrating admission (A),
// retry (B), cache (C), breaker (D), and batching (E) into execute().
type Scheduler struct {
	mu     sync.RWMutex
	config Config
	logger *zap.Logger

	limiter *limiter.Limiter
	cache   *cache.Cache
	pool    *pool.GoroutinePool

	breakers map[string]*breaker.Breaker
	batchers map[string]*batch.Batcher

	stats   *Stats
	metrics *metrics.Collector

	closed atomic.Bool
}

// New creates a Scheduler.
func New(config Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	s := &Scheduler{
		config:   config,
		logger:   logger,
		limiter:  limiter.New(logger),
		cache:    cache.New(config.Cache, logger),
		pool:     pool.NewGoroutinePool(pool.GoroutinePoolConfig{MaxWorkers: config.MaxWorkers, QueueSize: config.MaxWorkers * 64, IdleTimeout: time.Minute}),
		breakers: make(map[string]*breaker.Breaker),
		batchers: make(map[string]*batch.Batcher),
		stats:    newStats(),
	}
	return s
}

// AttachMetrics wires a Prometheus collector into the scheduler. Optional:
// a Scheduler with no collector attached records stats the same way but
// exports nothing to Prometheus.
func (s *Scheduler) AttachMetrics(m *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// SetEndpointBudget configures the per-endpoint rate budget. Adapters call
// this once at construction and again whenever UpdateConfig changes it.
func (s *Scheduler) SetEndpointBudget(endpoint string, budget limiter.Budget) {
	s.limiter.SetBudget(endpoint, budget)
}

// UpdateFromHeaders forwards provider rate-limit hints to the limiter.
func (s *Scheduler) UpdateFromHeaders(endpoint string, h limiter.Headers) {
	s.limiter.UpdateFromHeaders(endpoint, h)
}

// UpdateConfig atomically replaces the scheduler's configuration. It takes
// effect for subsequent admissions; in-flight calls keep the policy they
// started with.
func (s *Scheduler) UpdateConfig(cfg Config) {
	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.cache.SetConfig(cfg.Cache)
	for _, b := range s.snapshotBreakers() {
		b.SetConfig(cfg.Breaker)
	}
	for _, b := range s.snapshotBatchers() {
		b.SetConfig(cfg.Batch)
	}
}

func (s *Scheduler) snapshotBreakers() []*breaker.Breaker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*breaker.Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b)
	}
	return out
}

func (s *Scheduler) snapshotBatchers() []*batch.Batcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*batch.Batcher, 0, len(s.batchers))
	for _, b := range s.batchers {
		out = append(out, b)
	}
	return out
}

// Breaker returns (creating if necessary) the breaker for adapter, so
// health monitors and adapters can inspect state directly.
func (s *Scheduler) Breaker(adapter string) *breaker.Breaker {
	return s.breakerFor(adapter)
}

func (s *Scheduler) breakerFor(adapter string) *breaker.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[adapter]; ok {
		return b
	}
	b := breaker.New(adapter, s.config.Breaker, s.logger)
	s.breakers[adapter] = b
	return b
}

func (s *Scheduler) batcherFor(adapter string) *batch.Batcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batchers[adapter]; ok {
		return b
	}
	b := batch.New(s.config.Batch, s.batchHandler(), s.logger)
	s.batchers[adapter] = b
	return b
}

// batchHandler runs every item in a closed batch concurrently on the
// scheduler's worker pool, since the Taste/LLM protocols expose no true
// batch wire call: a "batch" here is a coalesced local group, each member
// still dispatched as its own request (see DESIGN.md for this decision).
func (s *Scheduler) batchHandler() batch.Handler {
	return func(ctx context.Context, requests []batch.Request) []batch.Result {
		if m := s.metricsCollector(); m != nil && len(requests) > 0 {
			m.RecordBatch(requests[0].Type, "closed", len(requests))
		}
		results := make([]batch.Result, len(requests))
		var wg sync.WaitGroup
		for i, r := range requests {
			wg.Add(1)
			i, r := i, r
			go func() {
				defer wg.Done()
				fn, ok := r.Payload.(func(context.Context) (any, int, error))
				if !ok {
					results[i] = batch.Result{ID: r.ID, Err: types.NewError(types.ErrUpstream5xx, "malformed batch payload")}
					return
				}
				_ = s.pool.SubmitWait(ctx, func(ctx context.Context) error {
					v, _, err := fn(ctx)
					results[i] = batch.Result{ID: r.ID, Value: v, Err: err}
					return err
				})
			}()
		}
		wg.Wait()
		return results
	}
}

// Execute runs one coordinated call per the scheduler's lifecycle: cache
// lookup and single-flight attach, breaker admission, optional batching,
// limiter admission, and retry-on-failure, up to the configured or
// overridden attempt cap. It never returns before the caller's context
// (and opts.Timeout, if set) is honored.
func (s *Scheduler) Execute(ctx context.Context, opts Options, producer Producer) (any, error) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	s.touchEndpoint(opts.Endpoint)
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	runner := func(ctx context.Context) (any, int, error) {
		return s.runResilient(ctx, opts, producer)
	}

	var value any
	var err error
	switch {
	case opts.Key != "" && opts.Cacheable && s.cacheEnabled():
		if m := s.metricsCollector(); m != nil {
			if _, hit := s.cache.Get(opts.Key); hit {
				m.RecordCacheHit(opts.Endpoint)
			} else {
				m.RecordCacheMiss(opts.Endpoint)
			}
		}
		value, err = s.cache.GetOrCompute(ctx, opts.Key, opts.TTL, runner)
	case opts.Key != "":
		value, err = s.cache.GetOrCompute(ctx, opts.Key, opts.TTL, runner)
		if err == nil {
			s.cache.Delete(opts.Key)
		}
	default:
		value, _, err = runner(ctx)
	}

	if ctx.Err() != nil && err == nil {
		err = types.NewError(types.ErrTimeout, "execute deadline elapsed").WithCause(ctx.Err())
	}

	if m := s.metricsCollector(); m != nil {
		m.RecordRequest(opts.Adapter, opts.Endpoint, err == nil, time.Since(start))
	}

	if err != nil {
		atomic.AddInt64(&s.stats.RejectedRequests, 1)
		s.recordEndpoint(opts.Endpoint, false)
		return nil, err
	}
	atomic.AddInt64(&s.stats.AcceptedRequests, 1)
	s.recordEndpoint(opts.Endpoint, true)
	return value, nil
}

func (s *Scheduler) metricsCollector() *metrics.Collector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Scheduler) cacheEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.CacheEnabled
}

func (s *Scheduler) batchingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.BatchingEnabled
}

func (s *Scheduler) runResilient(ctx context.Context, opts Options, producer Producer) (any, int, error) {
	brk := s.breakerFor(opts.Adapter)
	eng := s.retryEngineFor(opts)

	res, attempts, wait, err := retry.DoTyped(eng, ctx, func(attempt int) (outcome, *retry.RetryAfterHint, error) {
		if aerr := brk.Allow(); aerr != nil {
			return outcome{}, nil, aerr
		}

		var value any
		var size int
		var retryAfter time.Duration
		var perr error

		if opts.Batchable && s.batchingEnabled() {
			atomic.AddInt64(&s.stats.BatchedRequests, 1)
			value, perr = s.runBatched(ctx, opts, producer, attempt)
		} else {
			if aerr := s.acquire(ctx, opts.Endpoint); aerr != nil {
				return outcome{}, nil, aerr
			}
			value, size, retryAfter, perr = producer(ctx, attempt)
		}

		if perr != nil {
			brk.RecordFailure()
			if m := s.metricsCollector(); m != nil {
				m.RecordBreakerState(opts.Adapter, int(brk.State()))
			}
			var hint *retry.RetryAfterHint
			if retryAfter > 0 {
				hint = &retry.RetryAfterHint{Duration: retryAfter}
			}
			return outcome{}, hint, perr
		}
		brk.RecordSuccess()
		if m := s.metricsCollector(); m != nil {
			m.RecordBreakerState(opts.Adapter, int(brk.State()))
		}
		return outcome{value: value, size: size}, nil, nil
	})

	atomic.AddInt64(&s.stats.totalWaitNanos, int64(wait))
	if attempts > 1 {
		atomic.AddInt64(&s.stats.BackoffCount, int64(attempts-1))
		if m := s.metricsCollector(); m != nil {
			m.RecordRetry(opts.Adapter, opts.Endpoint)
		}
	}
	if err != nil {
		atomic.AddInt64(&s.stats.failureCount, 1)
		return nil, 0, err
	}
	atomic.AddInt64(&s.stats.successCount, 1)
	return res.value, res.size, nil
}

func (s *Scheduler) retryEngineFor(opts Options) *retry.Engine {
	s.mu.RLock()
	policy := s.config.Backoff
	s.mu.RUnlock()
	if opts.MaxAttemptsOverride > 0 {
		policy.MaxAttempts = opts.MaxAttemptsOverride
	}
	return retry.New(policy, s.logger)
}

// acquire blocks (respecting ctx) until the limiter grants admission for
// endpoint, or the context is done.
func (s *Scheduler) acquire(ctx context.Context, endpoint string) error {
	waited := false
	for {
		d := s.limiter.TryAcquire(endpoint)
		if d.Granted {
			return nil
		}
		if !waited {
			waited = true
			if m := s.metricsCollector(); m != nil {
				m.RecordLimiterWait(endpoint)
			}
		}
		wait := d.Wait
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return types.NewError(types.ErrCancelled, "admission wait cancelled").WithCause(ctx.Err())
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runBatched(ctx context.Context, opts Options, producer Producer, attempt int) (any, error) {
	b := s.batcherFor(opts.Adapter)
	payload := func(bctx context.Context) (any, int, error) {
		if aerr := s.acquire(bctx, opts.Endpoint); aerr != nil {
			return nil, 0, aerr
		}
		v, size, _, err := producer(bctx, attempt)
		return v, size, err
	}
	ch := b.Submit(ctx, batch.Request{ID: uuid.NewString(), Type: opts.RequestType, Payload: payload})
	select {
	case <-ctx.Done():
		return nil, types.NewError(types.ErrCancelled, "batch wait cancelled").WithCause(ctx.Err())
	case r := <-ch:
		return r.Value, r.Err
	}
}

func (s *Scheduler) touchEndpoint(endpoint string) {
	if endpoint == "" {
		return
	}
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	e, ok := s.stats.byEndpoint[endpoint]
	if !ok {
		e = &EndpointStats{}
		s.stats.byEndpoint[endpoint] = e
	}
	e.Requests++
}

func (s *Scheduler) recordEndpoint(endpoint string, success bool) {
	if endpoint == "" {
		return
	}
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	e, ok := s.stats.byEndpoint[endpoint]
	if !ok {
		e = &EndpointStats{}
		s.stats.byEndpoint[endpoint] = e
	}
	if success {
		e.Success++
	} else {
		e.Failure++
	}
}

// StatsSnapshot is the caller-facing rendering of Stats, matching §6's
// stats() operation.
type StatsSnapshot struct {
	TotalRequests    int64
	AcceptedRequests int64
	RejectedRequests int64
	BackoffCount     int64
	BatchedRequests  int64
	AverageWaitTime  time.Duration
	SuccessRate      float64
	ByEndpoint       map[string]EndpointStats
}

// Stats returns a point-in-time snapshot of the scheduler's counters.
func (s *Scheduler) Stats() StatsSnapshot {
	total := atomic.LoadInt64(&s.stats.TotalRequests)
	success := atomic.LoadInt64(&s.stats.successCount)
	failure := atomic.LoadInt64(&s.stats.failureCount)
	waitNanos := atomic.LoadInt64(&s.stats.totalWaitNanos)

	var avgWait time.Duration
	if attempts := success + failure; attempts > 0 {
		avgWait = time.Duration(waitNanos / attempts)
	}

	var successRate float64
	if attempts := success + failure; attempts > 0 {
		successRate = float64(success) / float64(attempts)
	}

	s.stats.mu.Lock()
	byEndpoint := make(map[string]EndpointStats, len(s.stats.byEndpoint))
	for k, v := range s.stats.byEndpoint {
		byEndpoint[k] = *v
	}
	s.stats.mu.Unlock()

	return StatsSnapshot{
		TotalRequests:    total,
		AcceptedRequests: atomic.LoadInt64(&s.stats.AcceptedRequests),
		RejectedRequests: atomic.LoadInt64(&s.stats.RejectedRequests),
		BackoffCount:     atomic.LoadInt64(&s.stats.BackoffCount),
		BatchedRequests:  atomic.LoadInt64(&s.stats.BatchedRequests),
		AverageWaitTime:  avgWait,
		SuccessRate:      successRate,
		ByEndpoint:       byEndpoint,
	}
}

// ResetStats zeroes every counter without affecting limiter, breaker, or
// cache state.
func (s *Scheduler) ResetStats() {
	atomic.StoreInt64(&s.stats.TotalRequests, 0)
	atomic.StoreInt64(&s.stats.AcceptedRequests, 0)
	atomic.StoreInt64(&s.stats.RejectedRequests, 0)
	atomic.StoreInt64(&s.stats.BackoffCount, 0)
	atomic.StoreInt64(&s.stats.BatchedRequests, 0)
	atomic.StoreInt64(&s.stats.totalWaitNanos, 0)
	atomic.StoreInt64(&s.stats.successCount, 0)
	atomic.StoreInt64(&s.stats.failureCount, 0)
	s.stats.mu.Lock()
	s.stats.byEndpoint = make(map[string]*EndpointStats)
	s.stats.mu.Unlock()
}

// Cleanup cancels all in-flight and queued work: it closes every batcher
// (rejecting pending items with Cleanup) and shuts down the worker pool.
// Calls already past admission may complete, but their results reach no
// further caller once Cleanup returns.
func (s *Scheduler) Cleanup() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for _, b := range s.snapshotBatchers() {
		b.Close()
	}
	s.pool.Close()
}

// Cache exposes the underlying cache for adapters that need direct Get
// access outside of Execute (e.g. health probes checking freshness).
func (s *Scheduler) Cache() *cache.Cache { return s.cache }
