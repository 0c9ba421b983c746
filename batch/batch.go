// Package batch implements time- and size-triggered grouping of eligible
// requests. A Batch is opened per (provider, type) on first arrival and
// closed exactly once, on whichever of size or deadline fires first.
package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/types"
)

// Request is one item accepted into a batch.
type Request struct {
	ID      string
	Type    string
	Payload any
}

// Result is the outcome for one Request, matched by ID.
type Result struct {
	ID    string
	Value any
	Err   error
}

// Handler executes a closed batch and returns one Result per Request, in
// any order; the batcher matches them back to callers by ID.
type Handler func(ctx context.Context, requests []Request) []Result

// Config configures the batcher.
type Config struct {
	MaxBatchSize int
	BatchDelay   time.Duration
	EligibleTypes map[string]bool
}

// DefaultConfig returns sane batching defaults with no eligible types (all
// requests bypass the batcher until types are configured).
func DefaultConfig() Config {
	return Config{MaxBatchSize: 10, BatchDelay: 50 * time.Millisecond, EligibleTypes: map[string]bool{}}
}

// Eligible reports whether requestType is configured for batching. The
// scheduler additionally requires the caller to have opted in explicitly.
func (c Config) Eligible(requestType string) bool {
	return c.EligibleTypes[requestType]
}

type pending struct {
	req    Request
	respCh chan Result
	done   chan struct{}
}

type openBatch struct {
	mu       sync.Mutex
	items    []*pending
	timer    *time.Timer
	closeOnce sync.Once
}

// Batcher groups eligible requests of the same type into batches and
// dispatches each closed batch to Handler exactly once.
type Batcher struct {
	config  Config
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	batches map[string]*openBatch
	closed  bool
}

// New creates a Batcher.
func New(config Config, handler Handler, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 10
	}
	if config.BatchDelay <= 0 {
		config.BatchDelay = 50 * time.Millisecond
	}
	if config.EligibleTypes == nil {
		config.EligibleTypes = map[string]bool{}
	}
	return &Batcher{
		config:  config,
		handler: handler,
		logger:  logger,
		batches: make(map[string]*openBatch),
	}
}

// SetConfig atomically replaces the batcher's configuration. In-flight
// batches keep their original size/delay.
func (b *Batcher) SetConfig(config Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = b.config.MaxBatchSize
	}
	if config.BatchDelay <= 0 {
		config.BatchDelay = b.config.BatchDelay
	}
	if config.EligibleTypes == nil {
		config.EligibleTypes = b.config.EligibleTypes
	}
	b.config = config
}

// Eligible reports whether requestType is configured for batching.
func (b *Batcher) Eligible(requestType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Eligible(requestType)
}

// Submit enqueues req into the open batch for its type (creating one if
// none is open) and returns a channel that receives exactly one Result.
// Cancelling ctx before the batch closes removes req from the batch (if
// still open) without affecting other members.
func (b *Batcher) Submit(ctx context.Context, req Request) <-chan Result {
	respCh := make(chan Result, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		respCh <- Result{ID: req.ID, Err: types.NewError(types.ErrCleanup, "batcher closed")}
		return respCh
	}

	ob, ok := b.batches[req.Type]
	if !ok {
		ob = &openBatch{}
		b.batches[req.Type] = ob
		delay := b.config.BatchDelay
		ob.timer = time.AfterFunc(delay, func() { b.closeBatch(req.Type, ob) })
	}
	maxSize := b.config.MaxBatchSize
	b.mu.Unlock()

	p := &pending{req: req, respCh: respCh, done: make(chan struct{})}

	ob.mu.Lock()
	ob.items = append(ob.items, p)
	size := len(ob.items)
	ob.mu.Unlock()

	if size >= maxSize {
		b.closeBatch(req.Type, ob)
	}

	go func() {
		select {
		case <-ctx.Done():
			b.cancelPending(ob, p, ctx.Err())
		case <-p.done:
		}
	}()

	return respCh
}

func (b *Batcher) cancelPending(ob *openBatch, p *pending, cause error) {
	ob.mu.Lock()
	for i, item := range ob.items {
		if item == p {
			ob.items = append(ob.items[:i], ob.items[i+1:]...)
			ob.mu.Unlock()
			select {
			case p.respCh <- Result{ID: p.req.ID, Err: types.NewError(types.ErrCancelled, "request cancelled").WithCause(cause)}:
			default:
			}
			close(p.done)
			return
		}
	}
	ob.mu.Unlock()
}

// closeBatch closes the named batch exactly once, whichever of size or
// deadline triggered it, and dispatches the accumulated items to Handler.
func (b *Batcher) closeBatch(requestType string, ob *openBatch) {
	ob.closeOnce.Do(func() {
		b.mu.Lock()
		if b.batches[requestType] == ob {
			delete(b.batches, requestType)
		}
		b.mu.Unlock()
		ob.timer.Stop()

		ob.mu.Lock()
		items := ob.items
		ob.items = nil
		ob.mu.Unlock()

		if len(items) == 0 {
			return
		}
		b.dispatch(items)
	})
}

func (b *Batcher) dispatch(items []*pending) {
	requests := make([]Request, len(items))
	for i, p := range items {
		requests[i] = p.req
	}

	results := b.safeHandle(requests)

	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	for _, p := range items {
		r, ok := byID[p.req.ID]
		if !ok {
			r = Result{ID: p.req.ID, Err: types.NewError(types.ErrUpstream5xx, "no batch result for request")}
		}
		select {
		case p.respCh <- r:
		default:
		}
		close(p.done)
	}
}

// safeHandle invokes Handler, mapping a panic or an executor-level error to
// a uniform failure for every request in the batch.
func (b *Batcher) safeHandle(requests []Request) (results []Result) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("batch handler panicked", zap.Any("panic", r))
			results = failAll(requests, types.NewError(types.ErrUpstream5xx, "batch handler panicked"))
		}
	}()
	return b.handler(context.Background(), requests)
}

func failAll(requests []Request, err error) []Result {
	results := make([]Result, len(requests))
	for i, r := range requests {
		results[i] = Result{ID: r.ID, Err: err}
	}
	return results
}

// Close closes every open batch immediately, rejecting all pending items
// with a Cleanup error, and accepts no further submissions.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batches := b.batches
	b.batches = make(map[string]*openBatch)
	b.mu.Unlock()

	for _, ob := range batches {
		ob.timer.Stop()
		ob.mu.Lock()
		items := ob.items
		ob.items = nil
		ob.mu.Unlock()
		for _, p := range items {
			select {
			case p.respCh <- Result{ID: p.req.ID, Err: types.NewError(types.ErrCleanup, "batcher closed")}:
			default:
			}
			close(p.done)
		}
	}
}
