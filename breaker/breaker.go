// Package breaker implements the per-adapter circuit breaker: Closed, Open,
// and HalfOpen states gating admission of producer calls.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/types"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	FailThreshold int           // consecutive failures within WindowFail before opening
	WindowFail    time.Duration // a failure older than this since the last one resets the streak
	Cooldown      time.Duration // initial Open duration before a HalfOpen probe is allowed
	MaxCooldown   time.Duration // cap on cooldown growth after repeated probe failures
	OnStateChange func(adapter string, from, to State)
}

// DefaultConfig returns a sane default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailThreshold: 5,
		WindowFail:    30 * time.Second,
		Cooldown:      10 * time.Second,
		MaxCooldown:   5 * time.Minute,
	}
}

func (c Config) normalized() Config {
	if c.FailThreshold <= 0 {
		c.FailThreshold = 5
	}
	if c.WindowFail <= 0 {
		c.WindowFail = 30 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 5 * time.Minute
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	return c
}

// Breaker is a per-adapter circuit breaker. Callers call Allow before
// issuing a producer call and RecordSuccess/RecordFailure after it
// completes.
type Breaker struct {
	adapter string
	logger  *zap.Logger

	mu                 sync.Mutex
	config             Config
	state              State
	consecutiveFailures int
	lastFailureTime    time.Time
	openedAt           time.Time
	currentCooldown    time.Duration
	halfOpenInFlight   bool
}

// New creates a Breaker for the named adapter.
func New(adapter string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := config.normalized()
	return &Breaker{
		adapter:         adapter,
		logger:          logger,
		config:          cfg,
		state:           StateClosed,
		currentCooldown: cfg.Cooldown,
	}
}

// SetConfig atomically replaces the breaker's configuration.
func (b *Breaker) SetConfig(config Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = config.normalized()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. While Open it returns a
// BreakerOpen error until the cooldown elapses, at which point it
// transitions to HalfOpen and grants exactly one probe. Subsequent calls
// while a probe is already in flight are also refused.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) >= b.currentCooldown {
			b.setState(StateHalfOpen)
			b.halfOpenInFlight = true
			return nil
		}
		return types.NewError(types.ErrBreakerOpen, "adapter "+b.adapter+" is open").WithProvider(b.adapter)
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return types.NewError(types.ErrBreakerOpen, "probe already in flight for "+b.adapter).WithProvider(b.adapter)
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.logger.Info("breaker probe succeeded, closing", zap.String("adapter", b.adapter))
		b.setState(StateClosed)
		b.consecutiveFailures = 0
		b.currentCooldown = b.config.Cooldown
		b.halfOpenInFlight = false
	case StateOpen:
		b.logger.Warn("success observed while open", zap.String("adapter", b.adapter))
	}
}

// RecordFailure reports a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed:
		if !b.lastFailureTime.IsZero() && now.Sub(b.lastFailureTime) > b.config.WindowFail {
			b.consecutiveFailures = 0
		}
		b.consecutiveFailures++
		b.lastFailureTime = now
		if b.consecutiveFailures >= b.config.FailThreshold {
			b.logger.Warn("breaker opening", zap.String("adapter", b.adapter), zap.Int("failures", b.consecutiveFailures))
			b.currentCooldown = b.config.Cooldown
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("breaker probe failed, reopening", zap.String("adapter", b.adapter))
		b.currentCooldown *= 2
		if b.currentCooldown > b.config.MaxCooldown {
			b.currentCooldown = b.config.MaxCooldown
		}
		b.halfOpenInFlight = false
		b.setState(StateOpen)
	case StateOpen:
		b.lastFailureTime = now
	}
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenInFlight = false
	b.currentCooldown = b.config.Cooldown
	if old != StateClosed && b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.adapter, old, StateClosed)
	}
}

// setState transitions state and records the timestamp of the transition
// into Open for cooldown accounting. Caller must hold b.mu.
func (b *Breaker) setState(newState State) {
	old := b.state
	b.state = newState
	if newState == StateOpen {
		b.openedAt = time.Now()
	}
	if b.config.OnStateChange != nil && old != newState {
		go b.config.OnStateChange(b.adapter, old, newState)
	}
}
