// Package limiter implements admission control: a sliding-window counter per
// (endpoint, window) composed with a token-bucket burst allowance.
package limiter

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Decision is the outcome of an admission attempt. tryAcquire never blocks:
// it either grants the permit or reports how long the caller must wait.
type Decision struct {
	Granted bool
	Wait    time.Duration
}

// Budget configures one endpoint's rate limits.
type Budget struct {
	PerMinute int
	PerHour   int
	Burst     int
}

// DefaultBudget returns a permissive default.
func DefaultBudget() Budget {
	return Budget{PerMinute: 60, PerHour: 3000, Burst: 10}
}

type slidingWindow struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	requests []time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{window: window, max: max}
}

// tryAcquire reports whether admission succeeds and, if not, the soonest
// future instant at which it would (as a wait duration from now).
func (w *slidingWindow) tryAcquire(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.requests = kept

	if w.max <= 0 || len(w.requests) < w.max {
		w.requests = append(w.requests, now)
		return true, 0
	}

	oldest := w.requests[0]
	wait := oldest.Add(w.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait
}

func (w *slidingWindow) stats(now time.Time) (used, max int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.window)
	count := 0
	for _, t := range w.requests {
		if t.After(cutoff) {
			count++
		}
	}
	return count, w.max
}

func (w *slidingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = nil
}

// endpointLimiter composes per-minute and per-hour sliding windows with a
// burst allowance refilling at budget/window.
type endpointLimiter struct {
	mu          sync.Mutex
	minute      *slidingWindow
	hour        *slidingWindow
	burst       *rate.Limiter
	forbidUntil time.Time // set by updateFromHeaders when remaining hits zero
}

func newEndpointLimiter(b Budget) *endpointLimiter {
	el := &endpointLimiter{
		minute: newSlidingWindow(b.PerMinute, time.Minute),
		hour:   newSlidingWindow(b.PerHour, time.Hour),
	}
	el.setBurst(b)
	return el
}

func (el *endpointLimiter) setBurst(b Budget) {
	burst := b.Burst
	if burst <= 0 {
		burst = 1
	}
	ratePerSec := float64(b.PerMinute) / 60.0
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	el.mu.Lock()
	el.burst = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	el.mu.Unlock()
}

// Headers carries the provider-supplied rate-limit hints.
type Headers struct {
	Remaining int
	Reset     time.Time
}

// Limiter is the per-provider, per-endpoint admission component.
type Limiter struct {
	mu       sync.Mutex
	budgets  map[string]Budget
	limiters map[string]*endpointLimiter
	logger   *zap.Logger
}

// New creates a Limiter with no configured endpoints; call SetBudget before
// first use of an endpoint, or rely on DefaultBudget via TryAcquire.
func New(logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		budgets:  make(map[string]Budget),
		limiters: make(map[string]*endpointLimiter),
		logger:   logger,
	}
}

// SetBudget configures (or reconfigures) the budget for endpoint.
func (l *Limiter) SetBudget(endpoint string, b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets[endpoint] = b
	if el, ok := l.limiters[endpoint]; ok {
		el.minute.mu.Lock()
		el.minute.max = b.PerMinute
		el.minute.mu.Unlock()
		el.hour.mu.Lock()
		el.hour.max = b.PerHour
		el.hour.mu.Unlock()
		el.setBurst(b)
		return
	}
	l.limiters[endpoint] = newEndpointLimiter(b)
}

func (l *Limiter) endpoint(name string) *endpointLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.limiters[name]; ok {
		return el
	}
	b, ok := l.budgets[name]
	if !ok {
		b = DefaultBudget()
		l.budgets[name] = b
	}
	el := newEndpointLimiter(b)
	l.limiters[name] = el
	return el
}

// TryAcquire never blocks. It grants admission only if the burst allowance,
// the per-minute window, and the per-hour window all have capacity; the
// stricter of the two windows governs. Otherwise it reports the soonest
// future instant at which admission will succeed.
func (l *Limiter) TryAcquire(endpoint string) Decision {
	el := l.endpoint(endpoint)

	el.mu.Lock()
	if !el.forbidUntil.IsZero() && time.Now().Before(el.forbidUntil) {
		wait := time.Until(el.forbidUntil)
		el.mu.Unlock()
		return Decision{Granted: false, Wait: wait}
	}
	el.mu.Unlock()

	now := time.Now()

	minuteOK, minuteWait := el.minute.tryAcquire(now)
	hourOK, hourWait := el.hour.tryAcquire(now)

	if !minuteOK || !hourOK {
		if minuteOK {
			el.minute.rollback(now)
		}
		if hourOK {
			el.hour.rollback(now)
		}
		wait := minuteWait
		if hourWait > wait {
			wait = hourWait
		}
		return Decision{Granted: false, Wait: wait}
	}

	reservation := el.burst.ReserveN(now, 1)
	if !reservation.OK() {
		el.minute.rollback(now)
		el.hour.rollback(now)
		return Decision{Granted: false, Wait: time.Second}
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.Cancel()
		el.minute.rollback(now)
		el.hour.rollback(now)
		return Decision{Granted: false, Wait: delay}
	}

	return Decision{Granted: true}
}

// rollback undoes the most recent admission recorded by tryAcquire; used
// when a sibling window or the burst allowance ultimately denies the
// request, so the window does not charge an admission that never happened.
func (w *slidingWindow) rollback(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.requests) - 1; i >= 0; i-- {
		if w.requests[i].Equal(now) || w.requests[i].After(now.Add(-time.Microsecond)) {
			w.requests = append(w.requests[:i], w.requests[i+1:]...)
			return
		}
	}
}

// UpdateFromHeaders consumes provider-supplied hints. If remaining has
// dropped to zero, the limiter conservatively forbids admission until the
// reset instant, regardless of local counters.
func (l *Limiter) UpdateFromHeaders(endpoint string, h Headers) {
	el := l.endpoint(endpoint)
	el.mu.Lock()
	defer el.mu.Unlock()
	if h.Remaining <= 0 && !h.Reset.IsZero() {
		el.forbidUntil = h.Reset
		l.logger.Debug("limiter forbidding admission from provider headers", zap.String("endpoint", endpoint), zap.Time("reset", h.Reset))
	}
}

// Stats is a usage snapshot for one endpoint.
type Stats struct {
	MinuteUsed, MinuteMax int
	HourUsed, HourMax     int
	ForbiddenUntil        time.Time
}

// Stats returns a usage snapshot for endpoint.
func (l *Limiter) Stats(endpoint string) Stats {
	el := l.endpoint(endpoint)
	now := time.Now()
	mu, mm := el.minute.stats(now)
	hu, hm := el.hour.stats(now)
	el.mu.Lock()
	forbidden := el.forbidUntil
	el.mu.Unlock()
	return Stats{MinuteUsed: mu, MinuteMax: mm, HourUsed: hu, HourMax: hm, ForbiddenUntil: forbidden}
}

// Reset clears all counters and header-derived restrictions for endpoint.
func (l *Limiter) Reset(endpoint string) {
	el := l.endpoint(endpoint)
	el.minute.reset()
	el.hour.reset()
	l.mu.Lock()
	b := l.budgets[endpoint]
	l.mu.Unlock()
	el.setBurst(b)
	el.mu.Lock()
	el.forbidUntil = time.Time{}
	el.mu.Unlock()
}
