// Package health implements the periodic health monitor: it probes each
// adapter's health endpoint, aggregates per-endpoint status from response
// latency, consecutive failures, and error rate, and produces a bounded
// history plus operator recommendations.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/types"
)

// Status is the aggregated health classification for one endpoint.
type Status string

const (
	StatusHealthy   Status = "Healthy"
	StatusDegraded  Status = "Degraded"
	StatusUnhealthy Status = "Unhealthy"
	StatusUnknown   Status = "Unknown"
)

// Prober performs one minimal request against an adapter's health endpoint.
type Prober func(ctx context.Context) error

// Thresholds configures the latency bands used to classify a probe.
type Thresholds struct {
	DegradedLatency  time.Duration // probes slower than this, but still successful, degrade the endpoint
	UnhealthyLatency time.Duration // probes slower than this are treated as unhealthy even on success
	MaxConsecutive   int           // consecutive probe failures before Unhealthy regardless of error rate
	ErrorRateWindow  time.Duration // sliding window for error-rate computation
	HistorySize      int           // bounded number of probe results retained per endpoint
}

// DefaultThresholds returns sane defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedLatency:  1 * time.Second,
		UnhealthyLatency: 5 * time.Second,
		MaxConsecutive:   3,
		ErrorRateWindow:  5 * time.Minute,
		HistorySize:      50,
	}
}

// ProbeResult is one recorded probe outcome.
type ProbeResult struct {
	At      time.Time
	Latency time.Duration
	Err     error
}

// EndpointSnapshot is the aggregated state of a single endpoint.
type EndpointSnapshot struct {
	Name                string
	Status              Status
	LatencyP50          time.Duration
	LatencyP95          time.Duration
	ErrorCounts         map[types.ErrorCode]int
	ConsecutiveFailures int
	LastProbeAt         time.Time
	LastError           string
}

// Snapshot is the aggregated view across all registered endpoints.
type Snapshot struct {
	Overall         Status
	Endpoints       []EndpointSnapshot
	Recommendations []string
	GeneratedAt     time.Time
}

type endpointState struct {
	mu                  sync.Mutex
	prober              Prober
	history             []ProbeResult
	consecutiveFailures int
}

// Monitor periodically probes registered endpoints and aggregates status.
type Monitor struct {
	thresholds Thresholds
	logger     *zap.Logger

	mu        sync.Mutex
	endpoints map[string]*endpointState

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor. Call Register for each adapter endpoint before
// Start.
func New(thresholds Thresholds, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if thresholds.HistorySize <= 0 {
		thresholds.HistorySize = DefaultThresholds().HistorySize
	}
	if thresholds.MaxConsecutive <= 0 {
		thresholds.MaxConsecutive = DefaultThresholds().MaxConsecutive
	}
	return &Monitor{
		thresholds: thresholds,
		logger:     logger,
		endpoints:  make(map[string]*endpointState),
	}
}

// Register adds an endpoint to be probed, identified by name (typically
// "<provider>.<operation>").
func (m *Monitor) Register(name string, prober Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[name] = &endpointState{prober: prober}
}

// Start launches the periodic probe loop at interval. Stop, or cancelling
// ctx, ends it.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.probeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.Lock()
	states := make(map[string]*endpointState, len(m.endpoints))
	for name, st := range m.endpoints {
		states[name] = st
	}
	m.mu.Unlock()

	for name, st := range states {
		m.probeOne(ctx, name, st)
	}
}

// ProbeNow forces an immediate probe of one endpoint, bypassing the ticker.
func (m *Monitor) ProbeNow(ctx context.Context, name string) {
	m.mu.Lock()
	st, ok := m.endpoints[name]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.probeOne(ctx, name, st)
}

func (m *Monitor) probeOne(ctx context.Context, name string, st *endpointState) {
	start := time.Now()
	err := st.prober(ctx)
	latency := time.Since(start)

	st.mu.Lock()
	defer st.mu.Unlock()

	if err != nil {
		st.consecutiveFailures++
		m.logger.Warn("health probe failed", zap.String("endpoint", name), zap.Error(err))
	} else {
		st.consecutiveFailures = 0
	}

	st.history = append(st.history, ProbeResult{At: start, Latency: latency, Err: err})
	if len(st.history) > m.thresholds.HistorySize {
		st.history = st.history[len(st.history)-m.thresholds.HistorySize:]
	}
}

// Snapshot computes the current aggregated view across all endpoints.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	names := make([]string, 0, len(m.endpoints))
	states := make(map[string]*endpointState, len(m.endpoints))
	for name, st := range m.endpoints {
		names = append(names, name)
		states[name] = st
	}
	m.mu.Unlock()

	snap := Snapshot{GeneratedAt: time.Now()}
	overallRank := 0 // 0 Healthy, 1 Degraded, 2 Unhealthy, 3 Unknown
	recommendations := make(map[string]struct{})

	for _, name := range names {
		st := states[name]
		ep := m.endpointSnapshot(name, st)
		snap.Endpoints = append(snap.Endpoints, ep)
		if rank := statusRank(ep.Status); rank > overallRank {
			overallRank = rank
		}
		for _, r := range recommendationsFor(ep, m.thresholds.DegradedLatency) {
			recommendations[r] = struct{}{}
		}
	}
	snap.Overall = rankStatus(overallRank)
	for r := range recommendations {
		snap.Recommendations = append(snap.Recommendations, r)
	}
	return snap
}

func (m *Monitor) endpointSnapshot(name string, st *endpointState) EndpointSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	ep := EndpointSnapshot{
		Name:                name,
		ErrorCounts:         make(map[types.ErrorCode]int),
		ConsecutiveFailures: st.consecutiveFailures,
	}

	if len(st.history) == 0 {
		ep.Status = StatusUnknown
		return ep
	}

	cutoff := time.Now().Add(-m.thresholds.ErrorRateWindow)
	var latencies []time.Duration
	var windowTotal, windowErrors int
	last := st.history[len(st.history)-1]
	ep.LastProbeAt = last.At
	if last.Err != nil {
		ep.LastError = last.Err.Error()
	}

	for _, r := range st.history {
		latencies = append(latencies, r.Latency)
		if r.Err != nil {
			ep.ErrorCounts[types.GetErrorCode(r.Err)]++
		}
		if r.At.After(cutoff) {
			windowTotal++
			if r.Err != nil {
				windowErrors++
			}
		}
	}

	ep.LatencyP50 = percentile(latencies, 0.50)
	ep.LatencyP95 = percentile(latencies, 0.95)

	errorRate := 0.0
	if windowTotal > 0 {
		errorRate = float64(windowErrors) / float64(windowTotal)
	}

	switch {
	case st.consecutiveFailures >= m.thresholds.MaxConsecutive:
		ep.Status = StatusUnhealthy
	case ep.LatencyP95 >= m.thresholds.UnhealthyLatency:
		ep.Status = StatusUnhealthy
	case errorRate >= 0.5:
		ep.Status = StatusUnhealthy
	case last.Err != nil || errorRate > 0.1 || ep.LatencyP95 >= m.thresholds.DegradedLatency:
		ep.Status = StatusDegraded
	default:
		ep.Status = StatusHealthy
	}

	return ep
}

func statusRank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 3
	}
}

func rankStatus(r int) Status {
	switch r {
	case 0:
		return StatusHealthy
	case 1:
		return StatusDegraded
	case 2:
		return StatusUnhealthy
	default:
		return StatusUnknown
	}
}

func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// recommendationsFor applies the fixed rule set: auth errors suggest
// checking credentials, rate-limit errors suggest backing off, and a
// sluggish endpoint (P95 at or above slow) suggests investigation.
func recommendationsFor(ep EndpointSnapshot, slow time.Duration) []string {
	var recs []string
	if ep.ErrorCounts[types.ErrAuthentication] > 0 || ep.ErrorCounts[types.ErrAuthorization] > 0 {
		recs = append(recs, "check provider credentials for "+ep.Name)
	}
	if ep.ErrorCounts[types.ErrRateLimited] > 0 {
		recs = append(recs, "reduce request rate to "+ep.Name)
	}
	if ep.Status == StatusDegraded || ep.Status == StatusUnhealthy {
		if ep.LatencyP95 > 0 && ep.LatencyP95 >= slow {
			recs = append(recs, "investigate elevated latency on "+ep.Name)
		}
	}
	return recs
}
