package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailThreshold)
	assert.Equal(t, 30*time.Second, cfg.WindowFail)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
	assert.Equal(t, 5*time.Minute, cfg.MaxCooldown)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

func TestBreaker_ClosedToOpen(t *testing.T) {
	b := New("taste", Config{FailThreshold: 3, WindowFail: time.Second, Cooldown: time.Hour}, zap.NewNop())

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.State())
	}

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenRejectsCalls(t *testing.T) {
	b := New("taste", Config{FailThreshold: 1, Cooldown: time.Hour}, zap.NewNop())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	err := b.Allow()
	assert.Error(t, err)
	assert.Equal(t, types.ErrBreakerOpen, types.GetErrorCode(err))
}

func TestBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	b := New("taste", Config{FailThreshold: 1, Cooldown: 30 * time.Millisecond}, zap.NewNop())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureDoublesCooldown(t *testing.T) {
	b := New("llm", Config{FailThreshold: 1, Cooldown: 20 * time.Millisecond, MaxCooldown: time.Second}, zap.NewNop())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, 40*time.Millisecond, b.currentCooldown)
}

func TestBreaker_HalfOpenAdmitsOnlyOneProbe(t *testing.T) {
	b := New("llm", Config{FailThreshold: 1, Cooldown: 10 * time.Millisecond}, zap.NewNop())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	err := b.Allow()
	assert.Error(t, err)
	assert.Equal(t, types.ErrBreakerOpen, types.GetErrorCode(err))
}

func TestBreaker_Reset(t *testing.T) {
	b := New("taste", Config{FailThreshold: 1, Cooldown: time.Hour}, zap.NewNop())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to State }

	b := New("taste", Config{FailThreshold: 2, Cooldown: 30 * time.Millisecond, OnStateChange: func(adapter string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	}}, zap.NewNop())

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(50 * time.Millisecond)
	_ = b.Allow()
	b.RecordSuccess()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(transitions), 2)
	assert.Equal(t, StateClosed, transitions[0].from)
	assert.Equal(t, StateOpen, transitions[0].to)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("taste", Config{FailThreshold: 3}, zap.NewNop())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentSafety(t *testing.T) {
	b := New("taste", Config{FailThreshold: 100}, zap.NewNop())

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Allow(); err == nil {
				b.RecordSuccess()
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, b.State())
}
