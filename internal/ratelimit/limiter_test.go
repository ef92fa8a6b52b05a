package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/dispatch"
	"courier/internal/payload"
	"courier/internal/ratelimit"
)

func job(article string) payload.Job {
	return payload.Job{Key: payload.NewKey("chan1", article), Kind: payload.KindMessage}
}

type recorder struct {
	mu   sync.Mutex
	keys []payload.Key
}

func (r *recorder) handle(_ context.Context, j payload.Job) {
	r.mu.Lock()
	r.keys = append(r.keys, j.Key)
	r.mu.Unlock()
}

func (r *recorder) seen() []payload.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payload.Key(nil), r.keys...)
}

func startLimiter(t *testing.T, lim *ratelimit.Limiter, signals <-chan dispatch.BlockSignal) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = lim.Run(ctx, signals)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestLimiter_PausedAdmissionsDispatchInOrderOnResume(t *testing.T) {
	rec := &recorder{}
	lim := ratelimit.New(ratelimit.Config{
		Interval:       10 * time.Millisecond,
		IntervalCap:    10,
		MaxConcurrency: 1,
	}, rec.handle)
	startLimiter(t, lim, nil)

	lim.Pause(0)
	lim.Admit(job("a"))
	lim.Admit(job("b"))
	lim.Admit(job("c"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.seen(), "nothing dispatches while paused")
	assert.Equal(t, ratelimit.Paused, lim.State())
	assert.Equal(t, 3, lim.Backlog())

	lim.Resume()

	require.Eventually(t, func() bool { return len(rec.seen()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []payload.Key{"chan1_a", "chan1_b", "chan1_c"}, rec.seen())
	assert.Equal(t, ratelimit.Running, lim.State())
	assert.Zero(t, lim.Backlog())
}

func TestLimiter_BlockSignalPausesThenAutoResumes(t *testing.T) {
	rec := &recorder{}
	lim := ratelimit.New(ratelimit.Config{
		Interval:               10 * time.Millisecond,
		IntervalCap:            10,
		BackpressureMultiplier: 2,
	}, rec.handle)

	signals := make(chan dispatch.BlockSignal, 1)
	startLimiter(t, lim, signals)

	signals <- dispatch.BlockSignal{Kind: dispatch.BlockGlobalRateLimit, Duration: 50 * time.Millisecond}
	require.Eventually(t, func() bool { return lim.State() == ratelimit.Paused }, time.Second, time.Millisecond)

	blockedAt := time.Now()
	lim.Admit(job("a"))

	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
	// Pause lasts the signalled duration times the multiplier.
	assert.GreaterOrEqual(t, time.Since(blockedAt), 80*time.Millisecond)

	snap := lim.Snapshot()
	assert.Equal(t, "running", snap.State)
	assert.Equal(t, uint64(1), snap.Pauses)
	assert.Equal(t, dispatch.BlockGlobalRateLimit, snap.LastBlock)
	assert.Nil(t, snap.PausedUntil)
}

func TestLimiter_LaterBlockReplacesDeadline(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{Interval: time.Millisecond, IntervalCap: 1, BackpressureMultiplier: 1}, func(context.Context, payload.Job) {})

	lim.Block(dispatch.BlockSignal{Kind: dispatch.BlockGlobalRateLimit, Duration: time.Hour})
	lim.Block(dispatch.BlockSignal{Kind: dispatch.BlockProviderEdgeRateLimit, Duration: 30 * time.Millisecond})

	snap := lim.Snapshot()
	require.NotNil(t, snap.PausedUntil)
	assert.WithinDuration(t, time.Now().Add(30*time.Millisecond), *snap.PausedUntil, 20*time.Millisecond)
	assert.Equal(t, uint64(1), snap.Pauses, "a second block while paused is not a new pause")

	require.Eventually(t, func() bool { return lim.State() == ratelimit.Running }, time.Second, 5*time.Millisecond)
}

func TestLimiter_ConcurrencyCap(t *testing.T) {
	var active, peak, done int32
	lim := ratelimit.New(ratelimit.Config{
		Interval:       10 * time.Millisecond,
		IntervalCap:    100,
		MaxConcurrency: 2,
	}, func(context.Context, payload.Job) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&done, 1)
	})
	startLimiter(t, lim, nil)

	for i := 0; i < 8; i++ {
		lim.Admit(job(string(rune('a' + i))))
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 8 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, uint64(8), lim.Snapshot().Dispatched)
}

type startLog struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *startLog) handle(context.Context, payload.Job) {
	s.mu.Lock()
	s.times = append(s.times, time.Now())
	s.mu.Unlock()
}

func (s *startLog) snapshot() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.times...)
}

// busiest returns the most starts that fall inside any span of length d.
func busiest(times []time.Time, d time.Duration) int {
	most := 0
	for i := range times {
		n := 0
		for j := i; j < len(times) && times[j].Sub(times[i]) < d; j++ {
			n++
		}
		most = max(most, n)
	}
	return most
}

func TestLimiter_IntervalCapHoldsInEveryWindow(t *testing.T) {
	const (
		interval = 200 * time.Millisecond
		capacity = 5
		jobs     = 20
	)
	starts := &startLog{}
	lim := ratelimit.New(ratelimit.Config{
		Interval:       interval,
		IntervalCap:    capacity,
		MaxConcurrency: capacity,
	}, starts.handle)
	startLimiter(t, lim, nil)

	for i := 0; i < jobs; i++ {
		lim.Admit(job(string(rune('a' + i))))
	}

	require.Eventually(t, func() bool { return len(starts.snapshot()) == jobs }, 3*time.Second, 10*time.Millisecond)
	times := starts.snapshot()

	// The slack absorbs goroutine scheduling between claim and handler.
	assert.LessOrEqual(t, busiest(times, interval-20*time.Millisecond), capacity)
	assert.GreaterOrEqual(t, times[capacity*3].Sub(times[0]), 3*interval-50*time.Millisecond,
		"sustained load is spread over successive intervals")
}

func TestLimiter_BlockDuringInFlightDispatches(t *testing.T) {
	release := make(chan struct{})
	var started, finished int32
	lim := ratelimit.New(ratelimit.Config{
		Interval:               10 * time.Millisecond,
		IntervalCap:            10,
		MaxConcurrency:         2,
		BackpressureMultiplier: 1,
	}, func(ctx context.Context, _ payload.Job) {
		atomic.AddInt32(&started, 1)
		<-release
		assert.NoError(t, ctx.Err())
		atomic.AddInt32(&finished, 1)
	})
	startLimiter(t, lim, nil)

	for _, a := range []string{"a", "b", "c", "d"} {
		lim.Admit(job(a))
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 2 }, time.Second, time.Millisecond)

	blockedAt := time.Now()
	lim.Block(dispatch.BlockSignal{Kind: dispatch.BlockGlobalRateLimit, Duration: 150 * time.Millisecond})
	close(release)

	// In-flight dispatches run to completion; nothing new starts while paused.
	require.Eventually(t, func() bool { return atomic.LoadInt32(&finished) == 2 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&started))
	assert.Equal(t, ratelimit.Paused, lim.State())
	assert.Equal(t, 2, lim.Backlog())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&finished) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(blockedAt), 140*time.Millisecond)
	assert.Equal(t, uint64(4), lim.Snapshot().Dispatched)
}

func TestLimiter_ZeroDurationBlockResumes(t *testing.T) {
	rec := &recorder{}
	lim := ratelimit.New(ratelimit.Config{Interval: 10 * time.Millisecond, IntervalCap: 10}, rec.handle)
	startLimiter(t, lim, nil)

	lim.Block(dispatch.BlockSignal{Kind: dispatch.BlockInvalidRequestThreshold, Duration: 0})
	lim.Admit(job("a"))

	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, ratelimit.Running, lim.State())
	assert.Equal(t, uint64(1), lim.Snapshot().Pauses)
}

func TestLimiter_PauseKeepsIntervalSlot(t *testing.T) {
	const interval = 400 * time.Millisecond
	starts := &startLog{}
	lim := ratelimit.New(ratelimit.Config{
		Interval:               interval,
		IntervalCap:            1,
		MaxConcurrency:         2,
		BackpressureMultiplier: 1,
	}, starts.handle)
	startLimiter(t, lim, nil)

	lim.Admit(job("a"))
	require.Eventually(t, func() bool { return len(starts.snapshot()) == 1 }, time.Second, time.Millisecond)
	lim.Admit(job("b"))

	// b is waiting for the next slot when the block arrives and clears
	// before that slot was due.
	time.Sleep(100 * time.Millisecond)
	lim.Block(dispatch.BlockSignal{Kind: dispatch.BlockGlobalRateLimit, Duration: 400 * time.Millisecond})

	require.Eventually(t, func() bool { return len(starts.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	times := starts.snapshot()
	gap := times[1].Sub(times[0])
	assert.GreaterOrEqual(t, gap, interval)
	assert.Less(t, gap, 700*time.Millisecond, "b starts when the pause ends, not one slot later")
}

func TestLimiter_RunWaitsForStartedDispatches(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	started := make(chan struct{})

	lim := ratelimit.New(ratelimit.Config{Interval: time.Millisecond, IntervalCap: 1}, func(ctx context.Context, _ payload.Job) {
		close(started)
		<-release
		assert.NoError(t, ctx.Err(), "dispatch context outlives shutdown")
		finished.Store(true)
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		assert.NoError(t, lim.Run(ctx, nil))
		close(runDone)
	}()

	lim.Admit(job("a"))
	<-started
	cancel()

	select {
	case <-runDone:
		t.Fatal("Run returned before the in-flight dispatch finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-runDone
	assert.True(t, finished.Load())
}
