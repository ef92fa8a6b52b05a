// Package ratelimit admits jobs for dispatch at a bounded rate and
// concurrency. The limiter pauses when the downstream API reports a block and
// resumes once the backpressure deadline passes.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"courier/internal/backpressure"
	"courier/internal/dispatch"
	"courier/internal/payload"
)

const defaultMultiplier = 2

type State int

const (
	Running State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "running"
}

type Config struct {
	// At most IntervalCap dispatches start in any span of Interval. Starts
	// are paced Interval/IntervalCap apart.
	Interval    time.Duration
	IntervalCap int
	// MaxConcurrency bounds in-flight dispatches. Zero means IntervalCap.
	MaxConcurrency int
	// Block durations are multiplied by this before arming the timer.
	BackpressureMultiplier float64
}

// Handler performs one dispatch. It runs on its own goroutine with a context
// that is not cancelled when Run stops.
type Handler func(ctx context.Context, j payload.Job)

type Option func(*Limiter)

func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

type Limiter struct {
	cfg     Config
	handler Handler
	bucket  *rate.Limiter
	sem     *semaphore.Weighted
	window  window
	timer   *backpressure.Timer
	logger  *slog.Logger

	mu      sync.Mutex
	pending []payload.Job
	state   State
	metrics metrics

	wake     chan struct{}
	paused   chan struct{}
	inFlight sync.WaitGroup
}

func New(cfg Config, handler Handler, opts ...Option) *Limiter {
	if cfg.IntervalCap <= 0 {
		cfg.IntervalCap = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = cfg.IntervalCap
	}
	if cfg.BackpressureMultiplier <= 0 {
		cfg.BackpressureMultiplier = defaultMultiplier
	}

	every := rate.Inf
	if cfg.Interval > 0 {
		every = rate.Every(cfg.Interval / time.Duration(cfg.IntervalCap))
	}

	l := &Limiter{
		cfg:     cfg,
		handler: handler,
		bucket:  rate.NewLimiter(every, 1),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		window:  newWindow(cfg.Interval, cfg.IntervalCap),
		logger:  slog.Default(),
		wake:    make(chan struct{}, 1),
		paused:  make(chan struct{}, 1),
	}
	l.timer = backpressure.New(l.resume)
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit queues j behind every job admitted before it. It never blocks and
// never drops.
func (l *Limiter) Admit(j payload.Job) {
	l.mu.Lock()
	l.pending = append(l.pending, j)
	l.metrics.admitted++
	l.mu.Unlock()
	l.notify()
}

// Run drives admission until ctx is done, then waits for started dispatches
// to finish. Block signals received on signals pause the limiter.
func (l *Limiter) Run(ctx context.Context, signals <-chan dispatch.BlockSignal) error {
	defer l.inFlight.Wait()

	if signals != nil {
		go l.watch(ctx, signals)
	}

	for {
		j, ok := l.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-l.wake:
			}
			continue
		}

		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.pushFront(j)
			return nil
		}
		if !l.claimSlot(ctx) {
			l.sem.Release(1)
			l.pushFront(j)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		l.start(ctx, j)
	}
}

// claimSlot waits until a start fits the interval cap and records it. It
// gives up when ctx is done or the limiter pauses, returning the bucket
// reservation so the pause does not cost a slot.
func (l *Limiter) claimSlot(ctx context.Context) bool {
	if l.Paused() {
		return false
	}

	now := time.Now()
	r := l.bucket.ReserveN(now, 1)
	due := now.Add(r.DelayFrom(now))
	giveBack := func() {
		at := time.Now()
		if due.Before(at) {
			at = due
		}
		r.CancelAt(at)
	}

	if !l.sleep(ctx, due.Sub(now)) {
		giveBack()
		return false
	}
	for {
		wait, ok := l.tryStart(time.Now())
		if !ok {
			giveBack()
			return false
		}
		if wait == 0 {
			return true
		}
		if !l.sleep(ctx, wait) {
			giveBack()
			return false
		}
	}
}

// tryStart records a start at now unless the limiter is paused or the
// interval cap is full, in which case it returns how long to wait.
func (l *Limiter) tryStart(now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Paused {
		return 0, false
	}
	if d := l.window.wait(now); d > 0 {
		return d, true
	}
	l.window.record(now)
	return 0, true
}

// sleep waits for d. It reports false when ctx is done or a pause begins.
func (l *Limiter) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-l.paused:
		return false
	case <-t.C:
		return true
	}
}

func (l *Limiter) watch(ctx context.Context, signals <-chan dispatch.BlockSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			l.Block(sig)
		}
	}
}

func (l *Limiter) start(ctx context.Context, j payload.Job) {
	l.mu.Lock()
	l.metrics.dispatched++
	l.metrics.active++
	if l.metrics.active > l.metrics.maxActive {
		l.metrics.maxActive = l.metrics.active
	}
	l.mu.Unlock()

	l.inFlight.Add(1)
	go func() {
		defer l.inFlight.Done()
		defer l.sem.Release(1)
		defer l.finish()
		l.handler(context.WithoutCancel(ctx), j)
	}()
}

func (l *Limiter) finish() {
	l.mu.Lock()
	l.metrics.active--
	idle := l.metrics.active == 0 && len(l.pending) == 0
	var peak int
	if idle {
		peak = l.metrics.maxActive
		l.metrics.maxActive = 0
	}
	l.mu.Unlock()

	if idle {
		l.logger.Debug("limiter idle", "max_active", peak)
	}
}

// Block pauses admission for the signalled duration times the multiplier
// and always resumes on its own, at once for a zero duration. A later block
// replaces the deadline of an earlier one.
func (l *Limiter) Block(sig dispatch.BlockSignal) {
	d := max(time.Duration(float64(sig.Duration)*l.cfg.BackpressureMultiplier), 0)

	l.mu.Lock()
	l.metrics.lastBlock = sig.Kind
	l.mu.Unlock()

	l.logger.Warn("dispatch paused", "kind", sig.Kind, "pause_ms", d.Milliseconds())
	l.pause()
	l.timer.Arm(d)
}

// Pause withholds future admissions. Dispatches already started run to
// completion. With d > 0 the limiter resumes on its own after d; otherwise
// it stays paused until Resume.
func (l *Limiter) Pause(d time.Duration) {
	l.pause()
	if d > 0 {
		l.timer.Arm(d)
	}
}

func (l *Limiter) pause() {
	l.mu.Lock()
	if l.state != Paused {
		l.state = Paused
		l.metrics.pauses++
	}
	l.mu.Unlock()

	select {
	case l.paused <- struct{}{}:
	default:
	}
}

// Resume cancels any pending backpressure deadline and resumes at once.
func (l *Limiter) Resume() {
	l.timer.Stop()
	l.resume()
}

func (l *Limiter) resume() {
	l.mu.Lock()
	wasPaused := l.state == Paused
	l.state = Running
	l.mu.Unlock()

	select {
	case <-l.paused:
	default:
	}

	if wasPaused {
		l.logger.Info("dispatch resumed")
	}
	l.notify()
}

func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Limiter) Paused() bool { return l.State() == Paused }

// Backlog is the number of admitted jobs not yet started.
func (l *Limiter) Backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Limiter) next() (payload.Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Paused || len(l.pending) == 0 {
		return payload.Job{}, false
	}
	j := l.pending[0]
	l.pending[0] = payload.Job{}
	l.pending = l.pending[1:]
	return j, true
}

func (l *Limiter) pushFront(j payload.Job) {
	l.mu.Lock()
	l.pending = append([]payload.Job{j}, l.pending...)
	l.mu.Unlock()
}

func (l *Limiter) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
