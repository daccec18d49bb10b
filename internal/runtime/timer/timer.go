// Package timer runs deadline callbacks from a single service goroutine.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/ensemble/internal/runtime/concurrency"
)

// Timer is one scheduled callback. A repeating timer is re-armed at
// fire time + interval until cancelled.
type Timer struct {
	deadline  time.Time
	interval  time.Duration
	repeats   bool
	cancelled atomic.Bool
	fired     atomic.Int64
	fire      func(*Timer)
}

// Cancel stops the timer. Calling it more than once is harmless.
func (t *Timer) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (t *Timer) Cancelled() bool { return t.cancelled.Load() }

// Fired returns how many times the timer has fired.
func (t *Timer) Fired() int64 { return t.fired.Load() }

// Interval returns the repeat interval.
func (t *Timer) Interval() time.Duration { return t.interval }

// Repeats reports whether the timer is re-armed after firing.
func (t *Timer) Repeats() bool { return t.repeats }

func earlier(a, b *Timer) bool { return a.deadline.Before(b.deadline) }

// Config tunes the service loop.
type Config struct {
	// MaxSleep caps how long the loop sleeps when no timer is due sooner.
	MaxSleep time.Duration
	Logger   *slog.Logger
}

// DefaultConfig is used for zero fields.
var DefaultConfig = Config{
	MaxSleep: 10 * time.Second,
}

// Loop owns the sorted timer list and the goroutine servicing it.
type Loop struct {
	timers *concurrency.Queue[*Timer]
	wake   chan struct{}
	config Config
	logger *slog.Logger

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	mutex   sync.Mutex
}

// NewLoop creates a stopped loop.
func NewLoop(config Config) *Loop {
	if config.MaxSleep <= 0 {
		config.MaxSleep = DefaultConfig.MaxSleep
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		// many producers, the loop is the only consumer
		timers: concurrency.NewQueue[*Timer](128, true, false),
		wake:   make(chan struct{}, 1),
		config: config,
		logger: logger.With("component", "timer"),
	}
}

// Start launches the service goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.running {
		return fmt.Errorf("timer loop is already running")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.running = true
	go l.run(ctx, l.done)
	return nil
}

// Stop ends the service goroutine and drops every pending timer.
func (l *Loop) Stop() {
	l.mutex.Lock()
	if !l.running {
		l.mutex.Unlock()
		return
	}
	l.running = false
	l.cancel()
	done := l.done
	l.mutex.Unlock()

	<-done
	l.timers.Clear()
}

// Pending returns the number of armed timers.
func (l *Loop) Pending() int { return l.timers.Count() }

// After arms a timer that invokes fire once delay has elapsed, then every
// delay again when repeats is set.
func (l *Loop) After(delay time.Duration, repeats bool, fire func(*Timer)) *Timer {
	if repeats && delay <= 0 {
		delay = time.Millisecond
	}
	t := &Timer{
		deadline: time.Now().Add(delay),
		interval: delay,
		repeats:  repeats,
		fire:     fire,
	}
	l.arm(t)
	return t
}

func (l *Loop) arm(t *Timer) {
	l.timers.EnqueueSorted(t, earlier)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	l.logger.Debug("timer loop started", "maxSleep", l.config.MaxSleep)
	defer l.logger.Debug("timer loop stopped")
	sleeper := time.NewTimer(l.config.MaxSleep)
	defer sleeper.Stop()

	for {
		delay := l.fireDue(time.Now())

		if !sleeper.Stop() {
			select {
			case <-sleeper.C:
			default:
			}
		}
		sleeper.Reset(delay)

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		case <-sleeper.C:
		}
	}
}

// fireDue fires every timer due at now and returns how long the loop may
// sleep before the next one.
func (l *Loop) fireDue(now time.Time) time.Duration {
	due := l.timers.DequeueAny(func(t *Timer) bool {
		return !t.deadline.After(now)
	})
	for _, t := range due {
		if t.Cancelled() {
			continue
		}
		t.fired.Add(1)
		t.fire(t)
		if t.repeats && !t.Cancelled() {
			t.deadline = now.Add(t.interval)
			l.timers.EnqueueSorted(t, earlier)
		}
	}

	next, ok := l.timers.Peek()
	if !ok {
		return l.config.MaxSleep
	}
	delay := next.deadline.Sub(time.Now())
	if delay < 0 {
		return 0
	}
	if delay > l.config.MaxSleep {
		return l.config.MaxSleep
	}
	return delay
}
