// Package runtime implements the actor runtime: actors and their typed
// behaviors, the worker pool that schedules them, reply continuations,
// Flowable pipelines, groups and actor-bound timers.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
	"github.com/orizon-lang/ensemble/internal/runtime/concurrency"
	"github.com/orizon-lang/ensemble/internal/runtime/timer"
)

// ErrShutdownTimeout is returned by Shutdown when messages were still in
// flight at the deadline.
var ErrShutdownTimeout = rterrors.Timeout("in-flight messages to drain")

// Runtime is the context every actor is bound to. Independent runtimes do
// not share workers, timers or counters.
type Runtime struct {
	config Config
	logger *slog.Logger
	pool   *WorkerPool
	timers *timer.Loop

	batchSize atomic.Int64
	created   atomic.Int64

	retained    *concurrency.Queue[*Actor]
	retainTimer *timer.Timer

	running bool
	started time.Time
	cancel  context.CancelFunc
	mutex   sync.Mutex
}

// New creates a stopped runtime. The first actor created on it, or an
// explicit Startup, starts it.
func New(config Config) *Runtime {
	config = config.withDefaults()
	rt := &Runtime{
		config: config,
		logger: config.Logger,
		pool:   NewWorkerPool(config),
		timers: timer.NewLoop(timer.Config{
			MaxSleep: config.TimerMaxSleep,
			Logger:   config.Logger,
		}),
		retained: concurrency.NewQueue[*Actor](1024, true, true),
	}
	rt.batchSize.Store(int64(config.MessageBatchSize))
	return rt
}

// Startup starts workers and the timer loop. Calling it on a running
// runtime does nothing.
func (rt *Runtime) Startup() error {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	if rt.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := rt.pool.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start scheduler: %v", err)
	}
	if err := rt.timers.Start(ctx); err != nil {
		_ = rt.pool.Stop()
		cancel()
		return fmt.Errorf("failed to start timer loop: %v", err)
	}
	rt.cancel = cancel
	rt.running = true
	rt.started = time.Now()

	interval := rt.config.MinLifetime / 2
	rt.retainTimer = rt.timers.After(interval, true, func(*timer.Timer) { rt.releaseRetained() })

	rt.logger.Info("runtime started",
		"workers", len(rt.pool.Workers()),
		"batch", rt.MessageBatchSize())
	return nil
}

// Shutdown waits until no message is queued or running on any actor, then
// stops the workers and the timer loop. The wait is bounded by ctx and by
// the configured shutdown timeout; on expiry the runtime is stopped anyway
// and ErrShutdownTimeout is returned.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mutex.Lock()
	if !rt.running {
		rt.mutex.Unlock()
		return nil
	}
	rt.mutex.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, rt.config.ShutdownTimeout)
	defer cancel()
	drainErr := pollUntil(waitCtx, func() bool { return rt.pool.InFlight() == 0 })

	rt.mutex.Lock()
	if !rt.running {
		rt.mutex.Unlock()
		return nil
	}
	rt.running = false
	stop := rt.cancel
	retainTimer := rt.retainTimer
	started := rt.started
	rt.mutex.Unlock()

	retainTimer.Cancel()
	rt.timers.Stop()
	if err := rt.pool.Stop(); err != nil {
		rt.logger.Error("scheduler stop failed", "err", err)
	}
	stop()
	rt.retained.Clear()

	if drainErr != nil {
		rt.logger.Warn("shutdown before drain", "inflight", rt.pool.InFlight())
		return ErrShutdownTimeout
	}
	rt.logger.Info("runtime stopped", "uptime", time.Since(started))
	return nil
}

// Running reports whether Startup has run and Shutdown has not.
func (rt *Runtime) Running() bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.running
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Cores returns the number of workers.
func (rt *Runtime) Cores() int { return len(rt.pool.Workers()) }

// Scheduler returns the worker pool.
func (rt *Runtime) Scheduler() *WorkerPool { return rt.pool }

// MessageBatchSize returns the default per-actor batch cap.
func (rt *Runtime) MessageBatchSize() int { return int(rt.batchSize.Load()) }

// SetMessageBatchSize changes the default per-actor batch cap. Values
// below one are ignored.
func (rt *Runtime) SetMessageBatchSize(n int) {
	if n < 1 {
		return
	}
	rt.batchSize.Store(int64(n))
}

// InFlight returns the number of messages queued or running.
func (rt *Runtime) InFlight() int64 { return rt.pool.InFlight() }

// After runs fn in a's context once d has elapsed.
func (rt *Runtime) After(a *Actor, d time.Duration, fn func()) *timer.Timer {
	return rt.timers.After(d, false, func(*timer.Timer) { a.Send(fn) })
}

// Every runs fn in a's context every d until the timer is cancelled.
func (rt *Runtime) Every(a *Actor, d time.Duration, fn func()) *timer.Timer {
	return rt.timers.After(d, true, func(*timer.Timer) { a.Send(fn) })
}

// AfterFunc runs fn on the timer goroutine once d has elapsed. fn must
// return quickly.
func (rt *Runtime) AfterFunc(d time.Duration, fn func()) *timer.Timer {
	return rt.timers.After(d, false, func(*timer.Timer) { fn() })
}

// retain holds a reference to a new actor for the minimum lifetime.
func (rt *Runtime) retain(a *Actor) {
	rt.created.Add(1)
	rt.retained.Enqueue(a)
}

// Retained returns how many actors are inside their minimum lifetime.
func (rt *Runtime) Retained() int { return rt.retained.Count() }

func (rt *Runtime) releaseRetained() {
	expired := func(a *Actor) bool { return a.Uptime() >= rt.config.MinLifetime }
	for {
		if _, ok := rt.retained.DequeueIf(expired); !ok {
			return
		}
	}
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Workers    int
	InFlight   int64
	Created    int64
	Retained   int
	TimerCount int
	QueueLens  []int
	BatchSize  int
	Uptime     time.Duration
	Running    bool
}

// Stats returns a snapshot of runtime counters.
func (rt *Runtime) Stats() Stats {
	rt.mutex.Lock()
	running, started := rt.running, rt.started
	rt.mutex.Unlock()
	s := Stats{
		Workers:    len(rt.pool.Workers()),
		InFlight:   rt.pool.InFlight(),
		Created:    rt.created.Load(),
		Retained:   rt.retained.Count(),
		TimerCount: rt.timers.Pending(),
		QueueLens:  rt.pool.GetQueueLengths(),
		BatchSize:  rt.MessageBatchSize(),
		Running:    running,
	}
	if running {
		s.Uptime = time.Since(started)
	}
	return s
}
