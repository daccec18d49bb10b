package runtime

import (
	"context"
	"fmt"
	"log/slog"
	stdrt "runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/ensemble/internal/runtime/concurrency"
)

// Scheduler decides where and when actors with pending messages run.
type Scheduler interface {
	// Schedule queues an actor that has pending messages and is not
	// already queued or running.
	Schedule(a *Actor)
	// Wait blocks until at most minMessages are pending on a.
	Wait(ctx context.Context, a *Actor, minMessages int) error
}

// SchedulerWorker is one goroutine of the pool with its own ready list.
type SchedulerWorker struct {
	ID    int
	Lane  Lane
	ready *concurrency.Queue[*Actor]
	wake  chan struct{}
	ran   atomic.Int64 // actor batches run
	stole atomic.Int64 // actors taken from other workers
}

// QueueLen returns the number of actors waiting on the worker.
func (w *SchedulerWorker) QueueLen() int { return w.ready.Count() }

func (w *SchedulerWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// WorkerPool is the Scheduler implementation: N workers, each draining its
// own ready list of actors, running a bounded batch of each actor's
// messages and re-queueing the actor on the same worker while it has work.
type WorkerPool struct {
	workers  []*SchedulerWorker
	lanes    [2][]*SchedulerWorker
	config   Config
	logger   *slog.Logger
	inflight atomic.Int64

	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	mutex   sync.Mutex
}

var _ Scheduler = (*WorkerPool)(nil)

// NewWorkerPool builds a stopped pool. config must already carry defaults.
func NewWorkerPool(config Config) *WorkerPool {
	p := &WorkerPool{
		config: config,
		logger: config.Logger.With("component", "scheduler"),
	}
	efficiency := config.EfficiencyWorkers
	if efficiency > config.Workers {
		efficiency = config.Workers
	}
	for i := 0; i < config.Workers; i++ {
		lane := PerformanceLane
		if i >= config.Workers-efficiency {
			lane = EfficiencyLane
		}
		w := &SchedulerWorker{
			ID:    i,
			Lane:  lane,
			ready: concurrency.NewQueue[*Actor](64, true, true),
			wake:  make(chan struct{}, 1),
		}
		p.workers = append(p.workers, w)
		p.lanes[lane] = append(p.lanes[lane], w)
	}
	return p
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.running {
		return fmt.Errorf("scheduler already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		p.group.Go(func() error { return p.loop(ctx, w) })
	}
	p.running = true
	p.logger.Debug("scheduler started",
		"workers", len(p.workers),
		"performance", len(p.lanes[PerformanceLane]),
		"efficiency", len(p.lanes[EfficiencyLane]))
	return nil
}

// Stop halts the workers. Actors still queued stay queued.
func (p *WorkerPool) Stop() error {
	p.mutex.Lock()
	if !p.running {
		p.mutex.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	group := p.group
	p.mutex.Unlock()

	for _, w := range p.workers {
		w.signal()
	}
	return group.Wait()
}

// Workers returns the pool's workers.
func (p *WorkerPool) Workers() []*SchedulerWorker { return p.workers }

// InFlight returns the number of messages queued or running across all actors.
func (p *WorkerPool) InFlight() int64 { return p.inflight.Load() }

// GetQueueLengths returns a snapshot of per-worker ready list lengths.
func (p *WorkerPool) GetQueueLengths() []int {
	out := make([]int, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.QueueLen()
	}
	return out
}

func (p *WorkerPool) submit(a *Actor, fn message) {
	p.inflight.Add(1)
	a.pending.Add(1)
	a.mailbox.Enqueue(fn)
	if a.scheduled.CompareAndSwap(false, true) {
		p.Schedule(a)
	}
}

// Schedule places a on the least loaded worker its affinity allows.
func (p *WorkerPool) Schedule(a *Actor) {
	p.push(p.pick(a), a)
}

func (p *WorkerPool) push(w *SchedulerWorker, a *Actor) {
	a.worker.Store(int32(w.ID))
	var wasEmpty bool
	if a.Priority() > 0 {
		wasEmpty = w.ready.EnqueueSorted(a, higherPriority)
	} else {
		wasEmpty = w.ready.Enqueue(a)
	}
	if wasEmpty {
		w.signal()
	}
}

func higherPriority(a, b *Actor) bool { return a.Priority() > b.Priority() }

func (p *WorkerPool) candidates(a *Actor) []*SchedulerWorker {
	lane, strict, anyLane := a.Affinity().lanePreference()
	if anyLane {
		return p.workers
	}
	preferred := p.lanes[lane]
	if len(preferred) == 0 {
		return p.workers
	}
	if strict {
		return preferred
	}
	// a busy preferred lane spills into the other one when it has an idle worker
	for _, w := range preferred {
		if w.QueueLen() == 0 {
			return preferred
		}
	}
	for _, w := range p.lanes[1-lane] {
		if w.QueueLen() == 0 {
			return []*SchedulerWorker{w}
		}
	}
	return preferred
}

func (p *WorkerPool) pick(a *Actor) *SchedulerWorker {
	candidates := p.candidates(a)
	best := candidates[0]
	bestLen := best.QueueLen()
	for _, w := range candidates[1:] {
		if l := w.QueueLen(); l < bestLen {
			best, bestLen = w, l
		}
	}
	return best
}

func (p *WorkerPool) allowed(w *SchedulerWorker, a *Actor) bool {
	lane, strict, _ := a.Affinity().lanePreference()
	return !strict || len(p.lanes[lane]) == 0 || w.Lane == lane
}

func (p *WorkerPool) loop(ctx context.Context, w *SchedulerWorker) error {
	if p.config.PinWorkers {
		if err := pinWorker(w.ID); err != nil {
			p.logger.Warn("worker pinning failed", "worker", w.ID, "err", err)
		}
		defer stdrt.UnlockOSThread()
	}

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	var sleep time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		a, ok := w.ready.Dequeue()
		if !ok {
			a, ok = p.steal(w)
		}
		if ok {
			sleep = 0
			p.run(w, a)
			continue
		}

		if sleep < p.config.IdleMinSleep {
			sleep += p.config.IdleDelta
			stdrt.Gosched()
			continue
		}
		sleep *= 2
		if sleep > p.config.IdleMaxSleep {
			sleep = p.config.IdleMaxSleep
		}
		idle.Reset(sleep)
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
			sleep = 0
		case <-idle.C:
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
	}
}

// steal takes the tail actor of another worker when this one is idle.
func (p *WorkerPool) steal(self *SchedulerWorker) (*Actor, bool) {
	n := len(p.workers)
	for i := 1; i < n; i++ {
		victim := p.workers[(self.ID+i)%n]
		if victim.QueueLen() == 0 {
			continue
		}
		a, ok := victim.ready.Steal()
		if !ok {
			continue
		}
		if !p.allowed(self, a) {
			p.push(victim, a)
			continue
		}
		self.stole.Add(1)
		return a, true
	}
	return nil, false
}

// run executes up to one batch of a's messages and re-queues a on the same
// worker if messages remain.
func (p *WorkerPool) run(w *SchedulerWorker, a *Actor) {
	w.ran.Add(1)
	a.worker.Store(int32(w.ID))
	limit := a.batchLimit()
	yielded := false
	for i := 0; i < limit; i++ {
		msg, ok := a.mailbox.Dequeue()
		if !ok {
			break
		}
		msg()
		a.processed.Add(1)
		a.pending.Add(-1)
		p.inflight.Add(-1)
		if a.yield.Swap(false) {
			yielded = true
			break
		}
	}

	if !a.mailbox.IsEmpty() {
		p.requeue(w, a, yielded)
		return
	}
	a.scheduled.Store(false)
	if !a.mailbox.IsEmpty() && a.scheduled.CompareAndSwap(false, true) {
		p.requeue(w, a, yielded)
	}
}

func (p *WorkerPool) requeue(w *SchedulerWorker, a *Actor, yielded bool) {
	if !p.allowed(w, a) {
		w = p.pick(a)
	}
	p.push(w, a)
	if yielded {
		stdrt.Gosched()
	}
}

// Wait polls a's pending count with a short growing back-off.
func (p *WorkerPool) Wait(ctx context.Context, a *Actor, minMessages int) error {
	return pollUntil(ctx, func() bool { return a.MessagesCount() <= minMessages })
}

func pollUntil(ctx context.Context, cond func() bool) error {
	delay := 10 * time.Microsecond
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 500*time.Microsecond {
			delay += time.Microsecond
		}
	}
	return nil
}
