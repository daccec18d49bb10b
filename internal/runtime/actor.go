package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/orizon-lang/ensemble/internal/runtime/concurrency"
)

// message is one queued behavior invocation.
type message func()

// Actor is the unit of isolated state. An actor's mailbox is drained by at
// most one worker at a time, so state touched only from its own messages
// needs no locking.
//
// Application actors embed *Actor and declare behaviors with NewBehavior,
// NewReplyBehavior or NewFlowable.
type Actor struct {
	runtime *Runtime
	id      uuid.UUID
	name    string
	mailbox *concurrency.Queue[message]

	scheduled atomic.Bool  // true while queued on a worker or running
	pending   atomic.Int64 // queued plus running messages
	processed atomic.Int64 // messages completed
	worker    atomic.Int32 // worker that last ran the actor, -1 before the first run
	priority  atomic.Int32
	batchSize atomic.Int32 // 0 uses the runtime default
	affinity  atomic.Int32
	yield     atomic.Bool

	created time.Time

	// calls holds reply calls issued with this actor as sender whose
	// continuations have not fired yet.
	calls      map[*Call]struct{}
	callsMutex sync.Mutex
}

// ActorOption customizes an actor at construction.
type ActorOption func(*Actor)

// WithName sets a diagnostic name used in logs.
func WithName(name string) ActorOption {
	return func(a *Actor) { a.name = name }
}

// WithPriority sets the scheduling priority. Actors with a priority above
// zero are queued ahead of lower priorities.
func WithPriority(p int) ActorOption {
	return func(a *Actor) { a.priority.Store(int32(p)) }
}

// WithBatchSize overrides the runtime's per-actor message batch cap.
func WithBatchSize(n int) ActorOption {
	return func(a *Actor) { a.batchSize.Store(int32(n)) }
}

// WithAffinity sets the core affinity hint.
func WithAffinity(c CoreAffinity) ActorOption {
	return func(a *Actor) { a.affinity.Store(int32(c)) }
}

// WithUUID gives the actor a caller-chosen identity.
func WithUUID(id uuid.UUID) ActorOption {
	return func(a *Actor) { a.id = id }
}

// NewActor creates an actor bound to rt, starting rt if necessary.
func NewActor(rt *Runtime, opts ...ActorOption) *Actor {
	a := &Actor{
		runtime: rt,
		id:      uuid.New(),
		mailbox: concurrency.NewQueue[message](128, true, false),
		created: time.Now(),
		calls:   make(map[*Call]struct{}),
	}
	a.worker.Store(-1)
	for _, opt := range opts {
		opt(a)
	}
	if err := rt.Startup(); err != nil {
		rt.logger.Error("lazy runtime startup failed", "err", err)
	}
	rt.retain(a)
	return a
}

// UUID returns the actor identity.
func (a *Actor) UUID() uuid.UUID { return a.id }

// Name returns the diagnostic name, defaulting to the UUID.
func (a *Actor) Name() string {
	if a.name == "" {
		return a.id.String()
	}
	return a.name
}

// Runtime returns the runtime the actor is bound to.
func (a *Actor) Runtime() *Runtime { return a.runtime }

// Uptime is the time since construction.
func (a *Actor) Uptime() time.Duration { return time.Since(a.created) }

// MessagesCount returns the number of messages queued or running.
func (a *Actor) MessagesCount() int { return int(a.pending.Load()) }

// Processed returns the number of messages completed so far.
func (a *Actor) Processed() int64 { return a.processed.Load() }

// Priority returns the scheduling priority.
func (a *Actor) Priority() int { return int(a.priority.Load()) }

// SetPriority changes the scheduling priority for future scheduling.
func (a *Actor) SetPriority(p int) { a.priority.Store(int32(p)) }

// SetBatchSize changes the per-actor batch cap; 0 restores the runtime default.
func (a *Actor) SetBatchSize(n int) { a.batchSize.Store(int32(n)) }

// Affinity returns the core affinity hint.
func (a *Actor) Affinity() CoreAffinity { return CoreAffinity(a.affinity.Load()) }

// SetAffinity changes the core affinity hint.
func (a *Actor) SetAffinity(c CoreAffinity) { a.affinity.Store(int32(c)) }

// Yield ends the current batch after the running message returns, letting
// other actors on the worker run before this one continues.
func (a *Actor) Yield() { a.yield.Store(true) }

// Send queues fn to run in the actor's context. It never blocks.
func (a *Actor) Send(fn func()) {
	a.runtime.pool.submit(a, fn)
}

// Wait blocks until at most minMessages are queued or running on the actor.
// It must not be called from the actor's own messages.
func (a *Actor) Wait(ctx context.Context, minMessages int) error {
	return a.runtime.pool.Wait(ctx, a, minMessages)
}

// CancelThens releases every continuation registered on calls this actor
// issued as sender. The continuations never run. It returns how many calls
// were released.
func (a *Actor) CancelThens() int {
	a.callsMutex.Lock()
	calls := a.calls
	a.calls = make(map[*Call]struct{})
	a.callsMutex.Unlock()

	for c := range calls {
		c.cancel()
	}
	return len(calls)
}

// PendingThens returns how many issued calls still wait for their reply.
func (a *Actor) PendingThens() int {
	a.callsMutex.Lock()
	defer a.callsMutex.Unlock()
	return len(a.calls)
}

func (a *Actor) track(c *Call) {
	a.callsMutex.Lock()
	a.calls[c] = struct{}{}
	a.callsMutex.Unlock()
}

func (a *Actor) untrack(c *Call) {
	a.callsMutex.Lock()
	delete(a.calls, c)
	a.callsMutex.Unlock()
}

func (a *Actor) batchLimit() int {
	if n := a.batchSize.Load(); n > 0 {
		return int(n)
	}
	return a.runtime.MessageBatchSize()
}
