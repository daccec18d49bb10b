package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

type callState int

const (
	callSent callState = iota
	callCompleted
	callCancelled
)

// Call is returned by every behavior invocation. It completes when the
// behavior's reply has been delivered to the sender, or immediately for
// behaviors without a reply. Continuations attached with Then or Do run
// once the call completes and are dropped if the sender cancels them first.
type Call struct {
	owner *Actor
	state callState
	hooks []func(completed bool)
	done  chan struct{}
	mutex sync.Mutex
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func completedCall() *Call {
	return &Call{state: callCompleted, done: closedChan}
}

func newCall(owner *Actor) *Call {
	c := &Call{owner: owner, done: make(chan struct{})}
	if owner != nil {
		owner.track(c)
	}
	return c
}

// Then defers next until this call completes. next typically issues the
// following behavior call and returns its Call; the Call returned by Then
// completes when that one does. A nil result from next completes it at once.
func (c *Call) Then(next func() *Call) *Call {
	derived := newCall(c.owner)
	c.onFinish(func(completed bool) {
		if !completed {
			derived.cancel()
			return
		}
		child := next()
		if child == nil {
			derived.complete()
			return
		}
		child.onFinish(func(ok bool) {
			if ok {
				derived.complete()
			} else {
				derived.cancel()
			}
		})
	})
	return derived
}

// Do runs fn once this call completes.
func (c *Call) Do(fn func()) *Call {
	return c.Then(func() *Call {
		fn()
		return nil
	})
}

// Done is closed when the call completes or is cancelled.
func (c *Call) Done() <-chan struct{} { return c.done }

// Completed reports whether the reply arrived.
func (c *Call) Completed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state == callCompleted
}

// Cancelled reports whether the sender released the call's continuations.
func (c *Call) Cancelled() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state == callCancelled
}

// Wait blocks until the call finishes or ctx ends.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Call) onFinish(hook func(completed bool)) {
	c.mutex.Lock()
	state := c.state
	if state == callSent {
		c.hooks = append(c.hooks, hook)
		c.mutex.Unlock()
		return
	}
	c.mutex.Unlock()
	hook(state == callCompleted)
}

func (c *Call) complete() { c.finish(callCompleted) }

func (c *Call) cancel() { c.finish(callCancelled) }

func (c *Call) finish(state callState) {
	c.mutex.Lock()
	if c.state != callSent {
		c.mutex.Unlock()
		return
	}
	c.state = state
	hooks := c.hooks
	c.hooks = nil
	close(c.done)
	c.mutex.Unlock()

	if c.owner != nil {
		c.owner.untrack(c)
	}
	for _, hook := range hooks {
		hook(state == callCompleted)
	}
}

// Behavior is a fire-and-forget entry point into an actor taking arguments A.
type Behavior[A any] struct {
	actor   *Actor
	handler func(A)
}

// NewBehavior binds handler to a. The handler runs in a's context.
func NewBehavior[A any](a *Actor, handler func(A)) *Behavior[A] {
	return &Behavior[A]{actor: a, handler: handler}
}

// Call queues the behavior and returns immediately.
func (b *Behavior[A]) Call(args A) *Call {
	b.actor.Send(func() { b.handler(args) })
	return completedCall()
}

// Actor returns the actor the behavior runs on.
func (b *Behavior[A]) Actor() *Actor { return b.actor }

// ReplyBehavior is an entry point that answers its caller with an R.
type ReplyBehavior[A, R any] struct {
	actor   *Actor
	handler func(A, *Reply[R])
}

// NewReplyBehavior binds handler to a. The handler must call Send on the
// Reply exactly once, either before returning or later from a.
func NewReplyBehavior[A, R any](a *Actor, handler func(A, *Reply[R])) *ReplyBehavior[A, R] {
	return &ReplyBehavior[A, R]{actor: a, handler: handler}
}

// Call queues the behavior. callback runs on sender's mailbox when the
// reply is sent. With a nil sender the callback runs in the replying
// actor's context.
func (b *ReplyBehavior[A, R]) Call(args A, sender *Actor, callback func(R)) *Call {
	call := newCall(sender)
	reply := &Reply[R]{sender: sender, callback: callback, call: call}
	b.actor.Send(func() { b.handler(args, reply) })
	return call
}

// Actor returns the actor the behavior runs on.
func (b *ReplyBehavior[A, R]) Actor() *Actor { return b.actor }

// Reply carries one result back to a behavior's caller.
type Reply[R any] struct {
	sent     atomic.Bool
	sender   *Actor
	callback func(R)
	call     *Call
}

// Send delivers v. A second Send panics.
func (r *Reply[R]) Send(v R) {
	if !r.sent.CompareAndSwap(false, true) {
		panic(rterrors.Violation("REPLY_TWICE", "reply sent more than once"))
	}
	deliver := func() {
		if r.callback != nil {
			r.callback(v)
		}
		r.call.complete()
	}
	if r.sender == nil {
		deliver()
		return
	}
	r.sender.Send(deliver)
}

// Sent reports whether Send was called.
func (r *Reply[R]) Sent() bool { return r.sent.Load() }
