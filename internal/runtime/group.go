package runtime

import (
	"context"
	"sync"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

type groupObserver struct {
	actor *Actor
	fn    func()
}

// Group counts outstanding work across actors. Observers registered with
// Notify run on their actor once the count returns to zero.
type Group struct {
	count     int
	observers []groupObserver
	mutex     sync.Mutex
}

// NewGroup creates an empty group.
func NewGroup() *Group { return &Group{} }

// Enter adds one unit of outstanding work.
func (g *Group) Enter() {
	g.mutex.Lock()
	g.count++
	g.mutex.Unlock()
}

// Leave completes one unit of work. When the count reaches zero every
// observer is sent to its actor and removed. Leave without a matching
// Enter panics with a contract violation.
func (g *Group) Leave() {
	g.mutex.Lock()
	if g.count == 0 {
		g.mutex.Unlock()
		panic(rterrors.Violation("GROUP_UNDERFLOW", "Leave without matching Enter"))
	}
	g.count--
	if g.count > 0 {
		g.mutex.Unlock()
		return
	}
	observers := g.observers
	g.observers = nil
	g.mutex.Unlock()

	for _, o := range observers {
		o.actor.Send(o.fn)
	}
}

// Count returns the outstanding work.
func (g *Group) Count() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.count
}

// Notify runs fn on a once the group is empty, immediately if it already is.
func (g *Group) Notify(a *Actor, fn func()) {
	g.mutex.Lock()
	if g.count == 0 {
		g.mutex.Unlock()
		a.Send(fn)
		return
	}
	g.observers = append(g.observers, groupObserver{actor: a, fn: fn})
	g.mutex.Unlock()
}

// Wait blocks until the group is empty or ctx ends.
func (g *Group) Wait(ctx context.Context) error {
	return pollUntil(ctx, func() bool { return g.Count() == 0 })
}
