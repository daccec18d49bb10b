package runtime

// Stage is a pipeline element that accepts flow messages.
type Stage[T any] interface {
	// Flow queues items on the stage. An empty call marks the end of the
	// stream.
	Flow(items ...T)
	// MessagesCount returns the messages queued or running on the stage.
	MessagesCount() int
}

// Flowable makes an actor composable into producer/consumer pipelines.
// Items are forwarded to a single target directly and spread round-robin
// over several targets. The end-of-stream marker is held back until every
// target has drained, so it never overtakes data sent before it.
type Flowable[T any] struct {
	actor   *Actor
	handler func(items []T)
	targets []Stage[T]
	poolIdx int
}

var _ Stage[int] = (*Flowable[int])(nil)

// NewFlowable binds handler to a. handler runs in a's context for every
// Flow call and usually ends by calling Emit.
func NewFlowable[T any](a *Actor, handler func(items []T)) *Flowable[T] {
	return &Flowable[T]{actor: a, handler: handler}
}

// Actor returns the actor the stage runs on.
func (f *Flowable[T]) Actor() *Actor { return f.actor }

// Flow queues items on the stage.
func (f *Flowable[T]) Flow(items ...T) {
	f.actor.Send(func() { f.handler(items) })
}

// MessagesCount returns the messages queued or running on the stage.
func (f *Flowable[T]) MessagesCount() int { return f.actor.MessagesCount() }

// Target appends one downstream stage.
func (f *Flowable[T]) Target(s Stage[T]) *Flowable[T] {
	f.actor.Send(func() { f.targets = append(f.targets, s) })
	return f
}

// Targets appends a pool of downstream stages.
func (f *Flowable[T]) Targets(ss ...Stage[T]) *Flowable[T] {
	pool := append([]Stage[T](nil), ss...)
	f.actor.Send(func() { f.targets = append(f.targets, pool...) })
	return f
}

// Link wires every source to the same downstream stages.
func Link[T any](sources []*Flowable[T], targets ...Stage[T]) {
	for _, src := range sources {
		src.Targets(targets...)
	}
}

// Emit forwards items to the next target. It must only be called from the
// stage's own handler.
func (f *Flowable[T]) Emit(items ...T) {
	switch len(f.targets) {
	case 0:
		return
	case 1:
		f.targets[0].Flow(items...)
	default:
		if len(items) == 0 && f.targetsBusy() {
			f.actor.Send(func() { f.Emit() })
			f.actor.Yield()
			return
		}
		f.poolIdx = (f.poolIdx + 1) % len(f.targets)
		f.targets[f.poolIdx].Flow(items...)
	}
}

func (f *Flowable[T]) targetsBusy() bool {
	for _, t := range f.targets {
		if t.MessagesCount() > 0 {
			return true
		}
	}
	return false
}
