package remote

import (
	"sort"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

// Instance is an actor type that can be materialized on a node, or on the
// root as a local fallback. Its behaviors run one at a time on the runner
// its UUID hashes to, so the instance's fields need no locking.
type Instance interface {
	RegisterBehaviors(b *Behaviors)
}

// Factory creates a fresh instance of a registered type.
type Factory func() Instance

// Types maps type names to factories.
type Types struct {
	factories cmap.ConcurrentMap[string, Factory]
}

// NewTypes returns an empty registry.
func NewTypes() *Types {
	return &Types{factories: cmap.New[Factory]()}
}

// Register adds a type. Names longer than 255 bytes cannot travel on the
// wire and panic.
func (t *Types) Register(name string, f Factory) *Types {
	if len(name) == 0 || len(name) > maxString {
		panic(rterrors.Violation("BAD_TYPE_NAME", "type name must be 1-255 bytes"))
	}
	t.factories.Set(name, f)
	return t
}

// Has reports whether name is registered. A nil registry has no types.
func (t *Types) Has(name string) bool {
	return t != nil && t.factories.Has(name)
}

// New creates an instance of name.
func (t *Types) New(name string) (Instance, bool) {
	if t == nil {
		return nil, false
	}
	f, ok := t.factories.Get(name)
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns the registered names in sorted order.
func (t *Types) Names() []string {
	if t == nil {
		return nil
	}
	names := t.factories.Keys()
	sort.Strings(names)
	return names
}

type handler func(payload []byte, reply func([]byte, error))

// Behaviors is the table of named entry points an instance exposes.
type Behaviors struct {
	codec    Codec
	handlers map[string]handler
}

func newBehaviors(codec Codec, inst Instance) *Behaviors {
	b := &Behaviors{codec: codec, handlers: make(map[string]handler)}
	inst.RegisterBehaviors(b)
	return b
}

// Names returns the registered behavior names.
func (b *Behaviors) Names() []string {
	out := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b *Behaviors) invoke(name string, payload []byte, reply func([]byte, error)) {
	h, ok := b.handlers[name]
	if !ok {
		reply(nil, errors.Wrapf(ErrUnknownBehavior, "behavior %q", name))
		return
	}
	h(payload, reply)
}

func badArguments(name string, err error) error {
	return rterrors.Protocol("BAD_ARGUMENTS", errors.Wrapf(err, "behavior %q", name).Error(), nil)
}

// Handle registers a behavior that answers synchronously.
func Handle[In, Out any](b *Behaviors, name string, fn func(In) (Out, error)) {
	codec := b.codec
	b.handlers[name] = func(payload []byte, reply func([]byte, error)) {
		var in In
		if err := codec.Unmarshal(payload, &in); err != nil {
			reply(nil, badArguments(name, err))
			return
		}
		out, err := fn(in)
		if err != nil {
			reply(nil, err)
			return
		}
		data, err := codec.Marshal(out)
		reply(data, err)
	}
}

// HandleTell registers a behavior without a result.
func HandleTell[In any](b *Behaviors, name string, fn func(In)) {
	codec := b.codec
	b.handlers[name] = func(payload []byte, reply func([]byte, error)) {
		var in In
		if err := codec.Unmarshal(payload, &in); err != nil {
			reply(nil, badArguments(name, err))
			return
		}
		fn(in)
		reply(nil, nil)
	}
}

// HandleDelayed registers a behavior that answers later through the Reply,
// from any goroutine.
func HandleDelayed[In, Out any](b *Behaviors, name string, fn func(In, *Reply[Out])) {
	codec := b.codec
	b.handlers[name] = func(payload []byte, reply func([]byte, error)) {
		var in In
		if err := codec.Unmarshal(payload, &in); err != nil {
			reply(nil, badArguments(name, err))
			return
		}
		fn(in, &Reply[Out]{codec: codec, send: reply})
	}
}

// Reply answers one delayed behavior call.
type Reply[Out any] struct {
	sent  atomic.Bool
	codec Codec
	send  func([]byte, error)
}

// Send delivers v to the caller. Answering twice panics.
func (r *Reply[Out]) Send(v Out) {
	r.claim()
	data, err := r.codec.Marshal(v)
	r.send(data, err)
}

// Fail delivers err to the caller. Answering twice panics.
func (r *Reply[Out]) Fail(err error) {
	r.claim()
	r.send(nil, err)
}

func (r *Reply[Out]) claim() {
	if !r.sent.CompareAndSwap(false, true) {
		panic(rterrors.Violation("REPLY_TWICE", "remote reply sent more than once"))
	}
}
