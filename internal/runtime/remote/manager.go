package remote

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"github.com/twmb/murmur3"

	"github.com/orizon-lang/ensemble/internal/runtime"
)

// ProtocolVersion is the version a node announces in HELLO.
const ProtocolVersion = "1.0.0"

// localInstance is an Instance materialized in this process.
type localInstance struct {
	uuid      string
	typeName  string
	instance  Instance
	behaviors *Behaviors
	named     bool
}

type pendingReply struct {
	socket  int32
	deliver func([]byte, error)
}

// manager holds the state root and node share: the runner pool, the
// materialized instances and the replies still expected from nodes.
type manager struct {
	rt      *runtime.Runtime
	codec   Codec
	types   *Types
	logger  *slog.Logger
	runners []*runtime.Actor

	local   cmap.ConcurrentMap[string, *localInstance]
	pending cmap.ConcurrentMap[int32, *pendingReply]
	nextID  atomic.Int32
	sent    atomic.Int64
}

func newManager(rt *runtime.Runtime, codec Codec, types *Types, runners int, logger *slog.Logger) *manager {
	if codec == nil {
		codec = JSONCodec{}
	}
	if logger == nil {
		logger = rt.Logger()
	}
	if runners <= 0 {
		runners = rt.Cores()
	}
	m := &manager{
		rt:      rt,
		codec:   codec,
		types:   types,
		logger:  logger,
		local:   cmap.New[*localInstance](),
		pending: cmap.NewWithCustomShardingFunction[int32, *pendingReply](func(id int32) uint32 { return uint32(id) }),
	}
	// every message for one UUID goes through the same runner, which keeps
	// per-actor order and makes the instance's behaviors mutually exclusive
	for i := 0; i < runners; i++ {
		m.runners = append(m.runners, runtime.NewActor(rt,
			runtime.WithName(fmt.Sprintf("remote-runner-%d", i)),
			runtime.WithPriority(999),
			runtime.WithBatchSize(10000)))
	}
	return m
}

func (m *manager) runner(uuid string) *runtime.Actor {
	return m.runners[murmur3.StringSum32(uuid)%uint32(len(m.runners))]
}

// materialize returns the local instance for uuid, creating it from the
// registered type on first use. Callers run on the UUID's runner.
func (m *manager) materialize(uuid, typeName string) (*localInstance, error) {
	if inst, ok := m.local.Get(uuid); ok {
		return inst, nil
	}
	obj, ok := m.types.New(typeName)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "type %q", typeName)
	}
	inst := &localInstance{uuid: uuid, typeName: typeName, instance: obj, behaviors: newBehaviors(m.codec, obj)}
	inst = m.local.Upsert(uuid, inst, func(exist bool, inMap, fresh *localInstance) *localInstance {
		if exist {
			return inMap
		}
		return fresh
	})
	m.logger.Debug("actor materialized", "uuid", uuid, "type", typeName)
	return inst, nil
}

// host registers a named instance under a fixed UUID.
func (m *manager) host(n NamedInstance) error {
	obj, ok := m.types.New(n.Type)
	if !ok {
		return errors.Wrapf(ErrUnknownType, "named service %q", n.Type)
	}
	inst := &localInstance{uuid: n.UUID, typeName: n.Type, instance: obj, behaviors: newBehaviors(m.codec, obj), named: true}
	if !m.local.SetIfAbsent(n.UUID, inst) {
		return errors.Errorf("uuid %s already hosted", n.UUID)
	}
	return nil
}

// destroy drops a materialized instance. Named instances are kept.
func (m *manager) destroy(uuid string) bool {
	return m.local.RemoveCb(uuid, func(_ string, inst *localInstance, exists bool) bool {
		return exists && !inst.named
	})
}

// execute runs a behavior on a local instance. deliver may be nil when the
// caller expects no answer.
func (m *manager) execute(inst *localInstance, behavior string, payload []byte, deliver func([]byte, error)) {
	inst.behaviors.invoke(behavior, payload, func(data []byte, err error) {
		if deliver != nil {
			deliver(data, err)
			return
		}
		if err != nil {
			m.logger.Warn("behavior failed", "uuid", inst.uuid, "type", inst.typeName, "behavior", behavior, "err", err)
		}
	})
}

// expect records deliver under a fresh message ID.
func (m *manager) expect(socket int32, deliver func([]byte, error)) int32 {
	p := &pendingReply{socket: socket, deliver: deliver}
	for {
		id := m.nextID.Add(1) & math.MaxInt32
		if id != 0 && m.pending.SetIfAbsent(id, p) {
			return id
		}
	}
}

// complete consumes the pending reply for id.
func (m *manager) complete(id int32, data []byte, err error) bool {
	p, ok := m.pending.Pop(id)
	if !ok {
		return false
	}
	p.deliver(data, err)
	return true
}

// failSocket errors out every reply expected from socket.
func (m *manager) failSocket(socket int32) int {
	var ids []int32
	for item := range m.pending.IterBuffered() {
		if item.Val.socket == socket {
			ids = append(ids, item.Key)
		}
	}
	failed := 0
	for _, id := range ids {
		if m.complete(id, nil, ErrNodeDisconnected) {
			failed++
		}
	}
	return failed
}

func (m *manager) collect(into map[string]float64) {
	into["pending_replies"] = float64(m.pending.Count())
	into["sent_total"] = float64(m.sent.Load())
	into["local_actors"] = float64(m.local.Count())
	into["runners"] = float64(len(m.runners))
}
