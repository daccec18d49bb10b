package remote

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
	"github.com/orizon-lang/ensemble/internal/runtime"
	"github.com/orizon-lang/ensemble/internal/runtime/netstack"
)

// RootConfig configures the accepting side of the topology.
type RootConfig struct {
	Fallback       *Types    // types the root may run itself when no node supports them
	Transport      Transport // defaults to TCP
	Codec          Codec     // defaults to JSONCodec
	Version        string    // announced in WELCOME; defaults to ProtocolVersion
	AcceptVersions string    // semver constraint node versions must meet; defaults to "^1.0.0"
	Runners        int       // runner pool size; 0 uses the runtime's worker count
	Logger         *slog.Logger
}

// Root accepts node connections and routes RemoteActor calls to them.
type Root struct {
	m          *manager
	config     RootConfig
	constraint *semver.Constraints
	logger     *slog.Logger

	links      cmap.ConcurrentMap[int32, *link]
	nextSocket atomic.Int32
	rr         atomic.Uint64
	directory  *Directory

	server  netstack.Server
	ctx     context.Context
	cancel  context.CancelFunc
	closing bool
	serving sync.WaitGroup
	mutex   sync.Mutex
}

// NewRoot creates a root bound to rt. It does not listen until Listen.
func NewRoot(rt *runtime.Runtime, config RootConfig) (*Root, error) {
	if config.Transport == nil {
		config.Transport = &TCPTransport{}
	}
	if config.Version == "" {
		config.Version = ProtocolVersion
	}
	if config.AcceptVersions == "" {
		config.AcceptVersions = "^1.0.0"
	}
	constraint, err := semver.NewConstraint(config.AcceptVersions)
	if err != nil {
		return nil, rterrors.InvalidConfig("accept_versions", config.AcceptVersions, err.Error())
	}
	logger := config.Logger
	if logger == nil {
		logger = rt.Logger()
	}
	logger = logger.With("component", "remote-root")
	r := &Root{
		m:          newManager(rt, config.Codec, config.Fallback, config.Runners, logger),
		config:     config,
		constraint: constraint,
		logger:     logger,
		links:      cmap.NewWithCustomShardingFunction[int32, *link](func(s int32) uint32 { return uint32(s) }),
		directory:  newDirectory(),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// Listen starts accepting nodes on addr.
func (r *Root) Listen(ctx context.Context, addr string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.server != nil || r.closing {
		return errors.New("root already listening or closed")
	}
	srv := r.config.Transport.NewServer(addr)
	if err := srv.Start(ctx, r.serve); err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	r.server = srv
	r.logger.Info("root listening", "addr", srv.Addr(), "transport", r.config.Transport.Name())
	return nil
}

// Addr returns the bound listen address.
func (r *Root) Addr() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.server == nil {
		return ""
	}
	return r.server.Addr()
}

// Close stops listening and drops every node. Replies still expected fail
// with ErrNodeDisconnected.
func (r *Root) Close() error {
	r.mutex.Lock()
	srv := r.server
	r.server = nil
	r.closing = true
	r.mutex.Unlock()

	r.cancel()
	var err error
	if srv != nil {
		err = srv.Stop()
	}
	for item := range r.links.IterBuffered() {
		item.Val.close()
	}
	r.serving.Wait()
	return err
}

// Actor returns a handle for a new instance of typeName. Nothing is created
// until the first call.
func (r *Root) Actor(typeName string) *RemoteActor {
	return newRemoteActor(r, uuid.NewString(), typeName)
}

// ActorWithUUID returns a handle for the instance of typeName identified by id.
func (r *Root) ActorWithUUID(typeName, id string) *RemoteActor {
	return newRemoteActor(r, id, typeName)
}

// Service returns the named instances of typeName hosted by connected nodes.
func (r *Root) Service(typeName string) []*RemoteActor {
	return r.directory.Resolve(typeName)
}

// Directory returns the named-service directory.
func (r *Root) Directory() *Directory { return r.directory }

// Nodes returns the number of connected nodes.
func (r *Root) Nodes() int { return r.links.Count() }

// Codec returns the payload codec.
func (r *Root) Codec() Codec { return r.m.codec }

// Collector reports the root's routing counters.
func (r *Root) Collector() runtime.MetricFunc {
	return func() map[string]float64 {
		m := map[string]float64{"nodes": float64(r.Nodes())}
		r.m.collect(m)
		return m
	}
}

func (r *Root) serve(conn net.Conn) {
	socket := r.nextSocket.Add(1)
	l := newLink(socket, conn, r.logger)

	f, err := l.readHandshake()
	if err != nil {
		l.logger.Warn("handshake failed", "err", err)
		l.close()
		return
	}
	hello, ok := f.(*helloFrame)
	if !ok {
		l.logger.Warn("handshake failed", "err", rterrors.Protocol("UNEXPECTED_FRAME", "expected HELLO", map[string]interface{}{"command": f.command().String()}))
		l.close()
		return
	}
	accepted := r.accepts(hello.version)
	if err := l.writeDirect(&welcomeFrame{version: r.config.Version, accepted: accepted}); err != nil || !accepted {
		l.logger.Warn("node rejected", "version", hello.version, "accept", r.config.AcceptVersions, "err", err)
		l.close()
		return
	}

	l.version = hello.version
	l.cores = int(hello.cores)
	if l.cores < 1 {
		l.cores = 1
	}
	l.types = make(map[string]struct{}, len(hello.types))
	for _, t := range hello.types {
		l.types[t] = struct{}{}
	}
	l.named = hello.named

	r.mutex.Lock()
	if r.closing {
		r.mutex.Unlock()
		l.close()
		return
	}
	r.serving.Add(1)
	// services are visible no later than the node itself
	for _, n := range l.named {
		p := newRemoteActor(r, n.UUID, n.Type)
		p.named = true
		p.socket = socket
		p.createdOn = socket
		r.directory.register(socket, p)
	}
	r.links.Set(socket, l)
	r.mutex.Unlock()
	defer r.serving.Done()

	l.logger.Info("node connected", "version", l.version, "cores", l.cores, "types", hello.types, "named", len(l.named))

	err = l.run(r.ctx, func(f frame) { r.handleFrame(l, f) })
	r.disconnect(l, err)
}

func (r *Root) accepts(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return r.constraint.Check(v)
}

func (r *Root) handleFrame(l *link, f frame) {
	switch f := f.(type) {
	case *sendReplyFrame:
		var err error
		data := f.payload
		if f.status != replyOK {
			err, data = decodeError(f.payload), nil
		}
		if !r.m.complete(f.messageID, data, err) {
			l.logger.Debug("reply without waiter", "messageID", f.messageID)
		}
	case *pingFrame:
	default:
		l.logger.Warn("unexpected frame", "command", f.command().String())
	}
}

// disconnect forgets a node. Actors bound to it rebind on their next call.
func (r *Root) disconnect(l *link, err error) {
	l.close()
	r.links.Remove(l.socket)
	r.directory.unregisterSocket(l.socket)
	failed := r.m.failSocket(l.socket)
	l.logger.Info("node disconnected", "failed_replies", failed, "err", err)
}

// pick chooses a node supporting typeName, weighted by core count.
func (r *Root) pick(typeName string) *link {
	var (
		candidates []*link
		total      uint64
	)
	for item := range r.links.IterBuffered() {
		if l := item.Val; l.supports(typeName) && !l.isClosed() {
			candidates = append(candidates, l)
			total += uint64(l.cores)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].socket < candidates[j].socket })
	slot := r.rr.Add(1) % total
	for _, l := range candidates {
		if slot < uint64(l.cores) {
			return l
		}
		slot -= uint64(l.cores)
	}
	return candidates[len(candidates)-1]
}

// dispatch routes one call. It runs on p's runner. deliver is nil for
// calls that expect no answer and is invoked exactly once otherwise.
func (r *Root) dispatch(p *RemoteActor, behavior string, payload []byte, deliver func([]byte, error)) {
	for {
		if p.local != nil {
			r.m.execute(p.local, behavior, payload, deliver)
			return
		}
		if p.socket >= 0 && !r.links.Has(p.socket) {
			if p.named {
				r.logger.Warn("named service lost its node", "uuid", p.uuid, "type", p.typeName)
				fail(deliver, errors.Wrapf(ErrNoRoute, "named service %s/%s", p.typeName, p.uuid))
				return
			}
			p.socket = socketUnbound
		}
		if p.socket == socketUnbound {
			// an instance already running here for this uuid is never shadowed by a node
			if inst, ok := r.m.local.Get(p.uuid); ok {
				p.local = inst
				p.socket = socketLocal
				continue
			}
			if l := r.pick(p.typeName); l != nil {
				p.socket = l.socket
			} else if r.m.types.Has(p.typeName) {
				inst, err := r.m.materialize(p.uuid, p.typeName)
				if err != nil {
					fail(deliver, err)
					return
				}
				p.local = inst
				p.socket = socketLocal
				continue
			} else {
				fail(deliver, errors.Wrapf(ErrNoRoute, "type %q", p.typeName))
				return
			}
		}

		l, ok := r.links.Get(p.socket)
		if !ok {
			p.socket = socketUnbound
			continue
		}
		if p.createdOn != p.socket {
			if err := l.send(&createActorFrame{uuid: p.uuid, typeName: p.typeName}); err != nil {
				r.prune(l, err)
				p.socket = socketUnbound
				continue
			}
			p.createdOn = p.socket
		}
		var id int32
		if deliver != nil {
			id = r.m.expect(p.socket, deliver)
		}
		err := l.send(&sendMessageFrame{uuid: p.uuid, typeName: p.typeName, behavior: behavior, messageID: id, payload: payload})
		if err == nil {
			r.m.sent.Add(1)
			return
		}
		if id != 0 {
			if _, owned := r.m.pending.Pop(id); !owned {
				// the disconnect path already answered the caller
				return
			}
		}
		r.prune(l, err)
		p.socket = socketUnbound
	}
}

func (r *Root) prune(l *link, err error) {
	l.logger.Warn("send failed, pruning node", "err", err)
	r.links.Remove(l.socket)
	l.close()
}

// release runs on p's runner for RemoteActor.Close.
func (r *Root) release(p *RemoteActor) {
	switch {
	case p.local != nil:
		r.m.destroy(p.uuid)
		p.local = nil
	case p.socket >= 0 && p.createdOn == p.socket:
		if l, ok := r.links.Get(p.socket); ok {
			if err := l.send(&destroyActorFrame{uuid: p.uuid}); err != nil {
				l.logger.Debug("destroy not delivered", "uuid", p.uuid, "err", err)
			}
		}
	}
	p.socket = socketUnbound
	p.createdOn = socketUnbound
}

func fail(deliver func([]byte, error), err error) {
	if deliver != nil {
		deliver(nil, err)
	}
}
