package remote

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/orizon-lang/ensemble/internal/runtime"
)

// NodeConfig configures the connecting side of the topology.
type NodeConfig struct {
	Types             *Types          // types the root may create here
	Named             []NamedInstance // services hosted under fixed UUIDs; empty UUIDs are generated
	Transport         Transport       // defaults to TCP
	Codec             Codec           // defaults to JSONCodec
	Version           string          // announced in HELLO; defaults to ProtocolVersion
	Cores             int             // announced core count; 0 uses the runtime's worker count
	Runners           int             // runner pool size; 0 uses the runtime's worker count
	AutoReconnect     bool            // redial after the root drops
	ReconnectAttempts int             // dial attempts per reconnect; 0 retries until Close
	ReconnectDelay    time.Duration   // first back-off delay, doubled up to ReconnectMaxDelay
	ReconnectMaxDelay time.Duration
	PingInterval      time.Duration // 0 disables pings
	Logger            *slog.Logger
}

// Node connects to a root and runs the actors the root places on it.
type Node struct {
	m      *manager
	config NodeConfig
	named  []NamedInstance
	logger *slog.Logger

	current atomic.Pointer[link]
	cancel  context.CancelFunc
	done    chan struct{}
	mutex   sync.Mutex
}

// NewNode creates a node and materializes its named services.
func NewNode(rt *runtime.Runtime, config NodeConfig) (*Node, error) {
	if config.Transport == nil {
		config.Transport = &TCPTransport{}
	}
	if config.Version == "" {
		config.Version = ProtocolVersion
	}
	if config.Cores <= 0 {
		config.Cores = rt.Cores()
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 100 * time.Millisecond
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = rt.Logger()
	}
	logger = logger.With("component", "remote-node")

	n := &Node{
		m:      newManager(rt, config.Codec, config.Types, config.Runners, logger),
		config: config,
		logger: logger,
	}
	for _, named := range config.Named {
		if named.UUID == "" {
			named.UUID = uuid.NewString()
		}
		if err := n.m.host(named); err != nil {
			return nil, err
		}
		n.named = append(n.named, named)
	}
	return n, nil
}

// Named returns the hosted services with their UUIDs.
func (n *Node) Named() []NamedInstance { return append([]NamedInstance(nil), n.named...) }

// Connected reports whether a root connection is up.
func (n *Node) Connected() bool {
	l := n.current.Load()
	return l != nil && !l.isClosed()
}

// Connect dials addr and completes the handshake, retrying per the
// reconnect settings when AutoReconnect is set. It returns once the root
// accepted the node; frames are then served in the background until Close,
// redialling after a drop when AutoReconnect is set.
func (n *Node) Connect(ctx context.Context, addr string) error {
	n.mutex.Lock()
	if n.done != nil {
		n.mutex.Unlock()
		return errors.New("node already connected")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	n.mutex.Unlock()

	l, err := n.dial(ctx, addr, n.config.AutoReconnect)
	if err != nil {
		cancel()
		n.mutex.Lock()
		n.cancel, n.done = nil, nil
		n.mutex.Unlock()
		return err
	}
	go n.loop(runCtx, addr, l)
	return nil
}

// Close drops the root connection and stops reconnecting.
func (n *Node) Close() error {
	n.mutex.Lock()
	cancel, done := n.cancel, n.done
	n.mutex.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if l := n.current.Load(); l != nil {
		l.close()
	}
	<-done
	return nil
}

// Collector reports the node's counters.
func (n *Node) Collector() runtime.MetricFunc {
	return func() map[string]float64 {
		m := map[string]float64{"connected": 0}
		if n.Connected() {
			m["connected"] = 1
		}
		n.m.collect(m)
		return m
	}
}

func (n *Node) loop(ctx context.Context, addr string, l *link) {
	defer close(n.done)
	for {
		n.serve(ctx, l)
		if !n.config.AutoReconnect || ctx.Err() != nil {
			return
		}
		var err error
		l, err = n.dial(ctx, addr, true)
		if err != nil {
			if ctx.Err() == nil {
				n.logger.Error("reconnect abandoned", "addr", addr, "err", err)
			}
			return
		}
	}
}

// dial connects and performs the handshake, with retries when asked.
// A version rejection is never retried.
func (n *Node) dial(ctx context.Context, addr string, retrying bool) (*link, error) {
	var (
		l        *link
		rejected error
	)
	attempt := func(ctx context.Context) error {
		conn, err := n.config.Transport.Dial(ctx, addr)
		if err != nil {
			n.logger.Debug("dial failed", "addr", addr, "err", err)
			return errors.Wrapf(err, "failed to dial %s", addr)
		}
		candidate := newLink(0, conn, n.logger)
		if err := n.handshake(candidate); err != nil {
			candidate.close()
			return err
		}
		l = candidate
		return nil
	}
	if !retrying {
		if err := attempt(ctx); err != nil {
			return nil, err
		}
		return l, nil
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	tries := n.config.ReconnectAttempts
	if tries <= 0 {
		tries = math.MaxInt32
	}
	retrier := retry.NewRetrier(tries, n.config.ReconnectDelay, n.config.ReconnectMaxDelay)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		err := attempt(ctx)
		if errors.Is(err, ErrVersionMismatch) {
			rejected = err
			stop()
			return nil
		}
		return err
	})
	if rejected != nil {
		return nil, rejected
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (n *Node) handshake(l *link) error {
	hello := &helloFrame{
		version: n.config.Version,
		cores:   uint32(n.config.Cores),
		types:   n.m.types.Names(),
		named:   n.named,
	}
	f, err := l.exchange(hello)
	if err != nil {
		return errors.Wrap(err, "handshake failed")
	}
	welcome, ok := f.(*welcomeFrame)
	if !ok {
		return errors.Errorf("handshake failed: unexpected %s", f.command())
	}
	if !welcome.accepted {
		return errors.Wrapf(ErrVersionMismatch, "root %s rejected version %s", welcome.version, n.config.Version)
	}
	return nil
}

func (n *Node) serve(ctx context.Context, l *link) {
	n.current.Store(l)
	n.logger.Info("connected to root", "peer", l.conn.RemoteAddr().String())

	if n.config.PingInterval > 0 {
		go n.ping(l)
	}
	err := l.run(ctx, func(f frame) { n.handleFrame(l, f) })
	n.logger.Info("disconnected from root", "err", err)
}

func (n *Node) ping(l *link) {
	t := time.NewTicker(n.config.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-l.closed:
			return
		case <-t.C:
			if err := l.send(&pingFrame{}); err != nil {
				return
			}
		}
	}
}

func (n *Node) handleFrame(l *link, f frame) {
	switch f := f.(type) {
	case *createActorFrame:
		n.m.runner(f.uuid).Send(func() {
			if _, err := n.m.materialize(f.uuid, f.typeName); err != nil {
				n.logger.Warn("create failed", "uuid", f.uuid, "type", f.typeName, "err", err)
			}
		})
	case *destroyActorFrame:
		n.m.runner(f.uuid).Send(func() { n.m.destroy(f.uuid) })
	case *sendMessageFrame:
		reply := n.replier(l, f)
		n.m.runner(f.uuid).Send(func() {
			inst, err := n.m.materialize(f.uuid, f.typeName)
			if err != nil {
				n.logger.Warn("message for unknown actor", "uuid", f.uuid, "type", f.typeName, "err", err)
				fail(reply, err)
				return
			}
			n.m.execute(inst, f.behavior, f.payload, reply)
		})
	case *pingFrame:
	default:
		l.logger.Warn("unexpected frame", "command", f.command().String())
	}
}

// replier answers a SEND_MESSAGE on the link it arrived on.
func (n *Node) replier(l *link, f *sendMessageFrame) func([]byte, error) {
	if f.messageID == 0 {
		return nil
	}
	return func(data []byte, err error) {
		out := &sendReplyFrame{messageID: f.messageID, status: replyOK, payload: data}
		if err != nil {
			out.status, out.payload = replyError, encodeError(err)
		}
		if sendErr := l.send(out); sendErr != nil {
			l.logger.Debug("reply dropped", "messageID", f.messageID, "uuid", f.uuid, "err", sendErr)
		}
		n.m.sent.Add(1)
	}
}
