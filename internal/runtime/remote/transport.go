// Package remote runs actors across processes. One root accepts node
// connections; calls on a root-side RemoteActor are routed to a node that
// supports the actor's type, or run locally when no node does.
package remote

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
	"github.com/orizon-lang/ensemble/internal/runtime/netstack"
)

// Transport creates listeners and dials the stream connections frames
// travel on.
type Transport interface {
	Name() string
	NewServer(addr string) netstack.Server
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// Codec defines payload serialization for behavior arguments and results.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	ContentType() string
}

// TCPTransport carries frames over TCP, wrapped in TLS when TLS is set.
type TCPTransport struct {
	TLS         *tls.Config // server certificate on the root, client settings on nodes
	DialTimeout time.Duration
}

func (t *TCPTransport) Name() string { return "tcp" }

func (t *TCPTransport) NewServer(addr string) netstack.Server {
	return netstack.NewTCPServer(addr, t.TLS)
}

func (t *TCPTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return netstack.DialTCP(ctx, addr, t.DialTimeout, t.TLS)
}

// QUICTransport carries frames on one bidirectional QUIC stream per node.
type QUICTransport struct {
	TLS         *tls.Config
	DialTimeout time.Duration
}

func (t *QUICTransport) Name() string { return "quic" }

func (t *QUICTransport) NewServer(addr string) netstack.Server {
	return netstack.NewQUICServer(addr, t.TLS)
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if t.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.DialTimeout)
		defer cancel()
	}
	return netstack.DialQUIC(ctx, addr, t.TLS)
}

// NewTransport returns the transport registered under name. QUIC without a
// TLS config gets a self-signed certificate on the listening side and skips
// verification on the dialing side.
func NewTransport(name string, tlsCfg *tls.Config, dialTimeout time.Duration) (Transport, error) {
	switch name {
	case "", "tcp":
		return &TCPTransport{TLS: tlsCfg, DialTimeout: dialTimeout}, nil
	case "quic":
		if tlsCfg == nil {
			cfg, err := netstack.GenerateSelfSignedTLS([]string{"localhost", "127.0.0.1"}, 0)
			if err != nil {
				return nil, err
			}
			// nodes connecting to a self-signed root cannot verify it
			cfg.InsecureSkipVerify = true
			tlsCfg = cfg
		}
		return &QUICTransport{TLS: tlsCfg, DialTimeout: dialTimeout}, nil
	case "memory":
		return NewMemoryTransport(), nil
	}
	return nil, rterrors.InvalidConfig("remote.transport", name, "expected tcp, quic or memory")
}
