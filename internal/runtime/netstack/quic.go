package netstack

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// QUICServer accepts QUIC connections and hands the first bidirectional
// stream of each to the handler as a net.Conn.
type QUICServer struct {
	addr   string
	tls    *tls.Config
	ln     *quic.Listener
	closed chan struct{}
}

var _ Server = (*QUICServer)(nil)

// NewQUICServer creates a server for addr. tlsCfg must carry a certificate.
func NewQUICServer(addr string, tlsCfg *tls.Config) *QUICServer {
	return &QUICServer{addr: addr, tls: withALPN(tlsCfg), closed: make(chan struct{})}
}

// Start listens on UDP and begins accepting connections.
func (s *QUICServer) Start(ctx context.Context, handler func(conn net.Conn)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := quic.ListenAddr(s.addr, s.tls, quicConfig())
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		defer close(s.closed)
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				stream, err := conn.AcceptStream(ctx)
				if err != nil {
					_ = conn.CloseWithError(0, "no stream")
					return
				}
				handler(&streamConn{Stream: stream, conn: conn})
			}()
		}
	}()
	return nil
}

// Addr returns the bound UDP address once started.
func (s *QUICServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and waits for the accept loop.
func (s *QUICServer) Stop() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	<-s.closed
	return err
}

// DialQUIC opens a QUIC connection to addr and one bidirectional stream on it.
// The peer sees the stream once the first byte is written.
func DialQUIC(ctx context.Context, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, withALPN(clientConfig(addr, tlsCfg)), quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, err
	}
	return &streamConn{Stream: stream, conn: conn}, nil
}

func withALPN(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{ALPN}
	}
	if cfg.MinVersion < tls.VersionTLS13 {
		cfg.MinVersion = tls.VersionTLS13
	}
	return cfg
}

// streamConn adapts a QUIC stream to net.Conn. Closing it closes the whole
// QUIC connection.
type streamConn struct {
	*quic.Stream
	conn *quic.Conn
	once sync.Once
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *streamConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.Stream.Close()
		err = c.conn.CloseWithError(0, "closed")
	})
	return err
}
