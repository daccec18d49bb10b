// Package netstack provides the stream listeners and dialers the remote
// actor transports run on.
package netstack

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"
)

// Server accepts connections and hands each one to a handler goroutine.
type Server interface {
	Start(ctx context.Context, handler func(conn net.Conn)) error
	Addr() string
	Stop() error
}

// TCPServer wraps a TCP listener, optionally TLS-wrapped, with a
// handler-based serve loop.
type TCPServer struct {
	addr   string
	tls    *tls.Config
	ln     net.Listener
	closed chan struct{}
}

var _ Server = (*TCPServer)(nil)

// NewTCPServer creates a server for addr (host:port). A non-nil tlsCfg
// wraps accepted connections with TLS.
func NewTCPServer(addr string, tlsCfg *tls.Config) *TCPServer {
	return &TCPServer{addr: addr, tls: tlsCfg, closed: make(chan struct{})}
}

// Start listens and begins accepting connections.
func (s *TCPServer) Start(ctx context.Context, handler func(conn net.Conn)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.tls != nil {
		ln = TLSServer(ln, s.tls)
	}
	s.ln = ln
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		defer close(s.closed)
		var delay time.Duration
		for {
			c, err := ln.Accept()
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					if delay == 0 {
						delay = 5 * time.Millisecond
					} else if delay < time.Second {
						delay *= 2
					}
					time.Sleep(delay)
					continue
				}
				return
			}
			delay = 0
			go handler(c)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *TCPServer) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Stop closes the listener and waits for the accept loop. Handlers own
// their connections and are not waited for.
func (s *TCPServer) Stop() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	<-s.closed
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DialTCP dials addr with a timeout, wrapping the connection in TLS when
// tlsCfg is set.
func DialTCP(ctx context.Context, addr string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}
	if tlsCfg == nil {
		return d.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{NetDialer: d, Config: clientConfig(addr, tlsCfg)}
	return td.DialContext(ctx, "tcp", addr)
}
