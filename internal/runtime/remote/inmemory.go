package remote

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/orizon-lang/ensemble/internal/runtime/netstack"
)

// MemoryTransport connects roots and nodes of one process through
// net.Pipe. Servers are found by address in the transport's registry.
type MemoryTransport struct {
	servers map[string]*memoryServer
	mutex   sync.RWMutex
}

// NewMemoryTransport returns an empty registry.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{servers: make(map[string]*memoryServer)}
}

func (t *MemoryTransport) Name() string { return "memory" }

func (t *MemoryTransport) NewServer(addr string) netstack.Server {
	return &memoryServer{transport: t, addr: addr}
}

func (t *MemoryTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	t.mutex.RLock()
	srv := t.servers[addr]
	t.mutex.RUnlock()
	if srv == nil {
		return nil, errors.Errorf("destination not found: %s", addr)
	}
	client, server := net.Pipe()
	if err := srv.accept(ctx, server); err != nil {
		_ = client.Close()
		_ = server.Close()
		return nil, err
	}
	return client, nil
}

type memoryServer struct {
	transport *MemoryTransport
	addr      string
	handler   func(net.Conn)
	ctx       context.Context
	stopped   bool
	mutex     sync.Mutex
}

func (s *memoryServer) Start(ctx context.Context, handler func(conn net.Conn)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t := s.transport
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, exists := t.servers[s.addr]; exists {
		return errors.Errorf("address already in use: %s", s.addr)
	}
	s.handler = handler
	s.ctx = ctx
	t.servers[s.addr] = s
	return nil
}

func (s *memoryServer) accept(ctx context.Context, conn net.Conn) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped || s.ctx.Err() != nil {
		return errors.Errorf("server stopped: %s", s.addr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	go s.handler(conn)
	return nil
}

func (s *memoryServer) Addr() string { return s.addr }

func (s *memoryServer) Stop() error {
	t := s.transport
	t.mutex.Lock()
	if t.servers[s.addr] == s {
		delete(t.servers, s.addr)
	}
	t.mutex.Unlock()

	s.mutex.Lock()
	s.stopped = true
	s.mutex.Unlock()
	return nil
}
