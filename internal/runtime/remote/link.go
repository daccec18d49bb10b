package remote

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/ensemble/internal/runtime/concurrency"
)

const (
	socketUnbound int32 = -1
	socketLocal   int32 = -99
)

const handshakeTimeout = 10 * time.Second

// link is one root<->node connection. Frames are written by a dedicated
// goroutine from an unbounded queue so senders never block on the network.
type link struct {
	socket int32
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger

	queue  *concurrency.Queue[[]byte]
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once

	// advertised by the node in HELLO
	version string
	cores   int
	types   map[string]struct{}
	named   []NamedInstance
}

func newLink(socket int32, conn net.Conn, logger *slog.Logger) *link {
	return &link{
		socket: socket,
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64<<10),
		logger: logger.With("socket", socket, "peer", conn.RemoteAddr().String()),
		queue:  concurrency.NewQueue[[]byte](256, true, false),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (l *link) supports(typeName string) bool {
	_, ok := l.types[typeName]
	return ok
}

// send queues f for the writer. It fails once the link is closed.
func (l *link) send(f frame) error {
	data, err := marshalFrame(f)
	if err != nil {
		return err
	}
	select {
	case <-l.closed:
		return ErrNodeDisconnected
	default:
	}
	l.queue.Enqueue(data)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// exchange writes f synchronously and reads the answer. It is used for the
// handshake, before run starts.
func (l *link) exchange(f frame) (frame, error) {
	if err := l.writeDirect(f); err != nil {
		return nil, err
	}
	return l.readHandshake()
}

func (l *link) writeDirect(f frame) error {
	data, err := marshalFrame(f)
	if err != nil {
		return err
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	defer l.conn.SetWriteDeadline(time.Time{})
	if _, err := l.conn.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write %s", f.command())
	}
	return nil
}

func (l *link) readHandshake() (frame, error) {
	_ = l.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer l.conn.SetReadDeadline(time.Time{})
	return readFrame(l.reader)
}

// run reads frames into onFrame and writes queued frames until the
// connection fails, ctx ends or close is called.
func (l *link) run(ctx context.Context, onFrame func(frame)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer l.close()
		for {
			f, err := readFrame(l.reader)
			if err != nil {
				return err
			}
			onFrame(f)
		}
	})
	g.Go(func() error {
		defer l.close()
		return l.writeLoop(ctx)
	})
	err := g.Wait()
	select {
	case <-l.closed:
		if isClosedErr(err) {
			return nil
		}
	default:
	}
	return err
}

func (l *link) writeLoop(ctx context.Context) error {
	bw := bufio.NewWriterSize(l.conn, 64<<10)
	for {
		for {
			data, ok := l.queue.Dequeue()
			if !ok {
				break
			}
			if _, err := bw.Write(data); err != nil {
				return err
			}
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		select {
		case <-l.wake:
		case <-l.closed:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.closed)
		_ = l.conn.Close()
	})
}

func (l *link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func isClosedErr(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled)
}
