package remote

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

// Wire format: every frame is a u32 big-endian length followed by that many
// bytes, the first of which is the command. Strings carry a u8 length and
// payloads a u32 length.

type command uint8

const (
	cmdHello command = iota + 1
	cmdWelcome
	cmdCreateActor
	cmdDestroyActor
	cmdSendMessage
	cmdSendReply
	cmdPing
)

func (c command) String() string {
	switch c {
	case cmdHello:
		return "HELLO"
	case cmdWelcome:
		return "WELCOME"
	case cmdCreateActor:
		return "CREATE_ACTOR"
	case cmdDestroyActor:
		return "DESTROY_ACTOR"
	case cmdSendMessage:
		return "SEND_MESSAGE"
	case cmdSendReply:
		return "SEND_REPLY"
	case cmdPing:
		return "PING"
	}
	return "UNKNOWN"
}

const (
	maxFrameSize = 64 << 20
	maxString    = math.MaxUint8
)

const (
	replyOK    uint8 = 0
	replyError uint8 = 1
)

// frame is one protocol message.
type frame interface {
	command() command
	encode(w *frameWriter)
	decode(r *frameReader)
}

// NamedInstance advertises a service instance a node hosts under a fixed UUID.
type NamedInstance struct {
	Type string
	UUID string
}

type helloFrame struct {
	version string
	cores   uint32
	types   []string
	named   []NamedInstance
}

type welcomeFrame struct {
	version  string
	accepted bool
}

type createActorFrame struct {
	uuid     string
	typeName string
}

type destroyActorFrame struct {
	uuid string
}

type sendMessageFrame struct {
	uuid      string
	typeName  string
	behavior  string
	messageID int32
	payload   []byte
}

type sendReplyFrame struct {
	messageID int32
	status    uint8
	payload   []byte
}

type pingFrame struct{}

func (*helloFrame) command() command        { return cmdHello }
func (*welcomeFrame) command() command      { return cmdWelcome }
func (*createActorFrame) command() command  { return cmdCreateActor }
func (*destroyActorFrame) command() command { return cmdDestroyActor }
func (*sendMessageFrame) command() command  { return cmdSendMessage }
func (*sendReplyFrame) command() command    { return cmdSendReply }
func (*pingFrame) command() command         { return cmdPing }

func (f *helloFrame) encode(w *frameWriter) {
	w.string(f.version)
	w.u32(f.cores)
	w.u32(uint32(len(f.types)))
	for _, t := range f.types {
		w.string(t)
	}
	w.u32(uint32(len(f.named)))
	for _, n := range f.named {
		w.string(n.Type)
		w.string(n.UUID)
	}
}

func (f *helloFrame) decode(r *frameReader) {
	f.version = r.string()
	f.cores = r.u32()
	for n := r.count(); n > 0; n-- {
		f.types = append(f.types, r.string())
	}
	for n := r.count(); n > 0; n-- {
		f.named = append(f.named, NamedInstance{Type: r.string(), UUID: r.string()})
	}
}

func (f *welcomeFrame) encode(w *frameWriter) {
	w.string(f.version)
	if f.accepted {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (f *welcomeFrame) decode(r *frameReader) {
	f.version = r.string()
	f.accepted = r.u8() == 1
}

func (f *createActorFrame) encode(w *frameWriter) {
	w.string(f.uuid)
	w.string(f.typeName)
}

func (f *createActorFrame) decode(r *frameReader) {
	f.uuid = r.string()
	f.typeName = r.string()
}

func (f *destroyActorFrame) encode(w *frameWriter) { w.string(f.uuid) }
func (f *destroyActorFrame) decode(r *frameReader) { f.uuid = r.string() }

func (f *sendMessageFrame) encode(w *frameWriter) {
	w.string(f.uuid)
	w.string(f.typeName)
	w.string(f.behavior)
	w.u32(uint32(f.messageID))
	w.bytes(f.payload)
}

func (f *sendMessageFrame) decode(r *frameReader) {
	f.uuid = r.string()
	f.typeName = r.string()
	f.behavior = r.string()
	f.messageID = int32(r.u32())
	f.payload = r.bytes()
}

func (f *sendReplyFrame) encode(w *frameWriter) {
	w.u32(uint32(f.messageID))
	w.u8(f.status)
	w.bytes(f.payload)
}

func (f *sendReplyFrame) decode(r *frameReader) {
	f.messageID = int32(r.u32())
	f.status = r.u8()
	f.payload = r.bytes()
}

func (*pingFrame) encode(*frameWriter) {}
func (*pingFrame) decode(*frameReader) {}

func newFrame(c command) (frame, error) {
	switch c {
	case cmdHello:
		return &helloFrame{}, nil
	case cmdWelcome:
		return &welcomeFrame{}, nil
	case cmdCreateActor:
		return &createActorFrame{}, nil
	case cmdDestroyActor:
		return &destroyActorFrame{}, nil
	case cmdSendMessage:
		return &sendMessageFrame{}, nil
	case cmdSendReply:
		return &sendReplyFrame{}, nil
	case cmdPing:
		return &pingFrame{}, nil
	}
	return nil, rterrors.Protocol("UNKNOWN_COMMAND", "unknown frame command",
		map[string]interface{}{"command": uint8(c)})
}

type frameWriter struct {
	buf []byte
	err error
}

func (w *frameWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *frameWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *frameWriter) string(s string) {
	if len(s) > maxString {
		w.err = rterrors.Protocol("STRING_TOO_LONG", "string field exceeds 255 bytes",
			map[string]interface{}{"length": len(s)})
		s = s[:maxString]
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *frameWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// marshalFrame returns the length-prefixed encoding of f.
func marshalFrame(f frame) ([]byte, error) {
	w := &frameWriter{buf: make([]byte, 5, 64)}
	w.buf[4] = byte(f.command())
	f.encode(w)
	if w.err != nil {
		return nil, w.err
	}
	if len(w.buf)-4 > maxFrameSize {
		return nil, rterrors.Protocol("FRAME_TOO_LARGE", "frame exceeds size limit",
			map[string]interface{}{"size": len(w.buf) - 4})
	}
	binary.BigEndian.PutUint32(w.buf, uint32(len(w.buf)-4))
	return w.buf, nil
}

type frameReader struct {
	buf []byte
	err error
}

var errShortFrame = rterrors.Protocol("SHORT_FRAME", "frame body truncated", nil)

func (r *frameReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf) {
		r.err = errShortFrame
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *frameReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *frameReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *frameReader) string() string {
	return string(r.take(int(r.u8())))
}

func (r *frameReader) bytes() []byte {
	n := r.u32()
	if b := r.take(int(n)); b != nil {
		return append([]byte(nil), b...)
	}
	return nil
}

// count reads a list length, rejecting values the frame cannot hold.
func (r *frameReader) count() int {
	n := r.u32()
	if int64(n) > int64(len(r.buf)) {
		r.err = errShortFrame
		return 0
	}
	return int(n)
}

// readFrame reads one length-prefixed frame from br.
func readFrame(br *bufio.Reader) (frame, error) {
	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(head[:])
	if size == 0 || size > maxFrameSize {
		return nil, rterrors.Protocol("BAD_FRAME_SIZE", "frame size out of range",
			map[string]interface{}{"size": size})
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, errors.Wrap(err, "failed to read frame body")
	}
	f, err := newFrame(command(body[0]))
	if err != nil {
		return nil, err
	}
	r := &frameReader{buf: body[1:]}
	f.decode(r)
	if r.err != nil {
		return nil, errors.Wrapf(r.err, "failed to decode %s", f.command())
	}
	return f, nil
}
