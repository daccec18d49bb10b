package remote

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

func TestFrames_StreamInOrder(t *testing.T) {
	frames := []frame{
		&helloFrame{version: "1.2.0", cores: 8, types: []string{"Counter", "Echo"},
			named: []NamedInstance{{Type: "Echo", UUID: "u-1"}}},
		&createActorFrame{uuid: "u-2", typeName: "Counter"},
		&sendMessageFrame{uuid: "u-2", typeName: "Counter", behavior: "add", messageID: -7, payload: []byte(`{"n":1}`)},
		&sendReplyFrame{messageID: 42, status: replyError, payload: encodeError(ErrUnknownBehavior)},
		&pingFrame{},
	}
	var buf bytes.Buffer
	for _, f := range frames {
		data, err := marshalFrame(f)
		require.NoError(t, err)
		buf.Write(data)
	}

	br := bufio.NewReader(&buf)
	for _, want := range frames {
		got, err := readFrame(br)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := readFrame(br)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrames_ErrorPayloadKeepsIdentity(t *testing.T) {
	err := decodeError(encodeError(ErrUnknownBehavior))
	assert.ErrorIs(t, err, ErrUnknownBehavior)

	err = decodeError(encodeError(io.ErrUnexpectedEOF))
	var se *rterrors.StandardError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "BEHAVIOR_FAILED", se.Code)
	assert.Contains(t, se.Message, io.ErrUnexpectedEOF.Error())
}

func TestFrames_Rejects(t *testing.T) {
	_, err := marshalFrame(&createActorFrame{uuid: strings.Repeat("x", 256), typeName: "T"})
	assert.Error(t, err)

	frameOf := func(body ...byte) *bufio.Reader {
		b := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
		return bufio.NewReader(bytes.NewReader(append(b, body...)))
	}
	_, err = readFrame(frameOf(0xEE))
	assert.Error(t, err, "unknown command")

	_, err = readFrame(frameOf(byte(cmdCreateActor), 10, 'a'))
	assert.ErrorIs(t, err, errShortFrame)

	// list count larger than the frame can hold
	_, err = readFrame(frameOf(byte(cmdHello), 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF))
	assert.ErrorIs(t, err, errShortFrame)

	_, err = readFrame(bufio.NewReader(bytes.NewReader([]byte{0, 0, 0, 0})))
	assert.Error(t, err, "empty frame")
}
