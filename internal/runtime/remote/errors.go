package remote

import (
	"github.com/pkg/errors"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

var (
	// ErrNodeDisconnected is passed to reply callbacks whose node dropped
	// before answering.
	ErrNodeDisconnected = rterrors.Transport("NODE_DISCONNECTED", "node disconnected before replying", nil)
	// ErrNoRoute means no connected node supports the actor type and the
	// type has no local fallback.
	ErrNoRoute = rterrors.Transport("NO_ROUTE", "no node or local fallback for actor type", nil)
	// ErrUnknownBehavior is returned when the target instance does not
	// register the called behavior.
	ErrUnknownBehavior = rterrors.Protocol("UNKNOWN_BEHAVIOR", "behavior not registered", nil)
	// ErrUnknownType is returned when a node is asked to create a type it
	// does not support.
	ErrUnknownType = rterrors.Protocol("UNKNOWN_TYPE", "actor type not registered", nil)
	// ErrVersionMismatch is returned by Node.Connect when the root rejects
	// the node's protocol version.
	ErrVersionMismatch = rterrors.Protocol("VERSION_MISMATCH", "protocol version not accepted", nil)
)

// encodeError turns a behavior failure into a reply payload:
// category, code and message as length-prefixed strings.
func encodeError(err error) []byte {
	var se *rterrors.StandardError
	if !errors.As(err, &se) {
		se = &rterrors.StandardError{Category: rterrors.CategoryProtocol, Code: "BEHAVIOR_FAILED", Message: err.Error()}
	}
	w := &frameWriter{}
	w.string(string(se.Category))
	w.string(se.Code)
	w.bytes([]byte(se.Message))
	return w.buf
}

func decodeError(payload []byte) error {
	r := &frameReader{buf: payload}
	category := rterrors.ErrorCategory(r.string())
	code := r.string()
	msg := string(r.bytes())
	if r.err != nil {
		return errors.Wrap(r.err, "malformed error reply")
	}
	return rterrors.NewStandardError(category, code, msg, map[string]interface{}{"remote": true})
}
