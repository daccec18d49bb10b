package remote

import (
	"github.com/pkg/errors"

	"github.com/orizon-lang/ensemble/internal/runtime"
)

type result struct {
	data []byte
	err  error
}

// Call invokes behavior on p with in. callback runs on sender's mailbox
// with the decoded result, or with the routing or behavior error. With a
// nil sender it runs on the goroutine that received the reply. The
// returned Call supports Then/Do chaining like a local reply behavior.
func Call[In, Out any](p *RemoteActor, behavior string, in In, sender *runtime.Actor, callback func(Out, error)) *runtime.Call {
	codec := p.root.Codec()
	payload, encErr := codec.Marshal(in)
	rb := runtime.NewReplyBehavior(p.runner, func(_ struct{}, reply *runtime.Reply[result]) {
		if encErr != nil {
			reply.Send(result{err: errors.Wrapf(encErr, "failed to encode %s arguments", behavior)})
			return
		}
		p.root.dispatch(p, behavior, payload, func(data []byte, err error) {
			reply.Send(result{data: data, err: err})
		})
	})
	return rb.Call(struct{}{}, sender, func(res result) {
		var out Out
		err := res.err
		if err == nil && len(res.data) > 0 {
			if decErr := codec.Unmarshal(res.data, &out); decErr != nil {
				err = errors.Wrapf(decErr, "failed to decode %s result", behavior)
			}
		}
		if callback != nil {
			callback(out, err)
		}
	})
}

// Tell invokes behavior on p without waiting for an answer.
func Tell[In any](p *RemoteActor, behavior string, in In) error {
	payload, err := p.root.Codec().Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s arguments", behavior)
	}
	p.runner.Send(func() { p.root.dispatch(p, behavior, payload, nil) })
	return nil
}
