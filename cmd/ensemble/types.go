package main

import (
	"strings"

	"github.com/orizon-lang/ensemble/internal/runtime/remote"
)

// echo answers with its input, optionally upper-cased.
type echo struct {
	calls int
}

func (e *echo) RegisterBehaviors(b *remote.Behaviors) {
	remote.Handle(b, "echo", func(s string) (string, error) {
		e.calls++
		return s, nil
	})
	remote.Handle(b, "shout", func(s string) (string, error) {
		e.calls++
		return strings.ToUpper(s), nil
	})
	remote.Handle(b, "calls", func(struct{}) (int, error) { return e.calls, nil })
}

// counter keeps a running total.
type counter struct {
	total int64
}

func (c *counter) RegisterBehaviors(b *remote.Behaviors) {
	remote.Handle(b, "add", func(n int64) (int64, error) {
		c.total += n
		return c.total, nil
	})
	remote.Handle(b, "get", func(struct{}) (int64, error) { return c.total, nil })
	remote.HandleTell(b, "reset", func(struct{}) { c.total = 0 })
}

func builtinTypes() *remote.Types {
	return remote.NewTypes().
		Register("Echo", func() remote.Instance { return &echo{} }).
		Register("Counter", func() remote.Instance { return &counter{} })
}
