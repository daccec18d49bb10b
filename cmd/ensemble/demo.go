package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"github.com/orizon-lang/ensemble/internal/logging"
	"github.com/orizon-lang/ensemble/internal/runtime"
	"github.com/orizon-lang/ensemble/internal/runtime/remote"
)

func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	workers := fs.Int("workers", 0, "worker goroutines; 0 uses the core count")
	text := fs.String("text", "the quick brown fox jumps over the lazy dog", "input for the pipeline")
	level := fs.String("log-level", "warn", "log level")
	_ = fs.Parse(args)

	logger, _, err := logging.New(logging.Options{Level: *level})
	if err != nil {
		return err
	}
	rt := runtime.New(runtime.Config{Workers: *workers, Logger: logger})
	defer func() { _ = rt.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := pipeline(ctx, rt, *text, 4)
	if err != nil {
		return err
	}
	fmt.Printf("pipeline: %s\n", out)

	return remoteDemo(ctx, rt, logger)
}

// pipeline fans text out to n upper-casing stages and joins the result.
// Stages may interleave, so only the multiset of runes is preserved.
func pipeline(ctx context.Context, rt *runtime.Runtime, text string, n int) (string, error) {
	var source *runtime.Flowable[rune]
	source = runtime.NewFlowable(runtime.NewActor(rt, runtime.WithName("source")), func(items []rune) {
		source.Emit(items...)
	})

	uppers := make([]*runtime.Flowable[rune], n)
	stages := make([]runtime.Stage[rune], n)
	for i := range uppers {
		var f *runtime.Flowable[rune]
		f = runtime.NewFlowable(runtime.NewActor(rt), func(items []rune) {
			out := make([]rune, len(items))
			for j, r := range items {
				out[j] = unicode.ToUpper(r)
			}
			f.Emit(out...)
		})
		uppers[i], stages[i] = f, f
	}

	var sb strings.Builder
	result := make(chan string, 1)
	sink := runtime.NewFlowable(runtime.NewActor(rt, runtime.WithName("sink")), func(items []rune) {
		if len(items) == 0 {
			result <- sb.String()
			return
		}
		sb.WriteString(string(items))
	})

	source.Targets(stages...)
	runtime.Link(uppers, runtime.Stage[rune](sink))

	runes := []rune(text)
	for start := 0; start < len(runes); start += 8 {
		end := start + 8
		if end > len(runes) {
			end = len(runes)
		}
		source.Flow(runes[start:end]...)
	}
	source.Flow()

	select {
	case s := <-result:
		return s, nil
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "pipeline did not finish")
	}
}

// remoteDemo connects a node to a root over the in-memory transport and
// calls both a placed actor and a named service.
func remoteDemo(ctx context.Context, rt *runtime.Runtime, logger *slog.Logger) error {
	transport := remote.NewMemoryTransport()
	root, err := remote.NewRoot(rt, remote.RootConfig{Transport: transport, Logger: logger})
	if err != nil {
		return err
	}
	defer root.Close()
	if err := root.Listen(ctx, "demo-root"); err != nil {
		return err
	}

	node, err := remote.NewNode(rt, remote.NodeConfig{
		Types:     builtinTypes(),
		Named:     []remote.NamedInstance{{Type: "Echo"}},
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer node.Close()
	if err := node.Connect(ctx, "demo-root"); err != nil {
		return err
	}
	if err := waitUntil(ctx, func() bool { return len(root.Service("Echo")) == 1 }); err != nil {
		return errors.Wrap(err, "echo service not advertised")
	}

	client := runtime.NewActor(rt, runtime.WithName("client"))
	counter := root.Actor("Counter")
	group := runtime.NewGroup()
	for i := int64(1); i <= 10; i++ {
		group.Enter()
		remote.Call(counter, "add", i, client, func(total int64, err error) {
			if err != nil {
				logger.Error("add failed", "err", err)
			}
			group.Leave()
		})
	}
	if err := group.Wait(ctx); err != nil {
		return errors.Wrap(err, "counter calls did not finish")
	}

	echo := root.Service("Echo")[0]
	done := make(chan struct{})
	remote.Call(counter, "get", struct{}{}, client, func(total int64, err error) {
		fmt.Printf("counter: %d (err=%v)\n", total, err)
	}).Then(func() *runtime.Call {
		return remote.Call(echo, "shout", "hello from the root", client, func(s string, err error) {
			fmt.Printf("echo %s: %s (err=%v)\n", echo.UUID(), s, err)
		})
	}).Do(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "remote calls did not finish")
	}
}

func waitUntil(ctx context.Context, cond func() bool) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
