package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T, mutate ...func(*Config)) *Runtime {
	t.Helper()
	cfg := Config{Workers: 4, Logger: testLogger(), ShutdownTimeout: 5 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	require.NoError(t, cfg.Validate())
	rt := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, rt.Shutdown(ctx))
	})
	return rt
}

// blockWorker occupies the single worker of rt until the returned func is called.
func blockWorker(t *testing.T, rt *Runtime) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	NewActor(rt).Send(func() {
		close(started)
		<-release
	})
	<-started
	return func() { close(release) }
}

func TestRuntime_LazyStartupIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	require.False(t, rt.Running())

	NewActor(rt)
	require.True(t, rt.Running())
	require.NoError(t, rt.Startup())
	assert.Equal(t, 4, rt.Cores())
	assert.Equal(t, int64(1), rt.Stats().Created)
}

func TestRuntime_ShutdownDrainsInFlight(t *testing.T) {
	rt := New(Config{Workers: 2, Logger: testLogger()})
	a := NewActor(rt)

	var handled atomic.Int64
	for i := 0; i < 500; i++ {
		a.Send(func() {
			time.Sleep(10 * time.Microsecond)
			handled.Add(1)
		})
	}
	require.NoError(t, rt.Shutdown(context.Background()))
	assert.Equal(t, int64(500), handled.Load())
	assert.Equal(t, int64(0), rt.InFlight())
	assert.False(t, rt.Running())
	assert.NoError(t, rt.Shutdown(context.Background()))
}

func TestRuntime_ShutdownTimeout(t *testing.T) {
	rt := New(Config{Workers: 1, Logger: testLogger(), ShutdownTimeout: 30 * time.Millisecond})
	release := make(chan struct{})
	NewActor(rt).Send(func() { <-release })

	go func() {
		time.Sleep(200 * time.Millisecond)
		close(release)
	}()
	err := rt.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrShutdownTimeout)
	assert.False(t, rt.Running())
}

func TestRuntime_ActorTimers(t *testing.T) {
	rt := newTestRuntime(t)
	a := NewActor(rt)

	once := make(chan struct{})
	rt.After(a, 20*time.Millisecond, func() { close(once) })
	select {
	case <-once:
	case <-time.After(2 * time.Second):
		t.Fatal("After timer did not fire")
	}

	var ticks atomic.Int64
	every := rt.Every(a, 5*time.Millisecond, func() { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, time.Millisecond)
	every.Cancel()

	cancelled := rt.After(a, 20*time.Millisecond, func() { t.Error("cancelled timer fired") })
	cancelled.Cancel()
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, a.Wait(context.Background(), 0))
}

func TestRuntime_ReleasesRetainedActors(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) { c.MinLifetime = 40 * time.Millisecond })
	for i := 0; i < 10; i++ {
		NewActor(rt)
	}
	assert.Positive(t, rt.Retained())
	require.Eventually(t, func() bool { return rt.Retained() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(10), rt.Stats().Created)
}

func TestRuntime_SetMessageBatchSize(t *testing.T) {
	rt := newTestRuntime(t)
	assert.Equal(t, DefaultConfig.MessageBatchSize, rt.MessageBatchSize())
	rt.SetMessageBatchSize(0)
	assert.Equal(t, DefaultConfig.MessageBatchSize, rt.MessageBatchSize())
	rt.SetMessageBatchSize(5)
	assert.Equal(t, 5, rt.MessageBatchSize())

	a := NewActor(rt)
	assert.Equal(t, 5, a.batchLimit())
	a.SetBatchSize(2)
	assert.Equal(t, 2, a.batchLimit())
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", DefaultConfig, true},
		{"negative workers", Config{Workers: -1}, false},
		{"efficiency exceeds workers", Config{Workers: 2, EfficiencyWorkers: 3}, false},
		{"idle bounds inverted", Config{IdleMinSleep: time.Second, IdleMaxSleep: time.Millisecond}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestScheduler_PriorityRunsFirst(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) { c.Workers = 1 })
	release := blockWorker(t, rt)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}
	low := NewActor(rt)
	high := NewActor(rt, WithPriority(5))
	low.Send(record("low"))
	high.Send(record("high"))
	release()

	require.NoError(t, low.Wait(context.Background(), 0))
	require.NoError(t, high.Wait(context.Background(), 0))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestScheduler_YieldLetsOthersRun(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) { c.Workers = 1 })
	release := blockWorker(t, rt)

	var order []string
	a := NewActor(rt)
	b := NewActor(rt)
	a.Send(func() {
		order = append(order, "a1")
		a.Yield()
	})
	a.Send(func() { order = append(order, "a2") })
	b.Send(func() { order = append(order, "b1") })
	release()

	require.NoError(t, a.Wait(context.Background(), 0))
	require.NoError(t, b.Wait(context.Background(), 0))
	assert.Equal(t, []string{"a1", "b1", "a2"}, order)
}

func TestScheduler_AffinityLanes(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.Workers = 2
		c.EfficiencyWorkers = 1
	})

	check := func(affinity CoreAffinity, want int) {
		a := NewActor(rt, WithAffinity(affinity))
		var seen []int32
		for i := 0; i < 200; i++ {
			a.Send(func() { seen = append(seen, a.worker.Load()) })
		}
		require.NoError(t, a.Wait(context.Background(), 0))
		for _, w := range seen {
			require.Equal(t, int32(want), w, affinity.String())
		}
	}
	check(OnlyEfficiency, 1)
	check(OnlyPerformance, 0)
}

func TestActor_WaitForMessages(t *testing.T) {
	rt := newTestRuntime(t)
	a := NewActor(rt)
	for i := 0; i < 20; i++ {
		a.Send(func() { time.Sleep(time.Millisecond) })
	}
	require.NoError(t, a.Wait(context.Background(), 0))
	assert.Equal(t, 0, a.MessagesCount())
	assert.Equal(t, int64(20), a.Processed())

	blocked := make(chan struct{})
	a.Send(func() { <-blocked })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Wait(ctx, 0), context.DeadlineExceeded)
	close(blocked)
}
