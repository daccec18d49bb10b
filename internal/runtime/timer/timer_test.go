package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(Config{MaxSleep: 50 * time.Millisecond})
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l
}

func TestLoop_FiresInDeadlineOrder(t *testing.T) {
	l := startLoop(t)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	delays := []int{6, 8, 3, 7, 5, 9, 2, 4, 1}
	wg.Add(len(delays))
	for _, d := range delays {
		d := d
		l.After(time.Duration(d)*15*time.Millisecond, false, func(*Timer) {
			mu.Lock()
			order = append(order, d)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoop_CancelledTimerNeverFires(t *testing.T) {
	l := startLoop(t)

	var fired atomic.Bool
	tm := l.After(40*time.Millisecond, false, func(*Timer) { fired.Store(true) })
	tm.Cancel()
	tm.Cancel()

	time.Sleep(120 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.True(t, tm.Cancelled())
	assert.Zero(t, tm.Fired())
}

func TestLoop_RepeatingTimerRearms(t *testing.T) {
	l := startLoop(t)

	ticks := make(chan struct{}, 16)
	tm := l.After(10*time.Millisecond, true, func(*Timer) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("tick %d did not arrive", i)
		}
	}
	tm.Cancel()
	assert.GreaterOrEqual(t, tm.Fired(), int64(3))
	assert.True(t, tm.Repeats())

	// a cancelled repeating timer leaves the list the next time it comes due
	require.Eventually(t, func() bool { return l.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLoop_EarlyWakeForSoonerTimer(t *testing.T) {
	l := NewLoop(Config{MaxSleep: 5 * time.Second})
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	l.After(time.Hour, false, func(*Timer) {})
	done := make(chan struct{})
	start := time.Now()
	l.After(20*time.Millisecond, false, func(*Timer) { close(done) })

	select {
	case <-done:
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not wake for the sooner timer")
	}
}

func TestLoop_StartTwice(t *testing.T) {
	l := startLoop(t)
	assert.Error(t, l.Start(context.Background()))
}
