package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

func TestGroup_NotifyAfterLastLeave(t *testing.T) {
	rt := newTestRuntime(t)
	a := NewActor(rt)
	g := NewGroup()

	for i := 0; i < 3; i++ {
		g.Enter()
	}
	var notified atomic.Int64
	g.Notify(a, func() { notified.Add(1) })

	g.Leave()
	g.Leave()
	require.NoError(t, a.Wait(context.Background(), 0))
	assert.Equal(t, int64(0), notified.Load())
	assert.Equal(t, 1, g.Count())

	g.Leave()
	require.NoError(t, g.Wait(context.Background()))
	require.NoError(t, a.Wait(context.Background(), 0))
	assert.Equal(t, int64(1), notified.Load())

	// an empty group notifies at once and observers fire only once
	g.Notify(a, func() { notified.Add(1) })
	require.NoError(t, a.Wait(context.Background(), 0))
	assert.Equal(t, int64(2), notified.Load())
}

func TestGroup_TracksWorkAcrossActors(t *testing.T) {
	rt := newTestRuntime(t)
	g := NewGroup()

	var done atomic.Int64
	for i := 0; i < 16; i++ {
		a := NewActor(rt)
		g.Enter()
		a.Send(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
			g.Leave()
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Wait(ctx))
	assert.Equal(t, int64(16), done.Load())
}

func TestGroup_LeaveWithoutEnterIsViolation(t *testing.T) {
	rt := newTestRuntime(t)
	a := NewActor(rt)
	g := NewGroup()
	var notified atomic.Int64
	g.Enter()
	g.Notify(a, func() { notified.Add(1) })
	g.Leave()
	require.NoError(t, a.Wait(context.Background(), 0))
	require.Equal(t, int64(1), notified.Load())

	defer func() {
		v := recover()
		require.NotNil(t, v)
		assert.True(t, rterrors.IsViolation(v))
		assert.Equal(t, 0, g.Count())
		require.NoError(t, a.Wait(context.Background(), 0))
		assert.Equal(t, int64(1), notified.Load())
	}()
	g.Leave()
	t.Fatal("unmatched Leave returned")
}
