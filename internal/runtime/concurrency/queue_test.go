package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/orizon-lang/ensemble/internal/errors"
)

func drain[T any](q *Queue[T]) []T {
	var out []T
	for {
		v, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestQueue_RoundTripAcrossGrowth(t *testing.T) {
	for _, k := range []int{1, 7, 15, 16, 17, 100, 5000} {
		q := NewQueue[int](16, true, true)
		for i := 0; i < k; i++ {
			q.Enqueue(i)
		}
		require.Equal(t, k, q.Count())
		got := drain(q)
		require.Len(t, got, k)
		for i, v := range got {
			require.Equal(t, i, v)
		}
		assert.True(t, q.IsEmpty())
	}
}

func TestQueue_GrowthWithWrappedIndices(t *testing.T) {
	q := NewQueue[int](4, false, false)
	q.Enqueue(0)
	q.Enqueue(1)
	q.Dequeue()
	q.Dequeue()
	// indices now sit in the middle of the buffer
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	assert.GreaterOrEqual(t, q.Cap(), 11)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, drain(q))
}

func TestQueue_EnqueueReportsWasEmpty(t *testing.T) {
	q := NewQueue[string](2, true, true)
	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("b"))
	assert.False(t, q.Enqueue("c"))
	drain(q)
	assert.True(t, q.Enqueue("d"))
}

func TestQueue_EnqueueSorted(t *testing.T) {
	q := NewQueue[int](4, true, false)
	for _, v := range []int{6, 8, 3, 7, 5, 9, 2, 4, 1} {
		q.EnqueueSorted(v, func(a, b int) bool { return a < b })
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, drain(q))
}

func TestQueue_DequeueAnyKeepsOrder(t *testing.T) {
	q := NewQueue[int](4, true, true)
	for _, v := range []int{5, 2, 17, 15, 99, 0} {
		q.Enqueue(v)
	}
	removed := q.DequeueAny(func(v int) bool { return v == 17 || v == 15 || v == 0 })
	assert.Equal(t, []int{17, 15, 0}, removed)
	assert.Equal(t, []int{5, 2, 99}, drain(q))
}

func TestQueue_DequeueIf(t *testing.T) {
	q := NewQueue[int](8, true, true)
	q.Enqueue(1)
	q.Enqueue(10)

	_, ok := q.DequeueIf(func(v int) bool { return v > 5 })
	assert.False(t, ok)
	v, ok := q.DequeueIf(func(v int) bool { return v < 5 })
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.DequeueIf(func(v int) bool { return v > 5 })
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = q.DequeueIf(func(int) bool { return true })
	assert.False(t, ok)
}

func TestQueue_PeekSingleConsumer(t *testing.T) {
	q := NewQueue[int](8, true, false)
	_, ok := q.Peek()
	assert.False(t, ok)
	q.Enqueue(42)
	q.Enqueue(43)
	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, q.Count())
}

func TestQueue_PeekMultiConsumerPanics(t *testing.T) {
	q := NewQueue[int](8, true, true)
	q.Enqueue(1)
	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.True(t, rterrors.IsViolation(r))
	}()
	q.Peek()
	t.Fatal("peek on a multi-consumer queue must panic")
}

func TestQueue_StealTakesTail(t *testing.T) {
	q := NewQueue[int](8, true, true)
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	v, ok := q.Steal()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, []int{1, 2}, drain(q))
	_, ok = q.Steal()
	assert.False(t, ok)
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue[int](2, true, true)
	for i := 0; i < 9; i++ {
		q.Enqueue(i)
	}
	q.Clear()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Count())
	q.Enqueue(7)
	assert.Equal(t, []int{7}, drain(q))
}

func TestQueue_SingleProducerSingleConsumer(t *testing.T) {
	const total = 200000
	q := NewQueue[int](4, false, false)

	done := make(chan []int)
	go func() {
		got := make([]int, 0, total)
		for len(got) < total {
			if v, ok := q.Dequeue(); ok {
				got = append(got, v)
			}
		}
		done <- got
	}()
	for i := 0; i < total; i++ {
		q.Enqueue(i)
	}
	got := <-done
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %d", i, v)
		}
	}
}

func TestQueue_ManyProducersManyConsumers(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		perProd   = 20000
	)
	q := NewQueue[int](8, true, true)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				q.Enqueue(id*perProd + i)
			}
		}(p)
	}

	seen := make([]bool, producers*perProd)
	var mu sync.Mutex
	var cwg sync.WaitGroup
	stop := make(chan struct{})
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			for {
				v, ok := q.Dequeue()
				if !ok {
					select {
					case <-stop:
						return
					default:
						continue
					}
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(stop)
	cwg.Wait()
	for _, v := range drain(q) {
		seen[v] = true
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("item %d lost", i)
		}
	}
}
