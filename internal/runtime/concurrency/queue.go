package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/ensemble/internal/errors"
)

// Queue is a growable ring buffer backing actor mailboxes, scheduler ready
// lists and the timer list.
//
// Locking is elided on the producer side when the queue was created for a
// single producer, and on the consumer side when created for a single
// consumer. Operations that rearrange the buffer (growth, sorted insert,
// scan-and-remove, clear, steal) serialize both sides.
type Queue[T any] struct {
	buffer   []T
	size     atomic.Int64
	writeIdx atomic.Int64
	readIdx  atomic.Int64

	readLock  sync.Mutex
	writeLock sync.Mutex

	// exclusive is raised while both locks are held for a rearrangement;
	// unlocked paths register in active and back off to the locked path.
	exclusive atomic.Bool
	active    atomic.Int32

	multiProducer bool
	multiConsumer bool
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](capacity int, multiProducer, multiConsumer bool) *Queue[T] {
	if capacity < 2 {
		capacity = 2
	}
	q := &Queue[T]{
		buffer:        make([]T, capacity),
		multiProducer: multiProducer,
		multiConsumer: multiConsumer,
	}
	q.size.Store(int64(capacity))
	return q
}

// Count returns a best-effort snapshot of the number of queued items.
func (q *Queue[T]) Count() int {
	r := q.readIdx.Load()
	w := q.writeIdx.Load()
	if w == r {
		return 0
	}
	if w > r {
		return int(w - r)
	}
	n := q.size.Load() - (r - w)
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the queue held no items at the time of the call.
func (q *Queue[T]) IsEmpty() bool {
	return q.writeIdx.Load() == q.readIdx.Load()
}

// Cap returns the current buffer capacity.
func (q *Queue[T]) Cap() int {
	return int(q.size.Load())
}

// Enqueue appends item at the tail and reports whether the queue was empty
// before the insert.
func (q *Queue[T]) Enqueue(item T) bool {
	locked := q.enterWrite()
	size := int64(len(q.buffer))
	w := q.writeIdx.Load()
	r := q.readIdx.Load()
	next := (w + 1) % size
	if next != r {
		q.buffer[w] = item
		q.writeIdx.Store(next)
		q.leaveWrite(locked)
		return w == r
	}
	q.leaveWrite(locked)

	q.lockAll()
	defer q.unlockAll()
	wasEmpty := q.writeIdx.Load() == q.readIdx.Load()
	if q.isFullLocked() {
		q.grow()
	}
	q.pushLocked(item)
	return wasEmpty
}

// EnqueueSorted inserts item ahead of the first queued element e for which
// before(item, e) holds, or at the tail if there is none. Items that compare
// equal keep insertion order.
func (q *Queue[T]) EnqueueSorted(item T, before func(a, b T) bool) bool {
	q.lockAll()
	defer q.unlockAll()

	wasEmpty := q.writeIdx.Load() == q.readIdx.Load()
	if q.isFullLocked() {
		q.grow()
	}

	size := int64(len(q.buffer))
	r := q.readIdx.Load()
	w := q.writeIdx.Load()
	pos := r
	for pos != w && !before(item, q.buffer[pos]) {
		pos = (pos + 1) % size
	}
	// shift [pos, w) one slot towards the tail
	for i := w; i != pos; {
		prev := (i - 1 + size) % size
		q.buffer[i] = q.buffer[prev]
		i = prev
	}
	q.buffer[pos] = item
	q.writeIdx.Store((w + 1) % size)
	return wasEmpty
}

// Dequeue removes and returns the head item.
func (q *Queue[T]) Dequeue() (T, bool) {
	locked := q.enterRead()
	defer q.leaveRead(locked)
	return q.popLocked()
}

// DequeueIf removes and returns the head item only when pred accepts it.
func (q *Queue[T]) DequeueIf(pred func(T) bool) (T, bool) {
	locked := q.enterRead()
	defer q.leaveRead(locked)

	var zero T
	r := q.readIdx.Load()
	if r == q.writeIdx.Load() {
		return zero, false
	}
	if !pred(q.buffer[r]) {
		return zero, false
	}
	return q.popLocked()
}

// DequeueAny removes every item accepted by pred, wherever it sits in the
// queue, and returns them in queue order. The remaining items keep their
// relative order.
func (q *Queue[T]) DequeueAny(pred func(T) bool) []T {
	q.lockAll()
	defer q.unlockAll()

	var (
		zero    T
		removed []T
	)
	size := int64(len(q.buffer))
	r := q.readIdx.Load()
	w := q.writeIdx.Load()
	dst := r
	for src := r; src != w; src = (src + 1) % size {
		item := q.buffer[src]
		if pred(item) {
			removed = append(removed, item)
			continue
		}
		q.buffer[dst] = item
		dst = (dst + 1) % size
	}
	for i := dst; i != w; i = (i + 1) % size {
		q.buffer[i] = zero
	}
	q.writeIdx.Store(dst)
	return removed
}

// Peek returns the head item without removing it. Peek is only defined for
// queues created with a single consumer; on a multi-consumer queue the head
// may be taken by another consumer at any time, so calling it panics.
func (q *Queue[T]) Peek() (T, bool) {
	if q.multiConsumer {
		panic(errors.Violation("PEEK_MULTI_CONSUMER",
			"Peek called on a queue configured for multiple consumers"))
	}
	var zero T
	if q.IsEmpty() {
		return zero, false
	}
	locked := q.enterRead()
	defer q.leaveRead(locked)
	r := q.readIdx.Load()
	if r == q.writeIdx.Load() {
		return zero, false
	}
	return q.buffer[r], true
}

// Steal removes and returns the tail item. It never blocks on a producer:
// if the write side is busy it gives up.
func (q *Queue[T]) Steal() (T, bool) {
	var zero T
	if q.IsEmpty() {
		return zero, false
	}
	if !q.writeLock.TryLock() {
		return zero, false
	}
	q.readLock.Lock()
	q.raiseExclusive()
	defer q.unlockAll()

	r := q.readIdx.Load()
	w := q.writeIdx.Load()
	if r == w {
		return zero, false
	}
	size := int64(len(q.buffer))
	w = (w - 1 + size) % size
	item := q.buffer[w]
	q.buffer[w] = zero
	q.writeIdx.Store(w)
	return item, true
}

// Clear drops every queued item.
func (q *Queue[T]) Clear() {
	q.lockAll()
	defer q.unlockAll()
	var zero T
	for i := range q.buffer {
		q.buffer[i] = zero
	}
	q.readIdx.Store(0)
	q.writeIdx.Store(0)
}

func (q *Queue[T]) isFullLocked() bool {
	size := int64(len(q.buffer))
	return (q.writeIdx.Load()+1)%size == q.readIdx.Load()
}

func (q *Queue[T]) pushLocked(item T) {
	size := int64(len(q.buffer))
	w := q.writeIdx.Load()
	q.buffer[w] = item
	q.writeIdx.Store((w + 1) % size)
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	r := q.readIdx.Load()
	if r == q.writeIdx.Load() {
		return zero, false
	}
	item := q.buffer[r]
	q.buffer[r] = zero
	q.readIdx.Store((r + 1) % int64(len(q.buffer)))
	return item, true
}

// grow doubles the buffer, replaying items from index 0. Both locks must be held.
func (q *Queue[T]) grow() {
	oldSize := int64(len(q.buffer))
	next := make([]T, oldSize*2)
	n := int64(0)
	for i := q.readIdx.Load(); i != q.writeIdx.Load(); i = (i + 1) % oldSize {
		next[n] = q.buffer[i]
		n++
	}
	q.buffer = next
	q.size.Store(oldSize * 2)
	q.readIdx.Store(0)
	q.writeIdx.Store(n)
}

// pressure reports occupancy above 75%, at which point declared
// single-producer or single-consumer queues take their locks anyway.
func (q *Queue[T]) pressure() bool {
	r := q.readIdx.Load()
	w := q.writeIdx.Load()
	size := q.size.Load()
	n := w - r
	if n < 0 {
		n += size
	}
	return n*4 > size*3
}

func (q *Queue[T]) enterWrite() bool {
	if q.multiProducer {
		q.writeLock.Lock()
		return true
	}
	if q.enterShared() {
		if q.pressure() {
			q.leaveShared()
			q.writeLock.Lock()
			return true
		}
		return false
	}
	q.writeLock.Lock()
	return true
}

func (q *Queue[T]) leaveWrite(locked bool) {
	if locked {
		q.writeLock.Unlock()
		return
	}
	q.leaveShared()
}

func (q *Queue[T]) enterRead() bool {
	if q.multiConsumer {
		q.readLock.Lock()
		return true
	}
	if q.enterShared() {
		if q.pressure() {
			q.leaveShared()
			q.readLock.Lock()
			return true
		}
		return false
	}
	q.readLock.Lock()
	return true
}

func (q *Queue[T]) leaveRead(locked bool) {
	if locked {
		q.readLock.Unlock()
		return
	}
	q.leaveShared()
}

// enterShared registers a lock-free section. It returns false when a
// rearrangement is in progress; the caller must then use its lock.
func (q *Queue[T]) enterShared() bool {
	q.active.Add(1)
	if q.exclusive.Load() {
		q.active.Add(-1)
		return false
	}
	return true
}

func (q *Queue[T]) leaveShared() {
	q.active.Add(-1)
}

func (q *Queue[T]) lockAll() {
	q.writeLock.Lock()
	q.readLock.Lock()
	q.raiseExclusive()
}

func (q *Queue[T]) raiseExclusive() {
	q.exclusive.Store(true)
	for q.active.Load() != 0 {
		runtime.Gosched()
	}
}

func (q *Queue[T]) unlockAll() {
	q.exclusive.Store(false)
	q.readLock.Unlock()
	q.writeLock.Unlock()
}
