package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/pgerber/lo-migrate/pkg/lo"
)

// Queue is a bounded multi-producer/multi-consumer FIFO of descriptors,
// modeled on a buffered channel: Send parks the caller when the queue is
// full, Recv parks the caller when it is empty, and Close is an
// observable terminal condition for send — once closed, every pending
// and future Recv eventually returns ok=false once the buffer drains,
// letting a receiver finish draining before closing the next queue in
// turn.
//
// Queue never buffers error values; it carries only live descriptors, per
// the error propagation policy (stage-local handling, not queue-carried).
type Queue struct {
	ch chan *lo.Descriptor

	closeOnce sync.Once

	depth    atomic.Int64 // current number of buffered items (approximate, monotone-free gauge)
	enqueued atomic.Int64
	dequeued atomic.Int64
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan *lo.Descriptor, capacity)}
}

// Send blocks until the descriptor is accepted or the queue is closed.
// Sending on a closed queue panics, matching channel semantics — callers
// must stop sending once they have called Close themselves; Send is never
// called concurrently with Close by the same producer group.
func (q *Queue) Send(d *lo.Descriptor) {
	q.ch <- d
	q.depth.Add(1)
	q.enqueued.Add(1)
}

// Recv blocks until a descriptor is available or the queue is closed and
// drained, in which case ok is false.
func (q *Queue) Recv() (d *lo.Descriptor, ok bool) {
	d, ok = <-q.ch
	if ok {
		q.depth.Add(-1)
		q.dequeued.Add(1)
	}
	return d, ok
}

// Close signals end-of-input: no further sends will occur. Safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Depth returns the approximate number of descriptors currently buffered.
// Used only by the Monitor; never used for control flow.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// Cap returns the queue's configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Counts returns the lifetime enqueued/dequeued totals.
func (q *Queue) Counts() (enqueued, dequeued int64) {
	return q.enqueued.Load(), q.dequeued.Load()
}

// Chan exposes the underlying receive-only channel for callers (the
// Committer's batch-idle timer) that need to select between a descriptor
// arriving and a timer firing. Depth/dequeued bookkeeping is the caller's
// responsibility when reading directly off this channel.
func (q *Queue) Chan() <-chan *lo.Descriptor {
	return q.ch
}
