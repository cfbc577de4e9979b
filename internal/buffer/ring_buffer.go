// Package buffer provides the fixed-capacity byte ring used by the serial bridge.
package buffer

import (
	"sync/atomic"
)

// RingChannel is a fixed-capacity circular byte buffer for a single producer
// and a single consumer.
//
// One slot is never used so that a full buffer can be told apart from an empty
// one without a separate count: the buffer is empty when head == tail and full
// when (head+1)%capacity == tail. The usable payload is therefore capacity-1.
//
// Only the producer stores head and only the consumer stores tail. Both are
// atomics so the two sides may run on different goroutines without a lock.
//
// A capacity of 0 disables buffering: every Enqueue fails and every Dequeue or
// Peek reports no data.
type RingChannel struct {
	data     []byte
	capacity uint32
	head     atomic.Uint32
	tail     atomic.Uint32
}

// NewRingChannel creates a RingChannel with the specified capacity.
// A negative capacity is treated as 0.
func NewRingChannel(capacity int) *RingChannel {
	if capacity < 0 {
		capacity = 0
	}
	return &RingChannel{
		data:     make([]byte, capacity),
		capacity: uint32(capacity),
	}
}

// Enqueue stores b at head. It returns false and leaves the buffer untouched
// when the buffer is full or disabled.
func (r *RingChannel) Enqueue(b byte) bool {
	if r.capacity == 0 {
		return false
	}

	head := r.head.Load()
	next := (head + 1) % r.capacity
	if next == r.tail.Load() {
		return false
	}

	r.data[head] = b
	r.head.Store(next)
	return true
}

// EnqueueFrom enqueues bytes from p until the buffer fills up and returns how
// many were accepted. The remainder of p is not touched.
func (r *RingChannel) EnqueueFrom(p []byte) int {
	if r.capacity == 0 {
		return 0
	}

	head := r.head.Load()
	tail := r.tail.Load()
	n := 0
	for _, b := range p {
		next := (head + 1) % r.capacity
		if next == tail {
			break
		}
		r.data[head] = b
		head = next
		n++
	}

	// Publish once; the consumer sees either none or all of the new bytes.
	if n > 0 {
		r.head.Store(head)
	}
	return n
}

// Dequeue removes and returns the byte at tail.
func (r *RingChannel) Dequeue() (byte, bool) {
	if r.capacity == 0 {
		return 0, false
	}

	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}

	b := r.data[tail]
	r.tail.Store((tail + 1) % r.capacity)
	return b, true
}

// Peek returns the byte at tail without removing it.
func (r *RingChannel) Peek() (byte, bool) {
	if r.capacity == 0 {
		return 0, false
	}

	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}
	return r.data[tail], true
}

// Len returns the number of unread bytes.
func (r *RingChannel) Len() int {
	if r.capacity == 0 {
		return 0
	}
	head := r.head.Load()
	tail := r.tail.Load()
	return int((r.capacity + head - tail) % r.capacity)
}

// Free returns how many more bytes can be enqueued before the buffer is full.
func (r *RingChannel) Free() int {
	if r.capacity == 0 {
		return 0
	}
	return int(r.capacity) - r.Len() - 1
}

// Cap returns the capacity of the buffer, including the unused sentinel slot.
func (r *RingChannel) Cap() int {
	return int(r.capacity)
}

// Reset empties the buffer by moving both indices back to 0. Stale bytes stay
// in storage but are unreachable until overwritten.
//
// Reset stores both indices one after the other. It must only be used when
// no other goroutine touches the buffer, including Len and Free readers. Use
// Discard otherwise.
func (r *RingChannel) Reset() {
	r.head.Store(0)
	r.tail.Store(0)
}

// Discard drops every unread byte from the consumer side by moving tail up to
// head. It is safe to call while the producer is active.
func (r *RingChannel) Discard() {
	r.tail.Store(r.head.Load())
}

// DrainAll dequeues every unread byte into a new contiguous slice sized to the
// current Len. It returns nil when the buffer is empty.
func (r *RingChannel) DrainAll() []byte {
	n := r.Len()
	if n == 0 {
		return nil
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		b, ok := r.Dequeue()
		if !ok {
			break
		}
		out = append(out, b)
	}
	return out
}
