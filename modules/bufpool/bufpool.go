// Package bufpool provides a fixed-capacity pool of fixed-size byte buffers.
//
// All storage is allocated once by New. Buffers move between the pool's free
// list and caller-owned Queues built over the same ilist.Slab, so the sum of
// all list sizes is always Count(). Acquire on an empty free list reports
// unavailability instead of blocking or allocating: exhaustion is a
// backpressure signal the caller turns into data loss.
//
// A Pool is not safe for concurrent use; callers sharing one across
// goroutines guard it with their own mutex.
package bufpool

import (
	"errors"
	"fmt"

	"github.com/sumirjha/hdmirx/modules/ilist"
)

// ErrInvalidSize is returned by New for non-positive count or capacity.
var ErrInvalidSize = errors.New("bufpool: count and capacity must be positive")

// Buffer is one fixed-capacity region of a Pool.
//
// Len is the number of valid bytes written by the current owner. Offset is
// how far a drainer has consumed, 0 <= Offset <= Len.
type Buffer struct {
	ID     int
	Len    int
	Offset int
	data   []byte
}

// Bytes returns the full backing region (capacity bytes).
func (b *Buffer) Bytes() []byte { return b.data }

// Data returns the filled portion [0, Len).
func (b *Buffer) Data() []byte { return b.data[:b.Len] }

// Pending returns the not yet drained portion [Offset, Len).
func (b *Buffer) Pending() []byte { return b.data[b.Offset:b.Len] }

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Fill copies p into the buffer and sets Len. It returns false, leaving the
// buffer untouched, when p does not fit.
func (b *Buffer) Fill(p []byte) bool {
	if len(p) > len(b.data) {
		return false
	}
	b.Len = copy(b.data, p)
	b.Offset = 0
	return true
}

// Pool is a fixed set of Buffers recycled through a free list.
type Pool struct {
	slab     *ilist.Slab
	free     *ilist.List
	bufs     []Buffer
	capacity int
}

// New allocates count buffers of capacity bytes each, all free.
func New(count, capacity int) (*Pool, error) {
	if count <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("%w: count=%d capacity=%d", ErrInvalidSize, count, capacity)
	}

	storage := make([]byte, count*capacity)
	p := &Pool{
		slab:     ilist.NewSlab(count),
		bufs:     make([]Buffer, count),
		capacity: capacity,
	}
	p.free = p.slab.NewList()

	for i := range p.bufs {
		p.bufs[i] = Buffer{
			ID:   i,
			data: storage[i*capacity : (i+1)*capacity : (i+1)*capacity],
		}
		p.free.InsertBack(i)
	}
	return p, nil
}

// Count returns the total number of buffers owned by the pool.
func (p *Pool) Count() int { return len(p.bufs) }

// Capacity returns the fixed size of every buffer.
func (p *Pool) Capacity() int { return p.capacity }

// Free returns the free-list length. O(n), diagnostics only.
func (p *Pool) Free() int { return p.free.Len() }

// Exhausted reports whether the free list is empty. O(1).
func (p *Pool) Exhausted() bool { return p.free.Empty() }

// Acquire claims the oldest free buffer. ok is false when the pool is
// exhausted; that is not an error.
func (p *Pool) Acquire() (b *Buffer, ok bool) {
	i, ok := p.free.PopFront()
	if !ok {
		return nil, false
	}
	return &p.bufs[i], true
}

// Release resets b and returns it to the back of the free list. b is
// detached from whatever Queue held it.
func (p *Pool) Release(b *Buffer) {
	p.own(b)
	b.Len = 0
	b.Offset = 0
	p.slab.Remove(b.ID)
	p.free.InsertBack(b.ID)
}

// Buffer returns the buffer with the given ID.
func (p *Pool) Buffer(id int) *Buffer { return &p.bufs[id] }

func (p *Pool) own(b *Buffer) {
	if b == nil || b.ID < 0 || b.ID >= len(p.bufs) || &p.bufs[b.ID] != b {
		panic("bufpool: buffer does not belong to this pool")
	}
}

// NewQueue returns an empty in-use queue over the pool's buffers. Call it
// during setup.
func (p *Pool) NewQueue() *Queue {
	return &Queue{p: p, l: p.slab.NewList()}
}

// Queue is a caller-owned FIFO of claimed buffers from one Pool.
type Queue struct {
	p *Pool
	l *ilist.List
}

// PushBack appends a claimed buffer. It panics if b is already queued.
func (q *Queue) PushBack(b *Buffer) {
	q.p.own(b)
	q.l.InsertBack(b.ID)
}

// Front returns the oldest queued buffer without removing it.
func (q *Queue) Front() (*Buffer, bool) {
	i, ok := q.l.PeekFront()
	if !ok {
		return nil, false
	}
	return &q.p.bufs[i], true
}

// PopFront removes and returns the oldest queued buffer.
func (q *Queue) PopFront() (*Buffer, bool) {
	i, ok := q.l.PopFront()
	if !ok {
		return nil, false
	}
	return &q.p.bufs[i], true
}

// Remove detaches b from the queue. The buffer stays claimed.
func (q *Queue) Remove(b *Buffer) {
	q.p.own(b)
	q.l.Remove(b.ID)
}

// Empty reports whether the queue holds no buffers. O(1).
func (q *Queue) Empty() bool { return q.l.Empty() }

// Len returns the number of buffers queued. O(n), diagnostics only.
func (q *Queue) Len() int { return q.l.Len() }

// Each visits queued buffers in order until fn returns false. fn may
// Release or Remove the visited buffer.
func (q *Queue) Each(fn func(b *Buffer) bool) {
	q.l.Each(func(i int) bool { return fn(&q.p.bufs[i]) })
}

// Drain releases every queued buffer back to the pool, in order.
func (q *Queue) Drain() int {
	n := 0
	for {
		b, ok := q.l.PeekFront()
		if !ok {
			return n
		}
		q.p.Release(&q.p.bufs[b])
		n++
	}
}
