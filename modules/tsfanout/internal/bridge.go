package internal

import (
	"fmt"

	"github.com/sumirjha/hdmirx/modules/bufpool"
)

// Broadcaster receives a finished batch of packets.
type Broadcaster interface {
	Broadcast(batch [][]byte)
}

// Bridge is the packetizer's allocator. Packets are written straight into
// its pool and collected on a pending queue until Flush hands them, in
// order, to a Broadcaster.
//
// Not safe for concurrent use: the packetizer and Flush run on the owner
// goroutine.
type Bridge struct {
	pool    *bufpool.Pool
	pending *bufpool.Queue
	batch   [][]byte

	allocated uint64
	exhausted uint64
	flushed   uint64
}

// NewBridge returns a bridge with packets buffers of packetSize bytes.
func NewBridge(packets, packetSize int) (*Bridge, error) {
	pool, err := bufpool.New(packets, packetSize)
	if err != nil {
		return nil, fmt.Errorf("tsfanout: bridge pool: %w", err)
	}
	return &Bridge{
		pool:    pool,
		pending: pool.NewQueue(),
		batch:   make([][]byte, 0, packets),
	}, nil
}

// Alloc implements mpegts.Allocator.
func (b *Bridge) Alloc(size int) ([]byte, error) {
	if size > b.pool.Capacity() {
		return nil, fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, size, b.pool.Capacity())
	}
	buf, ok := b.pool.Acquire()
	if !ok {
		b.exhausted++
		return nil, ErrPoolExhausted
	}
	buf.Len = size
	b.pending.PushBack(buf)
	b.allocated++
	return buf.Data(), nil
}

// Complete implements mpegts.Allocator. Packets are already on the pending
// queue in allocation order.
func (b *Bridge) Complete(pkt []byte) {}

// Pending returns the number of packets awaiting Flush.
func (b *Bridge) Pending() int { return b.pool.Count() - b.pool.Free() }

// Flush broadcasts every pending packet as one batch and recycles the
// buffers. It returns the batch size.
func (b *Bridge) Flush(dst Broadcaster) int {
	if b.pending.Empty() {
		return 0
	}
	b.batch = b.batch[:0]
	b.pending.Each(func(buf *bufpool.Buffer) bool {
		b.batch = append(b.batch, buf.Data())
		return true
	})
	if dst != nil {
		dst.Broadcast(b.batch)
	}
	n := b.pending.Drain()
	clear(b.batch)
	b.flushed += uint64(n)
	return n
}

// Discard recycles pending packets without broadcasting them.
func (b *Bridge) Discard() int { return b.pending.Drain() }

// Stats returns allocator counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Allocated: b.allocated,
		Exhausted: b.exhausted,
		Flushed:   b.flushed,
		Free:      b.pool.Free(),
	}
}
