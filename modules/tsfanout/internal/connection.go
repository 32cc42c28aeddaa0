package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sumirjha/hdmirx/modules/bufpool"
)

// Connection is one client: a private buffer pool, a send queue, and a
// sender goroutine draining the queue into the transport.
//
// Thread-safety:
//   - pool and send are protected by mu (broadcast appends, sender drains)
//   - the front buffer's contents are read by the sender outside mu; only
//     the sender ever removes it
//   - destroyed flips once, from false to true
type Connection struct {
	id          string
	name        string
	t           Transport
	onClose     CloseFunc
	cfg         Config
	connectedAt time.Time

	mu   sync.Mutex
	pool *bufpool.Pool
	send *bufpool.Queue

	running   atomic.Bool
	destroyed atomic.Bool
	cause     atomic.Pointer[error]
	closeOnce sync.Once
	wg        sync.WaitGroup

	sentBytes   atomic.Uint64
	sentPackets atomic.Uint64
	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	wouldBlock  atomic.Uint64
	queued      atomic.Int64
	bytesPerSec atomic.Uint64
}

func newConnection(t Transport, cfg Config, onClose CloseFunc) (*Connection, error) {
	pool, err := bufpool.New(cfg.PoolPackets, cfg.PacketSize)
	if err != nil {
		return nil, fmt.Errorf("tsfanout: connection pool: %w", err)
	}
	return &Connection{
		id:          uuid.NewString(),
		name:        randomName(7),
		t:           t,
		onClose:     onClose,
		cfg:         cfg,
		connectedAt: time.Now(),
		pool:        pool,
		send:        pool.NewQueue(),
	}, nil
}

// randomName returns n lowercase letters, used as a human-friendly handle.
func randomName(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(rand.Intn(26))
	}
	return string(b)
}

// ID returns the connection UUID.
func (c *Connection) ID() string { return c.id }

// Name returns the 7-letter connection name.
func (c *Connection) Name() string { return c.name }

// RemoteAddr returns the peer address reported by the transport.
func (c *Connection) RemoteAddr() string { return c.t.RemoteAddr() }

// Destroyed reports whether the connection is marked for removal.
func (c *Connection) Destroyed() bool { return c.destroyed.Load() }

// Cause returns the error that destroyed the connection, if any.
func (c *Connection) Cause() error {
	if p := c.cause.Load(); p != nil {
		return *p
	}
	return nil
}

// Kick marks the connection destroyed. The registry reaps it on its next
// pass; the sender stops at its next iteration.
func (c *Connection) Kick() { c.markDestroyed(errKicked) }

var errKicked = errors.New("tsfanout: kicked")

func (c *Connection) markDestroyed(cause error) bool {
	if !c.destroyed.CompareAndSwap(false, true) {
		return false
	}
	c.cause.Store(&cause)
	c.running.Store(false)
	return true
}

func (c *Connection) start() {
	c.running.Store(true)
	c.wg.Add(1)
	go c.senderLoop()
}

// enqueue copies pkt into a free pool buffer and appends it to the send
// queue. It returns false, counting a drop, when the pool is exhausted or
// pkt does not fit a buffer.
func (c *Connection) enqueue(pkt []byte) bool {
	c.mu.Lock()
	buf, ok := c.pool.Acquire()
	if ok && !buf.Fill(pkt) {
		c.pool.Release(buf)
		ok = false
	}
	if ok {
		c.send.PushBack(buf)
	}
	c.mu.Unlock()

	if !ok {
		c.dropped.Add(1)
		return false
	}
	c.enqueued.Add(1)
	c.queued.Add(1)
	return true
}

// stop halts the sender, closes the transport and joins. Queued buffers go
// back to the pool once the sender is gone.
func (c *Connection) stop() {
	c.running.Store(false)
	c.closeTransport()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.StopTimeout):
		slog.Warn("tsfanout: sender did not stop in time", "name", c.name, "timeout", c.cfg.StopTimeout)
		return
	}

	c.mu.Lock()
	n := c.send.Drain()
	c.mu.Unlock()
	c.queued.Add(-int64(n))
}

func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if err := c.t.Close(); err != nil {
			slog.Debug("tsfanout: transport close", "name", c.name, "error", err)
		}
	})
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		ID:          c.id,
		Name:        c.name,
		RemoteAddr:  c.t.RemoteAddr(),
		ConnectedAt: c.connectedAt,
		SentBytes:   c.sentBytes.Load(),
		SentPackets: c.sentPackets.Load(),
		Enqueued:    c.enqueued.Load(),
		Dropped:     c.dropped.Load(),
		WouldBlock:  c.wouldBlock.Load(),
		Queued:      c.queued.Load(),
		BytesPerSec: c.bytesPerSec.Load(),
		Destroyed:   c.destroyed.Load(),
	}
}
