package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry tracks live connections and fans packets out to them.
//
// Add, Broadcast, Reap, Kick and Close belong to a single owner goroutine
// (the streamer loop). Stats and Len are safe from any goroutine.
type Registry struct {
	cfg Config

	mu     sync.RWMutex // guards conns for readers outside the owner
	conns  []*Connection
	closed bool

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	reaped     atomic.Uint64
	broadcasts atomic.Uint64
	packetsIn  atomic.Uint64
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Registry{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (r *Registry) Config() Config { return r.cfg }

// Add wraps t in a Connection, starts its sender and registers it.
// onClose may be nil.
func (r *Registry) Add(t Transport, onClose CloseFunc) (*Connection, error) {
	r.mu.RLock()
	closed, n := r.closed, len(r.conns)
	r.mu.RUnlock()

	if closed {
		r.rejected.Add(1)
		return nil, ErrClosed
	}
	if r.cfg.MaxConnections > 0 && n >= r.cfg.MaxConnections {
		r.rejected.Add(1)
		return nil, fmt.Errorf("%w (%d)", ErrRegistryFull, r.cfg.MaxConnections)
	}

	c, err := newConnection(t, r.cfg, onClose)
	if err != nil {
		r.rejected.Add(1)
		return nil, err
	}
	c.start()

	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
	r.accepted.Add(1)

	slog.Info("tsfanout: connection added",
		"name", c.name,
		"id", c.id,
		"remote", t.RemoteAddr(),
		"connections", n+1,
	)
	return c, nil
}

// Broadcast reaps destroyed connections, then appends a copy of every packet
// in batch, in order, to each live connection. A packet that does not fit a
// connection's pool is dropped for that connection only; the next packet is
// still tried, since the sender may have freed a buffer in the meantime.
func (r *Registry) Broadcast(batch [][]byte) {
	r.Reap()
	r.broadcasts.Add(1)
	r.packetsIn.Add(uint64(len(batch)))

	for _, c := range r.conns {
		for _, pkt := range batch {
			c.enqueue(pkt)
		}
	}
}

// Reap removes destroyed connections: the close callback fires exactly once,
// then the sender is joined and the connection's buffers are released.
func (r *Registry) Reap() int {
	var dead []*Connection

	r.mu.Lock()
	live := r.conns[:0]
	for _, c := range r.conns {
		if c.destroyed.Load() {
			dead = append(dead, c)
			continue
		}
		live = append(live, c)
	}
	for i := len(live); i < len(r.conns); i++ {
		r.conns[i] = nil
	}
	r.conns = live
	r.mu.Unlock()

	for _, c := range dead {
		r.teardown(c)
	}
	return len(dead)
}

func (r *Registry) teardown(c *Connection) {
	if c.onClose != nil {
		c.onClose(c)
	}
	c.stop()
	r.reaped.Add(1)

	st := c.Stats()
	slog.Info("tsfanout: connection removed",
		"name", c.name,
		"remote", st.RemoteAddr,
		"sent_bytes", st.SentBytes,
		"dropped", st.Dropped,
		"cause", c.Cause(),
	)
}

// Kick marks the connection with the given name or ID destroyed.
// It reports whether a connection matched.
func (r *Registry) Kick(nameOrID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.name == nameOrID || c.id == nameOrID {
			c.Kick()
			return true
		}
	}
	return false
}

// Len returns the number of registered connections, destroyed ones included
// until they are reaped.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns registry counters and a snapshot of every connection.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	per := make([]ConnectionStats, 0, len(r.conns))
	for _, c := range r.conns {
		per = append(per, c.Stats())
	}
	r.mu.RUnlock()

	return RegistryStats{
		Connections:   len(per),
		Accepted:      r.accepted.Load(),
		Rejected:      r.rejected.Load(),
		Reaped:        r.reaped.Load(),
		Broadcasts:    r.broadcasts.Load(),
		PacketsIn:     r.packetsIn.Load(),
		PerConnection: per,
	}
}

// Close tears down every connection. Later Adds fail with ErrClosed.
// Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()

	for _, c := range conns {
		c.markDestroyed(ErrClosed)
		r.teardown(c)
	}
	slog.Info("tsfanout: registry closed", "connections", len(conns))
}
