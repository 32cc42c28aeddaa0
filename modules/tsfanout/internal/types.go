package internal

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWouldBlock is returned by a Transport whose kernel buffer is full.
	// The sender retries the same bytes on the next iteration.
	ErrWouldBlock = errors.New("tsfanout: would block")

	// ErrPacketTooLarge means the packetizer asked for more than one pool
	// buffer. It indicates a configuration mismatch and is fatal.
	ErrPacketTooLarge = errors.New("tsfanout: packet larger than pool buffer")

	// ErrPoolExhausted means the bridge pool ran dry mid-unit. Transient.
	ErrPoolExhausted = errors.New("tsfanout: bridge pool exhausted")

	// ErrRegistryFull is returned by Add when MaxConnections is reached.
	ErrRegistryFull = errors.New("tsfanout: connection limit reached")

	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("tsfanout: registry closed")
)

// Transport is one client's non-blocking byte sink.
//
// Send writes a prefix of p and reports how many bytes went out. It returns
// ErrWouldBlock (possibly with n > 0) when the peer cannot take more right
// now; any other error is fatal for the connection.
type Transport interface {
	Send(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}

// CloseFunc is invoked exactly once per connection, on the registry owner's
// goroutine, right before the connection is torn down.
type CloseFunc func(c *Connection)

// Config sizes connections and the sender loop.
type Config struct {
	// PacketSize is the size of every pool buffer (188 for MPEG-TS)
	PacketSize int
	// PoolPackets is the number of buffers per connection
	PoolPackets int
	// MaxConnections caps the registry; 0 means unlimited
	MaxConnections int
	// IdleWait is how long a sender sleeps when its queue is empty
	IdleWait time.Duration
	// StatsInterval is the per-connection throughput log period
	StatsInterval time.Duration
	// StopTimeout bounds the wait for a sender to join
	StopTimeout time.Duration
}

// DefaultConfig returns the sizing used for a single-stream appliance.
func DefaultConfig() Config {
	return Config{
		PacketSize:     188,
		PoolPackets:    2048,
		MaxConnections: 16,
		IdleWait:       time.Millisecond,
		StatsInterval:  time.Second,
		StopTimeout:    3 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PacketSize == 0 {
		c.PacketSize = d.PacketSize
	}
	if c.PoolPackets == 0 {
		c.PoolPackets = d.PoolPackets
	}
	if c.IdleWait == 0 {
		c.IdleWait = d.IdleWait
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = d.StatsInterval
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
}

func (c Config) validate() error {
	if c.PacketSize <= 0 || c.PoolPackets <= 0 {
		return fmt.Errorf("tsfanout: invalid pool %d x %d", c.PoolPackets, c.PacketSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("tsfanout: invalid max connections %d", c.MaxConnections)
	}
	return nil
}

// ConnectionStats is a point-in-time view of one connection.
type ConnectionStats struct {
	ID          string    `json:"id" msgpack:"id"`
	Name        string    `json:"name" msgpack:"name"`
	RemoteAddr  string    `json:"remote_addr" msgpack:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at" msgpack:"connected_at"`

	SentBytes   uint64 `json:"sent_bytes" msgpack:"sent_bytes"`
	SentPackets uint64 `json:"sent_packets" msgpack:"sent_packets"`
	Enqueued    uint64 `json:"enqueued" msgpack:"enqueued"`
	Dropped     uint64 `json:"dropped" msgpack:"dropped"`
	WouldBlock  uint64 `json:"would_block" msgpack:"would_block"`
	Queued      int64  `json:"queued" msgpack:"queued"`
	BytesPerSec uint64 `json:"bytes_per_sec" msgpack:"bytes_per_sec"`

	Destroyed bool `json:"destroyed" msgpack:"destroyed"`
}

// RegistryStats aggregates registry counters and per-connection views.
type RegistryStats struct {
	Connections int    `json:"connections" msgpack:"connections"`
	Accepted    uint64 `json:"accepted" msgpack:"accepted"`
	Rejected    uint64 `json:"rejected" msgpack:"rejected"`
	Reaped      uint64 `json:"reaped" msgpack:"reaped"`
	Broadcasts  uint64 `json:"broadcasts" msgpack:"broadcasts"`
	PacketsIn   uint64 `json:"packets_in" msgpack:"packets_in"`

	PerConnection []ConnectionStats `json:"per_connection" msgpack:"per_connection"`
}

// BridgeStats counts allocator traffic between the packetizer and fanout.
type BridgeStats struct {
	Allocated uint64 `json:"allocated" msgpack:"allocated"`
	Exhausted uint64 `json:"exhausted" msgpack:"exhausted"`
	Flushed   uint64 `json:"flushed" msgpack:"flushed"`
	Free      int    `json:"free" msgpack:"free"`
}
