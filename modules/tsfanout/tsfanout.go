// Package tsfanout copies MPEG-TS packets to every connected client through
// per-client fixed buffer pools.
//
// Design:
//   - Each connection owns a pool (2048 x 188 bytes by default) and a FIFO
//     send queue; a slow client drops packets, it never stalls others
//   - One sender goroutine per connection drains the queue with partial
//     writes; would-block retries, any other error destroys the connection
//   - Destroyed connections are reaped by the owner on the next Broadcast
//   - Bridge is the packetizer's allocator and batches packets per unit
//
// Lifecycle:
//
//	reg, _ := tsfanout.NewRegistry(tsfanout.DefaultConfig())
//	bridge, _ := tsfanout.NewBridge(512, mpegts.PacketSize)
//	reg.Add(transport, nil)
//	writer.Write(unit)    // packets land in bridge
//	bridge.Flush(reg)     // one batch per unit
//	reg.Close()
package tsfanout

import (
	"github.com/sumirjha/hdmirx/modules/tsfanout/internal"
)

// Transport is a non-blocking client sink. See internal/types.go.
type Transport = internal.Transport

// Connection is one registered client.
type Connection = internal.Connection

// CloseFunc runs once per connection before teardown.
type CloseFunc = internal.CloseFunc

// Config sizes the registry and its connections.
type Config = internal.Config

// Registry owns the live connection set.
type Registry = internal.Registry

// Bridge adapts a buffer pool to mpegts.Allocator.
type Bridge = internal.Bridge

// Broadcaster receives flushed batches; *Registry implements it.
type Broadcaster = internal.Broadcaster

// Stats types, re-exported for telemetry consumers.
type (
	ConnectionStats = internal.ConnectionStats
	RegistryStats   = internal.RegistryStats
	BridgeStats     = internal.BridgeStats
)

var (
	ErrWouldBlock     = internal.ErrWouldBlock
	ErrPacketTooLarge = internal.ErrPacketTooLarge
	ErrPoolExhausted  = internal.ErrPoolExhausted
	ErrRegistryFull   = internal.ErrRegistryFull
	ErrClosed         = internal.ErrClosed
)

// DefaultConfig returns 2048 188-byte buffers per connection, a 1ms idle
// wait and a one-second throughput log.
func DefaultConfig() Config { return internal.DefaultConfig() }

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) (*Registry, error) { return internal.NewRegistry(cfg) }

// NewBridge returns a packetizer allocator with packets buffers.
func NewBridge(packets, packetSize int) (*Bridge, error) {
	return internal.NewBridge(packets, packetSize)
}
