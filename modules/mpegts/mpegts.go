// Package mpegts packetizes an H.264 elementary stream into 188-byte MPEG
// transport stream packets.
//
// The Writer owns no packet memory. Every packet is requested from an
// Allocator, filled in place, and reported back with Complete, which lets a
// caller back packets with a fixed buffer pool.
package mpegts

import "errors"

// PacketSize is the fixed transport packet size.
const PacketSize = 188

const (
	syncByte = 0x47

	PIDPAT   uint16 = 0x0000
	PIDPMT   uint16 = 0x1000
	PIDVideo uint16 = 0x0100

	StreamTypeH264 = 0x1B
	StreamTypeH265 = 0x24

	StreamIDVideo uint8 = 0xE0
)

// ErrShortPacket is returned when an Allocator yields less than PacketSize bytes.
var ErrShortPacket = errors.New("mpegts: allocator returned a short packet")

// Allocator supplies packet memory to a Writer.
type Allocator interface {
	// Alloc returns a writable region of exactly size bytes.
	Alloc(size int) ([]byte, error)
	// Complete reports that pkt is fully written.
	Complete(pkt []byte)
}

// Unit is one access unit to multiplex.
type Unit struct {
	StreamID uint8
	// PTS and DTS in 90 kHz units
	PTS      uint64
	DTS      uint64
	Data     []byte
	Keyframe bool
}
