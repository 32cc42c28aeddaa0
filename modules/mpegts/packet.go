package mpegts

import (
	"errors"
	"fmt"
)

// Header is the decoded 4-byte packet header plus adaptation field summary.
type Header struct {
	PID             uint16
	PayloadStart    bool
	ContinuityCount uint8
	HasAdaptation   bool
	HasPayload      bool
	RandomAccess    bool
	HasPCR          bool
	PCRBase         uint64
	PayloadOffset   int
}

// ParseHeader decodes the header of one transport packet.
func ParseHeader(pkt []byte) (Header, error) {
	if len(pkt) != PacketSize {
		return Header{}, fmt.Errorf("mpegts: packet size %d", len(pkt))
	}
	if pkt[0] != syncByte {
		return Header{}, errors.New("mpegts: lost sync")
	}

	h := Header{
		PID:             uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2]),
		PayloadStart:    pkt[1]&0x40 != 0,
		ContinuityCount: pkt[3] & 0x0F,
		HasAdaptation:   pkt[3]&0x20 != 0,
		HasPayload:      pkt[3]&0x10 != 0,
		PayloadOffset:   4,
	}
	if h.HasAdaptation {
		afLen := int(pkt[4])
		if 5+afLen > PacketSize {
			return Header{}, errors.New("mpegts: adaptation field overflows packet")
		}
		if afLen > 0 {
			flags := pkt[5]
			h.RandomAccess = flags&0x40 != 0
			h.HasPCR = flags&0x10 != 0
			if h.HasPCR && afLen >= 7 {
				b := pkt[6:12]
				h.PCRBase = uint64(b[0])<<25 | uint64(b[1])<<17 | uint64(b[2])<<9 | uint64(b[3])<<1 | uint64(b[4])>>7
			}
		}
		h.PayloadOffset = 5 + afLen
	}
	return h, nil
}

// putPCR writes a 6-byte PCR with extension 0.
func putPCR(b []byte, base uint64) {
	base &= 0x1FFFFFFFF
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte(base<<7) | 0x7E
	b[5] = 0
}

// putTimestamp writes a 5-byte PES PTS/DTS with the given 4-bit prefix.
func putTimestamp(b []byte, prefix byte, ts uint64) {
	ts &= 0x1FFFFFFFF
	b[0] = prefix<<4 | byte(ts>>29)&0x0E | 1
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>14)&0xFE | 1
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1)&0xFE | 1
}

// ParseTimestamp decodes a 5-byte PES PTS/DTS.
func ParseTimestamp(b []byte) uint64 {
	return uint64(b[0]>>1&0x07)<<30 |
		uint64(b[1])<<22 |
		uint64(b[2]>>1)<<15 |
		uint64(b[3])<<7 |
		uint64(b[4]>>1)
}
