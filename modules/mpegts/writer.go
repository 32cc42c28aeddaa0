package mpegts

import (
	"fmt"
	"log/slog"
)

// Config configures a Writer.
type Config struct {
	TransportStreamID uint16
	ProgramNumber     uint16
	PMTPID            uint16
	VideoPID          uint16
	StreamType        uint8
	// PSIInterval re-emits PAT/PMT every N units (keyframes always carry them)
	PSIInterval int
	// PCRDelay is how far (90 kHz) the PCR trails the DTS
	PCRDelay uint64
}

func (c *Config) applyDefaults() {
	if c.ProgramNumber == 0 {
		c.ProgramNumber = 1
	}
	if c.TransportStreamID == 0 {
		c.TransportStreamID = 1
	}
	if c.PMTPID == 0 {
		c.PMTPID = PIDPMT
	}
	if c.VideoPID == 0 {
		c.VideoPID = PIDVideo
	}
	if c.StreamType == 0 {
		c.StreamType = StreamTypeH264
	}
	if c.PSIInterval <= 0 {
		c.PSIInterval = 30
	}
	if c.PCRDelay == 0 {
		c.PCRDelay = 9000
	}
}

// Stats is a snapshot of writer counters.
type Stats struct {
	Units   uint64
	Packets uint64
	Tables  uint64
	Errors  uint64
}

// Writer multiplexes one video elementary stream.
type Writer struct {
	cfg   Config
	alloc Allocator

	cc          map[uint16]uint8
	sinceTables int
	section     []byte
	pesHeader   [19]byte

	stats Stats
}

// NewWriter returns a Writer emitting packets through alloc.
func NewWriter(alloc Allocator, cfg Config) (*Writer, error) {
	if alloc == nil {
		return nil, fmt.Errorf("mpegts: allocator is nil")
	}
	cfg.applyDefaults()
	if cfg.PMTPID == PIDPAT || cfg.VideoPID == PIDPAT || cfg.PMTPID == cfg.VideoPID {
		return nil, fmt.Errorf("mpegts: conflicting PIDs pmt=%#x video=%#x", cfg.PMTPID, cfg.VideoPID)
	}
	return &Writer{
		cfg:   cfg,
		alloc: alloc,
		cc:    make(map[uint16]uint8, 3),
		// Starts past the interval so the first unit carries tables.
		sinceTables: cfg.PSIInterval,
		section:     make([]byte, 0, 64),
	}, nil
}

// Write multiplexes one access unit. On an allocator error the unit is cut
// short and the error is returned wrapped. Packets already completed stay
// with the allocator, which is expected to discard them: continuity counters
// and the table schedule are rolled back, so the next unit follows the last
// whole one and carries the tables if this one was due to.
func (w *Writer) Write(u Unit) error {
	if u.StreamID == 0 {
		u.StreamID = StreamIDVideo
	}

	ccPAT, ccPMT, ccVideo := w.cc[PIDPAT], w.cc[w.cfg.PMTPID], w.cc[w.cfg.VideoPID]
	fail := func(err error) error {
		w.cc[PIDPAT], w.cc[w.cfg.PMTPID], w.cc[w.cfg.VideoPID] = ccPAT, ccPMT, ccVideo
		w.stats.Errors++
		return err
	}

	tables := u.Keyframe || w.sinceTables >= w.cfg.PSIInterval
	if tables {
		if err := w.writeTables(); err != nil {
			return fail(err)
		}
	}

	hdr := w.buildPESHeader(u, len(u.Data))
	if err := w.writePES(u, hdr); err != nil {
		return fail(err)
	}

	if tables {
		w.sinceTables = 0
	}
	w.sinceTables++
	w.stats.Units++
	return nil
}

// Stats returns the writer counters.
func (w *Writer) Stats() Stats { return w.stats }

func (w *Writer) writeTables() error {
	w.section = appendPAT(w.section[:0], w.cfg.TransportStreamID, w.cfg.ProgramNumber, w.cfg.PMTPID, 0)
	if err := w.writeSection(PIDPAT, w.section); err != nil {
		return err
	}
	w.section = appendPMT(w.section[:0], w.cfg.ProgramNumber, w.cfg.VideoPID, w.cfg.VideoPID, w.cfg.StreamType, 0)
	if err := w.writeSection(w.cfg.PMTPID, w.section); err != nil {
		return err
	}
	w.stats.Tables++
	slog.Debug("mpegts: tables emitted", "pmt_pid", w.cfg.PMTPID, "video_pid", w.cfg.VideoPID)
	return nil
}

// writeSection emits a PSI section that fits a single packet.
func (w *Writer) writeSection(pid uint16, section []byte) error {
	pkt, err := w.next()
	if err != nil {
		return err
	}
	w.putHeader(pkt, pid, true, false)
	pkt[4] = 0x00 // pointer_field
	n := copy(pkt[5:], section)
	for i := 5 + n; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	w.complete(pkt)
	return nil
}

func (w *Writer) buildPESHeader(u Unit, dataLen int) []byte {
	h := w.pesHeader[:0]
	h = append(h, 0x00, 0x00, 0x01, u.StreamID)

	withDTS := u.DTS != u.PTS
	optLen := 5
	flags := byte(0x80)
	if withDTS {
		optLen = 10
		flags = 0xC0
	}

	length := 3 + optLen + dataLen
	if length > 0xFFFF {
		length = 0
	}
	h = append(h, byte(length>>8), byte(length), 0x80, flags, byte(optLen))

	var ts [10]byte
	if withDTS {
		putTimestamp(ts[0:5], 0x3, u.PTS)
		putTimestamp(ts[5:10], 0x1, u.DTS)
	} else {
		putTimestamp(ts[0:5], 0x2, u.PTS)
	}
	return append(h, ts[:optLen]...)
}

// writePES splits header+data over packets without concatenating them.
func (w *Writer) writePES(u Unit, hdr []byte) error {
	pid := w.cfg.VideoPID
	remaining := len(hdr) + len(u.Data)
	hdrOff, dataOff := 0, 0
	first := true

	for remaining > 0 {
		pkt, err := w.next()
		if err != nil {
			return err
		}

		// Adaptation field body: flags + optional PCR.
		withPCR := first
		afBody := 0
		if withPCR {
			afBody = 1 + 6
		}
		afTotal := 0
		if afBody > 0 {
			afTotal = 1 + afBody
		}
		space := PacketSize - 4 - afTotal
		n := remaining
		if n < space {
			afTotal = PacketSize - 4 - n
		} else {
			n = space
		}

		w.putHeader(pkt, pid, first, afTotal > 0)
		pos := 4
		if afTotal > 0 {
			pkt[4] = byte(afTotal - 1)
			pos = 5
			if afTotal > 1 {
				flags := byte(0)
				if withPCR {
					flags |= 0x10
					if u.Keyframe {
						flags |= 0x40
					}
				}
				pkt[5] = flags
				pos = 6
				if withPCR {
					pcr := uint64(0)
					if u.DTS > w.cfg.PCRDelay {
						pcr = u.DTS - w.cfg.PCRDelay
					}
					putPCR(pkt[6:12], pcr)
					pos = 12
				}
				for ; pos < 4+afTotal; pos++ {
					pkt[pos] = 0xFF
				}
			}
		}

		for n > 0 {
			var c int
			if hdrOff < len(hdr) {
				c = copy(pkt[pos:pos+n], hdr[hdrOff:])
				hdrOff += c
			} else {
				c = copy(pkt[pos:pos+n], u.Data[dataOff:])
				dataOff += c
			}
			pos += c
			n -= c
			remaining -= c
		}

		w.complete(pkt)
		first = false
	}
	return nil
}

func (w *Writer) next() ([]byte, error) {
	pkt, err := w.alloc.Alloc(PacketSize)
	if err != nil {
		return nil, fmt.Errorf("mpegts: alloc: %w", err)
	}
	if len(pkt) < PacketSize {
		return nil, ErrShortPacket
	}
	return pkt[:PacketSize], nil
}

func (w *Writer) complete(pkt []byte) {
	w.stats.Packets++
	w.alloc.Complete(pkt)
}

func (w *Writer) putHeader(pkt []byte, pid uint16, start, adaptation bool) {
	cc := w.cc[pid]
	w.cc[pid] = (cc + 1) & 0x0F

	pkt[0] = syncByte
	pkt[1] = byte(pid>>8) & 0x1F
	if start {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	afc := byte(0x10)
	if adaptation {
		afc = 0x30
	}
	pkt[3] = afc | cc
}
