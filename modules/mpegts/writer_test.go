package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

// sliceAlloc collects packets in memory, failing after limit allocations.
type sliceAlloc struct {
	packets   [][]byte
	completed int
	limit     int
}

var errFull = errors.New("test allocator full")

func (a *sliceAlloc) Alloc(size int) ([]byte, error) {
	if a.limit > 0 && len(a.packets) >= a.limit {
		return nil, errFull
	}
	p := make([]byte, size)
	a.packets = append(a.packets, p)
	return p, nil
}

func (a *sliceAlloc) Complete(pkt []byte) { a.completed++ }

func payloadOf(t *testing.T, pid uint16, packets [][]byte) []byte {
	t.Helper()
	var out []byte
	for _, p := range packets {
		h, err := ParseHeader(p)
		if err != nil {
			t.Fatalf("ParseHeader() failed: %v", err)
		}
		if h.PID == pid && h.HasPayload {
			out = append(out, p[h.PayloadOffset:]...)
		}
	}
	return out
}

// TestNewWriterValidation verifies PID conflicts are rejected.
func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter(nil, Config{}); err == nil {
		t.Error("NewWriter(nil) succeeded")
	}
	if _, err := NewWriter(&sliceAlloc{}, Config{PMTPID: 0x100, VideoPID: 0x100}); err == nil {
		t.Error("NewWriter() accepted PMT and video on the same PID")
	}
}

// TestCRC32Residue verifies a section followed by its CRC checks to zero.
func TestCRC32Residue(t *testing.T) {
	pat := appendPAT(nil, 1, 1, PIDPMT, 0)
	if CRC32(pat) != 0 {
		t.Errorf("PAT CRC residue = %#x, want 0", CRC32(pat))
	}
	pmt := appendPMT(nil, 1, PIDVideo, PIDVideo, StreamTypeH264, 0)
	if CRC32(pmt) != 0 {
		t.Errorf("PMT CRC residue = %#x, want 0", CRC32(pmt))
	}
	if len(pat) != 3+13 || len(pmt) != 3+18 {
		t.Errorf("section sizes pat=%d pmt=%d", len(pat), len(pmt))
	}
}

// TestWriteRoundTrip writes units of many sizes and reassembles the PES.
func TestWriteRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 150, 169, 170, 171, 175, 176, 183, 184, 185, 366, 2000, 70000}

	for _, size := range sizes {
		alloc := &sliceAlloc{}
		w, _ := NewWriter(alloc, Config{})

		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 7)
		}
		if err := w.Write(Unit{PTS: 123456, DTS: 123456, Data: data, Keyframe: true}); err != nil {
			t.Fatalf("size %d: Write() failed: %v", size, err)
		}
		if alloc.completed != len(alloc.packets) {
			t.Fatalf("size %d: completed %d of %d packets", size, alloc.completed, len(alloc.packets))
		}

		pes := payloadOf(t, PIDVideo, alloc.packets)
		if !bytes.HasPrefix(pes, []byte{0, 0, 1, StreamIDVideo}) {
			t.Fatalf("size %d: missing PES start code", size)
		}
		hdrLen := 9 + int(pes[8])
		if got := ParseTimestamp(pes[9:14]); got != 123456 {
			t.Errorf("size %d: PTS = %d, want 123456", size, got)
		}
		if !bytes.Equal(pes[hdrLen:], data) {
			t.Errorf("size %d: reassembled payload differs (%d vs %d bytes)", size, len(pes)-hdrLen, size)
		}
	}
	t.Logf("✅ %d unit sizes round-tripped", len(sizes))
}

// TestTablesAndPCR verifies PAT/PMT precede the first unit and the PCR trails DTS.
func TestTablesAndPCR(t *testing.T) {
	alloc := &sliceAlloc{}
	w, _ := NewWriter(alloc, Config{PSIInterval: 3})

	w.Write(Unit{PTS: 90000, DTS: 90000, Data: make([]byte, 500)})

	h0, _ := ParseHeader(alloc.packets[0])
	h1, _ := ParseHeader(alloc.packets[1])
	h2, _ := ParseHeader(alloc.packets[2])
	if h0.PID != PIDPAT || h1.PID != PIDPMT {
		t.Fatalf("first packets PIDs = %#x, %#x; want PAT, PMT", h0.PID, h1.PID)
	}
	if !h2.PayloadStart || !h2.HasPCR || h2.PCRBase != 81000 {
		t.Errorf("first PES packet: start=%v pcr=%v base=%d", h2.PayloadStart, h2.HasPCR, h2.PCRBase)
	}

	// Units two and three stay within the interval: no tables.
	before := len(alloc.packets)
	w.Write(Unit{PTS: 93000, DTS: 93000, Data: make([]byte, 10)})
	w.Write(Unit{PTS: 96000, DTS: 96000, Data: make([]byte, 10)})
	for _, p := range alloc.packets[before:] {
		if h, _ := ParseHeader(p); h.PID != PIDVideo {
			t.Fatalf("unexpected PID %#x inside PSI interval", h.PID)
		}
	}

	// Unit four reaches the interval; keyframes always carry tables.
	before = len(alloc.packets)
	w.Write(Unit{PTS: 99000, DTS: 99000, Data: make([]byte, 10)})
	if h, _ := ParseHeader(alloc.packets[before]); h.PID != PIDPAT {
		t.Errorf("tables not re-emitted after interval")
	}

	if st := w.Stats(); st.Units != 4 || st.Tables != 2 {
		t.Errorf("Stats() = %+v, want 4 units, 2 tables", st)
	}
}

// TestContinuityCounters verifies CC increments modulo 16 per PID.
func TestContinuityCounters(t *testing.T) {
	alloc := &sliceAlloc{}
	w, _ := NewWriter(alloc, Config{})
	for i := 0; i < 10; i++ {
		w.Write(Unit{PTS: uint64(i) * 3000, DTS: uint64(i) * 3000, Data: make([]byte, 400)})
	}

	last := map[uint16]int{}
	for i, p := range alloc.packets {
		h, _ := ParseHeader(p)
		if prev, ok := last[h.PID]; ok && int(h.ContinuityCount) != (prev+1)%16 {
			t.Fatalf("packet %d PID %#x: CC %d after %d", i, h.PID, h.ContinuityCount, prev)
		}
		last[h.PID] = int(h.ContinuityCount)
	}
}

// TestDTSHeader verifies a unit with distinct DTS gets the 10-byte timestamp block.
func TestDTSHeader(t *testing.T) {
	alloc := &sliceAlloc{}
	w, _ := NewWriter(alloc, Config{})
	w.Write(Unit{PTS: 6000, DTS: 3000, Data: []byte{1, 2, 3}})

	pes := payloadOf(t, PIDVideo, alloc.packets)
	if pes[7] != 0xC0 || pes[8] != 10 {
		t.Fatalf("flags=%#x header_len=%d, want 0xC0/10", pes[7], pes[8])
	}
	if ParseTimestamp(pes[9:14]) != 6000 || ParseTimestamp(pes[14:19]) != 3000 {
		t.Error("PTS/DTS not encoded")
	}
}

// TestAllocErrorPropagates verifies allocator failures cut the unit short.
func TestAllocErrorPropagates(t *testing.T) {
	alloc := &sliceAlloc{limit: 4}
	w, _ := NewWriter(alloc, Config{})

	err := w.Write(Unit{PTS: 1, DTS: 1, Data: make([]byte, 5000)})
	if !errors.Is(err, errFull) {
		t.Fatalf("Write() error = %v, want wrapped allocator error", err)
	}
	if alloc.completed != 4 {
		t.Errorf("completed = %d, want 4", alloc.completed)
	}
	if w.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", w.Stats().Errors)
	}
}

// TestFailedUnitRollsBack verifies a unit cut short by the allocator leaves
// no trace once its packets are discarded.
//
// Scenario:
//  1. Write one unit, then a unit due for tables that fails mid-PES
//  2. Drop the failed unit's packets, as the bridge does
//  3. Write again: tables come first and CCs continue from the first unit
func TestFailedUnitRollsBack(t *testing.T) {
	alloc := &sliceAlloc{}
	w, _ := NewWriter(alloc, Config{PSIInterval: 2})

	if err := w.Write(Unit{PTS: 3000, DTS: 3000, Data: make([]byte, 400)}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := w.Write(Unit{PTS: 6000, DTS: 6000, Data: make([]byte, 100)}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	good := len(alloc.packets)

	// Third unit is due for tables; PAT, PMT and one PES packet fit.
	alloc.limit = good + 3
	if err := w.Write(Unit{PTS: 9000, DTS: 9000, Data: make([]byte, 1000)}); !errors.Is(err, errFull) {
		t.Fatalf("Write() error = %v, want %v", err, errFull)
	}
	alloc.packets = alloc.packets[:good]
	alloc.limit = 0

	if err := w.Write(Unit{PTS: 12000, DTS: 12000, Data: make([]byte, 400)}); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if h, _ := ParseHeader(alloc.packets[good]); h.PID != PIDPAT {
		t.Errorf("first packet after the failed unit has PID %#x, want PAT", h.PID)
	}

	last := map[uint16]int{}
	for i, p := range alloc.packets {
		h, _ := ParseHeader(p)
		if prev, ok := last[h.PID]; ok && int(h.ContinuityCount) != (prev+1)%16 {
			t.Fatalf("packet %d PID %#x: CC %d after %d", i, h.PID, h.ContinuityCount, prev)
		}
		last[h.PID] = int(h.ContinuityCount)
	}
	if w.Stats().Units != 3 || w.Stats().Errors != 1 {
		t.Errorf("Stats() = %+v, want 3 units, 1 error", w.Stats())
	}
	t.Logf("✅ stream continues cleanly after a discarded unit")
}
