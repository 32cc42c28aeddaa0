package tsfanout_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sumirjha/hdmirx/modules/mpegts"
	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) Send(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *capture) Close() error       { return nil }
func (c *capture) RemoteAddr() string { return "127.0.0.1:0" }

func (c *capture) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

// TestWriterToClients validates the packetizer → bridge → registry path.
//
// Scenario:
//  1. Two clients registered
//  2. Write 3 access units through an mpegts.Writer backed by a Bridge
//  3. Flush after each unit
//  4. Assert: both clients receive identical, well-formed TS starting with PAT
func TestWriterToClients(t *testing.T) {
	reg, err := tsfanout.NewRegistry(tsfanout.DefaultConfig())
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	defer reg.Close()

	bridge, _ := tsfanout.NewBridge(512, mpegts.PacketSize)
	w, _ := mpegts.NewWriter(bridge, mpegts.Config{})

	a, b := &capture{}, &capture{}
	reg.Add(a, nil)
	reg.Add(b, nil)

	total := 0
	for i := 0; i < 3; i++ {
		pts := uint64(90000 + i*3000)
		if err := w.Write(mpegts.Unit{PTS: pts, DTS: pts, Data: make([]byte, 4000), Keyframe: i == 0}); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		total += bridge.Flush(reg)
	}

	want := total * mpegts.PacketSize
	deadline := time.Now().Add(2 * time.Second)
	for len(a.bytes()) < want || len(b.bytes()) < want {
		if time.Now().After(deadline) {
			t.Fatalf("clients got %d/%d bytes, want %d", len(a.bytes()), len(b.bytes()), want)
		}
		time.Sleep(time.Millisecond)
	}

	got := a.bytes()
	if !bytes.Equal(got, b.bytes()) {
		t.Error("clients received different streams")
	}
	for off := 0; off < len(got); off += mpegts.PacketSize {
		if _, err := mpegts.ParseHeader(got[off : off+mpegts.PacketSize]); err != nil {
			t.Fatalf("packet at %d: %v", off, err)
		}
	}
	h, _ := mpegts.ParseHeader(got[:mpegts.PacketSize])
	if h.PID != mpegts.PIDPAT {
		t.Errorf("first PID = %#x, want PAT", h.PID)
	}

	st := reg.Stats()
	if st.Connections != 2 || st.Broadcasts != 3 || st.PacketsIn != uint64(total) {
		t.Errorf("Stats() = %+v", st)
	}
	t.Logf("✅ %d packets fanned out to 2 clients", total)
}
