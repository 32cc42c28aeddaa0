package netsrc

import (
	"bytes"
	"errors"
	"testing"
	"time"

	gosrt "github.com/datarhei/gosrt"
)

// recordConn captures Write calls; other gosrt.Conn methods are unused.
type recordConn struct {
	gosrt.Conn
	writes [][]byte
	fail   error
	closed bool
}

func (c *recordConn) Write(p []byte) (int, error) {
	if c.fail != nil {
		return 0, c.fail
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *recordConn) Close() error { c.closed = true; return nil }

// TestSRTCoalesces validates that Sends are grouped into seven-packet
// messages and partial Sends carry over.
func TestSRTCoalesces(t *testing.T) {
	conn := &recordConn{}
	tr := &srtTransport{conn: conn, buf: make([]byte, 0, srtPayload)}

	pkt := bytes.Repeat([]byte{0x47}, 188)
	for i := 0; i < 6; i++ {
		if n, err := tr.Send(pkt); n != 188 || err != nil {
			t.Fatalf("Send() = %d, %v", n, err)
		}
	}
	if len(conn.writes) != 0 {
		t.Fatalf("wrote %d messages before seven packets", len(conn.writes))
	}

	// 100 + 88 completes the seventh packet, 100 more starts the next message.
	tr.Send(pkt[:100])
	tr.Send(pkt[100:])
	tr.Send(pkt[:100])
	if len(conn.writes) != 1 || len(conn.writes[0]) != srtPayload {
		t.Fatalf("writes = %d, want one of %d bytes", len(conn.writes), srtPayload)
	}
	if len(tr.buf) != 100 {
		t.Errorf("carried = %d bytes, want 100", len(tr.buf))
	}

	big := bytes.Repeat([]byte{1}, 3*srtPayload)
	if n, _ := tr.Send(big); n != len(big) {
		t.Errorf("Send(big) = %d, want %d", n, len(big))
	}
	if len(conn.writes) != 4 {
		t.Errorf("writes = %d, want 4", len(conn.writes))
	}
	t.Logf("✅ %d messages of %d bytes", len(conn.writes), srtPayload)
}

// TestSRTWriteErrorIsFatal validates that a failed message write surfaces.
func TestSRTWriteErrorIsFatal(t *testing.T) {
	boom := errors.New("peer gone")
	tr := &srtTransport{conn: &recordConn{fail: boom}, buf: make([]byte, 0, srtPayload)}

	_, err := tr.Send(make([]byte, srtPayload))
	if !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want %v", err, boom)
	}
}

// TestSRTDelivers validates accept and delivery over loopback.
func TestSRTDelivers(t *testing.T) {
	src, err := ListenSRT(SRTConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("ListenSRT() failed: %v", err)
	}
	defer src.Close()

	client, err := gosrt.Dial("srt", src.Addr(), gosrt.DefaultConfig())
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer client.Close()

	tr := acceptOne(t, src)
	defer tr.Close()

	payload := bytes.Repeat([]byte{0x47, 1, 2, 3}, srtPayload/4)
	if _, err := tr.Send(payload); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, 2048)
	n, err := client.Read(got)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !bytes.Equal(got[:n], payload) {
		t.Errorf("received %d bytes, want %d identical", n, len(payload))
	}
	if src.Stats().Accepted != 1 {
		t.Errorf("accepted = %d, want 1", src.Stats().Accepted)
	}
}

// TestSRTRejectsStreamID validates the stream ID filter.
func TestSRTRejectsStreamID(t *testing.T) {
	src, err := ListenSRT(SRTConfig{Addr: "127.0.0.1:0", StreamID: "live"})
	if err != nil {
		t.Fatalf("ListenSRT() failed: %v", err)
	}
	defer src.Close()

	cfg := gosrt.DefaultConfig()
	cfg.StreamId = "other"
	if conn, err := gosrt.Dial("srt", src.Addr(), cfg); err == nil {
		conn.Close()
		t.Fatal("Dial() with a foreign stream id succeeded")
	}
	if src.Stats().Failed != 1 {
		t.Errorf("failed = %d, want 1", src.Stats().Failed)
	}
}
