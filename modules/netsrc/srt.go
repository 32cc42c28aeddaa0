package netsrc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	gosrt "github.com/datarhei/gosrt"

	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// srtPayload is the customary TS-over-SRT message: seven 188-byte packets.
const srtPayload = 7 * 188

// SRTConfig configures an SRT listener.
type SRTConfig struct {
	Addr string
	// StreamID, when set, rejects callers asking for any other stream
	StreamID string
	Queue    int // accepted-but-unregistered backlog (default: 16)
}

// SRTSource accepts SRT callers in live mode.
type SRTSource struct {
	cfg SRTConfig
	ln  gosrt.Listener
	out chan tsfanout.Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	accepted atomic.Uint64
	failed   atomic.Uint64
}

// ListenSRT binds cfg.Addr and starts accepting.
func ListenSRT(cfg SRTConfig) (*SRTSource, error) {
	if cfg.Queue == 0 {
		cfg.Queue = 16
	}

	config := gosrt.DefaultConfig()
	config.TransmissionType = "live"

	ln, err := gosrt.Listen("srt", cfg.Addr, config)
	if err != nil {
		return nil, fmt.Errorf("netsrc: srt listen %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SRTSource{
		cfg:    cfg,
		ln:     ln,
		out:    make(chan tsfanout.Transport, cfg.Queue),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("netsrc: srt listening", "addr", ln.Addr().String(), "stream_id", cfg.StreamID)
	return s, nil
}

// Addr returns the bound address.
func (s *SRTSource) Addr() string { return s.ln.Addr().String() }

// Accepted implements Source.
func (s *SRTSource) Accepted() <-chan tsfanout.Transport { return s.out }

// Stats returns accept counters.
func (s *SRTSource) Stats() SourceStats {
	return SourceStats{Accepted: s.accepted.Load(), Failed: s.failed.Load()}
}

// Close stops accepting and closes transports not yet picked up.
// Idempotent.
func (s *SRTSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.ln.Close()
		s.wg.Wait()
		for drained := false; !drained; {
			select {
			case t := <-s.out:
				t.Close()
			default:
				drained = true
			}
		}
		slog.Info("netsrc: srt listener closed", "accepted", s.accepted.Load())
	})
	return nil
}

func (s *SRTSource) acceptLoop() {
	defer s.wg.Done()

	for {
		req, err := s.ln.Accept2()
		if err != nil {
			if s.ctx.Err() == nil {
				slog.Warn("netsrc: srt accept failed", "error", err)
			}
			return
		}

		if s.cfg.StreamID != "" && req.StreamId() != s.cfg.StreamID {
			s.failed.Add(1)
			slog.Info("netsrc: srt caller rejected",
				"remote", req.RemoteAddr().String(),
				"stream_id", req.StreamId(),
			)
			req.Reject(gosrt.REJ_PEER)
			continue
		}

		conn, err := req.Accept()
		if err != nil {
			s.failed.Add(1)
			slog.Warn("netsrc: srt handshake failed", "error", err)
			continue
		}

		t := &srtTransport{conn: conn, remote: conn.RemoteAddr().String(), buf: make([]byte, 0, srtPayload)}
		s.accepted.Add(1)
		slog.Debug("netsrc: srt accepted", "remote", t.remote, "stream_id", conn.StreamId())

		select {
		case s.out <- t:
		case <-s.ctx.Done():
			t.Close()
			return
		}
	}
}

// srtTransport coalesces Sends into srtPayload-sized messages. A tail
// shorter than one message waits for the next Send.
type srtTransport struct {
	conn   gosrt.Conn
	remote string
	buf    []byte
}

func (t *srtTransport) Send(p []byte) (int, error) {
	sent := 0
	for len(p) > 0 {
		n := copy(t.buf[len(t.buf):cap(t.buf)], p)
		t.buf = t.buf[:len(t.buf)+n]
		p = p[n:]
		sent += n

		if len(t.buf) == cap(t.buf) {
			if _, err := t.conn.Write(t.buf); err != nil {
				return sent, err
			}
			t.buf = t.buf[:0]
		}
	}
	return sent, nil
}

func (t *srtTransport) Close() error       { return t.conn.Close() }
func (t *srtTransport) RemoteAddr() string { return t.remote }
