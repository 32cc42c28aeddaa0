package netsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// TCPConfig configures a TCP listener.
type TCPConfig struct {
	Addr         string
	WriteTimeout time.Duration // per-Send deadline (default: 5ms)
	NoDelay      bool
	SendBuffer   int // SO_SNDBUF; 0 keeps the kernel default
	Queue        int // accepted-but-unregistered backlog (default: 16)
	Backoff      BackoffConfig
}

func (c *TCPConfig) applyDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Millisecond
	}
	if c.Queue == 0 {
		c.Queue = 16
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = DefaultBackoffConfig()
	}
}

// TCPSource accepts raw TCP viewers.
type TCPSource struct {
	cfg TCPConfig
	ln  net.Listener
	out chan tsfanout.Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	accepted atomic.Uint64
	failed   atomic.Uint64
}

// ListenTCP binds cfg.Addr and starts accepting.
func ListenTCP(cfg TCPConfig) (*TCPSource, error) {
	cfg.applyDefaults()
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("netsrc: listen %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPSource{
		cfg:    cfg,
		ln:     ln,
		out:    make(chan tsfanout.Transport, cfg.Queue),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("netsrc: tcp listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr returns the bound address.
func (s *TCPSource) Addr() net.Addr { return s.ln.Addr() }

// Accepted implements Source.
func (s *TCPSource) Accepted() <-chan tsfanout.Transport { return s.out }

// Stats returns accept counters.
func (s *TCPSource) Stats() SourceStats {
	return SourceStats{Accepted: s.accepted.Load(), Failed: s.failed.Load()}
}

// Close stops accepting and closes transports not yet picked up.
// Idempotent.
func (s *TCPSource) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ln.Close()
		s.wg.Wait()
		for {
			select {
			case t := <-s.out:
				t.Close()
			default:
				slog.Info("netsrc: tcp listener closed", "accepted", s.accepted.Load())
				return
			}
		}
	})
	return err
}

func (s *TCPSource) acceptLoop() {
	defer s.wg.Done()

	attempt := 0
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.failed.Add(1)
			attempt++
			delay := backoff(attempt, s.cfg.Backoff)
			slog.Warn("netsrc: accept failed", "error", err, "attempt", attempt, "delay", delay)
			if !sleepCtx(s.ctx, delay) {
				return
			}
			continue
		}
		attempt = 0

		t := s.wrap(conn)
		s.accepted.Add(1)
		slog.Debug("netsrc: tcp accepted", "remote", t.RemoteAddr())

		select {
		case s.out <- t:
		case <-s.ctx.Done():
			t.Close()
			return
		}
	}
}

func (s *TCPSource) wrap(conn net.Conn) *tcpTransport {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(s.cfg.NoDelay)
		if s.cfg.SendBuffer > 0 {
			if err := tc.SetWriteBuffer(s.cfg.SendBuffer); err != nil {
				slog.Debug("netsrc: set send buffer", "error", err)
			}
		}
	}
	return &tcpTransport{conn: conn, remote: conn.RemoteAddr().String(), timeout: s.cfg.WriteTimeout}
}

// tcpTransport adapts a net.Conn to tsfanout.Transport.
type tcpTransport struct {
	conn    net.Conn
	remote  string
	timeout time.Duration
}

// Send writes a prefix of p. A write deadline hit returns the bytes that
// made it out together with tsfanout.ErrWouldBlock.
func (t *tcpTransport) Send(p []byte) (int, error) {
	if t.timeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := t.conn.Write(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, tsfanout.ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *tcpTransport) Close() error       { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() string { return t.remote }
