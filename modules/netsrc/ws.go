package netsrc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// WSConfig configures the WebSocket source.
type WSConfig struct {
	WriteTimeout time.Duration // per-message deadline (default: 1s)
	Messages     int           // per-connection outbound queue (default: 512)
	ReadLimit    int64         // inbound message cap (default: 4096)
	Queue        int           // accepted-but-unregistered backlog (default: 16)
}

func (c *WSConfig) applyDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = time.Second
	}
	if c.Messages == 0 {
		c.Messages = 512
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 4096
	}
	if c.Queue == 0 {
		c.Queue = 16
	}
}

// WSSource upgrades HTTP requests to WebSocket viewers. Mount it on any
// router; it implements http.Handler.
type WSSource struct {
	cfg      WSConfig
	upgrader websocket.Upgrader
	out      chan tsfanout.Transport

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	accepted atomic.Uint64
	failed   atomic.Uint64
}

// NewWSSource returns a ready handler.
func NewWSSource(cfg WSConfig) *WSSource {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &WSSource{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		out:    make(chan tsfanout.Transport, cfg.Queue),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Accepted implements Source.
func (s *WSSource) Accepted() <-chan tsfanout.Transport { return s.out }

// Stats returns accept counters.
func (s *WSSource) Stats() SourceStats {
	return SourceStats{Accepted: s.accepted.Load(), Failed: s.failed.Load()}
}

// Close rejects further upgrades and closes transports not yet picked up.
func (s *WSSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		for {
			select {
			case t := <-s.out:
				t.Close()
			default:
				return
			}
		}
	})
	return nil
}

// ServeHTTP upgrades the request and queues the new transport.
func (s *WSSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.failed.Add(1)
		slog.Warn("netsrc: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := newWSTransport(conn, s.cfg)
	s.accepted.Add(1)
	slog.Debug("netsrc: websocket accepted", "remote", t.RemoteAddr())

	select {
	case s.out <- t:
	case <-s.ctx.Done():
		t.Close()
	case <-r.Context().Done():
		t.Close()
	}
}

// wsTransport queues binary messages for a writer goroutine. A full queue
// is would-block; the first read or write error is sticky and fatal.
type wsTransport struct {
	conn    *websocket.Conn
	remote  string
	timeout time.Duration

	msgs chan []byte
	done chan struct{}
	err  atomic.Pointer[error]

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWSTransport(conn *websocket.Conn, cfg WSConfig) *wsTransport {
	conn.SetReadLimit(cfg.ReadLimit)
	t := &wsTransport{
		conn:    conn,
		remote:  conn.RemoteAddr().String(),
		timeout: cfg.WriteTimeout,
		msgs:    make(chan []byte, cfg.Messages),
		done:    make(chan struct{}),
	}
	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()
	return t
}

// Send queues a copy of p as one message. All or nothing.
func (t *wsTransport) Send(p []byte) (int, error) {
	if e := t.err.Load(); e != nil {
		return 0, *e
	}
	select {
	case <-t.done:
		return 0, ErrTransportClosed
	default:
	}
	// Send is only called by the connection's sender, so the length check
	// cannot race with another producer.
	if len(t.msgs) == cap(t.msgs) {
		return 0, tsfanout.ErrWouldBlock
	}
	t.msgs <- append([]byte(nil), p...)
	return len(p), nil
}

func (t *wsTransport) fail(err error) {
	t.err.CompareAndSwap(nil, &err)
}

func (t *wsTransport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.msgs:
			t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
			if err := t.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				t.fail(err)
				return
			}
		case <-t.done:
			return
		}
	}
}

// readLoop discards client messages and surfaces the peer closing.
func (t *wsTransport) readLoop() {
	defer t.wg.Done()
	for {
		if _, _, err := t.conn.NextReader(); err != nil {
			t.fail(err)
			return
		}
	}
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(100*time.Millisecond))
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string { return t.remote }
