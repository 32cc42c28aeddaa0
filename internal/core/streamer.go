package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sumirjha/hdmirx/modules/capture"
	"github.com/sumirjha/hdmirx/modules/encoder"
	"github.com/sumirjha/hdmirx/modules/mpegts"
	"github.com/sumirjha/hdmirx/modules/netsrc"
	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// Options wires the streamer to its collaborators. The streamer owns their
// lifecycle from Run onwards.
type Options struct {
	InstanceID string

	Pipeline *capture.Pipeline
	Encoder  encoder.Encoder
	Mux      *mpegts.Writer // must write into Bridge
	Bridge   *tsfanout.Bridge
	Registry *tsfanout.Registry
	Sources  []netsrc.Source

	// PollInterval bounds the loop wait so periodic work runs even when no
	// frame arrives (default: 2s)
	PollInterval time.Duration
	// StatusInterval is how often the status snapshot is refreshed (default: 1s)
	StatusInterval time.Duration

	// OnConnection, when set, is invoked on the loop goroutine for every
	// connect and disconnect. It must not block.
	OnConnection func(ConnectionEvent)
}

// StatusProvider exposes the latest published snapshot.
type StatusProvider interface {
	Status() *Status
}

type kickRequest struct {
	name  string
	reply chan bool
}

// Streamer runs the single capture → encode → packetize → broadcast loop.
//
// Everything that mutates registry membership or touches the capture
// pipeline happens on the Run goroutine. Other goroutines talk to it through
// channels (accepted transports, kick requests) or read the atomic status
// snapshot.
type Streamer struct {
	opts Options

	accepted chan tsfanout.Transport
	kicks    chan kickRequest
	done     chan struct{}
	running  atomic.Bool

	status atomic.Pointer[Status]

	// loop-owned
	startedAt    time.Time
	state        State
	lastErr      error
	frames       uint64
	framesFailed uint64
	units        uint64
	unitsDropped uint64
	lastUnitAt   time.Time
}

// New validates opts and returns an idle streamer.
func New(opts Options) (*Streamer, error) {
	switch {
	case opts.Pipeline == nil:
		return nil, fmt.Errorf("core: pipeline is required")
	case opts.Encoder == nil:
		return nil, fmt.Errorf("core: encoder is required")
	case opts.Mux == nil || opts.Bridge == nil:
		return nil, fmt.Errorf("core: mux and bridge are required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("core: registry is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}

	s := &Streamer{
		opts:     opts,
		accepted: make(chan tsfanout.Transport, 16),
		kicks:    make(chan kickRequest),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	s.publishStatus()
	return s, nil
}

// Status implements StatusProvider.
func (s *Streamer) Status() *Status { return s.status.Load() }

// Done is closed when Run returns.
func (s *Streamer) Done() <-chan struct{} { return s.done }

// Kick asks the loop to destroy the connection with the given name or ID.
// The connection is reaped on the next broadcast.
func (s *Streamer) Kick(ctx context.Context, nameOrID string) (bool, error) {
	if !s.running.Load() {
		return false, ErrNotRunning
	}
	req := kickRequest{name: nameOrID, reply: make(chan bool, 1)}
	select {
	case s.kicks <- req:
	case <-s.done:
		return false, ErrNotRunning
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run starts capture and encode, then loops until ctx is cancelled or a
// pipeline-fatal error occurs. Teardown always completes before Run returns.
func (s *Streamer) Run(ctx context.Context) (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.startedAt = time.Now()
	s.state = StateStarting
	s.publishStatus()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("core: streamer starting",
		"instance_id", s.opts.InstanceID,
		"policy", s.opts.Pipeline.Stats().Policy,
		"sources", len(s.opts.Sources),
	)

	// Registered before the starts so a failed start still releases the
	// sources, the registry and a half-configured device.
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.teardown()
		if err != nil {
			s.fail(err)
		} else {
			s.state = StateStopped
			s.publishStatus()
		}
	}()

	if err := s.opts.Encoder.Start(); err != nil {
		return fmt.Errorf("core: encoder start: %w", err)
	}
	if err := s.opts.Pipeline.Start(); err != nil {
		return fmt.Errorf("core: capture start: %w", err)
	}

	for _, src := range s.opts.Sources {
		wg.Add(1)
		go s.forward(ctx, src, &wg)
	}

	s.state = StateStreaming
	s.publishStatus()
	slog.Info("core: streaming", "layout_planes", s.opts.Pipeline.Layout().NumPlanes)

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	status := time.NewTicker(s.opts.StatusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("core: streamer stopping", "reason", context.Cause(ctx))
			return nil

		case t := <-s.accepted:
			s.addConnection(t)

		case <-s.opts.Pipeline.Ready():
			if err := s.captureStep(); err != nil {
				return err
			}

		case pkt, ok := <-s.opts.Encoder.Packets():
			if !ok {
				return ErrEncoderClosed
			}
			if err := s.handlePacket(pkt); err != nil {
				return err
			}

		case encErr := <-s.opts.Encoder.Errors():
			return fmt.Errorf("core: encoder: %w", encErr)

		case req := <-s.kicks:
			ok := s.opts.Registry.Kick(req.name)
			slog.Info("core: kick requested", "target", req.name, "matched", ok)
			req.reply <- ok

		case <-poll.C:
			if n := s.opts.Registry.Reap(); n > 0 {
				slog.Debug("core: reaped idle-time connections", "count", n)
			}

		case <-status.C:
			s.publishStatus()
		}
	}
}

// captureStep drains every ready capture buffer into the encoder.
func (s *Streamer) captureStep() error {
	for {
		buf, err := s.opts.Pipeline.Dequeue()
		if errors.Is(err, capture.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("core: capture: %w", err)
		}

		if perr := s.opts.Encoder.PutFrame(buf); perr != nil {
			s.framesFailed++
			if errors.Is(perr, encoder.ErrClosed) {
				return fmt.Errorf("core: encoder: %w", perr)
			}
			slog.Warn("core: frame rejected by encoder", "seq", buf.Seq, "error", perr)
		} else {
			s.frames++
		}

		if err := s.opts.Pipeline.Done(buf); err != nil {
			return fmt.Errorf("core: capture: %w", err)
		}
	}
}

// handlePacket multiplexes one access unit and broadcasts its packets as a
// single batch.
func (s *Streamer) handlePacket(pkt encoder.Packet) error {
	err := s.opts.Mux.Write(mpegts.Unit{
		PTS:      pkt.PTS,
		DTS:      pkt.DTS,
		Data:     pkt.Data,
		Keyframe: pkt.Keyframe,
	})
	switch {
	case err == nil:
	case errors.Is(err, tsfanout.ErrPoolExhausted):
		// Partial units would corrupt every viewer's stream.
		s.unitsDropped++
		n := s.opts.Bridge.Discard()
		slog.Warn("core: unit dropped, bridge pool exhausted",
			"seq", pkt.Seq,
			"bytes", len(pkt.Data),
			"packets_discarded", n,
		)
		return nil
	default:
		s.opts.Bridge.Discard()
		return fmt.Errorf("core: packetizer: %w", err)
	}

	s.opts.Bridge.Flush(s.opts.Registry)
	s.units++
	s.lastUnitAt = time.Now()
	return nil
}

func (s *Streamer) addConnection(t tsfanout.Transport) {
	c, err := s.opts.Registry.Add(t, s.onClose)
	if err != nil {
		slog.Warn("core: connection refused", "remote", t.RemoteAddr(), "error", err)
		t.Close()
		return
	}
	s.emit("connected", c)
}

func (s *Streamer) onClose(c *tsfanout.Connection) {
	s.emit("disconnected", c)
}

func (s *Streamer) emit(kind string, c *tsfanout.Connection) {
	if s.opts.OnConnection == nil {
		return
	}
	st := c.Stats()
	s.opts.OnConnection(ConnectionEvent{
		Type:       kind,
		ID:         st.ID,
		Name:       st.Name,
		RemoteAddr: st.RemoteAddr,
		SentBytes:  st.SentBytes,
		Dropped:    st.Dropped,
		At:         time.Now(),
	})
}

// forward moves transports from one accept source into the loop.
func (s *Streamer) forward(ctx context.Context, src netsrc.Source, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case t := <-src.Accepted():
			select {
			case s.accepted <- t:
			case <-ctx.Done():
				t.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Streamer) teardown() {
	for _, src := range s.opts.Sources {
		if err := src.Close(); err != nil {
			slog.Debug("core: source close", "error", err)
		}
	}
	// Transports accepted but never registered.
	for drained := false; !drained; {
		select {
		case t := <-s.accepted:
			t.Close()
		default:
			drained = true
		}
	}

	if err := s.opts.Pipeline.Stop(); err != nil {
		slog.Warn("core: capture stop", "error", err)
	}
	if err := s.opts.Encoder.Stop(); err != nil {
		slog.Warn("core: encoder stop", "error", err)
	}
	s.opts.Bridge.Discard()
	s.opts.Registry.Close()

	slog.Info("core: streamer stopped",
		"frames", s.frames,
		"units", s.units,
		"units_dropped", s.unitsDropped,
	)
}

func (s *Streamer) fail(err error) error {
	s.lastErr = err
	s.state = StateFailed
	s.publishStatus()
	slog.Error("core: streamer failed", "error", err)
	return err
}

// publishStatus builds a fresh snapshot on the loop goroutine.
func (s *Streamer) publishStatus() {
	now := time.Now()
	st := &Status{
		InstanceID:   s.opts.InstanceID,
		State:        s.state,
		StartedAt:    s.startedAt,
		UpdatedAt:    now,
		Frames:       s.frames,
		FramesFailed: s.framesFailed,
		Units:        s.units,
		UnitsDropped: s.unitsDropped,
		LastUnitAt:   s.lastUnitAt,
		Capture:      s.opts.Pipeline.Stats(),
		Encoder:      s.opts.Encoder.Stats(),
		Mux:          s.opts.Mux.Stats(),
		Bridge:       s.opts.Bridge.Stats(),
		Fanout:       s.opts.Registry.Stats(),
	}
	if !s.startedAt.IsZero() {
		st.UptimeS = now.Sub(s.startedAt).Seconds()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.status.Store(st)
}
