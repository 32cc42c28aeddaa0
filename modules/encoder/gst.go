package encoder

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sumirjha/hdmirx/modules/capture"
	"github.com/sumirjha/hdmirx/modules/encoder/internal/gstenc"
)

// GstEncoder encodes through a GStreamer appsrc/appsink pipeline. Frames are
// copied into GStreamer buffers on PutFrame, so it does not retain input.
type GstEncoder struct {
	cfg  Config
	pipe *gstenc.Pipeline

	packets chan Packet
	errs    chan error

	mu      sync.Mutex
	closed  bool
	seq     uint64
	pts     uint64
	errOnce sync.Once

	framesIn     atomic.Uint64
	framesFailed atomic.Uint64
	packetsOut   atomic.Uint64
	packetsDrop  atomic.Uint64
	bytesOut     atomic.Uint64
	keyframes    atomic.Uint64
	lastPacketAt atomic.Int64
}

// NewGst validates cfg and builds the pipeline.
func NewGst(cfg Config) (*GstEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &GstEncoder{
		cfg:     cfg,
		packets: make(chan Packet, cfg.QueueSize),
		errs:    make(chan error, 1),
		pts:     StartPTS,
	}

	minBps, maxBps := cfg.Bounds()
	pipe, err := gstenc.New(gstenc.Config{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     cfg.PixelFormat,
		FPS:        cfg.FPS,
		GOP:        cfg.GOP,
		Bitrate:    cfg.Bitrate,
		MinBitrate: minBps,
		MaxBitrate: maxBps,
		CBR:        cfg.RCMode == RCModeCBR,
		Element:    cfg.Element,
	}, e.onAccessUnit, e.onError)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	e.pipe = pipe

	slog.Info("encoder: created",
		"element", cfg.Element,
		"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"fps", cfg.FPS,
		"gop", cfg.GOP,
		"bitrate", cfg.Bitrate,
		"bps_min", minBps,
		"bps_max", maxBps,
		"rc_mode", cfg.RCMode,
	)
	return e, nil
}

func (e *GstEncoder) Start() error { return e.pipe.Start() }

// PutFrame copies the filled planes of b into the encoder.
func (e *GstEncoder) PutFrame(b *capture.Buffer) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e.framesIn.Add(1)
	for _, pl := range b.Planes {
		if err := e.pipe.Push(pl.Bytes()); err != nil {
			e.framesFailed.Add(1)
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return nil
}

func (e *GstEncoder) Packets() <-chan Packet { return e.packets }

func (e *GstEncoder) Errors() <-chan error { return e.errs }

// RetainsInput is false: gst.NewBufferFromBytes copies the frame.
func (e *GstEncoder) RetainsInput() bool { return false }

// Stop shuts the pipeline down and closes Packets(). Idempotent.
func (e *GstEncoder) Stop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.pipe.Stop()

	e.mu.Lock()
	close(e.packets)
	e.mu.Unlock()
	return err
}

func (e *GstEncoder) Stats() Stats {
	var last time.Time
	if ns := e.lastPacketAt.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		FramesIn:     e.framesIn.Load(),
		FramesFailed: e.framesFailed.Load(),
		PacketsOut:   e.packetsOut.Load(),
		PacketsDrop:  e.packetsDrop.Load(),
		BytesOut:     e.bytesOut.Load(),
		Keyframes:    e.keyframes.Load(),
		LastPacketAt: last,
		Element:      e.cfg.Element,
		RetainsInput: e.RetainsInput(),
	}
}

// onAccessUnit runs on the GStreamer streaming thread.
func (e *GstEncoder) onAccessUnit(au []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.seq++
	pkt := Packet{
		Data:     au,
		PTS:      e.pts,
		DTS:      e.pts,
		Keyframe: IsKeyframe(au),
		Seq:      e.seq,
		TraceID:  uuid.New().String(),
		At:       time.Now(),
	}
	e.pts += e.cfg.TicksPerFrame()

	// Non-blocking handoff: a stalled consumer loses access units, the
	// streaming thread never waits.
	select {
	case e.packets <- pkt:
		e.packetsOut.Add(1)
		e.bytesOut.Add(uint64(len(au)))
		if pkt.Keyframe {
			e.keyframes.Add(1)
		}
		e.lastPacketAt.Store(pkt.At.UnixNano())
	default:
		e.packetsDrop.Add(1)
		slog.Debug("encoder: dropping access unit, queue full",
			"seq", pkt.Seq,
			"trace_id", pkt.TraceID,
		)
	}
}

func (e *GstEncoder) onError(err error) {
	e.errOnce.Do(func() {
		e.errs <- err
	})
}
