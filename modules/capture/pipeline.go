package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffers is the capture buffer count when Options.Buffers is zero.
const DefaultBuffers = 3

// Options configures a Pipeline.
type Options struct {
	Format Format
	// Buffers is the number of device buffers (default 3, minimum 2)
	Buffers int
	// Policy is the hold-back policy of the single consumer type
	Policy Policy
	// Stage marks Held buffers (default StageEncode)
	Stage Stage
}

// Pipeline runs dequeue → use → hold-back → resubmit over a Device.
type Pipeline struct {
	dev  Device
	opts Options

	layout Layout
	bufs   []Buffer
	states []State
	held   int

	streaming bool
	seq       uint64
	stopOnce  sync.Once

	rateSamples []time.Time
	rate        atomic.Pointer[RateStats]

	dequeued    atomic.Uint64
	wouldBlock  atomic.Uint64
	resubmitted atomic.Uint64
	fatal       atomic.Uint64
	heldCount   atomic.Int32
	lastFrameAt atomic.Int64
	isStreaming atomic.Bool
}

// NewPipeline validates opts and binds a device. Nothing touches the device
// until Start.
func NewPipeline(dev Device, opts Options) (*Pipeline, error) {
	if dev == nil {
		return nil, fmt.Errorf("capture: device is nil")
	}
	if opts.Buffers == 0 {
		opts.Buffers = DefaultBuffers
	}
	if opts.Buffers < 2 {
		return nil, fmt.Errorf("capture: need at least 2 buffers, got %d", opts.Buffers)
	}
	if opts.Format.Width <= 0 || opts.Format.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid resolution %dx%d", opts.Format.Width, opts.Format.Height)
	}
	if opts.Policy != PolicyImmediate && opts.Policy != PolicyHoldOne {
		return nil, fmt.Errorf("capture: invalid policy %d", opts.Policy)
	}
	if opts.Stage == StageNone {
		opts.Stage = StageEncode
	}

	return &Pipeline{
		dev:  dev,
		opts: opts,
		held: -1,
	}, nil
}

// Start configures the device, allocates and submits every buffer, and
// turns streaming on. A device that refuses the buffer count fails here,
// before any frame flows.
func (p *Pipeline) Start() error {
	if p.streaming {
		return fmt.Errorf("capture: already streaming")
	}

	layout, err := p.dev.Configure(p.opts.Format)
	if err != nil {
		return fmt.Errorf("capture: configure %s [%s]: %w", p.opts.Format, Classify(err), err)
	}
	p.layout = layout

	planes, err := p.dev.Allocate(p.opts.Buffers)
	if err != nil {
		return fmt.Errorf("capture: allocate %d buffers [%s]: %w", p.opts.Buffers, Classify(err), err)
	}
	if len(planes) != p.opts.Buffers {
		return fmt.Errorf("%w: requested %d, got %d", ErrBufferCount, p.opts.Buffers, len(planes))
	}

	p.bufs = make([]Buffer, len(planes))
	p.states = make([]State, len(planes))
	for i, pl := range planes {
		if len(pl) == 0 {
			return fmt.Errorf("capture: buffer %d has no planes", i)
		}
		p.bufs[i] = Buffer{Index: i, Planes: pl}
		// Mark Ready so Submit accepts the initial hand-over.
		p.states[i] = StateReady
		if err := p.Submit(i); err != nil {
			return fmt.Errorf("capture: initial submit %d: %w", i, err)
		}
	}
	p.resubmitted.Store(0)

	if err := p.dev.StreamOn(); err != nil {
		return fmt.Errorf("capture: stream on [%s]: %w", Classify(err), err)
	}
	p.streaming = true
	p.isStreaming.Store(true)
	p.rateSamples = make([]time.Time, 0, rateSampleFrames)

	slog.Info("capture: streaming started",
		"format", p.opts.Format.String(),
		"buffers", len(p.bufs),
		"planes", layout.NumPlanes,
		"frame_size", layout.FrameSize,
		"policy", p.opts.Policy.String(),
	)
	return nil
}

// Stop turns streaming off and closes the device. Idempotent.
func (p *Pipeline) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.streaming = false
		p.isStreaming.Store(false)
		if e := p.dev.StreamOff(); e != nil {
			err = fmt.Errorf("capture: stream off: %w", e)
		}
		if e := p.dev.Close(); e != nil && err == nil {
			err = fmt.Errorf("capture: close: %w", e)
		}
		p.held = -1
		p.heldCount.Store(0)
		slog.Info("capture: streaming stopped",
			"dequeued", p.dequeued.Load(),
			"resubmitted", p.resubmitted.Load(),
		)
	})
	return err
}

// Ready returns the device wait handle.
func (p *Pipeline) Ready() <-chan struct{} { return p.dev.Ready() }

// Layout returns the plane layout negotiated at Start.
func (p *Pipeline) Layout() Layout { return p.layout }

// Dequeue returns the next filled buffer in state Ready. ErrWouldBlock is
// transient; any other error wraps ErrFatal.
func (p *Pipeline) Dequeue() (*Buffer, error) {
	if !p.streaming {
		return nil, ErrNotStreaming
	}

	index, used, err := p.dev.Dequeue()
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			p.wouldBlock.Add(1)
			return nil, ErrWouldBlock
		}
		p.fatal.Add(1)
		return nil, fmt.Errorf("%w [%s]: %v", ErrFatal, Classify(err), err)
	}

	if index < 0 || index >= len(p.bufs) || p.states[index] != StateFree {
		p.fatal.Add(1)
		return nil, fmt.Errorf("%w: device returned index %d not owned by it", ErrFatal, index)
	}

	b := &p.bufs[index]
	b.Planes[0].BytesUsed = used
	p.seq++
	b.Seq = p.seq
	b.Timestamp = time.Now()
	b.HeldBy = StageNone
	p.states[index] = StateReady

	p.dequeued.Add(1)
	p.lastFrameAt.Store(b.Timestamp.UnixNano())
	p.sampleRate(b.Timestamp)
	return b, nil
}

// sampleRate times the first rateSampleFrames dequeues and publishes the
// measured input rate once.
func (p *Pipeline) sampleRate(at time.Time) {
	if p.rateSamples == nil {
		return
	}
	p.rateSamples = append(p.rateSamples, at)
	if len(p.rateSamples) < rateSampleFrames {
		return
	}
	rs := MeasureRate(p.rateSamples)
	p.rateSamples = nil
	p.rate.Store(&rs)

	log := slog.Info
	if !rs.Stable {
		log = slog.Warn
	}
	log("capture: input rate measured",
		"fps_mean", fmt.Sprintf("%.2f", rs.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", rs.FPSStdDev),
		"fps_nominal", p.opts.Format.FPS,
		"jitter_mean", rs.JitterMean,
		"stable", rs.Stable,
	)
}

// InputRate returns the measured input rate once enough frames arrived.
func (p *Pipeline) InputRate() (RateStats, bool) {
	if rs := p.rate.Load(); rs != nil {
		return *rs, true
	}
	return RateStats{}, false
}

// Done tells the pipeline the consumer finished its synchronous use of b and
// applies the hold-back policy.
func (p *Pipeline) Done(b *Buffer) error {
	if b == nil || b.Index < 0 || b.Index >= len(p.bufs) || &p.bufs[b.Index] != b {
		return fmt.Errorf("%w: foreign buffer", ErrBadIndex)
	}
	if p.states[b.Index] != StateReady {
		return fmt.Errorf("%w: index %d is %s, want ready", ErrBadIndex, b.Index, p.states[b.Index])
	}

	switch p.opts.Policy {
	case PolicyImmediate:
		return p.Submit(b.Index)

	case PolicyHoldOne:
		if p.held >= 0 {
			prev := p.held
			p.held = -1
			p.heldCount.Store(0)
			if err := p.Submit(prev); err != nil {
				return err
			}
		}
		p.states[b.Index] = StateHeld
		b.HeldBy = p.opts.Stage
		p.held = b.Index
		p.heldCount.Store(1)
		return nil
	}
	return fmt.Errorf("capture: invalid policy %d", p.opts.Policy)
}

// Submit returns index to the device. The caller guarantees nothing
// downstream still references its memory.
func (p *Pipeline) Submit(index int) error {
	if index < 0 || index >= len(p.bufs) {
		return fmt.Errorf("%w: %d", ErrBadIndex, index)
	}
	if p.states[index] == StateFree {
		return fmt.Errorf("%w: index %d already submitted", ErrBadIndex, index)
	}
	if p.held == index {
		p.held = -1
		p.heldCount.Store(0)
	}

	if err := p.dev.Submit(index); err != nil {
		p.fatal.Add(1)
		return fmt.Errorf("%w: submit %d [%s]: %v", ErrFatal, index, Classify(err), err)
	}
	p.states[index] = StateFree
	p.bufs[index].HeldBy = StageNone
	p.resubmitted.Add(1)
	return nil
}

// State returns the current state of index.
func (p *Pipeline) State(index int) State {
	if index < 0 || index >= len(p.states) {
		return StateFree
	}
	return p.states[index]
}

// Held returns the index currently held back, if any.
func (p *Pipeline) Held() (int, bool) { return p.held, p.held >= 0 }

// Stats returns a snapshot of counters. Safe from any goroutine.
func (p *Pipeline) Stats() Stats {
	var last time.Time
	if ns := p.lastFrameAt.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Format:      p.opts.Format.String(),
		Policy:      p.opts.Policy.String(),
		Buffers:     p.opts.Buffers,
		Streaming:   p.isStreaming.Load(),
		Dequeued:    p.dequeued.Load(),
		WouldBlock:  p.wouldBlock.Load(),
		Resubmitted: p.resubmitted.Load(),
		Held:        int(p.heldCount.Load()),
		Fatal:       p.fatal.Load(),
		LastFrameAt: last,
		InputRate:   p.rate.Load(),
	}
}
