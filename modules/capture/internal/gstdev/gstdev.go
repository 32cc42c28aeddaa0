// Package gstdev implements a capture device on top of a GStreamer
// v4l2src → appsink pipeline.
//
// The appsink delivers samples on a GStreamer streaming thread. Each sample
// is copied into the oldest submitted slot; when no slot is submitted the
// sample is dropped and counted as an overrun, just as a V4L2 driver drops
// frames when the application holds every buffer.
package gstdev

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// ErrAgain is returned by Dequeue when no filled slot is waiting.
var ErrAgain = errors.New("gstdev: no frame available")

// Config selects the source element.
type Config struct {
	// Device is the V4L2 node (e.g. /dev/video0)
	Device string
	// Source overrides the source element description (e.g. "videotestsrc is-live=true")
	Source string
}

type filled struct {
	index int
	n     int
}

// Device is a GStreamer-backed capture source.
type Device struct {
	cfg Config

	pipeline *gst.Pipeline
	sink     *app.Sink

	mu        sync.Mutex
	slots     [][]byte
	submitted []int
	ready     []filled
	fatal     error

	frameSize int
	notify    chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	samples  atomic.Uint64
	overruns atomic.Uint64
}

// New validates cfg. The pipeline is built by Configure.
func New(cfg Config) (*Device, error) {
	if cfg.Device == "" && cfg.Source == "" {
		return nil, fmt.Errorf("gstdev: device or source is required")
	}
	return &Device{
		cfg:    cfg,
		notify: make(chan struct{}, 1),
	}, nil
}

// FrameSize returns the byte size of one frame of the given format.
func FrameSize(width, height int, pixfmt string) (size int, strides []int, err error) {
	px := width * height
	switch strings.ToUpper(pixfmt) {
	case "NV24":
		return px * 3, []int{width}, nil
	case "NV16":
		return px * 2, []int{width}, nil
	case "NV12", "I420":
		return px * 3 / 2, []int{width}, nil
	case "YUY2", "UYVY":
		return px * 2, []int{width * 2}, nil
	case "RGB", "BGR":
		return px * 3, []int{width * 3}, nil
	case "BGRX", "RGBX":
		return px * 4, []int{width * 4}, nil
	default:
		return 0, nil, fmt.Errorf("gstdev: unsupported pixel format %q", pixfmt)
	}
}

// Configure builds the pipeline for the requested format.
//
//	v4l2src device=... ! video/x-raw,format=F,width=W,height=H ! appsink name=sink
func (d *Device) Configure(width, height int, pixfmt string, fps int) (numPlanes int, strides []int, frameSize int, err error) {
	frameSize, strides, err = FrameSize(width, height, pixfmt)
	if err != nil {
		return 0, nil, 0, err
	}

	gst.Init(nil)

	src := d.cfg.Source
	if src == "" {
		src = fmt.Sprintf("v4l2src device=%s io-mode=mmap", d.cfg.Device)
	}
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", strings.ToUpper(pixfmt), width, height)
	if fps > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", fps)
	}
	launch := fmt.Sprintf("%s ! %s ! appsink name=sink sync=false max-buffers=1 drop=true", src, caps)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("gstdev: create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return 0, nil, 0, fmt.Errorf("gstdev: appsink not found: %w", err)
	}

	d.pipeline = pipeline
	d.sink = app.SinkFromElement(elem)
	d.frameSize = frameSize

	slog.Debug("capture: gstreamer source configured", "launch", launch, "frame_size", frameSize)
	return 1, strides, frameSize, nil
}

// Allocate creates n frame slots.
func (d *Device) Allocate(n int) ([][]byte, error) {
	if d.frameSize == 0 {
		return nil, fmt.Errorf("gstdev: allocate before configure")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	storage := make([]byte, n*d.frameSize)
	d.slots = make([][]byte, n)
	for i := range d.slots {
		d.slots[i] = storage[i*d.frameSize : (i+1)*d.frameSize]
	}
	return d.slots, nil
}

// Queue hands slot index to the device.
func (d *Device) Queue(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.slots) {
		return fmt.Errorf("gstdev: queue of unknown slot %d", index)
	}
	d.submitted = append(d.submitted, index)
	return nil
}

// Dequeue returns the oldest filled slot, ErrAgain, or the pending fatal error.
func (d *Device) Dequeue() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fatal != nil {
		return -1, 0, d.fatal
	}
	if len(d.ready) == 0 {
		return -1, 0, ErrAgain
	}
	f := d.ready[0]
	d.ready = d.ready[1:]
	return f.index, f.n, nil
}

// Notify is signalled when a slot is filled or a fatal error occurs.
func (d *Device) Notify() <-chan struct{} { return d.notify }

// Start sets the appsink callback and the pipeline to PLAYING.
func (d *Device) Start() error {
	if d.pipeline == nil {
		return fmt.Errorf("gstdev: start before configure")
	}

	d.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onSample,
	})

	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstdev: set playing: %w", err)
	}

	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.monitorBus()
	return nil
}

// Stop sets the pipeline to NULL and waits for the bus monitor.
func (d *Device) Stop() error {
	if d.pipeline == nil || d.done == nil {
		return nil
	}
	close(d.done)
	err := d.pipeline.SetState(gst.StateNull)

	waitDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(3 * time.Second):
		slog.Warn("capture: bus monitor stop timeout")
	}
	d.done = nil

	if err != nil {
		return fmt.Errorf("gstdev: set null: %w", err)
	}
	return nil
}

// Stats returns samples received and samples dropped for lack of a slot.
func (d *Device) Stats() (samples, overruns uint64) {
	return d.samples.Load(), d.overruns.Load()
}

func (d *Device) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	d.samples.Add(1)

	d.mu.Lock()
	if len(d.submitted) == 0 {
		d.mu.Unlock()
		d.overruns.Add(1)
		return gst.FlowOK
	}
	index := d.submitted[0]
	d.submitted = d.submitted[1:]

	mapInfo := buffer.Map(gst.MapRead)
	n := copy(d.slots[index], mapInfo.Bytes())
	buffer.Unmap()

	d.ready = append(d.ready, filled{index: index, n: n})
	d.mu.Unlock()

	d.signal()
	return gst.FlowOK
}

func (d *Device) monitorBus() {
	defer d.wg.Done()
	bus := d.pipeline.GetPipelineBus()

	for {
		select {
		case <-d.done:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			d.setFatal(errors.New("gstdev: end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			d.setFatal(fmt.Errorf("gstdev: %s: %s", gerr.Error(), gerr.DebugString()))
			return
		}
	}
}

func (d *Device) setFatal(err error) {
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = err
	}
	d.mu.Unlock()
	d.signal()
}

func (d *Device) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
