// Package capturetest provides an in-memory capture.Device for tests.
package capturetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sumirjha/hdmirx/modules/capture"
)

// Event is one recorded device call.
type Event struct {
	Op    string // "submit" or "dequeue"
	Index int
}

// Device is a capture.Device backed by Go memory. Frames are produced with
// Fill; every Submit and successful Dequeue is recorded.
type Device struct {
	mu sync.Mutex

	frameSize int
	// Grant overrides the number of buffers Allocate returns (0 = as asked)
	Grant int

	planes    [][]capture.Plane
	submitted []int
	filled    []int
	owned     map[int]bool
	events    []Event
	fatal     error
	streaming bool
	closed    bool
	ready     chan struct{}
}

// New returns a device producing frames of frameSize bytes.
func New(frameSize int) *Device {
	return &Device{
		frameSize: frameSize,
		owned:     make(map[int]bool),
		ready:     make(chan struct{}, 1),
	}
}

func (d *Device) Configure(f capture.Format) (capture.Layout, error) {
	if f.PixelFormat == "BAD" {
		return capture.Layout{}, errors.New("format not negotiated")
	}
	return capture.Layout{NumPlanes: 1, Strides: []int{f.Width}, FrameSize: d.frameSize}, nil
}

func (d *Device) Allocate(n int) ([][]capture.Plane, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Grant > 0 {
		n = d.Grant
	}
	d.planes = make([][]capture.Plane, n)
	for i := range d.planes {
		d.planes[i] = []capture.Plane{{
			FD:   -1,
			Data: make([]byte, d.frameSize),
			Size: d.frameSize,
		}}
	}
	return d.planes, nil
}

func (d *Device) Submit(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.planes) {
		return fmt.Errorf("capturetest: submit of unknown index %d", index)
	}
	if d.owned[index] {
		return fmt.Errorf("capturetest: index %d submitted twice", index)
	}
	d.owned[index] = true
	d.submitted = append(d.submitted, index)
	d.events = append(d.events, Event{Op: "submit", Index: index})
	return nil
}

func (d *Device) Dequeue() (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fatal != nil {
		return -1, 0, d.fatal
	}
	if len(d.filled) == 0 {
		return -1, 0, capture.ErrWouldBlock
	}
	i := d.filled[0]
	d.filled = d.filled[1:]
	d.owned[i] = false
	d.events = append(d.events, Event{Op: "dequeue", Index: i})
	return i, d.frameSize, nil
}

func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = true
	return nil
}

func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streaming = false
	return nil
}

func (d *Device) Ready() <-chan struct{} { return d.ready }

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Fill writes up to n frames into submitted buffers in submission order and
// returns how many were produced. Each frame is filled with its sequence byte.
func (d *Device) Fill(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	produced := 0
	for produced < n && len(d.submitted) > 0 {
		i := d.submitted[0]
		d.submitted = d.submitted[1:]
		data := d.planes[i][0].Data
		for k := range data {
			data[k] = byte(len(d.events))
		}
		d.filled = append(d.filled, i)
		produced++
	}
	if produced > 0 {
		d.signal()
	}
	return produced
}

// SetFatal makes every following Dequeue fail with err.
func (d *Device) SetFatal(err error) {
	d.mu.Lock()
	d.fatal = err
	d.signal()
	d.mu.Unlock()
}

// Events returns a copy of the recorded calls.
func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// Owned reports whether the device currently owns index (submitted, not dequeued).
func (d *Device) Owned(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owned[index]
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) signal() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}
