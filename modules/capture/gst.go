package capture

import (
	"errors"

	"github.com/sumirjha/hdmirx/modules/capture/internal/gstdev"
)

// GstConfig selects the GStreamer source of a GstDevice.
type GstConfig = gstdev.Config

// GstDevice is a Device backed by a GStreamer v4l2src pipeline.
type GstDevice struct {
	d *gstdev.Device
}

// NewGstDevice returns a GStreamer capture device. The pipeline is built on
// Configure.
func NewGstDevice(cfg GstConfig) (*GstDevice, error) {
	d, err := gstdev.New(cfg)
	if err != nil {
		return nil, err
	}
	return &GstDevice{d: d}, nil
}

func (g *GstDevice) Configure(f Format) (Layout, error) {
	planes, strides, size, err := g.d.Configure(f.Width, f.Height, f.PixelFormat, f.FPS)
	if err != nil {
		return Layout{}, err
	}
	return Layout{NumPlanes: planes, Strides: strides, FrameSize: size}, nil
}

func (g *GstDevice) Allocate(n int) ([][]Plane, error) {
	slots, err := g.d.Allocate(n)
	if err != nil {
		return nil, err
	}
	out := make([][]Plane, len(slots))
	for i, s := range slots {
		out[i] = []Plane{{FD: -1, Data: s, Size: len(s)}}
	}
	return out, nil
}

func (g *GstDevice) Submit(index int) error { return g.d.Queue(index) }

func (g *GstDevice) Dequeue() (int, int, error) {
	i, n, err := g.d.Dequeue()
	if errors.Is(err, gstdev.ErrAgain) {
		return -1, 0, ErrWouldBlock
	}
	return i, n, err
}

func (g *GstDevice) StreamOn() error { return g.d.Start() }
func (g *GstDevice) StreamOff() error { return g.d.Stop() }
func (g *GstDevice) Ready() <-chan struct{} { return g.d.Notify() }
func (g *GstDevice) Close() error { return nil }

// Overruns returns how many frames the source produced while every buffer
// was owned by the application.
func (g *GstDevice) Overruns() uint64 {
	_, o := g.d.Stats()
	return o
}
