// Package encoder turns capture buffers into an H.264 Annex B elementary
// stream.
//
// PutFrame is called on the capture goroutine. Compressed access units are
// produced on an encoder-owned goroutine and handed over through Packets();
// consumers never receive a callback on a foreign thread.
//
// Buffer retention contract: RetainsInput reports whether the encoder may
// still read a frame's memory after PutFrame returns. When it does, the
// capture pipeline must hold the buffer back one generation
// (capture.PolicyHoldOne); when it does not, the buffer may be resubmitted
// at once (capture.PolicyImmediate).
package encoder

import (
	"errors"
	"fmt"
	"time"

	"github.com/sumirjha/hdmirx/modules/capture"
)

var (
	// ErrClosed is returned by PutFrame after Stop.
	ErrClosed = errors.New("encoder: closed")

	// ErrRejected is returned when the encoder refuses a frame.
	ErrRejected = errors.New("encoder: frame rejected")
)

// Packet is one compressed access unit.
type Packet struct {
	Data []byte
	// PTS and DTS are in 90 kHz units
	PTS      uint64
	DTS      uint64
	Keyframe bool
	Seq      uint64
	TraceID  string
	At       time.Time
}

// Encoder is the hardware (or software) video encoder.
type Encoder interface {
	Start() error
	PutFrame(b *capture.Buffer) error
	Packets() <-chan Packet
	// Errors delivers fatal encoder failures.
	Errors() <-chan error
	RetainsInput() bool
	Stats() Stats
	Stop() error
}

// Policy returns the capture hold-back policy matching e's retention contract.
func Policy(e Encoder) capture.Policy {
	if e.RetainsInput() {
		return capture.PolicyHoldOne
	}
	return capture.PolicyImmediate
}

// Stats is a snapshot of encoder counters.
type Stats struct {
	FramesIn     uint64
	FramesFailed uint64
	PacketsOut   uint64
	PacketsDrop  uint64
	BytesOut     uint64
	Keyframes    uint64
	LastPacketAt time.Time
	Element      string
	RetainsInput bool
}

// RCMode is the rate control mode.
type RCMode string

const (
	RCModeCBR RCMode = "cbr"
	RCModeVBR RCMode = "vbr"
)

// Config describes the stream to produce.
type Config struct {
	Width       int
	Height      int
	PixelFormat string
	FPS         int
	// GOP is the keyframe interval in frames
	GOP int
	// Bitrate is the target in bits per second
	Bitrate int
	RCMode  RCMode
	// Element is the GStreamer encoder (x264enc, mpph264enc, v4l2h264enc)
	Element string
	// QueueSize bounds Packets() (default 64)
	QueueSize int
}

// Validate checks cfg and fills defaults.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("encoder: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("encoder: fps must be positive, got %d", c.FPS)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("encoder: bitrate must be positive, got %d", c.Bitrate)
	}
	if c.GOP <= 0 {
		c.GOP = c.FPS * 2
	}
	switch c.RCMode {
	case "":
		c.RCMode = RCModeVBR
	case RCModeCBR, RCModeVBR:
	default:
		return fmt.Errorf("encoder: unknown rc mode %q", c.RCMode)
	}
	if c.Element == "" {
		c.Element = "x264enc"
	}
	if c.PixelFormat == "" {
		c.PixelFormat = "NV24"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return nil
}

// Bounds returns the rate control window: max is 17/16 of the target, min
// is 15/16 for CBR and 1/16 for VBR.
func (c Config) Bounds() (min, max int) {
	max = c.Bitrate * 17 / 16
	if c.RCMode == RCModeCBR {
		min = c.Bitrate * 15 / 16
	} else {
		min = c.Bitrate / 16
	}
	return min, max
}

// StartPTS is the timestamp of the first access unit (one second), leaving
// room for a receiver's PCR to lead the first PTS.
const StartPTS = 90000

// TicksPerFrame returns the 90 kHz duration of one frame.
func (c Config) TicksPerFrame() uint64 {
	return uint64(90000 / c.FPS)
}
