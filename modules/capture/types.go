package capture

import (
	"fmt"
	"time"
)

// Format is the requested capture geometry.
type Format struct {
	Width  int
	Height int
	// PixelFormat is a fourcc-style name (NV24, NV12, YUY2, ...)
	PixelFormat string
	// FPS is the requested frame rate (0 = device default)
	FPS int
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d/%s", f.Width, f.Height, f.PixelFormat)
}

// Layout is what the device reports after configuration.
type Layout struct {
	NumPlanes int
	Strides   []int
	// FrameSize is the byte size of one full frame across planes
	FrameSize int
}

// Plane is one memory plane of a capture buffer.
type Plane struct {
	// FD is the exported DMA handle, -1 when the memory is not exportable
	FD int
	// Data maps the plane memory when it is CPU accessible
	Data      []byte
	Size      int
	Offset    int
	BytesUsed int
}

// Bytes returns the filled portion of the plane.
func (p Plane) Bytes() []byte {
	if p.Data == nil {
		return nil
	}
	end := p.Offset + p.BytesUsed
	if end > len(p.Data) {
		end = len(p.Data)
	}
	return p.Data[p.Offset:end]
}

// Stage identifies which consumer holds a buffer.
type Stage int

const (
	StageNone Stage = iota
	StageEncode
	StageRender
)

func (s Stage) String() string {
	switch s {
	case StageEncode:
		return "encode"
	case StageRender:
		return "render"
	default:
		return "none"
	}
}

// Buffer is a device-backed frame identified by Index.
type Buffer struct {
	Index     int
	Planes    []Plane
	Seq       uint64
	Timestamp time.Time
	// HeldBy is set while the buffer is Held by a one-generation consumer
	HeldBy Stage
}

// BytesUsed returns the total filled bytes across planes.
func (b *Buffer) BytesUsed() int {
	n := 0
	for _, p := range b.Planes {
		n += p.BytesUsed
	}
	return n
}

// State is the ownership state of one capture buffer index.
type State int

const (
	StateFree State = iota
	StateReady
	StateHeld
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateReady:
		return "ready"
	case StateHeld:
		return "held"
	default:
		return "unknown"
	}
}

// Policy decides when Done hands a buffer back to the device.
type Policy int

const (
	// PolicyImmediate resubmits on Done. The consumer must not reference the
	// memory afterwards.
	PolicyImmediate Policy = iota
	// PolicyHoldOne keeps the buffer until the next Done.
	PolicyHoldOne
)

func (p Policy) String() string {
	switch p {
	case PolicyImmediate:
		return "immediate"
	case PolicyHoldOne:
		return "hold_one"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config string onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "immediate", "":
		return PolicyImmediate, nil
	case "hold_one", "one_generation":
		return PolicyHoldOne, nil
	default:
		return PolicyImmediate, fmt.Errorf("capture: unknown hold-back policy %q", s)
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Format      string    `json:"format"`
	Policy      string    `json:"policy"`
	Buffers     int       `json:"buffers"`
	Streaming   bool      `json:"streaming"`
	Dequeued    uint64    `json:"dequeued"`
	WouldBlock  uint64    `json:"would_block"`
	Resubmitted uint64    `json:"resubmitted"`
	Held        int       `json:"held"`
	Fatal       uint64    `json:"fatal"`
	LastFrameAt time.Time `json:"last_frame_at"`
	// InputRate is nil until the first measurement window completes
	InputRate *RateStats `json:"input_rate,omitempty"`
}
