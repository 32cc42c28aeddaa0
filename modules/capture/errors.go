package capture

import (
	"errors"
	"strings"
)

var (
	// ErrWouldBlock means no filled buffer is available right now. It is
	// expected and not a failure.
	ErrWouldBlock = errors.New("capture: would block")

	// ErrFatal wraps any non-transient device failure. The stream must stop.
	ErrFatal = errors.New("capture: fatal device error")

	// ErrBufferCount is returned when the device refuses the requested
	// number of buffers.
	ErrBufferCount = errors.New("capture: device refused buffer count")

	// ErrBadIndex is returned for an index outside the buffer set or in the
	// wrong state for the requested transition.
	ErrBadIndex = errors.New("capture: invalid buffer index or state")

	// ErrNotStreaming is returned by Dequeue before Start or after Stop.
	ErrNotStreaming = errors.New("capture: not streaming")
)

// ErrorCategory classifies device failures for telemetry.
type ErrorCategory int

const (
	ErrCategoryDevice ErrorCategory = iota
	ErrCategoryFormat
	ErrCategoryMemory
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryMemory:
		return "memory"
	default:
		return "unknown"
	}
}

var categoryKeywords = []struct {
	cat      ErrorCategory
	keywords []string
}{
	{ErrCategoryFormat, []string{"not-negotiated", "not negotiated", "caps", "format", "resolution"}},
	{ErrCategoryMemory, []string{"memory", "mmap", "alloc", "dmabuf", "buffer pool"}},
	{ErrCategoryDevice, []string{"device", "busy", "no such file", "i/o", "ioctl", "v4l2", "signal"}},
}

// Classify returns the category of a device error by message heuristics.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(msg, kw) {
				return c.cat
			}
		}
	}
	return ErrCategoryUnknown
}
