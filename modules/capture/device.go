package capture

// Device is the capture hardware seen by the Pipeline.
//
// Implementations must guarantee:
//   - Dequeue never blocks and returns ErrWouldBlock when nothing is filled
//   - Dequeue only returns indices previously handed over with Submit
//   - Ready is signalled (coalesced) when a Dequeue may succeed or a fatal
//     error is pending
type Device interface {
	// Configure negotiates the format and reports the plane layout.
	Configure(f Format) (Layout, error)

	// Allocate creates n buffers and returns the planes of each.
	Allocate(n int) ([][]Plane, error)

	// Submit gives buffer index back to the device for writing.
	Submit(index int) error

	// Dequeue returns the next filled buffer index and its byte count.
	Dequeue() (index int, bytesUsed int, err error)

	StreamOn() error
	StreamOff() error

	// Ready is the device wait handle.
	Ready() <-chan struct{}

	Close() error
}
