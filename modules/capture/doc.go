// Package capture owns the device-backed capture buffers and decides when
// each one may be handed back to the device.
//
// # Buffer states
//
// Every capture buffer is identified by its index and is in one of three
// states:
//
//	Free  ── device may write (submitted)
//	Ready ── dequeued, owned by the application
//	Held  ── still referenced by a consumer one generation behind
//
// # Hold-back policies
//
// A dequeued buffer may be read asynchronously downstream (an encoder that
// imports the memory, a GPU texture), so it must not be resubmitted while
// still referenced. Exactly one policy is chosen per Pipeline:
//
//   - PolicyImmediate: Done resubmits the buffer right away. Only valid when
//     the consumer has copied or fully consumed the frame before Done.
//   - PolicyHoldOne: Done keeps the buffer Held and resubmits the previously
//     held one, so exactly one buffer is in flight behind the consumer.
//
// # Usage
//
//	dev, _ := capture.NewGstDevice(capture.GstConfig{Device: "/dev/video0"})
//	p, _ := capture.NewPipeline(dev, capture.Options{
//	    Format:  capture.Format{Width: 1920, Height: 1080, PixelFormat: "NV24"},
//	    Policy:  capture.PolicyImmediate,
//	})
//	if err := p.Start(); err != nil { ... }
//	defer p.Stop()
//
//	for {
//	    <-p.Ready()
//	    buf, err := p.Dequeue()
//	    if errors.Is(err, capture.ErrWouldBlock) {
//	        continue
//	    }
//	    if err != nil {
//	        return err // capture.ErrFatal: stop the stream
//	    }
//	    consume(buf)
//	    p.Done(buf)
//	}
//
// Pipeline is driven by a single goroutine; only Stats and Ready may be used
// from others.
package capture
