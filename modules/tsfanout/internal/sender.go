package internal

import (
	"errors"
	"log/slog"
	"time"
)

type drainResult int

const (
	drainIdle     drainResult = iota // queue empty
	drainProgress                    // bytes went out
	drainBlocked                     // transport would block
	drainFatal                       // transport failed, connection destroyed
)

// drainOnce performs one sender iteration: peek the front buffer, write its
// pending bytes, and advance or release it.
//
// Only the sender calls drainOnce, so the front buffer cannot be removed
// underneath it while mu is released for the write.
func (c *Connection) drainOnce() drainResult {
	c.mu.Lock()
	buf, ok := c.send.Front()
	var pending []byte
	if ok {
		pending = buf.Pending()
	}
	c.mu.Unlock()

	if !ok {
		return drainIdle
	}

	n, err := c.t.Send(pending)
	if n > 0 {
		c.sentBytes.Add(uint64(n))
		c.mu.Lock()
		buf.Offset += n
		finished := buf.Offset >= buf.Len
		if finished {
			c.pool.Release(buf)
		}
		c.mu.Unlock()
		if finished {
			c.sentPackets.Add(1)
			c.queued.Add(-1)
		}
	}

	switch {
	case err == nil && n > 0:
		return drainProgress
	case err == nil:
		// Nothing accepted and nothing reported: back off like a full socket.
		c.wouldBlock.Add(1)
		return drainBlocked
	case errors.Is(err, ErrWouldBlock):
		c.wouldBlock.Add(1)
		return drainBlocked
	default:
		if c.markDestroyed(err) {
			slog.Info("tsfanout: connection failed", "name", c.name, "remote", c.t.RemoteAddr(), "error", err)
		}
		return drainFatal
	}
}

// senderLoop drains the send queue until the connection stops or fails.
func (c *Connection) senderLoop() {
	defer c.wg.Done()

	lastReport := time.Now()
	var lastBytes uint64

	for c.running.Load() {
		switch c.drainOnce() {
		case drainFatal:
			return
		case drainIdle:
			time.Sleep(c.cfg.IdleWait)
		case drainBlocked:
			// Yield so a full socket does not pin a core.
			time.Sleep(c.cfg.IdleWait / 4)
		}

		if elapsed := time.Since(lastReport); elapsed >= c.cfg.StatsInterval {
			sent := c.sentBytes.Load()
			rate := uint64(float64(sent-lastBytes) / elapsed.Seconds())
			c.bytesPerSec.Store(rate)
			slog.Debug("tsfanout: throughput", "name", c.name, "bytes_per_sec", rate, "queued", c.queued.Load())
			lastBytes = sent
			lastReport = time.Now()
		}
	}
}
