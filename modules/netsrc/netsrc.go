// Package netsrc accepts viewer connections and hands them to the fanout as
// tsfanout.Transport values.
//
// Three sources exist:
//   - TCPSource: a raw TCP listener; writes carry a short deadline, and a
//     deadline hit is reported as would-block with the partial byte count
//   - WSSource: an http.Handler upgrading to WebSocket; each Send becomes
//     one binary message queued to a writer goroutine
//   - SRTSource: an SRT listener in live mode; Sends are coalesced into
//     seven-packet messages
//
// Each delivers transports on Accepted(). The streamer loop registers them.
package netsrc

import (
	"errors"

	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("netsrc: transport closed")

// Source yields accepted client transports.
type Source interface {
	Accepted() <-chan tsfanout.Transport
	Close() error
}

// SourceStats counts accept activity.
type SourceStats struct {
	Accepted uint64 `json:"accepted" msgpack:"accepted"`
	Failed   uint64 `json:"failed" msgpack:"failed"`
}
