package core

import (
	"time"

	"github.com/sumirjha/hdmirx/modules/capture"
	"github.com/sumirjha/hdmirx/modules/encoder"
	"github.com/sumirjha/hdmirx/modules/mpegts"
	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// State is the streamer lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// readyWindow is how recent the last encoded unit must be for readiness.
const readyWindow = 5 * time.Second

// Status is an immutable snapshot published by the loop. Readers never
// touch live pipeline state.
type Status struct {
	InstanceID string    `json:"instance_id" msgpack:"instance_id"`
	State      State     `json:"state" msgpack:"state"`
	StartedAt  time.Time `json:"started_at" msgpack:"started_at"`
	UpdatedAt  time.Time `json:"updated_at" msgpack:"updated_at"`
	UptimeS    float64   `json:"uptime_s" msgpack:"uptime_s"`
	LastError  string    `json:"last_error,omitempty" msgpack:"last_error,omitempty"`

	Frames       uint64    `json:"frames" msgpack:"frames"`
	FramesFailed uint64    `json:"frames_failed" msgpack:"frames_failed"`
	Units        uint64    `json:"units" msgpack:"units"`
	UnitsDropped uint64    `json:"units_dropped" msgpack:"units_dropped"`
	LastUnitAt   time.Time `json:"last_unit_at" msgpack:"last_unit_at"`

	Capture capture.Stats          `json:"capture" msgpack:"capture"`
	Encoder encoder.Stats          `json:"encoder" msgpack:"encoder"`
	Mux     mpegts.Stats           `json:"mux" msgpack:"mux"`
	Bridge  tsfanout.BridgeStats   `json:"bridge" msgpack:"bridge"`
	Fanout  tsfanout.RegistryStats `json:"fanout" msgpack:"fanout"`
}

// Ready reports whether the stream is live: streaming with a recent unit.
func (s *Status) Ready(now time.Time) bool {
	if s == nil || s.State != StateStreaming {
		return false
	}
	return !s.LastUnitAt.IsZero() && now.Sub(s.LastUnitAt) < readyWindow
}

// ConnectionEvent reports a viewer joining or leaving.
type ConnectionEvent struct {
	Type       string    `json:"type" msgpack:"type"` // connected | disconnected
	ID         string    `json:"id" msgpack:"id"`
	Name       string    `json:"name" msgpack:"name"`
	RemoteAddr string    `json:"remote_addr" msgpack:"remote_addr"`
	SentBytes  uint64    `json:"sent_bytes" msgpack:"sent_bytes"`
	Dropped    uint64    `json:"dropped" msgpack:"dropped"`
	At         time.Time `json:"at" msgpack:"at"`
}
