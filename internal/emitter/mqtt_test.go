package emitter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sumirjha/hdmirx/internal/config"
	"github.com/sumirjha/hdmirx/internal/core"
	"github.com/sumirjha/hdmirx/internal/emitter/emittertest"
)

type fixedStatus struct{ st *core.Status }

func (f fixedStatus) Status() *core.Status { return f.st }

func testConfig(encoding string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		Topics:         config.MQTTTopics{Health: "hdmirx/health/t", Events: "hdmirx/events/t"},
		QoS:            map[string]byte{"health": 1},
		Encoding:       encoding,
		StatsIntervalS: 1,
	}
}

// TestMarshal validates both wire encodings round-trip the status snapshot.
func TestMarshal(t *testing.T) {
	st := &core.Status{InstanceID: "lab", State: core.StateStreaming, Units: 42}

	tests := []struct {
		encoding string
		decode   func([]byte, any) error
	}{
		{"json", json.Unmarshal},
		{"msgpack", msgpack.Unmarshal},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			data, err := Marshal(tt.encoding, st)
			if err != nil {
				t.Fatalf("Marshal() failed: %v", err)
			}
			var got core.Status
			if err := tt.decode(data, &got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got.InstanceID != "lab" || got.State != core.StateStreaming || got.Units != 42 {
				t.Errorf("decoded = %+v", got)
			}
		})
	}

	if _, err := Marshal("cbor", st); err == nil {
		t.Error("Marshal() accepted an unknown encoding")
	}
}

// TestEmitterPublishes validates periodic status and queued events.
//
// Scenario:
//  1. Start with a 1s interval
//  2. Queue a connection event: published on the events topic
//  3. Wait for a tick: status on the health topic with its QoS
//  4. Stop: a final snapshot goes out
func TestEmitterPublishes(t *testing.T) {
	client := emittertest.New()
	st := &core.Status{InstanceID: "t", State: core.StateStreaming}
	e := New(client, testConfig("json"), fixedStatus{st})
	e.Start(context.Background())

	e.Event(core.ConnectionEvent{Type: "connected", Name: "abcdefg"})
	m, ok := client.Next("hdmirx/events/t", 2*time.Second)
	if !ok {
		t.Fatal("event not published")
	}
	var ev core.ConnectionEvent
	if err := json.Unmarshal(m.Payload, &ev); err != nil || ev.Name != "abcdefg" {
		t.Errorf("event payload = %s (%v)", m.Payload, err)
	}

	m, ok = client.Next("hdmirx/health/t", 3*time.Second)
	if !ok {
		t.Fatal("status not published")
	}
	if m.QoS != 1 {
		t.Errorf("health qos = %d, want 1", m.QoS)
	}

	before := e.Stats().Published
	e.Stop()
	e.Stop()
	if e.Stats().Published < before+1 {
		t.Errorf("published = %d, want at least %d after final snapshot", e.Stats().Published, before+1)
	}
	t.Logf("✅ %d messages published", e.Stats().Published)
}

// TestEmitterDisconnected validates that publishes are counted as errors
// while the broker is unreachable.
func TestEmitterDisconnected(t *testing.T) {
	client := emittertest.New()
	client.SetConnected(false)
	e := New(client, testConfig("msgpack"), fixedStatus{&core.Status{}})

	e.publishStatus()
	if s := e.Stats(); s.Errors != 1 || s.Published != 0 {
		t.Errorf("stats = %+v, want one error", s)
	}
	if len(client.Published()) != 0 {
		t.Error("published while disconnected")
	}
}

// TestEventNeverBlocks validates the drop counter on a full queue.
func TestEventNeverBlocks(t *testing.T) {
	e := New(emittertest.New(), testConfig("json"), fixedStatus{})
	for i := 0; i < cap(e.events)+5; i++ {
		e.Event(core.ConnectionEvent{})
	}
	if got := e.Stats().EventsDropped; got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
}
