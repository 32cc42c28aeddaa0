package core

import (
	"testing"

	"github.com/sumirjha/hdmirx/internal/config"
	"github.com/sumirjha/hdmirx/modules/capture"
	"github.com/sumirjha/hdmirx/modules/capture/capturetest"
)

// TestAssemble validates wiring from configuration.
func TestAssemble(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.Config)
		wantPolicy string
		wantSrcs   int
		wantWS     bool
	}{
		{
			name:       "derived policy, both listeners",
			mutate:     func(c *config.Config) { c.Network.TCPListen = "127.0.0.1:0" },
			wantPolicy: capture.PolicyImmediate.String(),
			wantSrcs:   2,
			wantWS:     true,
		},
		{
			name: "configured policy wins, tcp only",
			mutate: func(c *config.Config) {
				c.Capture.Policy = "hold_one"
				c.Network.TCPListen = "127.0.0.1:0"
				c.Network.WebSocketPath = ""
			},
			wantPolicy: capture.PolicyHoldOne.String(),
			wantSrcs:   1,
		},
		{
			name: "websocket only",
			mutate: func(c *config.Config) {
				c.Network.TCPListen = ""
			},
			wantPolicy: capture.PolicyImmediate.String(),
			wantSrcs:   1,
			wantWS:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			if err := config.Validate(cfg); err != nil {
				t.Fatalf("Validate() failed: %v", err)
			}

			c, err := assemble(cfg, capturetest.New(64), newFakeEncoder())
			if err != nil {
				t.Fatalf("assemble() failed: %v", err)
			}
			defer c.Close()

			if got := c.Options.Pipeline.Stats().Policy; got != tt.wantPolicy {
				t.Errorf("policy = %s, want %s", got, tt.wantPolicy)
			}
			if len(c.Options.Sources) != tt.wantSrcs {
				t.Errorf("sources = %d, want %d", len(c.Options.Sources), tt.wantSrcs)
			}
			if (c.WebSocket != nil) != tt.wantWS {
				t.Errorf("websocket = %v, want %v", c.WebSocket != nil, tt.wantWS)
			}
			if _, err := New(c.Options); err != nil {
				t.Errorf("New() rejected built options: %v", err)
			}
		})
	}
}
