package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
instance_id: lab-rx-01
capture:
  device: /dev/video1
  width: 3840
  height: 2160
  framerate: 60
encoder:
  element: mpph264enc
  bitrate: 16000000
  rc_mode: cbr
network:
  tcp_listen: ":9000"
mqtt:
  broker: tcp://localhost:1883
log:
  level: warn
`

// TestParseDefaults validates that omitted fields are filled and derived.
func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"capture.width", cfg.Capture.Width, 3840},
		{"capture.format", cfg.Capture.Format, "NV24"},
		{"capture.buffers", cfg.Capture.Buffers, 3},
		{"encoder.fps", cfg.Encoder.FPS, 60},
		{"encoder.gop", cfg.Encoder.GOP, 120},
		{"ts.packet_size", cfg.TS.PacketSize, 188},
		{"fanout.packets_per_connection", cfg.Fanout.PacketsPerConnection, 2048},
		{"network.tcp_listen", cfg.Network.TCPListen, ":9000"},
		{"mqtt.client_id", cfg.MQTT.ClientID, "hdmirxd-lab-rx-01"},
		{"mqtt.topics.control", cfg.MQTT.Topics.Control, "hdmirx/control/lab-rx-01"},
		{"mqtt.topics.health", cfg.MQTT.Topics.Health, "hdmirx/health/lab-rx-01"},
		{"mqtt.encoding", cfg.MQTT.Encoding, "json"},
		{"shutdown", cfg.ShutdownTimeout(), 5 * time.Second},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if c.got != c.want {
				t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
			}
		})
	}

	if lvl, _ := cfg.Log.SlogLevel(); lvl != slog.LevelWarn {
		t.Errorf("SlogLevel() = %v, want WARN", lvl)
	}
}

// TestValidateRejects validates the error paths.
func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad instance id", func(c *Config) { c.InstanceID = "Lab_RX" }, "instance_id"},
		{"no device", func(c *Config) { c.Capture.Device = "" }, "capture.device"},
		{"one buffer", func(c *Config) { c.Capture.Buffers = 1 }, "capture.buffers"},
		{"bad policy", func(c *Config) { c.Capture.Policy = "later" }, "capture.policy"},
		{"bad rc", func(c *Config) { c.Encoder.RCMode = "abr" }, "rc_mode"},
		{"zero bitrate", func(c *Config) { c.Encoder.Bitrate = 0 }, "bitrate"},
		{"packet size", func(c *Config) { c.TS.PacketSize = 204 }, "packet_size"},
		{"no listeners", func(c *Config) { c.Network = NetworkConfig{} }, "tcp_listen"},
		{"stream id without srt", func(c *Config) { c.Network.SRTStreamID = "live" }, "srt_listen"},
		{"ws without api", func(c *Config) { c.API.Listen = "" }, "api.listen"},
		{"bad encoding", func(c *Config) { c.MQTT.Encoding = "cbor" }, "mqtt.encoding"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

// TestRestartRequired validates section diffing.
func TestRestartRequired(t *testing.T) {
	a, b := Default(), Default()
	b.Log.Level = "debug"
	if got := RestartRequired(a, b); len(got) != 0 {
		t.Errorf("log.level change flagged restart: %v", got)
	}
	b.Encoder.Bitrate = 1
	b.Fanout.MaxConnections = 2
	got := RestartRequired(a, b)
	if len(got) != 2 || got[0] != "encoder" || got[1] != "fanout" {
		t.Errorf("RestartRequired() = %v, want [encoder fanout]", got)
	}
}

// TestWatcherAppliesLogLevel validates hot reload of log.level.
//
// Scenario:
//  1. Write a config with level info, start the watcher
//  2. Rewrite it with level debug
//  3. Assert: LevelVar becomes Debug, OnReload fires
//  4. Write garbage: current config kept
func TestWatcherAppliesLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hdmirx.yaml")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}
	write("log:\n  level: info\n")

	cur, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	var level slog.LevelVar
	w, err := NewWatcher(path, cur, &level)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	reloaded := make(chan []string, 4)
	w.OnReload = func(_, _ *Config, restart []string) { reloaded <- restart }
	w.Start()
	defer w.Close()

	write("log:\n  level: debug\n")
	select {
	case restart := <-reloaded:
		if len(restart) != 0 {
			t.Errorf("restart sections = %v, want none", restart)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want DEBUG", level.Level())
	}

	write("log: [unclosed\n")
	if err := w.Reload(); err == nil {
		t.Error("Reload() accepted invalid YAML")
	}
	if w.Current().Log.Level != "debug" {
		t.Errorf("current level = %q after bad reload", w.Current().Log.Level)
	}
	t.Logf("✅ log.level hot-reloaded, bad file ignored")
}

// TestLoadMissingFile validates the read error path.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() succeeded on a missing file")
	}
}

// TestShippedConfig validates the sample configuration in configs/.
func TestShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "hdmirx.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Encoder.FPS != cfg.Capture.Framerate || cfg.MQTT.Broker != "" {
		t.Errorf("encoder.fps=%d capture.framerate=%d broker=%q",
			cfg.Encoder.FPS, cfg.Capture.Framerate, cfg.MQTT.Broker)
	}
}
