package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sumirjha/hdmirx/modules/capture"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills derived defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return err
	}
	if err := validateEncoder(&cfg.Encoder, cfg.Capture.Framerate); err != nil {
		return err
	}

	// TS packet size is fixed by the container format
	if cfg.TS.PacketSize != 188 {
		return fmt.Errorf("ts.packet_size must be 188, got %d", cfg.TS.PacketSize)
	}
	if cfg.TS.PoolPackets < 64 {
		return fmt.Errorf("ts.pool_packets must be >= 64, got %d", cfg.TS.PoolPackets)
	}
	if cfg.TS.PSIInterval <= 0 {
		cfg.TS.PSIInterval = 30
	}

	f := &cfg.Fanout
	if f.PacketsPerConnection <= 0 {
		return fmt.Errorf("fanout.packets_per_connection must be > 0")
	}
	if f.MaxConnections < 0 {
		return fmt.Errorf("fanout.max_connections must be >= 0")
	}
	if f.IdleWaitMs <= 0 {
		f.IdleWaitMs = 1
	}
	if f.WriteTimeoutMs <= 0 {
		f.WriteTimeoutMs = 5
	}
	if f.StatsIntervalS <= 0 {
		f.StatsIntervalS = 1
	}

	// At least one way for viewers to connect
	n := cfg.Network
	if n.TCPListen == "" && n.WebSocketPath == "" && n.SRTListen == "" {
		return fmt.Errorf("network: one of tcp_listen, websocket_path or srt_listen is required")
	}
	if n.SRTStreamID != "" && n.SRTListen == "" {
		return fmt.Errorf("network.srt_stream_id requires network.srt_listen")
	}
	if cfg.Network.WebSocketPath != "" {
		if cfg.API.Listen == "" {
			return fmt.Errorf("network.websocket_path requires api.listen")
		}
		if !strings.HasPrefix(cfg.Network.WebSocketPath, "/") {
			return fmt.Errorf("network.websocket_path must start with '/'")
		}
	}

	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return err
	}

	if _, err := cfg.Log.SlogLevel(); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	return nil
}

func validateCapture(c *CaptureConfig) error {
	if c.Device == "" {
		return fmt.Errorf("capture.device is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("capture: invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.Format == "" {
		return fmt.Errorf("capture.format is required")
	}
	if c.Buffers == 0 {
		c.Buffers = capture.DefaultBuffers
	}
	if c.Buffers < 2 {
		return fmt.Errorf("capture.buffers must be >= 2, got %d", c.Buffers)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("capture.framerate must be > 0")
	}
	if c.Policy != "" {
		if _, err := capture.ParsePolicy(c.Policy); err != nil {
			return fmt.Errorf("capture.policy: %w", err)
		}
	}
	return nil
}

func validateEncoder(e *EncoderConfig, framerate int) error {
	if e.Bitrate <= 0 {
		return fmt.Errorf("encoder.bitrate must be > 0")
	}
	if e.FPS <= 0 {
		e.FPS = framerate
	}
	if e.GOP <= 0 {
		e.GOP = 2 * e.FPS
	}
	switch e.RCMode {
	case "":
		e.RCMode = "vbr"
	case "cbr", "vbr":
	default:
		return fmt.Errorf("encoder.rc_mode must be cbr or vbr, got %q", e.RCMode)
	}
	if e.Element == "" {
		e.Element = "x264enc"
	}
	if e.Queue <= 0 {
		e.Queue = 64
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	switch m.Encoding {
	case "":
		m.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be json or msgpack, got %q", m.Encoding)
	}
	if m.Broker == "" {
		// MQTT disabled
		return nil
	}

	if m.ClientID == "" {
		m.ClientID = fmt.Sprintf("hdmirxd-%s", instanceID)
	}
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("hdmirx/control/%s", instanceID)
	}
	if m.Topics.Health == "" {
		m.Topics.Health = fmt.Sprintf("hdmirx/health/%s", instanceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("hdmirx/events/%s", instanceID)
	}
	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control": 1,
			"health":  0,
			"events":  1,
		}
	}
	for topic, q := range m.QoS {
		if q > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", topic)
		}
	}
	if m.StatsIntervalS <= 0 {
		m.StatsIntervalS = 10
	}
	return nil
}

// SlogLevel parses Level ("" means info).
func (l LogConfig) SlogLevel() (slog.Level, error) {
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
