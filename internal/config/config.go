package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hdmirxd configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Capture          CaptureConfig `yaml:"capture"`
	Encoder          EncoderConfig `yaml:"encoder"`
	TS               TSConfig      `yaml:"ts"`
	Fanout           FanoutConfig  `yaml:"fanout"`
	Network          NetworkConfig `yaml:"network"`
	API              APIConfig     `yaml:"api"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Log              LogConfig     `yaml:"log"`
}

// CaptureConfig contains HDMI-RX device settings
type CaptureConfig struct {
	Device    string `yaml:"device"`    // /dev/videoN
	Width     int    `yaml:"width"`     // active resolution
	Height    int    `yaml:"height"`    // pixels
	Format    string `yaml:"format"`    // NV24, NV16, NV12 ...
	Buffers   int    `yaml:"buffers"`   // device buffers (default: 3)
	Framerate int    `yaml:"framerate"` // nominal input fps
	Policy    string `yaml:"policy"`    // immediate | hold_one (default: derived from encoder)

	// Source replaces v4l2src, e.g. "videotestsrc is-live=true" on a bench
	Source string `yaml:"source"`
}

// EncoderConfig contains H.264 encoder settings
type EncoderConfig struct {
	Element string `yaml:"element"` // mpph264enc, v4l2h264enc, x264enc
	Bitrate int    `yaml:"bitrate"` // bits per second
	FPS     int    `yaml:"fps"`     // defaults to capture.framerate
	GOP     int    `yaml:"gop"`     // defaults to 2*fps
	RCMode  string `yaml:"rc_mode"` // cbr | vbr
	Queue   int    `yaml:"queue"`   // output packet channel size
}

// TSConfig contains MPEG-TS packetizer settings
type TSConfig struct {
	PacketSize  int `yaml:"packet_size"`  // fixed at 188
	PoolPackets int `yaml:"pool_packets"` // bridge pool, packets per access unit ceiling
	PSIInterval int `yaml:"psi_interval"` // units between PAT/PMT repeats
	PCRDelayMs  int `yaml:"pcr_delay_ms"`
}

// FanoutConfig contains per-connection buffering settings
type FanoutConfig struct {
	PacketsPerConnection int `yaml:"packets_per_connection"` // default: 2048
	MaxConnections       int `yaml:"max_connections"`
	IdleWaitMs           int `yaml:"idle_wait_ms"`
	WriteTimeoutMs       int `yaml:"write_timeout_ms"`
	StatsIntervalS       int `yaml:"stats_interval_s"`
}

// NetworkConfig contains viewer listener settings
type NetworkConfig struct {
	TCPListen     string `yaml:"tcp_listen"`     // empty disables raw TCP
	WebSocketPath string `yaml:"websocket_path"` // mounted on the API server; empty disables
	SRTListen     string `yaml:"srt_listen"`     // empty disables SRT
	SRTStreamID   string `yaml:"srt_stream_id"`  // accept only callers asking for this stream
	SendBuffer    int    `yaml:"send_buffer"`    // SO_SNDBUF bytes, 0 = kernel default
}

// APIConfig contains status API settings
type APIConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker         string          `yaml:"broker"` // empty disables telemetry and control
	ClientID       string          `yaml:"client_id"`
	Topics         MQTTTopics      `yaml:"topics"`
	QoS            map[string]byte `yaml:"qos"`
	Encoding       string          `yaml:"encoding"` // json | msgpack
	StatsIntervalS int             `yaml:"stats_interval_s"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Health  string `yaml:"health"`
	Events  string `yaml:"events"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json | text
}

// Default returns the configuration used when a field is omitted.
func Default() *Config {
	return &Config{
		InstanceID:       "hdmirx",
		ShutdownTimeoutS: 5,
		Capture: CaptureConfig{
			Device:    "/dev/video0",
			Width:     1920,
			Height:    1080,
			Format:    "NV24",
			Buffers:   3,
			Framerate: 30,
		},
		Encoder: EncoderConfig{
			Element: "x264enc",
			Bitrate: 8_000_000,
			RCMode:  "vbr",
			Queue:   64,
		},
		TS: TSConfig{
			PacketSize:  188,
			PoolPackets: 4096,
			PSIInterval: 30,
			PCRDelayMs:  100,
		},
		Fanout: FanoutConfig{
			PacketsPerConnection: 2048,
			MaxConnections:       16,
			IdleWaitMs:           1,
			WriteTimeoutMs:       5,
			StatsIntervalS:       1,
		},
		Network: NetworkConfig{
			TCPListen:     ":8090",
			WebSocketPath: "/ws",
		},
		API: APIConfig{
			Listen: ":8080",
		},
		MQTT: MQTTConfig{
			Encoding:       "json",
			StatsIntervalS: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// IdleWait is the sender sleep on an empty queue.
func (f FanoutConfig) IdleWait() time.Duration { return ms(f.IdleWaitMs) }

// WriteTimeout is the per-send TCP deadline.
func (f FanoutConfig) WriteTimeout() time.Duration { return ms(f.WriteTimeoutMs) }

// StatsInterval is the per-connection throughput period.
func (f FanoutConfig) StatsInterval() time.Duration {
	return time.Duration(f.StatsIntervalS) * time.Second
}

// PCRDelayTicks converts the PCR delay to 90 kHz ticks.
func (t TSConfig) PCRDelayTicks() uint64 { return uint64(t.PCRDelayMs) * 90 }
