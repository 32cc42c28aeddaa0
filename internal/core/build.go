package core

import (
	"fmt"
	"log/slog"

	"github.com/sumirjha/hdmirx/internal/config"
	"github.com/sumirjha/hdmirx/modules/capture"
	"github.com/sumirjha/hdmirx/modules/encoder"
	"github.com/sumirjha/hdmirx/modules/mpegts"
	"github.com/sumirjha/hdmirx/modules/netsrc"
	"github.com/sumirjha/hdmirx/modules/tsfanout"
)

// Components is the wired device graph built from a configuration.
type Components struct {
	Options Options
	// WebSocket is non-nil when network.websocket_path is set; the API server
	// mounts it.
	WebSocket *netsrc.WSSource
	TCP       *netsrc.TCPSource
	SRT       *netsrc.SRTSource
}

// Close releases listeners opened by Build. Only needed when Run never
// takes ownership.
func (c *Components) Close() {
	for _, src := range c.Options.Sources {
		src.Close()
	}
}

// Build constructs every pipeline component from cfg using the GStreamer
// backed device and encoder. cfg must be validated.
func Build(cfg *config.Config) (*Components, error) {
	enc, err := encoder.NewGst(encoder.Config{
		Width:       cfg.Capture.Width,
		Height:      cfg.Capture.Height,
		PixelFormat: cfg.Capture.Format,
		FPS:         cfg.Encoder.FPS,
		GOP:         cfg.Encoder.GOP,
		Bitrate:     cfg.Encoder.Bitrate,
		RCMode:      encoder.RCMode(cfg.Encoder.RCMode),
		Element:     cfg.Encoder.Element,
		QueueSize:   cfg.Encoder.Queue,
	})
	if err != nil {
		return nil, fmt.Errorf("core: build encoder: %w", err)
	}

	dev, err := capture.NewGstDevice(capture.GstConfig{
		Device: cfg.Capture.Device,
		Source: cfg.Capture.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("core: build capture device: %w", err)
	}
	return assemble(cfg, dev, enc)
}

// assemble wires dev and enc into the rest of the graph.
func assemble(cfg *config.Config, dev capture.Device, enc encoder.Encoder) (*Components, error) {
	policy := encoder.Policy(enc)
	if cfg.Capture.Policy != "" {
		p, err := capture.ParsePolicy(cfg.Capture.Policy)
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		if p != policy {
			slog.Warn("core: capture policy overrides encoder retention",
				"configured", p.String(),
				"derived", policy.String(),
			)
		}
		policy = p
	}

	pipe, err := capture.NewPipeline(dev, capture.Options{
		Format: capture.Format{
			Width:       cfg.Capture.Width,
			Height:      cfg.Capture.Height,
			PixelFormat: cfg.Capture.Format,
			FPS:         cfg.Capture.Framerate,
		},
		Buffers: cfg.Capture.Buffers,
		Policy:  policy,
		Stage:   capture.StageEncode,
	})
	if err != nil {
		return nil, fmt.Errorf("core: build pipeline: %w", err)
	}

	bridge, err := tsfanout.NewBridge(cfg.TS.PoolPackets, cfg.TS.PacketSize)
	if err != nil {
		return nil, fmt.Errorf("core: build bridge: %w", err)
	}
	mux, err := mpegts.NewWriter(bridge, mpegts.Config{
		PSIInterval: cfg.TS.PSIInterval,
		PCRDelay:    cfg.TS.PCRDelayTicks(),
	})
	if err != nil {
		return nil, fmt.Errorf("core: build mux: %w", err)
	}

	reg, err := tsfanout.NewRegistry(tsfanout.Config{
		PacketSize:     cfg.TS.PacketSize,
		PoolPackets:    cfg.Fanout.PacketsPerConnection,
		MaxConnections: cfg.Fanout.MaxConnections,
		IdleWait:       cfg.Fanout.IdleWait(),
		StatsInterval:  cfg.Fanout.StatsInterval(),
	})
	if err != nil {
		return nil, fmt.Errorf("core: build registry: %w", err)
	}

	c := &Components{
		Options: Options{
			InstanceID: cfg.InstanceID,
			Pipeline:   pipe,
			Encoder:    enc,
			Mux:        mux,
			Bridge:     bridge,
			Registry:   reg,
		},
	}

	if cfg.Network.TCPListen != "" {
		tcp, err := netsrc.ListenTCP(netsrc.TCPConfig{
			Addr:         cfg.Network.TCPListen,
			WriteTimeout: cfg.Fanout.WriteTimeout(),
			NoDelay:      true,
			SendBuffer:   cfg.Network.SendBuffer,
		})
		if err != nil {
			return nil, fmt.Errorf("core: build tcp listener: %w", err)
		}
		c.TCP = tcp
		c.Options.Sources = append(c.Options.Sources, tcp)
	}
	if cfg.Network.SRTListen != "" {
		srt, err := netsrc.ListenSRT(netsrc.SRTConfig{
			Addr:     cfg.Network.SRTListen,
			StreamID: cfg.Network.SRTStreamID,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("core: build srt listener: %w", err)
		}
		c.SRT = srt
		c.Options.Sources = append(c.Options.Sources, srt)
	}
	if cfg.Network.WebSocketPath != "" {
		c.WebSocket = netsrc.NewWSSource(netsrc.WSConfig{})
		c.Options.Sources = append(c.Options.Sources, c.WebSocket)
	}

	slog.Info("core: components built",
		"device", cfg.Capture.Device,
		"encoder", cfg.Encoder.Element,
		"policy", policy.String(),
		"tcp", cfg.Network.TCPListen,
		"srt", cfg.Network.SRTListen,
		"websocket", cfg.Network.WebSocketPath,
	)
	return c, nil
}
