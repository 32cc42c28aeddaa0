// Package gstenc drives an appsrc → H.264 encoder → appsink GStreamer
// pipeline.
package gstenc

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Config is the resolved encoder configuration.
type Config struct {
	Width      int
	Height     int
	Format     string
	FPS        int
	GOP        int
	Bitrate    int
	MinBitrate int
	MaxBitrate int
	CBR        bool
	Element    string
}

// Pipeline wraps the GStreamer pipeline and its app elements.
type Pipeline struct {
	cfg      Config
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	onData func([]byte)
	onErr  func(error)

	done chan struct{}
	wg   sync.WaitGroup
}

// ElementDescription returns the launch fragment for the encoder element.
func ElementDescription(cfg Config) string {
	switch cfg.Element {
	case "mpph264enc":
		rc := "vbr"
		if cfg.CBR {
			rc = "cbr"
		}
		return fmt.Sprintf("mpph264enc rc-mode=%s bps=%d bps-min=%d bps-max=%d gop=%d",
			rc, cfg.Bitrate, cfg.MinBitrate, cfg.MaxBitrate, cfg.GOP)
	case "v4l2h264enc":
		return fmt.Sprintf("v4l2h264enc extra-controls=\"controls,video_bitrate=%d,h264_i_frame_period=%d\"",
			cfg.Bitrate, cfg.GOP)
	default:
		pass := "pass=qual"
		if cfg.CBR {
			pass = "pass=cbr"
		}
		return fmt.Sprintf("x264enc bitrate=%d vbv-buf-capacity=%d key-int-max=%d bframes=0 tune=zerolatency speed-preset=ultrafast %s",
			cfg.Bitrate/1000, 1000*cfg.MaxBitrate/max(cfg.Bitrate, 1), cfg.GOP, pass)
	}
}

// Launch returns the full pipeline description.
func Launch(cfg Config) string {
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
		strings.ToUpper(cfg.Format), cfg.Width, cfg.Height, cfg.FPS)
	return fmt.Sprintf(
		"appsrc name=src is-live=true format=time do-timestamp=true caps=%s ! videoconvert ! %s ! "+
			"video/x-h264,stream-format=byte-stream,alignment=au ! appsink name=sink sync=false",
		caps, ElementDescription(cfg))
}

// New builds (but does not start) the pipeline. onData receives a copy of
// every access unit on the GStreamer streaming thread.
func New(cfg Config, onData func([]byte), onErr func(error)) (*Pipeline, error) {
	gst.Init(nil)

	launch := Launch(cfg)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gstenc: create pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("gstenc: appsrc not found: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("gstenc: appsink not found: %w", err)
	}

	slog.Debug("encoder: pipeline created", "launch", launch)

	return &Pipeline{
		cfg:      cfg,
		pipeline: pipeline,
		src:      app.SrcFromElement(srcElem),
		sink:     app.SinkFromElement(sinkElem),
		onData:   onData,
		onErr:    onErr,
	}, nil
}

// Start installs the sink callback and sets PLAYING.
func (p *Pipeline) Start() error {
	p.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			sample := sink.PullSample()
			if sample == nil {
				return gst.FlowOK
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowOK
			}
			mapInfo := buffer.Map(gst.MapRead)
			data := mapInfo.Bytes()
			au := make([]byte, len(data))
			copy(au, data)
			buffer.Unmap()

			if len(au) > 0 {
				p.onData(au)
			}
			return gst.FlowOK
		},
	})

	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstenc: set playing: %w", err)
	}

	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.monitorBus()
	return nil
}

// Push copies frame into a new GStreamer buffer and queues it. The caller's
// memory is not referenced after Push returns.
func (p *Pipeline) Push(frame []byte) error {
	buf := gst.NewBufferFromBytes(frame)
	if ret := p.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("gstenc: push buffer: flow %v", ret)
	}
	return nil
}

// Stop sends EOS, sets NULL and waits for the bus monitor.
func (p *Pipeline) Stop() error {
	if p.done == nil {
		return nil
	}
	p.src.EndStream()
	close(p.done)
	err := p.pipeline.SetState(gst.StateNull)

	waitDone := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(3 * time.Second):
		slog.Warn("encoder: bus monitor stop timeout")
	}
	p.done = nil

	if err != nil {
		return fmt.Errorf("gstenc: set null: %w", err)
	}
	return nil
}

func (p *Pipeline) monitorBus() {
	defer p.wg.Done()
	bus := p.pipeline.GetPipelineBus()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			p.onErr(errors.New("gstenc: end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("encoder: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"element", p.cfg.Element,
			)
			p.onErr(fmt.Errorf("gstenc: %s", gerr.Error()))
			return
		}
	}
}
