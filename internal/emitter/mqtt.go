package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sumirjha/hdmirx/internal/config"
	"github.com/sumirjha/hdmirx/internal/core"
)

const publishTimeout = 2 * time.Second

// Connect establishes the broker session shared by the emitter and the
// control plane.
func Connect(ctx context.Context, cfg config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("emitter: mqtt connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
		)
	}

	client := mqtt.NewClient(opts)
	slog.Info("emitter: connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return client, nil
}

// Marshal encodes v with the configured wire encoding.
func Marshal(encoding string, v any) ([]byte, error) {
	switch encoding {
	case "msgpack":
		return msgpack.Marshal(v)
	case "json", "":
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding %q", encoding)
	}
}

// Stats contains emitter statistics
type Stats struct {
	Published     uint64 `json:"published"`
	Errors        uint64 `json:"errors"`
	EventsDropped uint64 `json:"events_dropped"`
}

// Emitter publishes periodic status snapshots and connection events.
type Emitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	status core.StatusProvider

	events chan core.ConnectionEvent

	published     atomic.Uint64
	errors        atomic.Uint64
	eventsDropped atomic.Uint64

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New returns an emitter publishing snapshots from status over client.
func New(client mqtt.Client, cfg config.MQTTConfig, status core.StatusProvider) *Emitter {
	return &Emitter{
		cfg:    cfg,
		client: client,
		status: status,
		events: make(chan core.ConnectionEvent, 64),
	}
}

// Start runs the publish loop until ctx is cancelled or Stop is called.
func (e *Emitter) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)

	slog.Info("emitter: started",
		"health_topic", e.cfg.Topics.Health,
		"events_topic", e.cfg.Topics.Events,
		"encoding", e.cfg.Encoding,
		"interval_s", e.cfg.StatsIntervalS,
	)
}

// Event queues a connection event. Never blocks; events are dropped when
// the queue is full.
func (e *Emitter) Event(ev core.ConnectionEvent) {
	select {
	case e.events <- ev:
	default:
		e.eventsDropped.Add(1)
	}
}

// Stop ends the loop and publishes a final snapshot. Idempotent.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.publishStatus()
		slog.Info("emitter: stopped",
			"published", e.published.Load(),
			"errors", e.errors.Load(),
		)
	})
}

// Stats returns emitter statistics
func (e *Emitter) Stats() Stats {
	return Stats{
		Published:     e.published.Load(),
		Errors:        e.errors.Load(),
		EventsDropped: e.eventsDropped.Load(),
	}
}

func (e *Emitter) run(ctx context.Context) {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.StatsIntervalS) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.publish(e.cfg.Topics.Events, e.qos("events"), ev)
		case <-ticker.C:
			e.publishStatus()
		}
	}
}

func (e *Emitter) publishStatus() {
	st := e.status.Status()
	if st == nil {
		return
	}
	e.publish(e.cfg.Topics.Health, e.qos("health"), st)
}

// publish marshals v and waits for the broker ack up to publishTimeout.
func (e *Emitter) publish(topic string, qos byte, v any) {
	if !e.client.IsConnected() {
		e.errors.Add(1)
		slog.Debug("emitter: mqtt not connected, skipping publish", "topic", topic)
		return
	}

	payload, err := Marshal(e.cfg.Encoding, v)
	if err != nil {
		e.errors.Add(1)
		slog.Error("emitter: failed to marshal payload", "topic", topic, "error", err)
		return
	}

	token := e.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.errors.Add(1)
		slog.Warn("emitter: publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		e.errors.Add(1)
		slog.Warn("emitter: publish failed", "topic", topic, "error", err)
		return
	}

	e.published.Add(1)
	slog.Debug("emitter: published", "topic", topic, "qos", qos, "size", len(payload))
}

func (e *Emitter) qos(kind string) byte {
	if q, ok := e.cfg.QoS[kind]; ok {
		return q
	}
	return 0
}
