package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sumirjha/hdmirx/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus func() any
	// OnKick destroys the viewer with the given name or ID
	OnKick     func(ctx context.Context, nameOrID string) (bool, error)
	OnShutdown func()
}

// Handler handles control plane commands
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	callbacks CommandCallbacks
	commands  chan Command

	// shutdownDelay lets the ack reach the broker before teardown starts
	shutdownDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		callbacks:     callbacks,
		commands:      make(chan Command, 10),
		shutdownDelay: 500 * time.Millisecond,
	}
}

// Start subscribes to the control topic and processes commands until ctx is
// cancelled or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("control: subscribing", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the processing goroutine. Idempotent.
func (h *Handler) Stop() {
	h.once.Do(func() {
		if h.client.IsConnected() {
			h.client.Unsubscribe(h.cfg.Topics.Control).WaitTimeout(2 * time.Second)
		}
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()
		slog.Info("control: handler stopped")
	})
}

// messageHandler runs on the paho router goroutine; it only decodes and
// queues.
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status, resp.Error = "error", "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"status": h.callbacks.OnGetStatus()}

	case "kick":
		if h.callbacks.OnKick == nil {
			resp.Status, resp.Error = "error", "kick not implemented"
			break
		}
		name, ok := cmd.Params["name"].(string)
		if !ok || name == "" {
			resp.Status, resp.Error = "error", "missing or invalid 'name' parameter (expected string)"
			break
		}
		kctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		matched, err := h.callbacks.OnKick(kctx, name)
		cancel()
		switch {
		case err != nil:
			resp.Status, resp.Error = "error", err.Error()
		case !matched:
			resp.Status, resp.Error = "error", fmt.Sprintf("no connection named %s", name)
		default:
			resp.Status = "success"
			resp.Data = map[string]any{"kicked": name}
		}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status, resp.Error = "error", "shutdown not implemented"
			break
		}
		slog.Warn("control: shutdown command received")
		resp.Status = "success"
		resp.Data = map[string]any{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		h.sendResponse(resp)

		delay := h.shutdownDelay
		go func() {
			time.Sleep(delay)
			h.callbacks.OnShutdown()
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

// sendResponse publishes resp on the events topic.
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Events, h.cfg.QoS["events"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
