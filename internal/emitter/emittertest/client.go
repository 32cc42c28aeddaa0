// Package emittertest provides an in-memory MQTT client for tests.
package emittertest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one recorded publish.
type Message struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Client records publishes and routes Deliver calls to subscribers. Methods
// not listed here panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu           sync.Mutex
	disconnected bool
	published    []Message
	subs         map[string]mqtt.MessageHandler
	pubCh        chan Message
}

// New returns a connected client.
func New() *Client {
	return &Client{
		subs:  make(map[string]mqtt.MessageHandler),
		pubCh: make(chan Message, 256),
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

// SetConnected toggles the reported connection state.
func (c *Client) SetConnected(ok bool) {
	c.mu.Lock()
	c.disconnected = !ok
	c.mu.Unlock()
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	m := Message{Topic: topic, QoS: qos, Payload: data}

	c.mu.Lock()
	c.published = append(c.published, m)
	c.mu.Unlock()
	select {
	case c.pubCh <- m:
	default:
	}
	return done(nil)
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return done(nil)
}

// Deliver hands payload to the subscriber of topic and reports whether one
// exists.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb := c.subs[topic]
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(c, &message{topic: topic, payload: payload})
	return true
}

// Published returns a copy of every recorded publish.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Next waits for the next publish on topic.
func (c *Client) Next(topic string, timeout time.Duration) (Message, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case m := <-c.pubCh:
			if m.Topic == topic {
				return m, true
			}
		case <-deadline:
			return Message{}, false
		}
	}
}

type token struct {
	err error
	ch  chan struct{}
}

func done(err error) *token {
	t := &token{err: err, ch: make(chan struct{})}
	close(t.ch)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.ch }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
