package broker

import (
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is an inbound publication as seen by handlers.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Handler processes one message. Errors are logged by the consumer.
type Handler func(Message) error

// MultiConsumer subscribes a fixed set of topics to a single handler.
type MultiConsumer struct {
	topics  []string
	qos     byte
	mu      sync.RWMutex
	handler Handler
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewMultiConsumer(topics []string, qos byte, handler Handler, logger *slog.Logger) *MultiConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiConsumer{
		topics:  append([]string(nil), topics...),
		qos:     qos,
		handler: handler,
		logger:  logger,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
}

// SetHandler swaps the handler; safe while messages are flowing.
func (m *MultiConsumer) SetHandler(handler Handler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Topics returns the subscribed topic set.
func (m *MultiConsumer) Topics() []string {
	return append([]string(nil), m.topics...)
}

// OnConnect subscribes every topic. Install it as the connection's
// on-connect callback so subscriptions survive reconnects.
func (m *MultiConsumer) OnConnect(client mqtt.Client) {
	for _, topic := range m.topics {
		tok := client.Subscribe(topic, m.qos, m.deliver)
		if !tok.WaitTimeout(m.timeout) {
			m.logger.Error("subscribe timed out", "topic", topic)
			continue
		}
		if err := tok.Error(); err != nil {
			m.logger.Error("subscribe failed", "topic", topic, "error", err)
			continue
		}
		m.logger.Info("subscribed", "topic", topic)
	}
}

// Unsubscribe drops every topic, used on shutdown.
func (m *MultiConsumer) Unsubscribe(client mqtt.Client) {
	if client == nil || !client.IsConnectionOpen() {
		return
	}
	tok := client.Unsubscribe(m.topics...)
	tok.WaitTimeout(m.timeout)
}

func (m *MultiConsumer) deliver(_ mqtt.Client, msg mqtt.Message) {
	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler == nil {
		m.logger.Warn("no handler set", "topic", msg.Topic())
		return
	}
	in := Message{Topic: msg.Topic(), Payload: msg.Payload(), ReceivedAt: m.now()}
	if err := handler(in); err != nil {
		m.logger.Error("error handling message", "topic", in.Topic, "error", err)
	}
}
