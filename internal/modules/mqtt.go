package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-node/internal/event"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

const defaultClientID = "graylogic-node"

type mqttCommConfig struct {
	node.Header
	Broker   string `json:"broker,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// MqttComm is a broker connection shared by MQTT modules. The underlying
// client keeps one handler per topic, so MqttComm fans each topic out to
// any number of module subscribers.
type MqttComm struct {
	*node.Base

	fragment mqttCommConfig
	client   mqttClient
	qos      byte
	logger   node.Logger

	mu     sync.Mutex
	topics map[string]*event.Binding[[]byte]
}

func newMqttComm(raw json.RawMessage, g *node.Graph) (node.Comm, error) {
	var cfg mqttCommConfig
	if err := node.DecodeFragment(raw, &cfg); err != nil {
		return nil, err
	}

	conn := brokerConfig(g.MQTTDefaults(), cfg)
	if err := node.Required(cfg.Header, "broker", conn.Broker.Host != ""); err != nil {
		return nil, err
	}

	logger := g.Logger()
	client, err := connectMQTT(conn, mqtt.WithStatusTopic(""), mqtt.WithLogger(logger))
	if err != nil {
		return nil, transportError(cfg.Header, err)
	}

	logger.Info("mqtt comm connected",
		"id", cfg.ID,
		"broker", conn.Broker.Host,
		"port", conn.Broker.Port,
		"client_id", conn.Broker.ClientID,
	)
	return &MqttComm{
		Base:     node.NewBase(cfg.Header),
		fragment: cfg,
		client:   client,
		qos:      byte(conn.QoS), //nolint:gosec // QoS validated by config
		logger:   logger,
		topics:   make(map[string]*event.Binding[[]byte]),
	}, nil
}

// brokerConfig overlays the fragment's connection fields on the node
// defaults. Each comm gets its own client id so several comms can share
// a broker.
func brokerConfig(defaults config.MQTTConfig, cfg mqttCommConfig) config.MQTTConfig {
	conn := defaults
	if cfg.Broker != "" {
		conn.Broker.Host = cfg.Broker
	}
	if cfg.Port != 0 {
		conn.Broker.Port = cfg.Port
	}
	if conn.Broker.Port == 0 {
		conn.Broker.Port = 1883
	}
	if cfg.Username != "" {
		conn.Auth.Username = cfg.Username
		conn.Auth.Password = cfg.Password
	}
	base := conn.Broker.ClientID
	if base == "" {
		base = defaultClientID
	}
	conn.Broker.ClientID = base + "-" + cfg.ID
	return conn
}

// Publish sends payload on topic.
func (c *MqttComm) Publish(topic, payload string) error {
	if c.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, c.ID())
	}
	c.logger.Debug("mqtt publish", "comm", c.ID(), "topic", topic, "payload", payload)
	return c.client.Publish(topic, []byte(payload), c.qos, false)
}

// Subscribe registers fn for messages on topic. The broker subscription is
// made on first use and dropped when the last token is cancelled.
func (c *MqttComm) Subscribe(topic string, fn event.Handler[[]byte]) (*event.Token, error) {
	if c.Closed() {
		return nil, fmt.Errorf("%w: %q", node.ErrClosed, c.ID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.topics[topic]
	if !ok {
		b = event.NewBinding[[]byte]("mqtt:" + topic)
		b.SetLogger(c.logger)
		err := c.client.Subscribe(topic, c.qos, func(_ string, payload []byte) error {
			b.Publish(payload)
			return nil
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("subscribing %q on %q: %w", topic, c.ID(), err)
		}
		c.topics[topic] = b
	}

	inner := b.Subscribe(fn)
	return event.NewToken(func() {
		inner.Cancel()
		c.release(topic)
	}), nil
}

// Subscribers returns the number of live subscriptions to topic.
func (c *MqttComm) Subscribers(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.topics[topic]; ok {
		return b.Len()
	}
	return 0
}

func (c *MqttComm) release(topic string) {
	c.mu.Lock()
	b, ok := c.topics[topic]
	if !ok || b.Len() > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.topics, topic)
	c.mu.Unlock()

	b.Close()
	if c.Closed() {
		return
	}
	if err := c.client.Unsubscribe(topic); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		c.logger.Warn("mqtt unsubscribe failed", "comm", c.ID(), "topic", topic, "error", err)
	}
}

// HealthCheck reports the broker connection state.
func (c *MqttComm) HealthCheck(ctx context.Context) error {
	if c.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, c.ID())
	}
	if err := c.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %q: %w", node.ErrTransport, c.ID(), err)
	}
	return nil
}

// Close drops every subscription and disconnects.
func (c *MqttComm) Close() error {
	if !c.MarkClosed() {
		return nil
	}
	c.mu.Lock()
	topics := c.topics
	c.topics = make(map[string]*event.Binding[[]byte])
	c.mu.Unlock()

	for _, b := range topics {
		b.Close()
	}
	return c.client.Close()
}

// MarshalJSON implements node.Module. Only the connection fields given in
// the original fragment are emitted.
func (c *MqttComm) MarshalJSON() ([]byte, error) {
	out := c.fragment
	out.Header = c.Header()
	return json.Marshal(out)
}
