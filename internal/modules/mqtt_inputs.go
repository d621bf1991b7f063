package modules

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-node/internal/event"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

// mqttModuleConfig is the fragment shared by every MQTT module.
type mqttModuleConfig struct {
	node.Header
	Topic string          `json:"mqttTopic"`
	Comm  json.RawMessage `json:"comm"`
	rangeConfig
	pressConfig
}

func decodeMqtt(raw json.RawMessage, g *node.Graph) (mqttModuleConfig, *MqttComm, error) {
	var cfg mqttModuleConfig
	if err := node.DecodeFragment(raw, &cfg); err != nil {
		return cfg, nil, err
	}
	if err := node.Required(cfg.Header, "mqttTopic", cfg.Topic != ""); err != nil {
		return cfg, nil, err
	}
	comm, err := node.ResolveCommAs[*MqttComm](g, cfg.Comm)
	if err != nil {
		return cfg, nil, fmt.Errorf("%s %q: %w", cfg.Type, cfg.ID, err)
	}
	return cfg, comm, nil
}

// subscribeFailed tags a broker subscription failure during construction.
func subscribeFailed(h node.Header, err error) error {
	return transportError(h, err)
}

// inputLevel maps a command payload onto a 0/1 input value. Keywords and
// integers set the value; anything else toggles it.
func inputLevel(payload []byte, current int) int {
	if v, ok := parseLevel(string(payload), 0, 1); ok {
		return v
	}
	if current > 0 {
		return 0
	}
	return 1
}

// MqttInput is a virtual input driven by messages on cmnd/<topic>.
type MqttInput struct {
	*node.InputBase
	comm  *MqttComm
	topic string
	token *event.Token
}

func newMqttInput(raw json.RawMessage, g *node.Graph) (node.Input, error) {
	cfg, comm, err := decodeMqtt(raw, g)
	if err != nil {
		return nil, err
	}

	in := &MqttInput{InputBase: node.NewInputBase(cfg.Header), comm: comm, topic: cfg.Topic}
	in.SetLogger(g.Logger())

	in.token, err = comm.Subscribe(mqtt.Topics{}.Command(cfg.Topic), in.onMessage)
	if err != nil {
		return nil, subscribeFailed(cfg.Header, err)
	}
	return in, nil
}

func (in *MqttInput) onMessage(payload []byte) error {
	in.Update(inputLevel(payload, in.Value()))
	return nil
}

// Topic returns the device topic without the cmnd/ prefix.
func (in *MqttInput) Topic() string { return in.topic }

// Close drops the topic subscription.
func (in *MqttInput) Close() error {
	in.token.Cancel()
	return in.InputBase.Close()
}

// MarshalJSON implements node.Module.
func (in *MqttInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		mqttModuleConfig
		TriggerEvents []node.TriggerSpec `json:"triggerEvents,omitempty"`
	}{mqttModuleConfig{Header: in.Header(), Topic: in.topic, Comm: commID(in.comm)}, in.Triggers()})
}

// MqttButton is an MqttInput that classifies presses from its messages.
type MqttButton struct {
	*node.InputBase
	presses
	comm  *MqttComm
	topic string
	token *event.Token
}

func newMqttButton(raw json.RawMessage, g *node.Graph) (node.Input, error) {
	cfg, comm, err := decodeMqtt(raw, g)
	if err != nil {
		return nil, err
	}

	b := &MqttButton{
		InputBase: node.NewInputBase(cfg.Header),
		presses:   newPresses(cfg.pressConfig, g.Logger()),
		comm:      comm,
		topic:     cfg.Topic,
	}
	b.SetLogger(g.Logger())

	b.token, err = comm.Subscribe(mqtt.Topics{}.Command(cfg.Topic), b.onMessage)
	if err != nil {
		b.classifier.Close()
		return nil, subscribeFailed(cfg.Header, err)
	}
	return b, nil
}

func (b *MqttButton) onMessage(payload []byte) error {
	b.classifier.NotifyRawChange()
	b.Update(inputLevel(payload, b.Value()))
	return nil
}

// Topic returns the device topic without the cmnd/ prefix.
func (b *MqttButton) Topic() string { return b.topic }

// Close stops press detection and drops the topic subscription.
func (b *MqttButton) Close() error {
	b.token.Cancel()
	b.classifier.Close()
	return b.InputBase.Close()
}

// MarshalJSON implements node.Module.
func (b *MqttButton) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		mqttModuleConfig
		TriggerEvents []node.TriggerSpec `json:"triggerEvents,omitempty"`
	}{mqttModuleConfig{
		Header:      b.Header(),
		Topic:       b.topic,
		Comm:        commID(b.comm),
		pressConfig: b.presses.config(),
	}, b.Triggers()})
}
