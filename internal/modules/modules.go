package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/event"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/serial"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/press"
)

// Type tags.
const (
	TypeDigitalInput  = "DigitalInput"
	TypeDigitalButton = "DigitalButton"
	TypeDigitalOutput = "DigitalOutput"

	TypeSerialInterface = "SerialInterface"
	TypeSerialInput     = "SerialInput"
	TypeSerialOutput    = "SerialOutput"

	TypeMqttComm   = "MqttComm"
	TypeMqttInput  = "MqttInput"
	TypeMqttButton = "MqttButton"
	TypeMqttSwitch = "MqttSwitch"
	TypeMqttVolume = "MqttVolume"
	TypeMqttAwning = "MqttAwning"
)

func init() {
	node.Default.Comms.Register(TypeSerialInterface, newSerialInterface)
	node.Default.Comms.Register(TypeMqttComm, newMqttComm)

	node.Default.Outputs.Register(TypeDigitalOutput, newDigitalOutput)
	node.Default.Outputs.Register(TypeSerialOutput, newSerialOutput)
	node.Default.Outputs.Register(TypeMqttSwitch, newMqttSwitch)
	node.Default.Outputs.Register(TypeMqttVolume, newMqttVolume)
	node.Default.Outputs.Register(TypeMqttAwning, newMqttAwning)

	node.Default.Inputs.Register(TypeDigitalInput, newDigitalInput)
	node.Default.Inputs.Register(TypeDigitalButton, newDigitalButton)
	node.Default.Inputs.Register(TypeSerialInput, newSerialInput)
	node.Default.Inputs.Register(TypeMqttInput, newMqttInput)
	node.Default.Inputs.Register(TypeMqttButton, newMqttButton)
}

// Button is an input that also classifies double and long presses.
type Button interface {
	node.Input

	OnDoublePress(fn func()) *event.Token
	OnLongPress(fn func()) *event.Token
}

// mqttClient is the part of *mqtt.Client the MQTT comm uses.
type mqttClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// lineConn is the part of *serial.Conn the serial comm uses.
type lineConn interface {
	WriteLine(line string) error
	ReadLines(ctx context.Context, fn func(line string)) error
	Close() error
}

// Transport hooks, replaced in tests.
var (
	connectMQTT = func(cfg config.MQTTConfig, opts ...mqtt.Option) (mqttClient, error) {
		c, err := mqtt.Connect(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	openSerial = func(cfg serial.Config) (lineConn, error) {
		c, err := serial.Open(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
)

// pressConfig is the fragment section shared by button inputs, in
// milliseconds.
type pressConfig struct {
	DoublePressDuration *int `json:"doublePressDuration,omitempty"`
	LongPressDuration   *int `json:"longPressDuration,omitempty"`
}

func millis(v *int) time.Duration {
	if v == nil || *v <= 0 {
		return 0
	}
	return time.Duration(*v) * time.Millisecond
}

func millisField(d time.Duration) *int {
	if d <= 0 {
		return nil
	}
	ms := int(d / time.Millisecond)
	return &ms
}

// presses adds press classification to a button input.
type presses struct {
	classifier *press.Classifier
}

func newPresses(cfg pressConfig, logger node.Logger) presses {
	c := press.New(millis(cfg.DoublePressDuration), millis(cfg.LongPressDuration))
	c.SetLogger(logger)
	return presses{classifier: c}
}

// OnDoublePress registers fn for double presses.
func (p presses) OnDoublePress(fn func()) *event.Token {
	return p.classifier.OnDoublePress(fn)
}

// OnLongPress registers fn for long presses.
func (p presses) OnLongPress(fn func()) *event.Token {
	return p.classifier.OnLongPress(fn)
}

func (p presses) config() pressConfig {
	return pressConfig{
		DoublePressDuration: millisField(p.classifier.DoublePressWindow()),
		LongPressDuration:   millisField(p.classifier.LongPressWindow()),
	}
}

// rangeConfig is the optional value range of an output fragment.
type rangeConfig struct {
	RangeMin *int `json:"range_min,omitempty"`
	RangeMax *int `json:"range_max,omitempty"`
}

func (r rangeConfig) bounds(defMin, defMax int) (lo, hi int) {
	lo, hi = defMin, defMax
	if r.RangeMin != nil {
		lo = *r.RangeMin
	}
	if r.RangeMax != nil {
		hi = *r.RangeMax
	}
	return lo, hi
}

// commID returns the id a fragment should use to reference c.
func commID(c node.Comm) json.RawMessage {
	b, _ := json.Marshal(c.ID()) //nolint:errcheck // string marshal cannot fail
	return b
}

// parseLevel reads an on/off style payload. ok is false for anything that
// is neither a keyword nor an integer.
func parseLevel(payload string, lo, hi int) (v int, ok bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "true":
		return hi, true
	case "off", "false":
		return lo, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, false
	}
	return n, true
}

// transportError tags a construction-time transport failure.
func transportError(h node.Header, err error) error {
	return fmt.Errorf("%w: %s %q: %w", node.ErrTransport, h.Type, h.ID, err)
}
