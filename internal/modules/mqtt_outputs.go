package modules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-node/internal/event"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

// Awning motor commands.
const (
	AwningUp   = "UP"
	AwningDown = "DOWN"
	AwningStop = "STOP"
)

// mqttOutput holds the topic plumbing shared by MQTT outputs: commands go
// to cmnd/<topic> and device reports arrive on stat/<topic>.
type mqttOutput struct {
	*node.OutputBase

	// mu orders commands with the stored value.
	mu    sync.Mutex
	comm  *MqttComm
	topic string
	token *event.Token
}

func newMqttOutput(cfg mqttModuleConfig, comm *MqttComm, lo, hi int, g *node.Graph) *mqttOutput {
	o := &mqttOutput{
		OutputBase: node.NewOutputBase(cfg.Header, lo, hi),
		comm:       comm,
		topic:      cfg.Topic,
	}
	o.SetLogger(g.Logger())
	return o
}

// listen subscribes fn to the state topic.
func (o *mqttOutput) listen(fn event.Handler[[]byte]) error {
	tok, err := o.comm.Subscribe(mqtt.Topics{}.State(o.topic), fn)
	if err != nil {
		return subscribeFailed(o.Header(), err)
	}
	o.token = tok
	return nil
}

func (o *mqttOutput) command(payload string) error {
	if o.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, o.ID())
	}
	if err := o.comm.Publish(mqtt.Topics{}.Command(o.topic), payload); err != nil {
		return fmt.Errorf("commanding %s %q: %w", o.Type(), o.ID(), err)
	}
	return nil
}

// Topic returns the device topic without prefix.
func (o *mqttOutput) Topic() string { return o.topic }

// Close drops the state subscription.
func (o *mqttOutput) Close() error {
	o.token.Cancel()
	return o.OutputBase.Close()
}

func (o *mqttOutput) fragment(withRange bool) mqttModuleConfig {
	cfg := mqttModuleConfig{Header: o.Header(), Topic: o.topic, Comm: commID(o.comm)}
	if withRange {
		lo, hi := o.Range()
		cfg.rangeConfig = rangeConfig{RangeMin: &lo, RangeMax: &hi}
	}
	return cfg
}

// MqttSwitch is an on/off relay. Commands are ON and OFF; stat reports
// correct the stored value.
type MqttSwitch struct {
	*mqttOutput
}

func newMqttSwitch(raw json.RawMessage, g *node.Graph) (node.Output, error) {
	cfg, comm, err := decodeMqtt(raw, g)
	if err != nil {
		return nil, err
	}
	s := &MqttSwitch{newMqttOutput(cfg, comm, 0, 1, g)}
	if err := s.listen(s.onState); err != nil {
		return nil, err
	}
	return s, nil
}

func switchPayload(v int) string {
	if v > 0 {
		return "ON"
	}
	return "OFF"
}

// SetValue switches on for any value above zero.
func (s *MqttSwitch) SetValue(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(s.Clamp(v))
}

// SetState switches on, off or to the opposite of the current value.
func (s *MqttSwitch) SetState(st node.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(s.Target(st))
}

func (s *MqttSwitch) send(v int) error {
	if err := s.command(switchPayload(v)); err != nil {
		return err
	}
	s.Store(v)
	return nil
}

func (s *MqttSwitch) onState(payload []byte) error {
	v, ok := parseLevel(string(payload), 0, 1)
	if !ok {
		return fmt.Errorf("switch %q: unexpected state %q", s.ID(), payload)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Store(s.Clamp(v))
	return nil
}

// MarshalJSON implements node.Module.
func (s *MqttSwitch) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fragment(false))
}

// MqttVolume is a level control. The number is published as-is; stat
// reports of "on" and "off" map to the range ends.
type MqttVolume struct {
	*mqttOutput
}

func newMqttVolume(raw json.RawMessage, g *node.Graph) (node.Output, error) {
	cfg, comm, err := decodeMqtt(raw, g)
	if err != nil {
		return nil, err
	}
	lo, hi := cfg.bounds(0, 100)
	if lo > hi {
		return nil, fmt.Errorf("%w: %s %q: range_min %d above range_max %d", node.ErrConfig, cfg.Type, cfg.ID, lo, hi)
	}
	vol := &MqttVolume{newMqttOutput(cfg, comm, lo, hi, g)}
	if err := vol.listen(vol.onState); err != nil {
		return nil, err
	}
	return vol, nil
}

// SetValue publishes v clamped to the range.
func (vol *MqttVolume) SetValue(v int) error {
	vol.mu.Lock()
	defer vol.mu.Unlock()
	return vol.send(vol.Clamp(v))
}

// SetState publishes the range maximum, minimum or the opposite end.
func (vol *MqttVolume) SetState(st node.State) error {
	vol.mu.Lock()
	defer vol.mu.Unlock()
	return vol.send(vol.Target(st))
}

func (vol *MqttVolume) send(v int) error {
	if err := vol.command(strconv.Itoa(v)); err != nil {
		return err
	}
	vol.Store(v)
	return nil
}

func (vol *MqttVolume) onState(payload []byte) error {
	lo, hi := vol.Range()
	v, ok := parseLevel(string(payload), lo, hi)
	if !ok {
		return fmt.Errorf("volume %q: unexpected state %q", vol.ID(), payload)
	}
	vol.mu.Lock()
	defer vol.mu.Unlock()
	vol.Store(vol.Clamp(v))
	return nil
}

// MarshalJSON implements node.Module.
func (vol *MqttVolume) MarshalJSON() ([]byte, error) {
	return json.Marshal(vol.fragment(true))
}

// MqttAwning drives a motorised awning. SetValue starts the motor towards
// the target position; the value follows the positions the device reports
// and the motor is stopped once the target is reached. Fully open and fully
// closed stop by themselves.
type MqttAwning struct {
	*mqttOutput

	target   int
	moving   bool
	lowering bool
}

func newMqttAwning(raw json.RawMessage, g *node.Graph) (node.Output, error) {
	cfg, comm, err := decodeMqtt(raw, g)
	if err != nil {
		return nil, err
	}
	a := &MqttAwning{mqttOutput: newMqttOutput(cfg, comm, 0, 100, g)}
	if err := a.listen(a.onState); err != nil {
		return nil, err
	}
	return a, nil
}

// SetValue moves the awning towards v. Higher values are further down.
func (a *MqttAwning) SetValue(v int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moveTo(a.Clamp(v))
}

// SetState fully lowers, raises or reverses the awning.
func (a *MqttAwning) SetState(st node.State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moveTo(a.Target(st))
}

func (a *MqttAwning) moveTo(target int) error {
	current := a.Value()
	if target == current {
		return nil
	}
	direction := AwningUp
	if target > current {
		direction = AwningDown
	}
	if err := a.command(direction); err != nil {
		return err
	}
	a.target = target
	a.moving = true
	a.lowering = direction == AwningDown
	return nil
}

// Moving reports whether a move is in progress and its target.
func (a *MqttAwning) Moving() (target int, moving bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target, a.moving
}

func (a *MqttAwning) onState(payload []byte) error {
	pos, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return fmt.Errorf("awning %q: unexpected position %q", a.ID(), payload)
	}
	pos = a.Clamp(pos)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Store(pos)

	if !a.moving {
		return nil
	}
	// Devices report in steps, so a move ends once the target is passed.
	if (a.lowering && pos < a.target) || (!a.lowering && pos > a.target) {
		return nil
	}
	a.moving = false
	lo, hi := a.Range()
	if pos == lo || pos == hi {
		return nil
	}
	return a.command(AwningStop)
}

// MarshalJSON implements node.Module.
func (a *MqttAwning) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.fragment(false))
}
