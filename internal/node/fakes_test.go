package node

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nerrad567/gray-logic-node/internal/pin"
)

// Test-only module kinds that exercise the registry contract without
// hardware.

type fakeComm struct {
	*Base
}

func newFakeComm(raw json.RawMessage, _ *Graph) (Comm, error) {
	var h Header
	if err := DecodeFragment(raw, &h); err != nil {
		return nil, err
	}
	return &fakeComm{Base: NewBase(h)}, nil
}

func (c *fakeComm) HealthCheck(context.Context) error { return nil }

func (c *fakeComm) Close() error {
	c.MarkClosed()
	return nil
}

func (c *fakeComm) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Header())
}

type fakeModuleConfig struct {
	Header
	Pin  *int            `json:"pin"`
	Comm json.RawMessage `json:"comm,omitempty"`
	Fail bool            `json:"fail,omitempty"`
}

type fakeOutput struct {
	*OutputBase
	pin  *pin.Handle
	comm Comm
	fail bool
}

var errFakeWrite = errors.New("fake write failed")

func newFakeOutput(raw json.RawMessage, g *Graph) (Output, error) {
	var cfg fakeModuleConfig
	if err := DecodeFragment(raw, &cfg); err != nil {
		return nil, err
	}
	if err := Required(cfg.Header, "pin", cfg.Pin != nil); err != nil {
		return nil, err
	}

	o := &fakeOutput{OutputBase: NewOutputBase(cfg.Header, 0, 1), fail: cfg.Fail}
	if len(cfg.Comm) > 0 {
		c, err := g.ResolveComm(cfg.Comm)
		if err != nil {
			return nil, err
		}
		o.comm = c
	}

	h, err := g.ClaimPin(*cfg.Pin)
	if err != nil {
		return nil, err
	}
	o.pin = h
	return o, nil
}

func (o *fakeOutput) SetValue(v int) error {
	if o.fail {
		return errFakeWrite
	}
	o.Store(o.Clamp(v))
	return nil
}

func (o *fakeOutput) SetState(s State) error {
	return o.SetValue(o.Target(s))
}

func (o *fakeOutput) Close() error {
	err := o.pin.Release()
	_ = o.OutputBase.Close()
	return err
}

func (o *fakeOutput) MarshalJSON() ([]byte, error) {
	p := o.pin.Index()
	cfg := struct {
		Header
		Pin  int    `json:"pin"`
		Comm string `json:"comm,omitempty"`
		Fail bool   `json:"fail,omitempty"`
	}{Header: o.Header(), Pin: p, Fail: o.fail}
	if o.comm != nil {
		cfg.Comm = o.comm.ID()
	}
	return json.Marshal(cfg)
}

type fakeInput struct {
	*InputBase
	pin *pin.Handle
}

func newFakeInput(raw json.RawMessage, g *Graph) (Input, error) {
	var cfg fakeModuleConfig
	if err := DecodeFragment(raw, &cfg); err != nil {
		return nil, err
	}
	if err := Required(cfg.Header, "pin", cfg.Pin != nil); err != nil {
		return nil, err
	}
	h, err := g.ClaimPin(*cfg.Pin)
	if err != nil {
		return nil, err
	}
	return &fakeInput{InputBase: NewInputBase(cfg.Header), pin: h}, nil
}

func (in *fakeInput) Close() error {
	err := in.pin.Release()
	_ = in.InputBase.Close()
	return err
}

func (in *fakeInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Header
		Pin           int           `json:"pin"`
		TriggerEvents []TriggerSpec `json:"triggerEvents,omitempty"`
	}{Header: in.Header(), Pin: in.pin.Index(), TriggerEvents: in.Triggers()})
}

func testRegistries() Registries {
	r := NewRegistries()
	r.Comms.Register("FakeComm", newFakeComm)
	r.Outputs.Register("FakeOutput", newFakeOutput)
	r.Inputs.Register("FakeInput", newFakeInput)
	return r
}

func newTestGraph(opts ...Option) *Graph {
	opts = append([]Option{WithRegistries(testRegistries())}, opts...)
	return New("test-node", opts...)
}

const testDocument = `{
  "id": "node-1",
  "name": "Workshop",
  "comms": [{"id": "bus", "type": "FakeComm"}],
  "outputs": [
    {"id": "lamp", "type": "FakeOutput", "name": "Bench lamp", "pin": 17, "comm": "bus"},
    {"id": "fan", "type": "FakeOutput", "pin": 18, "comm": {"id": "bus2", "type": "FakeComm"}}
  ],
  "programmedEvents": [
    {"id": "all-on", "outputActions": [{"outputId": "lamp", "outputValue": 1}, {"outputId": "fan"}]}
  ],
  "inputs": [
    {"id": "switch", "type": "FakeInput", "pin": 4, "triggerEvents": [{"eventId": "all-on", "triggerValue": 1}]}
  ]
}`
