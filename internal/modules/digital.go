package modules

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/gpio"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/pin"
)

// digitalConfig is the fragment of every GPIO module.
type digitalConfig struct {
	node.Header
	Pin     *int   `json:"pin"`
	Pud     string `json:"pud,omitempty"`
	ISRMode string `json:"isr_mode,omitempty"`
	pressConfig
}

func decodeDigital(raw json.RawMessage) (digitalConfig, error) {
	var cfg digitalConfig
	if err := node.DecodeFragment(raw, &cfg); err != nil {
		return cfg, err
	}
	if err := node.Required(cfg.Header, "pin", cfg.Pin != nil); err != nil {
		return cfg, err
	}
	if *cfg.Pin < 0 {
		return cfg, fmt.Errorf("%w: %s %q: pin %d is not a GPIO line", node.ErrConfig, cfg.Type, cfg.ID, *cfg.Pin)
	}
	return cfg, nil
}

// digitalLine is a claimed GPIO input line.
//
// The hardware watch always reports both edges so the stored value tracks
// the line; edge only filters which transitions are published.
type digitalLine struct {
	drv  gpio.Driver
	pin  *pin.Handle
	pull gpio.Pull
	edge gpio.Edge
	stop func()
}

func openDigitalLine(cfg digitalConfig, g *node.Graph) (*digitalLine, bool, error) {
	pull, err := gpio.ParsePull(cfg.Pud)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s %q: %w", node.ErrConfig, cfg.Type, cfg.ID, err)
	}
	edge, err := gpio.ParseEdge(cfg.ISRMode)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s %q: %w", node.ErrConfig, cfg.Type, cfg.ID, err)
	}

	h, err := g.ClaimPin(*cfg.Pin)
	if err != nil {
		return nil, false, err
	}
	drv := g.GPIO()
	if err := drv.SetInput(h.Index(), pull); err != nil {
		_ = h.Release() //nolint:errcheck // already failing
		return nil, false, transportError(cfg.Header, err)
	}
	high, err := drv.Read(h.Index())
	if err != nil {
		_ = h.Release() //nolint:errcheck // already failing
		return nil, false, transportError(cfg.Header, err)
	}
	return &digitalLine{drv: drv, pin: h, pull: pull, edge: edge}, high, nil
}

// watch starts delivering transitions. report is true when the edge
// matches the configured isr_mode.
func (l *digitalLine) watch(h node.Header, fn func(high, report bool)) error {
	stop, err := l.drv.Watch(l.pin.Index(), gpio.EdgeBoth, func(high bool) {
		report := l.edge == gpio.EdgeBoth ||
			(l.edge == gpio.EdgeRising && high) ||
			(l.edge == gpio.EdgeFalling && !high)
		fn(high, report)
	})
	if err != nil {
		return transportError(h, err)
	}
	l.stop = stop
	return nil
}

func (l *digitalLine) close() error {
	if l.stop != nil {
		l.stop()
	}
	return l.pin.Release()
}

func (l *digitalLine) fragment(h node.Header) digitalConfig {
	p := l.pin.Index()
	return digitalConfig{
		Header:  h,
		Pin:     &p,
		Pud:     l.pull.String(),
		ISRMode: l.edge.String(),
	}
}

func level(high bool) int {
	if high {
		return 1
	}
	return 0
}

// DigitalInput reads a GPIO line. Its value is 1 while the line is high.
type DigitalInput struct {
	*node.InputBase
	line *digitalLine
}

func newDigitalInput(raw json.RawMessage, g *node.Graph) (node.Input, error) {
	cfg, err := decodeDigital(raw)
	if err != nil {
		return nil, err
	}
	line, high, err := openDigitalLine(cfg, g)
	if err != nil {
		return nil, err
	}

	in := &DigitalInput{InputBase: node.NewInputBase(cfg.Header), line: line}
	in.SetLogger(g.Logger())
	in.Init(level(high))

	if err := line.watch(cfg.Header, in.onEdge); err != nil {
		_ = line.close() //nolint:errcheck // already failing
		return nil, err
	}
	return in, nil
}

func (in *DigitalInput) onEdge(high, report bool) {
	if report {
		in.Update(level(high))
		return
	}
	in.Init(level(high))
}

// Pin returns the GPIO line number.
func (in *DigitalInput) Pin() int { return in.line.pin.Index() }

// Close stops the watch and releases the pin.
func (in *DigitalInput) Close() error {
	if in.Closed() {
		return nil
	}
	_ = in.InputBase.Close()
	return in.line.close()
}

// MarshalJSON implements node.Module.
func (in *DigitalInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		digitalConfig
		TriggerEvents []node.TriggerSpec `json:"triggerEvents,omitempty"`
	}{in.line.fragment(in.Header()), in.Triggers()})
}

// DigitalButton is a DigitalInput that also classifies double and long
// presses from the raw line transitions.
type DigitalButton struct {
	*node.InputBase
	presses
	line *digitalLine
}

func newDigitalButton(raw json.RawMessage, g *node.Graph) (node.Input, error) {
	cfg, err := decodeDigital(raw)
	if err != nil {
		return nil, err
	}
	line, high, err := openDigitalLine(cfg, g)
	if err != nil {
		return nil, err
	}

	b := &DigitalButton{
		InputBase: node.NewInputBase(cfg.Header),
		presses:   newPresses(cfg.pressConfig, g.Logger()),
		line:      line,
	}
	b.SetLogger(g.Logger())
	b.Init(level(high))

	if err := line.watch(cfg.Header, b.onEdge); err != nil {
		b.classifier.Close()
		_ = line.close() //nolint:errcheck // already failing
		return nil, err
	}
	return b, nil
}

func (b *DigitalButton) onEdge(high, report bool) {
	b.classifier.NotifyRawChange()
	if report {
		b.Update(level(high))
		return
	}
	b.Init(level(high))
}

// Pin returns the GPIO line number.
func (b *DigitalButton) Pin() int { return b.line.pin.Index() }

// Close stops press detection, the watch and releases the pin.
func (b *DigitalButton) Close() error {
	if b.Closed() {
		return nil
	}
	_ = b.InputBase.Close()
	b.classifier.Close()
	return b.line.close()
}

// MarshalJSON implements node.Module.
func (b *DigitalButton) MarshalJSON() ([]byte, error) {
	frag := b.line.fragment(b.Header())
	frag.pressConfig = b.presses.config()
	return json.Marshal(struct {
		digitalConfig
		TriggerEvents []node.TriggerSpec `json:"triggerEvents,omitempty"`
	}{frag, b.Triggers()})
}

// DigitalOutput drives a GPIO line. Its range is 0..1.
type DigitalOutput struct {
	*node.OutputBase

	// mu orders hardware writes with the stored value. Change callbacks
	// run under it and must not set this output synchronously.
	mu  sync.Mutex
	drv gpio.Driver
	pin *pin.Handle
}

func newDigitalOutput(raw json.RawMessage, g *node.Graph) (node.Output, error) {
	cfg, err := decodeDigital(raw)
	if err != nil {
		return nil, err
	}

	h, err := g.ClaimPin(*cfg.Pin)
	if err != nil {
		return nil, err
	}
	drv := g.GPIO()
	if err := drv.SetOutput(h.Index(), false); err != nil {
		_ = h.Release() //nolint:errcheck // already failing
		return nil, transportError(cfg.Header, err)
	}

	o := &DigitalOutput{OutputBase: node.NewOutputBase(cfg.Header, 0, 1), drv: drv, pin: h}
	o.SetLogger(g.Logger())
	return o, nil
}

// SetValue drives the line high for any value above zero.
func (o *DigitalOutput) SetValue(v int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.write(o.Clamp(v))
}

// SetState drives the line on, off or to the opposite level.
func (o *DigitalOutput) SetState(s node.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.write(o.Target(s))
}

func (o *DigitalOutput) write(v int) error {
	if o.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, o.ID())
	}
	if err := o.drv.Write(o.pin.Index(), v > 0); err != nil {
		return fmt.Errorf("writing %s %q: %w", o.Type(), o.ID(), err)
	}
	o.Store(v)
	return nil
}

// Pin returns the GPIO line number.
func (o *DigitalOutput) Pin() int { return o.pin.Index() }

// Close releases the pin, which resets the line to an input.
func (o *DigitalOutput) Close() error {
	if o.Closed() {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.OutputBase.Close()
	return o.pin.Release()
}

// MarshalJSON implements node.Module.
func (o *DigitalOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		node.Header
		Pin int `json:"pin"`
	}{o.Header(), o.pin.Index()})
}
