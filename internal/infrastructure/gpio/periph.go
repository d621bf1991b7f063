package gpio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePollInterval bounds how long a watch goroutine blocks in WaitForEdge
// before re-checking its stop channel.
const edgePollInterval = 100 * time.Millisecond

// Periph drives real hardware lines through periph.io.
type Periph struct {
	mu      sync.Mutex
	pins    map[int]gpio.PinIO
	outputs map[int]bool
	watches map[int]*periphWatch
}

type periphWatch struct {
	stop chan struct{}
	done chan struct{}
}

// NewPeriph initialises the periph host drivers.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising periph host: %w", err)
	}
	return &Periph{
		pins:    make(map[int]gpio.PinIO),
		outputs: make(map[int]bool),
		watches: make(map[int]*periphWatch),
	}, nil
}

// lookup resolves and caches the periph line for a GPIO number.
func (p *Periph) lookup(pin int) (gpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if io, ok := p.pins[pin]; ok {
		return io, nil
	}
	io := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if io == nil {
		return nil, fmt.Errorf("%w: GPIO%d", ErrPinNotFound, pin)
	}
	p.pins[pin] = io
	return io, nil
}

func toPeriphPull(pull Pull) gpio.Pull {
	switch pull {
	case PullDown:
		return gpio.PullDown
	case PullUp:
		return gpio.PullUp
	default:
		return gpio.Float
	}
}

func toPeriphEdge(edge Edge) gpio.Edge {
	switch edge {
	case EdgeRising:
		return gpio.RisingEdge
	case EdgeFalling:
		return gpio.FallingEdge
	default:
		return gpio.BothEdges
	}
}

// SetInput configures the pin as an input without edge detection.
func (p *Periph) SetInput(pin int, pull Pull) error {
	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if err := io.In(toPeriphPull(pull), gpio.NoEdge); err != nil {
		return fmt.Errorf("configuring GPIO%d as input: %w", pin, err)
	}
	p.mu.Lock()
	delete(p.outputs, pin)
	p.mu.Unlock()
	return nil
}

// SetOutput configures the pin as an output.
func (p *Periph) SetOutput(pin int, high bool) error {
	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if err := io.Out(gpio.Level(high)); err != nil {
		return fmt.Errorf("configuring GPIO%d as output: %w", pin, err)
	}
	p.mu.Lock()
	p.outputs[pin] = true
	p.mu.Unlock()
	return nil
}

// Read returns the level of the pin.
func (p *Periph) Read(pin int) (bool, error) {
	io, err := p.lookup(pin)
	if err != nil {
		return false, err
	}
	return io.Read() == gpio.High, nil
}

// Write drives an output pin.
func (p *Periph) Write(pin int, high bool) error {
	p.mu.Lock()
	isOutput := p.outputs[pin]
	p.mu.Unlock()
	if !isOutput {
		return fmt.Errorf("%w: GPIO%d", ErrNotOutput, pin)
	}

	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if err := io.Out(gpio.Level(high)); err != nil {
		return fmt.Errorf("writing GPIO%d: %w", pin, err)
	}
	return nil
}

// Watch arms edge detection and reports every edge from a dedicated goroutine.
// The pull resistor configured by SetInput is preserved.
func (p *Periph) Watch(pin int, edge Edge, fn func(high bool)) (func(), error) {
	io, err := p.lookup(pin)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if _, ok := p.watches[pin]; ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: GPIO%d", ErrAlreadyWatched, pin)
	}
	w := &periphWatch{stop: make(chan struct{}), done: make(chan struct{})}
	p.watches[pin] = w
	p.mu.Unlock()

	if err := io.In(gpio.PullNoChange, toPeriphEdge(edge)); err != nil {
		p.mu.Lock()
		delete(p.watches, pin)
		p.mu.Unlock()
		return nil, fmt.Errorf("arming edge detection on GPIO%d: %w", pin, err)
	}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-w.stop:
				return
			default:
			}
			if io.WaitForEdge(edgePollInterval) {
				fn(io.Read() == gpio.High)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(w.stop)
			<-w.done
			p.mu.Lock()
			delete(p.watches, pin)
			p.mu.Unlock()
		})
	}
	return stop, nil
}

// Reset returns the pin to input with pull-down and disarms edge detection.
func (p *Periph) Reset(pin int) error {
	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	if err := io.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return fmt.Errorf("resetting GPIO%d: %w", pin, err)
	}
	p.mu.Lock()
	delete(p.outputs, pin)
	p.mu.Unlock()
	return nil
}
