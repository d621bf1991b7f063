package gpio

import (
	"fmt"
	"sync"
)

// PinState is a snapshot of a simulated line.
type PinState struct {
	Output  bool
	Pull    Pull
	High    bool
	Watched bool
	Resets  int
}

// Memory is an in-process simulation of the GPIO header.
//
// It backs the "memory" driver used for dry runs on non-Pi hosts and in
// tests. Input levels are driven externally with Drive.
type Memory struct {
	mu   sync.Mutex
	pins map[int]*memoryPin
}

type memoryPin struct {
	state PinState
	edge  Edge
	watch func(high bool)
}

// NewMemory returns an empty simulated header.
func NewMemory() *Memory {
	return &Memory{pins: make(map[int]*memoryPin)}
}

func (m *Memory) pin(n int) *memoryPin {
	p, ok := m.pins[n]
	if !ok {
		p = &memoryPin{}
		m.pins[n] = p
	}
	return p
}

// SetInput configures the pin as an input. The idle level follows the pull.
func (m *Memory) SetInput(pin int, pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pin(pin)
	p.state.Output = false
	p.state.Pull = pull
	p.state.High = pull == PullUp
	return nil
}

// SetOutput configures the pin as an output.
func (m *Memory) SetOutput(pin int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pin(pin)
	p.state.Output = true
	p.state.High = high
	return nil
}

// Read returns the current simulated level.
func (m *Memory) Read(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin(pin).state.High, nil
}

// Write drives an output pin.
func (m *Memory) Write(pin int, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pin(pin)
	if !p.state.Output {
		return fmt.Errorf("%w: GPIO%d", ErrNotOutput, pin)
	}
	p.state.High = high
	return nil
}

// Watch registers fn for transitions driven with Drive.
func (m *Memory) Watch(pin int, edge Edge, fn func(high bool)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pin(pin)
	if p.watch != nil {
		return nil, fmt.Errorf("%w: GPIO%d", ErrAlreadyWatched, pin)
	}
	p.watch = fn
	p.edge = edge
	p.state.Watched = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			p.watch = nil
			p.state.Watched = false
			m.mu.Unlock()
		})
	}, nil
}

// Reset returns the pin to input with pull-down.
func (m *Memory) Reset(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pin(pin)
	p.state.Output = false
	p.state.Pull = PullDown
	p.state.High = false
	p.state.Resets++
	return nil
}

// Drive sets the level of a simulated input and reports the transition to
// any watcher whose edge matches. The watcher runs on the caller's goroutine.
func (m *Memory) Drive(pin int, high bool) {
	m.mu.Lock()
	p := m.pin(pin)
	changed := p.state.High != high
	p.state.High = high
	fn := p.watch
	edge := p.edge
	m.mu.Unlock()

	if !changed || fn == nil {
		return
	}
	switch {
	case edge == EdgeRising && !high, edge == EdgeFalling && high:
		return
	}
	fn(high)
}

// State returns a snapshot of the simulated pin.
func (m *Memory) State(pin int) PinState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pin(pin).state
}
