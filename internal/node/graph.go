package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/gpio"
	"github.com/nerrad567/gray-logic-node/internal/pin"
)

// Logger defines the logging interface used by the graph and its modules.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Graph owns every module and programmed event of one controller node.
//
// Each of the four collections has its own lock, so inserting an output
// never blocks an input lookup. Only the graph holds strong references to
// modules; cross references between modules are Refs.
//
// All public methods are thread-safe.
type Graph struct {
	infoMu sync.RWMutex
	id     string
	name   string

	comms   *collection[Comm]
	outputs *collection[Output]
	events  *collection[*ProgrammedEvent]
	inputs  *collection[Input]

	registries Registries
	pins       *pin.Guard
	gpio       gpio.Driver
	validator  *Validator
	mqtt       config.MQTTConfig
	serial     config.SerialConfig
	logger     Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger passed to modules.
func WithLogger(logger Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRegistries replaces the default registries.
func WithRegistries(r Registries) Option {
	return func(g *Graph) { g.registries = r }
}

// WithPins sets the process-wide pin guard.
func WithPins(guard *pin.Guard) Option {
	return func(g *Graph) { g.pins = guard }
}

// WithGPIO sets the hardware driver for digital modules.
func WithGPIO(drv gpio.Driver) Option {
	return func(g *Graph) { g.gpio = drv }
}

// WithValidator sets the schema validator used by Apply.
func WithValidator(v *Validator) Option {
	return func(g *Graph) { g.validator = v }
}

// WithMQTTDefaults sets connection defaults for MQTT comms that omit them.
func WithMQTTDefaults(cfg config.MQTTConfig) Option {
	return func(g *Graph) { g.mqtt = cfg }
}

// WithSerialDefaults sets the baud rate and read timeout for serial comms
// that omit them.
func WithSerialDefaults(cfg config.SerialConfig) Option {
	return func(g *Graph) { g.serial = cfg }
}

// New creates an empty graph.
//
// Without options the graph uses the Default registries, an in-memory GPIO
// driver and a private pin guard.
func New(id string, opts ...Option) *Graph {
	g := &Graph{
		id:         id,
		comms:      newCollection[Comm](),
		outputs:    newCollection[Output](),
		events:     newCollection[*ProgrammedEvent](),
		inputs:     newCollection[Input](),
		registries: Default,
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.gpio == nil {
		g.gpio = gpio.NewMemory()
	}
	if g.pins == nil {
		g.pins = pin.NewGuard(g.gpio)
	}
	return g
}

// ID returns the node identifier.
func (g *Graph) ID() string {
	g.infoMu.RLock()
	defer g.infoMu.RUnlock()
	return g.id
}

// Name returns the node name.
func (g *Graph) Name() string {
	g.infoMu.RLock()
	defer g.infoMu.RUnlock()
	return g.name
}

// SetName replaces the node name.
func (g *Graph) SetName(name string) {
	g.infoMu.Lock()
	g.name = name
	g.infoMu.Unlock()
}

// Logger returns the logger modules should use.
func (g *Graph) Logger() Logger { return g.logger }

// GPIO returns the hardware driver for digital modules.
func (g *Graph) GPIO() gpio.Driver { return g.gpio }

// MQTTDefaults returns connection defaults for MQTT comms.
func (g *Graph) MQTTDefaults() config.MQTTConfig { return g.mqtt }

// SerialDefaults returns defaults for serial comms.
func (g *Graph) SerialDefaults() config.SerialConfig { return g.serial }

// Registries returns the registries used by Apply.
func (g *Graph) Registries() Registries { return g.registries }

// ClaimPin acquires index from the process-wide guard, reporting conflicts
// as ErrResourceConflict.
func (g *Graph) ClaimPin(index int) (*pin.Handle, error) {
	h, err := g.pins.Acquire(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceConflict, err)
	}
	return h, nil
}

// Comm returns the comm with the given id.
func (g *Graph) Comm(id string) (Comm, bool) { return g.comms.get(id) }

// Output returns the output with the given id.
func (g *Graph) Output(id string) (Output, bool) { return g.outputs.get(id) }

// Input returns the input with the given id.
func (g *Graph) Input(id string) (Input, bool) { return g.inputs.get(id) }

// Event returns the programmed event with the given id.
func (g *Graph) Event(id string) (*ProgrammedEvent, bool) { return g.events.get(id) }

// OutputRef returns a weak reference to an output.
func (g *Graph) OutputRef(id string) (Ref[Output], bool) { return g.outputs.ref(id) }

// EventRef returns a weak reference to a programmed event.
func (g *Graph) EventRef(id string) (Ref[*ProgrammedEvent], bool) { return g.events.ref(id) }

// AddComm inserts c. It returns false without mutation if the id is taken.
func (g *Graph) AddComm(c Comm) bool { return g.comms.add(c) }

// AddOutput inserts o. It returns false without mutation if the id is taken.
func (g *Graph) AddOutput(o Output) bool { return g.outputs.add(o) }

// AddInput inserts in. It returns false without mutation if the id is taken.
func (g *Graph) AddInput(in Input) bool { return g.inputs.add(in) }

// AddEvent inserts ev. It returns false without mutation if the id is taken.
func (g *Graph) AddEvent(ev *ProgrammedEvent) bool {
	ev.SetLogger(g.logger)
	return g.events.add(ev)
}

// Comms returns the comms in insertion order.
func (g *Graph) Comms() []Comm { return g.comms.list() }

// Outputs returns the outputs in insertion order.
func (g *Graph) Outputs() []Output { return g.outputs.list() }

// Inputs returns the inputs in insertion order.
func (g *Graph) Inputs() []Input { return g.inputs.list() }

// Events returns the programmed events in insertion order.
func (g *Graph) Events() []*ProgrammedEvent { return g.events.list() }

// Counts returns the number of comms, outputs, events and inputs.
func (g *Graph) Counts() (comms, outputs, events, inputs int) {
	return g.comms.len(), g.outputs.len(), g.events.len(), g.inputs.len()
}

// RemoveComm drops and closes a comm. Modules still using it keep their
// own handle; new references by id will fail.
func (g *Graph) RemoveComm(id string) bool {
	c, ok := g.comms.remove(id)
	if ok {
		closeQuietly(g, c)
	}
	return ok
}

// RemoveOutput drops and closes an output, expiring every Ref to it.
func (g *Graph) RemoveOutput(id string) bool {
	o, ok := g.outputs.remove(id)
	if ok {
		closeQuietly(g, o)
	}
	return ok
}

// RemoveInput drops and closes an input.
func (g *Graph) RemoveInput(id string) bool {
	in, ok := g.inputs.remove(id)
	if ok {
		closeQuietly(g, in)
	}
	return ok
}

// RemoveEvent drops a programmed event, expiring every Ref to it.
func (g *Graph) RemoveEvent(id string) bool {
	ev, ok := g.events.remove(id)
	if ok {
		_ = ev.Close() //nolint:errcheck // always nil
	}
	return ok
}

// Close tears the graph down in reverse load order: inputs, events,
// outputs, then comms. Every module is closed even if some fail.
func (g *Graph) Close() error {
	var errs []error
	for _, in := range g.inputs.drain() {
		errs = append(errs, in.Close())
	}
	for _, ev := range g.events.drain() {
		errs = append(errs, ev.Close())
	}
	for _, o := range g.outputs.drain() {
		errs = append(errs, o.Close())
	}
	for _, c := range g.comms.drain() {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
