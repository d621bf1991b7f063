package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-node/internal/event"
)

// Module is an addressable device abstraction owned by a Graph.
//
// MarshalJSON must produce the module's own fragment, including its type
// tag and every constructor argument, so that the fragment can be passed
// back to the registry.
type Module interface {
	json.Marshaler

	ID() string
	Type() string
	Name() string
	SetName(name string)

	// Close releases pins, subscriptions and transport handles.
	// It is called once, when the graph drops the module.
	Close() error
}

// Input is a readable value source.
type Input interface {
	Module

	Value() int

	// OnChange subscribes to value changes.
	OnChange(fn event.Handler[int]) *event.Token

	// BindEvent triggers ev whenever the value changes to trigger, or on
	// every change when trigger is nil. Binding the same event id again
	// replaces the earlier binding.
	BindEvent(ev Ref[*ProgrammedEvent], trigger *int)
}

// Output is a readable and settable value sink.
type Output interface {
	Module

	Value() int
	SetValue(v int) error
	SetState(s State) error

	OnChange(fn event.Handler[int]) *event.Token
}

// Comm is a shared transport referenced by id from inputs and outputs.
type Comm interface {
	Module

	HealthCheck(ctx context.Context) error
}

// State is a discrete output command.
type State int

// Output states.
const (
	Off State = iota
	On
	Toggle
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case On:
		return "ON"
	case Toggle:
		return "TOGGLE"
	default:
		return "OFF"
	}
}

// ParseState converts "ON", "OFF" or "TOGGLE" (any case) to a State.
func ParseState(s string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON":
		return On, nil
	case "OFF":
		return Off, nil
	case "TOGGLE":
		return Toggle, nil
	default:
		return Off, fmt.Errorf("%w: unknown state %q", ErrConfig, s)
	}
}

// Header holds the fields shared by every module fragment.
type Header struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Base implements the identity part of Module.
type Base struct {
	id      string
	typeTag string

	mu   sync.RWMutex
	name string

	closed atomic.Bool
}

// NewBase creates the identity for a module built from h.
func NewBase(h Header) *Base {
	return &Base{id: h.ID, typeTag: h.Type, name: h.Name}
}

// ID returns the module identifier.
func (b *Base) ID() string { return b.id }

// Type returns the module type tag.
func (b *Base) Type() string { return b.typeTag }

// Name returns the human-readable name.
func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// SetName replaces the human-readable name.
func (b *Base) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

// Header returns the current identity fields for serialisation.
func (b *Base) Header() Header {
	return Header{ID: b.id, Type: b.typeTag, Name: b.Name()}
}

// MarkClosed flags the module as closed. It returns false if it already was.
func (b *Base) MarkClosed() bool {
	return b.closed.CompareAndSwap(false, true)
}

// Closed reports whether Close has run.
func (b *Base) Closed() bool {
	return b.closed.Load()
}

// DecodeFragment unmarshals raw into v, reporting failures as ErrConfig.
func DecodeFragment(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// Required returns an ErrConfig naming field when ok is false.
func Required(h Header, field string, ok bool) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s %q: missing required field %q", ErrConfig, h.Type, h.ID, field)
}
