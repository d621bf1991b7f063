package gpio

import (
	"fmt"
	"strings"
)

// Pull selects the internal resistor applied to an input line.
type Pull int

// Pull settings.
const (
	PullOff Pull = iota
	PullDown
	PullUp
)

// String returns the configuration name of the pull setting.
func (p Pull) String() string {
	switch p {
	case PullDown:
		return "down"
	case PullUp:
		return "up"
	default:
		return "off"
	}
}

// ParsePull converts a configuration value ("off", "down", "up") to a Pull.
// An empty string selects PullOff.
func ParsePull(s string) (Pull, error) {
	switch strings.ToLower(s) {
	case "", "off", "none":
		return PullOff, nil
	case "down":
		return PullDown, nil
	case "up":
		return PullUp, nil
	default:
		return PullOff, fmt.Errorf("%w: pull %q", ErrInvalidMode, s)
	}
}

// Edge selects which transitions an input watch reports.
type Edge int

// Edge settings.
const (
	EdgeBoth Edge = iota
	EdgeRising
	EdgeFalling
)

// String returns the configuration name of the edge setting.
func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "both"
	}
}

// ParseEdge converts a configuration value ("rising", "falling", "both") to an Edge.
// An empty string selects EdgeBoth.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(s) {
	case "", "both":
		return EdgeBoth, nil
	case "rising":
		return EdgeRising, nil
	case "falling":
		return EdgeFalling, nil
	default:
		return EdgeBoth, fmt.Errorf("%w: edge %q", ErrInvalidMode, s)
	}
}

// Driver is the hardware boundary for digital lines.
//
// Pins are addressed by their BCM/GPIO number. Implementations must be safe
// for concurrent use.
type Driver interface {
	// SetInput configures the pin as an input with the given pull resistor.
	SetInput(pin int, pull Pull) error

	// SetOutput configures the pin as an output driven to the given level.
	SetOutput(pin int, high bool) error

	// Read returns the current level of the pin.
	Read(pin int) (bool, error)

	// Write drives an output pin.
	Write(pin int, high bool) error

	// Watch delivers the level after every matching transition until the
	// returned stop function is called. Stop blocks until no further
	// callbacks will be made.
	Watch(pin int, edge Edge, fn func(high bool)) (stop func(), err error)

	// Reset returns the pin to the idle mode: input with pull-down.
	Reset(pin int) error
}

// Open returns the driver selected by name ("periph" or "memory").
func Open(name string) (Driver, error) {
	switch strings.ToLower(name) {
	case "", "periph":
		return NewPeriph()
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
}
