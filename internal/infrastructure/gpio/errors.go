package gpio

import "errors"

// Domain-specific errors for GPIO operations.
var (
	// ErrUnknownDriver is returned by Open for an unrecognised driver name.
	ErrUnknownDriver = errors.New("gpio: unknown driver")

	// ErrPinNotFound is returned when the host has no line with the given number.
	ErrPinNotFound = errors.New("gpio: pin not found")

	// ErrInvalidMode is returned for unparseable pull or edge settings.
	ErrInvalidMode = errors.New("gpio: invalid mode")

	// ErrNotOutput is returned when writing a pin that is not configured as output.
	ErrNotOutput = errors.New("gpio: pin is not an output")

	// ErrAlreadyWatched is returned when a second watch is placed on one pin.
	ErrAlreadyWatched = errors.New("gpio: pin already watched")
)
