package pin

import "errors"

var (
	// ErrInUse is returned when the requested pin is already claimed.
	ErrInUse = errors.New("pin: already in use")

	// ErrOutOfRange is returned for indices above MaxPin.
	ErrOutOfRange = errors.New("pin: index out of range")
)
