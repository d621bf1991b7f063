package serial

import "errors"

var (
	// ErrOpenFailed is returned when a port cannot be opened or configured.
	ErrOpenFailed = errors.New("serial: open failed")

	// ErrClosed is returned for writes on a closed connection.
	ErrClosed = errors.New("serial: connection closed")

	// ErrWriteFailed is returned when a line cannot be written.
	ErrWriteFailed = errors.New("serial: write failed")

	// ErrReadFailed is returned by ReadLines when the port fails.
	ErrReadFailed = errors.New("serial: read failed")
)
