package node

import "errors"

// Domain errors for the node package.
//
// Construction failures wrap one of these so callers can classify them:
//
//	if errors.Is(err, node.ErrResourceConflict) {
//	    // two modules claimed the same pin
//	}
var (
	// ErrConfig is returned for malformed or schema-invalid documents,
	// unknown type tags, missing required fields and dangling references.
	ErrConfig = errors.New("node: invalid configuration")

	// ErrResourceConflict is returned when a module cannot claim a pin.
	ErrResourceConflict = errors.New("node: resource conflict")

	// ErrTransport is returned when a module's transport cannot be opened
	// during construction.
	ErrTransport = errors.New("node: transport failure")

	// ErrNotFound is returned when a referenced module id does not exist.
	ErrNotFound = errors.New("node: module not found")

	// ErrClosed is returned when operating on a module that has been removed.
	ErrClosed = errors.New("node: module closed")
)
