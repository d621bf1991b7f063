// Package node models one Gray Logic controller node as a graph of modules.
//
// # Architecture
//
// A node document declares four sections that are built in a fixed order:
//
//	comms → outputs → programmedEvents → inputs
//
// Each module family (Comm, Output, Input) has a Registry mapping a type tag
// such as "DigitalOutput" or "MqttSwitch" to a Constructor. Adapter
// packages register their constructors from init functions into Default;
// the graph resolves fragments through those registries without knowing any
// concrete type.
//
// The Graph is the only strong owner of modules. Programmed events hold
// Refs to outputs and inputs hold Refs to programmed events, so removing an
// entry from the graph expires every reference to it and no ownership cycle
// can form.
//
// # Idempotent Loading
//
// Building a fragment whose id is already present returns the existing
// module untouched, so Apply can re-run the same document (for example on
// a file change) and only new entries are constructed.
//
// # Error Taxonomy
//
//   - ErrConfig: malformed document, schema failure, unknown type tag,
//     missing field, dangling reference
//   - ErrResourceConflict: pin already claimed or out of range
//   - ErrTransport: serial port or broker unavailable at construction
//
// Callback failures never surface as errors; they are logged by the
// publisher (see package event).
//
// # Usage
//
//	v, _ := node.NewValidator()
//	g, err := node.LoadFile("/etc/graylogic/node.json",
//	    node.WithValidator(v),
//	    node.WithGPIO(drv),
//	    node.WithPins(pin.NewGuard(drv)),
//	    node.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
package node
