// Package gpio provides the digital line drivers used by the node's GPIO
// modules.
//
// Two drivers implement the Driver interface:
//   - Periph: real hardware via periph.io (Raspberry Pi and compatible hosts)
//   - Memory: an in-process simulation for dry runs and tests
//
// Pins are addressed by GPIO number, so pin 17 maps to periph's "GPIO17".
// Exclusive ownership of a line is not enforced here; see package pin.
//
// # Usage
//
//	drv, err := gpio.Open(cfg.GPIO.Driver)
//	if err != nil {
//	    return err
//	}
//	if err := drv.SetInput(17, gpio.PullUp); err != nil {
//	    return err
//	}
//	stop, err := drv.Watch(17, gpio.EdgeBoth, func(high bool) {
//	    log.Printf("GPIO17 = %v", high)
//	})
//	defer stop()
package gpio
