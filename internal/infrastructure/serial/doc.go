// Package serial provides line-oriented serial port access for the node's
// SerialInterface comm.
//
// Ports are opened through go.bug.st/serial with 8N1 framing. Traffic is
// newline-delimited text: the node writes "<id>:<value>\n" commands and
// reads lines of the same shape from attached microcontrollers.
//
// # Usage
//
//	conn, err := serial.Open(serial.Config{Name: "/dev/ttyUSB0", BaudRate: 9600})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	go conn.ReadLines(ctx, func(line string) {
//	    log.Printf("rx %s", line)
//	})
//	err = conn.WriteLine("lamp:1")
package serial
