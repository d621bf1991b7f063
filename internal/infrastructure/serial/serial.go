package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bugst "go.bug.st/serial"
)

const (
	defaultBaudRate    = 9600
	defaultReadTimeout = 100 * time.Millisecond
	dataBits           = 8
	readBufferSize     = 256

	// maxLineLength bounds the receive buffer when the peer never sends a
	// newline.
	maxLineLength = 4096
)

// Port is the byte stream under a Conn. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
}

// Config selects the device and line settings.
type Config struct {
	Name        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Conn is an open serial port carrying newline-delimited text. Writes are
// serialised; a single goroutine should call ReadLines.
type Conn struct {
	name   string
	port   Port
	txMu   sync.Mutex
	closed atomic.Bool
}

// Open opens the named device. The read timeout keeps ReadLines responsive
// to context cancellation.
func Open(cfg Config) (*Conn, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: port name is empty", ErrOpenFailed)
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	port, err := bugst.Open(cfg.Name, &bugst.Mode{
		BaudRate: baud,
		DataBits: dataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Name, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: setting read timeout on %s: %w", ErrOpenFailed, cfg.Name, err)
	}

	return NewConn(cfg.Name, port), nil
}

// NewConn wraps an already open port.
func NewConn(name string, port Port) *Conn {
	return &Conn{name: name, port: port}
}

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

// Name returns the device path.
func (c *Conn) Name() string {
	return c.name
}

// WriteLine sends line followed by a newline.
func (c *Conn) WriteLine(line string) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	if _, err := io.WriteString(c.port, line+"\n"); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, c.name, err)
	}
	return nil
}

// ReadLines reads until ctx is cancelled or the connection is closed,
// calling fn for each non-empty line with its line ending removed. It
// returns nil after Close and ctx.Err() on cancellation.
func (c *Conn) ReadLines(ctx context.Context, fn func(line string)) error {
	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = splitLines(pending, fn)
			if len(pending) > maxLineLength {
				pending = pending[:0]
			}
		}
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %s: %w", ErrReadFailed, c.name, err)
		}
	}
}

// splitLines hands every complete line in data to fn and returns the
// unterminated remainder.
func splitLines(data []byte, fn func(string)) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return data
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		data = data[i+1:]
		if line != "" {
			fn(line)
		}
	}
}

// Close closes the port. Further calls are no-ops.
func (c *Conn) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", c.name, err)
	}
	return nil
}
