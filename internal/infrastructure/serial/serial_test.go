package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// pipePort feeds reads from an io.Pipe and records writes.
type pipePort struct {
	r  *io.PipeReader
	w  *io.PipeWriter
	mu sync.Mutex
	tx bytes.Buffer
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.Write(b)
}

func (p *pipePort) Close() error {
	p.r.Close()
	return nil
}

func (p *pipePort) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx.String()
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantLine []string
		wantRest string
	}{
		{"single", "lamp:1\n", []string{"lamp:1"}, ""},
		{"crlf", "lamp:1\r\n", []string{"lamp:1"}, ""},
		{"partial", "lamp:1\nfan:", []string{"lamp:1"}, "fan:"},
		{"blank lines skipped", "\n\nfan:0\n", []string{"fan:0"}, ""},
		{"no newline", "fan", nil, "fan"},
	}
	for _, tt := range tests {
		var got []string
		rest := splitLines([]byte(tt.in), func(l string) { got = append(got, l) })
		if len(got) != len(tt.wantLine) {
			t.Errorf("%s: lines = %q, want %q", tt.name, got, tt.wantLine)
			continue
		}
		for i := range got {
			if got[i] != tt.wantLine[i] {
				t.Errorf("%s: line[%d] = %q, want %q", tt.name, i, got[i], tt.wantLine[i])
			}
		}
		if string(rest) != tt.wantRest {
			t.Errorf("%s: rest = %q, want %q", tt.name, rest, tt.wantRest)
		}
	}
}

func TestWriteLine(t *testing.T) {
	port := newPipePort()
	conn := NewConn("/dev/fake", port)

	if err := conn.WriteLine("lamp:1"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if err := conn.WriteLine("fan:40"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if got := port.written(); got != "lamp:1\nfan:40\n" {
		t.Errorf("written = %q, want %q", got, "lamp:1\nfan:40\n")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := conn.WriteLine("lamp:0"); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteLine() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestReadLines(t *testing.T) {
	port := newPipePort()
	conn := NewConn("/dev/fake", port)

	lines := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- conn.ReadLines(context.Background(), func(l string) { lines <- l })
	}()

	go func() {
		port.w.Write([]byte("door:1\nwin")) //nolint:errcheck // pipe
		port.w.Write([]byte("dow:0\r\n"))   //nolint:errcheck // pipe
	}()

	for _, want := range []string{"door:1", "window:0"} {
		select {
		case got := <-lines:
			if got != want {
				t.Errorf("line = %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	conn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ReadLines() after Close error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadLines did not return after Close")
	}
}

func TestReadLines_CancelledContext(t *testing.T) {
	conn := NewConn("/dev/fake", newPipePort())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := conn.ReadLines(ctx, func(string) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadLines() error = %v, want %v", err, context.Canceled)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(Config{}); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open(empty) error = %v, want %v", err, ErrOpenFailed)
	}
	if _, err := Open(Config{Name: "/dev/graylogic-does-not-exist"}); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open(missing) error = %v, want %v", err, ErrOpenFailed)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Conn
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}
