package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/event"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/serial"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/pin"
)

const (
	defaultSerialBaud = 9600
	serialReadTimeout = 100 * time.Millisecond
)

type serialInterfaceConfig struct {
	node.Header
	Port  string `json:"port"`
	Baud  int    `json:"baud,omitempty"`
	TxPin *int   `json:"txPin,omitempty"`
	RxPin *int   `json:"rxPin,omitempty"`
}

// SerialInterface is a shared serial port. Outputs write "<id>:<value>"
// lines to it; every received line is fanned out to SerialInput modules.
type SerialInterface struct {
	*node.Base

	port   string
	baud   int
	txPin  *pin.Handle
	rxPin  *pin.Handle
	conn   lineConn
	lines  *event.Binding[string]
	logger node.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	readErr error
}

func newSerialInterface(raw json.RawMessage, g *node.Graph) (node.Comm, error) {
	var cfg serialInterfaceConfig
	if err := node.DecodeFragment(raw, &cfg); err != nil {
		return nil, err
	}
	if err := node.Required(cfg.Header, "port", cfg.Port != ""); err != nil {
		return nil, err
	}
	defaults := g.SerialDefaults()
	baud := cfg.Baud
	if baud <= 0 {
		baud = defaults.BaudRate
	}
	if baud <= 0 {
		baud = defaultSerialBaud
	}
	readTimeout := time.Duration(defaults.ReadTimeout) * time.Millisecond
	if readTimeout <= 0 {
		readTimeout = serialReadTimeout
	}

	s := &SerialInterface{
		Base:   node.NewBase(cfg.Header),
		port:   cfg.Port,
		baud:   baud,
		lines:  event.NewBinding[string]("serial:" + cfg.ID),
		logger: g.Logger(),
		done:   make(chan struct{}),
	}
	s.lines.SetLogger(g.Logger())

	var err error
	if s.txPin, err = claimOptionalPin(g, cfg.TxPin); err != nil {
		return nil, err
	}
	if s.rxPin, err = claimOptionalPin(g, cfg.RxPin); err != nil {
		_ = s.txPin.Release() //nolint:errcheck // already failing
		return nil, err
	}

	conn, err := openSerial(serial.Config{Name: cfg.Port, BaudRate: baud, ReadTimeout: readTimeout})
	if err != nil {
		s.releasePins()
		return nil, transportError(cfg.Header, err)
	}
	s.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.readLoop(ctx)

	s.logger.Info("serial interface open", "id", cfg.ID, "port", cfg.Port, "baud", baud)
	return s, nil
}

// claimOptionalPin claims a pin when the fragment names one and returns
// the sentinel handle otherwise.
func claimOptionalPin(g *node.Graph, index *int) (*pin.Handle, error) {
	if index == nil {
		return g.ClaimPin(pin.None)
	}
	return g.ClaimPin(*index)
}

func (s *SerialInterface) readLoop(ctx context.Context) {
	defer close(s.done)

	err := s.conn.ReadLines(ctx, func(line string) {
		s.logger.Debug("serial line received", "id", s.ID(), "line", line)
		s.lines.Publish(line)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("serial read loop stopped", "id", s.ID(), "port", s.port, "error", err)
		s.mu.Lock()
		s.readErr = err
		s.mu.Unlock()
	}
}

// Port returns the device path.
func (s *SerialInterface) Port() string { return s.port }

// WriteLine sends one line.
func (s *SerialInterface) WriteLine(line string) error {
	if s.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, s.ID())
	}
	return s.conn.WriteLine(line)
}

// OnLine subscribes to received lines.
func (s *SerialInterface) OnLine(fn event.Handler[string]) *event.Token {
	return s.lines.Subscribe(fn)
}

// HealthCheck reports a closed interface or a failed read loop.
func (s *SerialInterface) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, s.ID())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return fmt.Errorf("%w: %q: %w", node.ErrTransport, s.ID(), s.readErr)
	}
	return nil
}

// Close stops the reader, closes the port and releases the pins.
func (s *SerialInterface) Close() error {
	if !s.MarkClosed() {
		return nil
	}
	s.cancel()
	err := s.conn.Close()
	<-s.done
	s.lines.Close()
	s.releasePins()
	return err
}

func (s *SerialInterface) releasePins() {
	if err := s.txPin.Release(); err != nil {
		s.logger.Warn("releasing serial tx pin failed", "id", s.ID(), "error", err)
	}
	if err := s.rxPin.Release(); err != nil {
		s.logger.Warn("releasing serial rx pin failed", "id", s.ID(), "error", err)
	}
}

// MarshalJSON implements node.Module.
func (s *SerialInterface) MarshalJSON() ([]byte, error) {
	cfg := serialInterfaceConfig{Header: s.Header(), Port: s.port, Baud: s.baud}
	if s.txPin.Valid() {
		p := s.txPin.Index()
		cfg.TxPin = &p
	}
	if s.rxPin.Valid() {
		p := s.rxPin.Index()
		cfg.RxPin = &p
	}
	return json.Marshal(cfg)
}

// FormatSerialCommand renders the line a serial output sends.
func FormatSerialCommand(id string, value int) string {
	return id + ":" + strconv.Itoa(value)
}

// ParseSerialCommand splits a "<id>:<value>" line.
func ParseSerialCommand(line string) (id string, value int, err error) {
	id, rest, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found || id == "" {
		return "", 0, fmt.Errorf("malformed serial line %q", line)
	}
	value, err = strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return "", 0, fmt.Errorf("malformed serial value in %q: %w", line, err)
	}
	return id, value, nil
}

type serialModuleConfig struct {
	node.Header
	Comm json.RawMessage `json:"comm"`
	rangeConfig
}

// SerialInput takes its value from "<id>:<value>" lines carrying its own
// id on the shared interface.
type SerialInput struct {
	*node.InputBase
	comm  *SerialInterface
	token *event.Token
}

func newSerialInput(raw json.RawMessage, g *node.Graph) (node.Input, error) {
	var cfg serialModuleConfig
	if err := node.DecodeFragment(raw, &cfg); err != nil {
		return nil, err
	}
	comm, err := node.ResolveCommAs[*SerialInterface](g, cfg.Comm)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", cfg.Type, cfg.ID, err)
	}

	in := &SerialInput{InputBase: node.NewInputBase(cfg.Header), comm: comm}
	in.SetLogger(g.Logger())
	in.token = comm.OnLine(in.onLine)
	return in, nil
}

func (in *SerialInput) onLine(line string) error {
	id, value, err := ParseSerialCommand(line)
	if err != nil {
		// Lines for other modules may use other formats.
		return nil
	}
	if id == in.ID() {
		in.Update(value)
	}
	return nil
}

// Close stops listening to the interface.
func (in *SerialInput) Close() error {
	in.token.Cancel()
	return in.InputBase.Close()
}

// MarshalJSON implements node.Module.
func (in *SerialInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		node.Header
		Comm          json.RawMessage    `json:"comm"`
		TriggerEvents []node.TriggerSpec `json:"triggerEvents,omitempty"`
	}{in.Header(), commID(in.comm), in.Triggers()})
}

// SerialOutput sends "<id>:<value>" lines, clamped to its range.
type SerialOutput struct {
	*node.OutputBase
	mu   sync.Mutex
	comm *SerialInterface
}

func newSerialOutput(raw json.RawMessage, g *node.Graph) (node.Output, error) {
	var cfg serialModuleConfig
	if err := node.DecodeFragment(raw, &cfg); err != nil {
		return nil, err
	}
	if err := node.Required(cfg.Header, "range_min", cfg.RangeMin != nil); err != nil {
		return nil, err
	}
	if err := node.Required(cfg.Header, "range_max", cfg.RangeMax != nil); err != nil {
		return nil, err
	}
	comm, err := node.ResolveCommAs[*SerialInterface](g, cfg.Comm)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", cfg.Type, cfg.ID, err)
	}

	lo, hi := cfg.bounds(0, 0)
	o := &SerialOutput{OutputBase: node.NewOutputBase(cfg.Header, lo, hi), comm: comm}
	o.SetLogger(g.Logger())
	return o, nil
}

// SetValue clamps v to the range and sends it.
func (o *SerialOutput) SetValue(v int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.send(o.Clamp(v))
}

// SetState sends the range maximum, minimum or the opposite of the current
// value.
func (o *SerialOutput) SetState(s node.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.send(o.Target(s))
}

func (o *SerialOutput) send(v int) error {
	if o.Closed() {
		return fmt.Errorf("%w: %q", node.ErrClosed, o.ID())
	}
	if err := o.comm.WriteLine(FormatSerialCommand(o.ID(), v)); err != nil {
		return fmt.Errorf("writing %s %q: %w", o.Type(), o.ID(), err)
	}
	o.Store(v)
	return nil
}

// MarshalJSON implements node.Module.
func (o *SerialOutput) MarshalJSON() ([]byte, error) {
	lo, hi := o.Range()
	return json.Marshal(struct {
		node.Header
		Comm json.RawMessage `json:"comm"`
		rangeConfig
	}{o.Header(), commID(o.comm), rangeConfig{RangeMin: &lo, RangeMax: &hi}})
}
