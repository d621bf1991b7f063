package press

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/nerrad567/gray-logic-node/internal/event"
)

// Kind identifies a classified press.
type Kind int

// Press kinds.
const (
	DoublePress Kind = iota + 1
	LongPress
)

// String returns the name of the press kind.
func (k Kind) String() string {
	switch k {
	case DoublePress:
		return "double_press"
	case LongPress:
		return "long_press"
	default:
		return "unknown"
	}
}

// Logger is the logging surface used by the classifier.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Classifier turns raw value-change notifications from one input into
// double-press and long-press events.
//
// Each press kind is detected by its own background loop. A loop starts
// when its first callback is registered and stops, joined, when the last
// token for that kind is cancelled. A zero window disables the kind.
//
// Callbacks run on the detecting loop's goroutine. Cancelling a token while
// that token's own callback is running, which is how a callback cancels
// itself, signals the loop without joining it. Every other cancel of the
// last token returns only after the loop has exited.
type Classifier struct {
	double *detector
	long   *detector

	changes atomic.Uint64
}

// New creates a classifier. Zero or negative windows disable that kind.
func New(doubleWindow, longWindow time.Duration) *Classifier {
	return &Classifier{
		double: newDetector(DoublePress, doubleWindow, false),
		long:   newDetector(LongPress, longWindow, true),
	}
}

// SetLogger sets the logger for both detectors and their callback lists.
func (c *Classifier) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.double.setLogger(logger)
	c.long.setLogger(logger)
}

// DoublePressWindow returns the configured double-press window.
func (c *Classifier) DoublePressWindow() time.Duration { return c.double.window }

// LongPressWindow returns the configured long-press window.
func (c *Classifier) LongPressWindow() time.Duration { return c.long.window }

// OnDoublePress registers fn for double presses.
func (c *Classifier) OnDoublePress(fn func()) *event.Token {
	return c.double.subscribe(fn)
}

// OnLongPress registers fn for long presses.
func (c *Classifier) OnLongPress(fn func()) *event.Token {
	return c.long.subscribe(fn)
}

// NotifyRawChange records one raw value flip and wakes both detectors.
// It never blocks.
func (c *Classifier) NotifyRawChange() {
	c.changes.Add(1)
	c.double.signal()
	c.long.signal()
}

// Changes returns the number of raw changes observed.
func (c *Classifier) Changes() uint64 {
	return c.changes.Load()
}

// Running reports whether each detector loop is active.
func (c *Classifier) Running() (double, long bool) {
	return c.double.isRunning(), c.long.isRunning()
}

// Close stops both loops and drops every callback. Outstanding tokens
// become no-ops.
func (c *Classifier) Close() {
	c.double.close()
	c.long.close()
}

// detector runs one press state machine.
//
// pending is the detector's own consumed/pending flag: a buffered slot that
// NotifyRawChange fills without blocking and the loop drains.
type detector struct {
	kind          Kind
	window        time.Duration
	fireOnTimeout bool

	subs    *event.Binding[Kind]
	pending chan struct{}
	firing  atomic.Bool

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	logger   Logger
	loggerMu sync.RWMutex
}

func newDetector(kind Kind, window time.Duration, fireOnTimeout bool) *detector {
	d := &detector{
		kind:          kind,
		window:        window,
		fireOnTimeout: fireOnTimeout,
		subs:          event.NewBinding[Kind](kind.String()),
		pending:       make(chan struct{}, 1),
		logger:        noopLogger{},
	}
	return d
}

func (d *detector) setLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
	d.subs.SetLogger(logger)
}

func (d *detector) log() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *detector) enabled() bool {
	return d.window > 0
}

func (d *detector) signal() {
	if !d.enabled() {
		return
	}
	select {
	case d.pending <- struct{}{}:
	default:
	}
}

func (d *detector) subscribe(fn func()) *event.Token {
	if fn == nil || !d.enabled() {
		return event.Inert()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return event.Inert()
	}

	// inCallback is set while this subscriber's own callback runs.
	var inCallback atomic.Bool
	inner := d.subs.Subscribe(func(Kind) error {
		inCallback.Store(true)
		defer inCallback.Store(false)
		fn()
		return nil
	})
	if !d.running {
		d.startLocked()
	}

	wp := weak.Make(d)
	return event.NewToken(func() {
		inner.Cancel()
		if d := wp.Value(); d != nil {
			d.stopIfIdle(!inCallback.Load())
		}
	})
}

func (d *detector) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// startLocked launches the loop. Changes seen while stopped are discarded.
func (d *detector) startLocked() {
	select {
	case <-d.pending:
	default:
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.run(d.stop, d.done)

	d.log().Debug("press detector started", "kind", d.kind.String(), "window", d.window)
}

// stopLocked signals the loop and, when join is set, waits for it to exit.
// join must be false when the caller may be running on the loop goroutine.
func (d *detector) stopLocked(join bool) {
	close(d.stop)
	if join {
		<-d.done
	}
	d.running = false

	d.log().Debug("press detector stopped", "kind", d.kind.String())
}

func (d *detector) stopIfIdle(join bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.subs.Len() > 0 {
		return
	}
	d.stopLocked(join)
}

func (d *detector) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	d.subs.Close()
	if d.running {
		// Close may be called from a callback, e.g. an input closing itself.
		d.stopLocked(!d.firing.Load())
	}
}

// run is the detector state machine:
//
//	Idle --change--> Waiting
//	Waiting --change--> Idle (double press fires)
//	Waiting --window elapsed--> Idle (long press fires)
func (d *detector) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case <-d.pending:
		}

		timer := time.NewTimer(d.window)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-d.pending:
			timer.Stop()
			if !d.fireOnTimeout {
				d.fire()
			}
		case <-timer.C:
			if d.fireOnTimeout {
				d.fire()
			}
		}
	}
}

func (d *detector) fire() {
	d.firing.Store(true)
	defer d.firing.Store(false)

	d.log().Debug("press detected", "kind", d.kind.String())
	d.subs.Publish(d.kind)
}
