package pin

import (
	"fmt"
	"sync"
)

// MaxPin is the highest GPIO number the guard tracks.
const MaxPin = 63

// None is the index of the sentinel "no pin" handle.
const None = -1

// Resetter restores a released line to its idle electrical mode.
// gpio.Driver satisfies it.
type Resetter interface {
	Reset(pin int) error
}

// Logger is the logging surface used by the guard.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Guard tracks which physical pins are claimed.
//
// A process creates exactly one Guard and shares it between every graph it
// loads; a second Guard over the same header would defeat exclusivity.
//
// Thread Safety: all methods are safe for concurrent use.
type Guard struct {
	mu     sync.Mutex
	inUse  [MaxPin + 1]bool
	reset  Resetter
	logger Logger
}

// NewGuard creates a guard that resets released pins through r.
// A nil Resetter skips the hardware reset.
func NewGuard(r Resetter) *Guard {
	return &Guard{reset: r, logger: noopLogger{}}
}

// SetLogger sets the logger used for release diagnostics.
func (g *Guard) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	g.logger = logger
}

// Acquire claims pin index for the caller.
//
// A negative index yields the sentinel handle and is never tracked.
// Returns ErrOutOfRange above MaxPin and ErrInUse if the index is held.
func (g *Guard) Acquire(index int) (*Handle, error) {
	if index < 0 {
		return &Handle{index: None}, nil
	}
	if index > MaxPin {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrOutOfRange, index, MaxPin)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inUse[index] {
		return nil, fmt.Errorf("%w: %d", ErrInUse, index)
	}
	g.inUse[index] = true
	g.logger.Debug("pin acquired", "pin", index)

	return &Handle{guard: g, index: index}, nil
}

// InUse reports whether index is currently claimed.
func (g *Guard) InUse(index int) bool {
	if index < 0 || index > MaxPin {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse[index]
}

// release clears the claim and resets the line outside the lock.
func (g *Guard) release(index int) error {
	g.mu.Lock()
	g.inUse[index] = false
	reset := g.reset
	logger := g.logger
	g.mu.Unlock()

	logger.Debug("pin released", "pin", index)
	if reset == nil {
		return nil
	}
	if err := reset.Reset(index); err != nil {
		logger.Warn("pin reset failed", "pin", index, "error", err)
		return fmt.Errorf("resetting pin %d: %w", index, err)
	}
	return nil
}

// Handle is an exclusive claim on one pin.
type Handle struct {
	guard *Guard
	index int
	once  sync.Once
}

// Index returns the claimed GPIO number, or None for the sentinel handle.
func (h *Handle) Index() int {
	if h == nil {
		return None
	}
	return h.index
}

// Valid reports whether the handle refers to a real pin.
func (h *Handle) Valid() bool {
	return h != nil && h.index >= 0
}

// Release returns the pin to the free set and resets it to idle.
// Subsequent calls and calls on the sentinel handle are no-ops.
func (h *Handle) Release() error {
	if !h.Valid() || h.guard == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		err = h.guard.release(h.index)
	})
	return err
}
