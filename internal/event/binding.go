package event

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Handler is a subscriber callback. A returned error is logged by the
// publisher and never interrupts delivery to the remaining subscribers.
type Handler[T any] func(value T) error

// Logger is the logging surface used for callback failures.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscriber[T any] struct {
	id     uint64
	fn     Handler[T]
	active atomic.Bool
}

// Binding is a publisher's ordered list of subscribers.
//
// Thread Safety:
//   - Subscribe, Publish, Cancel and Close are safe for concurrent use.
//   - Callbacks run on the publishing goroutine, outside the list lock, so a
//     callback may itself subscribe or cancel without deadlocking.
//   - A subscription cancelled before Publish reaches it is skipped even if
//     that Publish took its snapshot earlier.
type Binding[T any] struct {
	name string

	mu     sync.Mutex
	seq    uint64
	subs   []*subscriber[T]
	closed bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBinding creates an empty binding. The name labels log output.
func NewBinding[T any](name string) *Binding[T] {
	return &Binding[T]{name: name, logger: noopLogger{}}
}

// SetLogger sets the logger used for callback errors and panics.
func (b *Binding[T]) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Binding[T]) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Subscribe appends fn to the subscriber list and returns its cancellation
// token. Subscribing to a closed binding returns an inert token.
func (b *Binding[T]) Subscribe(fn Handler[T]) *Token {
	if fn == nil {
		return Inert()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Inert()
	}

	b.seq++
	s := &subscriber[T]{id: b.seq, fn: fn}
	s.active.Store(true)
	b.subs = append(b.subs, s)

	return NewToken(unsubscriber(weak.Make(b), s.id))
}

// unsubscriber builds a token cancel function that holds only a weak
// reference to the binding.
func unsubscriber[T any](wp weak.Pointer[Binding[T]], id uint64) func() {
	return func() {
		if b := wp.Value(); b != nil {
			b.remove(id)
		}
	}
}

// remove deletes the subscriber with the given sequence id.
func (b *Binding[T]) remove(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			s.active.Store(false)
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers value to every subscriber in registration order.
// It returns the number of callbacks that failed.
func (b *Binding[T]) Publish(value T) int {
	b.mu.Lock()
	if b.closed || len(b.subs) == 0 {
		b.mu.Unlock()
		return 0
	}
	snapshot := make([]*subscriber[T], len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	failures := 0
	for _, s := range snapshot {
		if !s.active.Load() {
			continue
		}
		if !b.invoke(s, value) {
			failures++
		}
	}
	return failures
}

// invoke runs one callback with panic recovery.
func (b *Binding[T]) invoke(s *subscriber[T], value T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.getLogger().Error("event callback panic recovered",
				"binding", b.name,
				"subscription", s.id,
				"panic", r,
			)
			ok = false
		}
	}()

	if err := s.fn(value); err != nil {
		b.getLogger().Warn("event callback returned error",
			"binding", b.name,
			"subscription", s.id,
			"error", err,
		)
		return false
	}
	return true
}

// Len returns the number of live subscriptions.
func (b *Binding[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscription. Outstanding tokens become no-ops and later
// Subscribe calls return inert tokens.
func (b *Binding[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		s.active.Store(false)
	}
	b.subs = nil
	b.closed = true
}
