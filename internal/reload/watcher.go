// Package reload re-applies the node document when it changes on disk.
//
// The watcher observes the document's directory rather than the file so
// that editors which save by rename are seen. Bursts of events are
// debounced into one Apply. Because Apply skips ids already in the graph,
// a reload only adds what is new.
package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Applier builds a node document into a running graph.
type Applier interface {
	Apply(data []byte) error
}

// Logger is the logging interface used by the watcher.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Watcher re-applies one document file.
type Watcher struct {
	path      string
	applier   Applier
	debounce  time.Duration
	logger    Logger
	onApplied func(err error)

	fs *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	applied atomic.Uint64
	failed  atomic.Uint64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last file event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithOnApplied registers fn to run after every reload attempt.
func WithOnApplied(fn func(err error)) Option {
	return func(w *Watcher) { w.onApplied = fn }
}

// New starts watching the directory holding path.
func New(path string, applier Applier, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("reload: document path is required")
	}
	if applier == nil {
		return nil, errors.New("reload: applier is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("reload: resolving %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: creating watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("reload: watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		applier:  applier,
		debounce: defaultDebounce,
		logger:   noopLogger{},
		fs:       fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the absolute document path.
func (w *Watcher) Path() string { return w.path }

// Run processes file events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("document watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		err := w.Reload()
		if w.onApplied != nil {
			w.onApplied(err)
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.fs.Close()
}

// Reload reads the document and applies it now.
func (w *Watcher) Reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("reading node document failed", "path", w.path, "error", err)
		return fmt.Errorf("reload: reading %s: %w", w.path, err)
	}
	if err := w.applier.Apply(data); err != nil {
		w.failed.Add(1)
		w.logger.Error("re-applying node document failed", "path", w.path, "error", err)
		return err
	}
	w.applied.Add(1)
	w.logger.Info("node document re-applied", "path", w.path)
	return nil
}

// Applied returns the number of successful reloads.
func (w *Watcher) Applied() uint64 { return w.applied.Load() }

// Failed returns the number of reloads that errored.
func (w *Watcher) Failed() uint64 { return w.failed.Load() }
