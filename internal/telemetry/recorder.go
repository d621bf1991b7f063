package telemetry

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/event"
	"github.com/nerrad567/gray-logic-node/internal/history"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 2 * time.Second
)

// HistoryStore persists value changes.
type HistoryStore interface {
	RecordValue(ctx context.Context, e history.Entry) error
}

// PointWriter receives time-series points.
type PointWriter interface {
	WriteValueChange(vc influxdb.ValueChange)
	WriteEventFired(eventID string, actions int)
	WritePress(inputID, kind string)
	Flush()
}

// Publisher sends retained value messages.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// pressSource is implemented by inputs that classify presses.
type pressSource interface {
	OnDoublePress(fn func()) *event.Token
	OnLongPress(fn func()) *event.Token
}

type recordKind int

const (
	kindValue recordKind = iota
	kindEvent
	kindPress
)

type record struct {
	kind   recordKind
	change influxdb.ValueChange
	id     string
	count  int
	press  string
}

// Recorder forwards graph activity to the configured sinks.
type Recorder struct {
	nodeID    string
	history   HistoryStore
	points    PointWriter
	publisher Publisher
	presses   bool
	logger    Logger
	timeout   time.Duration

	queue chan record

	mu       sync.Mutex
	attached map[any]*event.Group

	recorded atomic.Uint64
	dropped  atomic.Uint64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithHistory stores value changes in h.
func WithHistory(h HistoryStore) Option {
	return func(r *Recorder) { r.history = h }
}

// WithPoints sends value changes, event triggers and presses to w.
func WithPoints(w PointWriter) Option {
	return func(r *Recorder) { r.points = w }
}

// WithPublisher publishes each value as a retained message.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// WithPresses records double and long presses of button inputs.
//
// Subscribing starts the button's press goroutines, so presses are only
// watched when asked for.
func WithPresses() Option {
	return func(r *Recorder) { r.presses = true }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueueSize sets how many records may wait for Run.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan record, n)
		}
	}
}

// New creates a recorder for the node with the given id.
func New(nodeID string, opts ...Option) *Recorder {
	r := &Recorder{
		nodeID:   nodeID,
		logger:   noopLogger{},
		timeout:  defaultWriteTimeout,
		queue:    make(chan record, defaultQueueSize),
		attached: make(map[any]*event.Group),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes to every module in g not yet attached and detaches
// from modules that have left the graph. It returns the number of newly
// attached modules.
func (r *Recorder) Attach(g *node.Graph) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := make(map[any]bool)
	added := 0

	for _, in := range g.Inputs() {
		live[in] = true
		if _, ok := r.attached[in]; ok {
			continue
		}
		r.attached[in] = r.watchInput(in)
		added++
	}
	for _, out := range g.Outputs() {
		live[out] = true
		if _, ok := r.attached[out]; ok {
			continue
		}
		r.attached[out] = r.watchValue(history.FamilyOutput, out, out.OnChange)
		added++
	}
	for _, ev := range g.Events() {
		live[ev] = true
		if _, ok := r.attached[ev]; ok {
			continue
		}
		r.attached[ev] = r.watchEvent(ev)
		added++
	}

	for m, group := range r.attached {
		if !live[m] {
			group.Cancel()
			delete(r.attached, m)
		}
	}

	if added > 0 {
		r.logger.Debug("telemetry attached", "node_id", r.nodeID, "added", added, "total", len(r.attached))
	}
	return added
}

func (r *Recorder) watchInput(in node.Input) *event.Group {
	group := r.watchValue(history.FamilyInput, in, in.OnChange)
	if !r.presses {
		return group
	}
	if p, ok := in.(pressSource); ok {
		id := in.ID()
		group.Add(p.OnDoublePress(func() { r.enqueue(record{kind: kindPress, id: id, press: "double_press"}) }))
		group.Add(p.OnLongPress(func() { r.enqueue(record{kind: kindPress, id: id, press: "long_press"}) }))
	}
	return group
}

func (r *Recorder) watchValue(family string, m node.Module, onChange func(event.Handler[int]) *event.Token) *event.Group {
	id, typ := m.ID(), m.Type()
	group := &event.Group{}
	group.Add(onChange(func(v int) error {
		r.enqueue(record{kind: kindValue, change: influxdb.ValueChange{
			Family:     family,
			ModuleID:   id,
			ModuleType: typ,
			Value:      v,
			At:         time.Now(),
		}})
		return nil
	}))
	return group
}

func (r *Recorder) watchEvent(ev *node.ProgrammedEvent) *event.Group {
	id := ev.ID()
	group := &event.Group{}
	group.Add(ev.OnTrigger(func(applied int) error {
		r.enqueue(record{kind: kindEvent, id: id, count: applied})
		return nil
	}))
	return group
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("telemetry queue full, dropping records", "node_id", r.nodeID)
		}
	}
}

// Run writes queued records until ctx is cancelled, then drains what is
// left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			if r.points != nil {
				r.points.Flush()
			}
			return
		case rec := <-r.queue:
			r.write(rec)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(rec record) {
	switch rec.kind {
	case kindValue:
		r.writeValue(rec.change)
	case kindEvent:
		if r.points != nil {
			r.points.WriteEventFired(rec.id, rec.count)
		}
	case kindPress:
		if r.points != nil {
			r.points.WritePress(rec.id, rec.press)
		}
	}
	r.recorded.Add(1)
}

func (r *Recorder) writeValue(vc influxdb.ValueChange) {
	if r.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.history.RecordValue(ctx, history.Entry{
			Family:     vc.Family,
			ModuleID:   vc.ModuleID,
			ModuleType: vc.ModuleType,
			Value:      vc.Value,
			CreatedAt:  vc.At,
		})
		cancel()
		if err != nil {
			r.logger.Warn("value history write failed", "module_id", vc.ModuleID, "error", err)
		}
	}
	if r.points != nil {
		r.points.WriteValueChange(vc)
	}
	if r.publisher != nil {
		topic := mqtt.Topics{}.NodeValue(r.nodeID, vc.ModuleID)
		if err := r.publisher.PublishRetained(topic, []byte(strconv.Itoa(vc.Value))); err != nil {
			r.logger.Debug("value publish failed", "topic", topic, "error", err)
		}
	}
}

// Recorded returns how many records have been written.
func (r *Recorder) Recorded() uint64 { return r.recorded.Load() }

// Dropped returns how many records were lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Attached returns the number of modules and events being watched.
func (r *Recorder) Attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attached)
}

// Close cancels every subscription. Records already queued are written by
// Run when its context ends.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for m, group := range r.attached {
		group.Cancel()
		delete(r.attached, m)
	}
}
